package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
)

// fakeWriter records every chunk and fails or panics on chosen calls.
type fakeWriter struct {
	mu      sync.Mutex
	calls   [][]Record
	opts    []WriteOptions
	failOn  map[int]bool
	panicOn map[int]bool
	report  func(records []Record) WriteResult
}

func (w *fakeWriter) BulkWrite(ctx context.Context, entityType string, records []Record, opts WriteOptions) (WriteResult, error) {
	w.mu.Lock()
	w.calls = append(w.calls, records)
	w.opts = append(w.opts, opts)
	n := len(w.calls)
	w.mu.Unlock()

	if w.panicOn[n] {
		panic("writer exploded")
	}
	if w.failOn[n] {
		return WriteResult{}, errors.New("deadlock detected")
	}
	if w.report != nil {
		return w.report(records), nil
	}
	return WriteResult{Created: len(records)}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeRows(n int) []Row {
	rows := make([]Row, n)
	for i := range rows {
		rows[i] = Row{Index: i + 2, Fields: Record{"n": NumberValue(float64(i))}}
	}
	return rows
}

func TestChunk(t *testing.T) {
	tests := []struct {
		n, size int
		want    []int
	}{
		{0, 10, nil},
		{5, 10, []int{5}},
		{10, 10, []int{10}},
		{237, 50, []int{50, 50, 50, 50, 37}},
		{3, 1, []int{1, 1, 1}},
		{150, 0, []int{100, 50}},
	}

	for _, tt := range tests {
		chunks := Chunk(makeRows(tt.n), tt.size)
		var sizes []int
		for _, c := range chunks {
			sizes = append(sizes, len(c))
		}
		if !reflect.DeepEqual(sizes, tt.want) {
			t.Errorf("Chunk(%d, %d) sizes = %v, want %v", tt.n, tt.size, sizes, tt.want)
		}
	}
}

// Concatenating the chunks reproduces the input exactly.
func TestChunk_Exhaustive(t *testing.T) {
	for n := 0; n < 40; n++ {
		for size := 1; size < 12; size++ {
			rows := makeRows(n)
			var joined []Row
			for _, c := range Chunk(rows, size) {
				if len(c) == 0 || len(c) > size {
					t.Fatalf("n=%d size=%d: chunk of %d", n, size, len(c))
				}
				joined = append(joined, c...)
			}
			if len(joined) != n {
				t.Fatalf("n=%d size=%d: joined %d rows", n, size, len(joined))
			}
			for i := range joined {
				if joined[i].Index != rows[i].Index {
					t.Fatalf("n=%d size=%d: position %d holds row %d", n, size, i, joined[i].Index)
				}
			}
		}
	}
}

func TestBatchProcessor_FailedChunkIsSkipped(t *testing.T) {
	w := &fakeWriter{failOn: map[int]bool{3: true}}
	p := NewBatchProcessor(w, discardLogger())

	var reports []ChunkReport
	out := p.Process(context.Background(), "products", makeRows(237), BatchOptions{
		ChunkSize:         50,
		Policy:            WriteOptions{SkipDuplicates: true},
		KeepFailedRecords: true,
		OnChunk:           func(r ChunkReport) { reports = append(reports, r) },
	})

	if len(w.calls) != 5 {
		t.Fatalf("writer calls = %d, want 5", len(w.calls))
	}
	if out.Created != 187 {
		t.Errorf("Created = %d, want 187 (chunks 1, 2, 4, 5)", out.Created)
	}
	if out.Processed != 237 {
		t.Errorf("Processed = %d, want 237", out.Processed)
	}
	if len(out.ChunkFailures) != 1 {
		t.Fatalf("ChunkFailures = %d, want 1", len(out.ChunkFailures))
	}
	f := out.ChunkFailures[0]
	if f.Chunk != 3 || f.FirstRow != 102 || f.LastRow != 151 || f.Count != 50 || len(f.Records) != 50 {
		t.Errorf("failure = chunk %d rows %d-%d count %d records %d", f.Chunk, f.FirstRow, f.LastRow, f.Count, len(f.Records))
	}
	if out.SkippedRecords() != 50 {
		t.Errorf("SkippedRecords = %d, want 50", out.SkippedRecords())
	}
	if len(reports) != 5 || reports[2].Failure == nil || reports[3].Failure != nil {
		t.Errorf("reports = %+v", reports)
	}
	for i, o := range w.opts {
		if !o.SkipDuplicates {
			t.Errorf("call %d lost the duplicate policy", i+1)
		}
	}
}

func TestBatchProcessor_PanicIsChunkFailure(t *testing.T) {
	w := &fakeWriter{panicOn: map[int]bool{1: true}}
	p := NewBatchProcessor(w, discardLogger())

	out := p.Process(context.Background(), "products", makeRows(20), BatchOptions{ChunkSize: 10})

	if len(out.ChunkFailures) != 1 || out.Created != 10 {
		t.Errorf("failures = %d created = %d, want 1 and 10", len(out.ChunkFailures), out.Created)
	}
	if out.ChunkFailures[0].Records != nil {
		t.Error("records kept without KeepFailedRecords")
	}
}

func TestBatchProcessor_ClampsOverReporting(t *testing.T) {
	w := &fakeWriter{report: func(records []Record) WriteResult {
		return WriteResult{Created: len(records), Updated: 3, Duplicates: 2}
	}}
	p := NewBatchProcessor(w, discardLogger())

	out := p.Process(context.Background(), "products", makeRows(10), BatchOptions{ChunkSize: 5})

	if total := out.Created + out.Updated + out.Duplicates; total > 10 {
		t.Errorf("reported %d records for 10 rows", total)
	}
	if out.Created != 10 {
		t.Errorf("Created = %d, want 10", out.Created)
	}
}

func TestBatchProcessor_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &fakeWriter{}
	p := NewBatchProcessor(w, discardLogger())

	out := p.Process(ctx, "products", makeRows(30), BatchOptions{
		ChunkSize: 10,
		OnChunk: func(r ChunkReport) {
			if r.Chunk == 1 {
				cancel()
			}
		},
	})

	if len(w.calls) != 1 || out.Processed != 10 {
		t.Errorf("calls = %d processed = %d, want 1 and 10", len(w.calls), out.Processed)
	}
}
