package core

// batch.go drives valid rows through the bulk writer in fixed-size chunks.
//
// Chunks run strictly one after another: chunk k+1 does not start until the
// write call for chunk k has returned. A failed chunk is logged, recorded as
// a ChunkFailure and skipped; the remaining chunks still run.

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultChunkSize is used when a request does not set one.
const DefaultChunkSize = 100

// Chunk splits rows into consecutive slices of at most size elements.
// The slices share the backing array with rows.
func Chunk[T any](rows []T, size int) [][]T {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(rows) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end:end])
	}
	return chunks
}

// ChunkReport is passed to the OnChunk callback after each chunk.
type ChunkReport struct {
	Chunk       int // 1-based
	TotalChunks int
	Size        int
	Result      WriteResult
	Failure     *ChunkFailure
}

// BatchOptions configures one Process call.
type BatchOptions struct {
	ChunkSize int
	Policy    WriteOptions
	OnChunk   func(ChunkReport)
	// KeepFailedRecords copies failed chunk records into ChunkFailure.
	KeepFailedRecords bool
}

// BatchOutcome aggregates all chunk results.
type BatchOutcome struct {
	Processed     int
	Created       int
	Updated       int
	Duplicates    int
	TotalChunks   int
	ChunkFailures []ChunkFailure
	Data          []Record
}

// SkippedRecords is the number of records lost in failed chunks.
func (o BatchOutcome) SkippedRecords() int {
	n := 0
	for _, f := range o.ChunkFailures {
		n += f.Count
	}
	return n
}

// BatchProcessor writes rows through a BulkWriter.
type BatchProcessor struct {
	writer BulkWriter
	logger *slog.Logger
}

// NewBatchProcessor creates a processor. A nil logger uses slog.Default().
func NewBatchProcessor(writer BulkWriter, logger *slog.Logger) *BatchProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchProcessor{writer: writer, logger: logger}
}

// Process writes rows chunk by chunk and returns the aggregate counts.
// It only returns early if ctx is cancelled between chunks.
func (p *BatchProcessor) Process(ctx context.Context, entityType string, rows []Row, opts BatchOptions) BatchOutcome {
	chunks := Chunk(rows, opts.ChunkSize)
	out := BatchOutcome{TotalChunks: len(chunks)}

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			p.logger.Warn("batch processing stopped",
				"entity", entityType,
				"chunk", i+1,
				"error", ctx.Err(),
			)
			break
		}

		records := make([]Record, len(chunk))
		for j, row := range chunk {
			records[j] = row.Fields
		}

		report := ChunkReport{Chunk: i + 1, TotalChunks: len(chunks), Size: len(chunk)}

		res, err := p.write(ctx, entityType, records, opts.Policy)
		out.Processed += len(chunk)
		if err != nil {
			failure := ChunkFailure{
				Chunk:    i + 1,
				FirstRow: chunk[0].Index,
				LastRow:  chunk[len(chunk)-1].Index,
				Count:    len(chunk),
				Error:    err.Error(),
			}
			if opts.KeepFailedRecords {
				failure.Records = records
			}
			p.logger.Error("chunk write failed, skipping",
				"entity", entityType,
				"chunk", i+1,
				"total_chunks", len(chunks),
				"first_row", failure.FirstRow,
				"last_row", failure.LastRow,
				"error", err,
			)
			out.ChunkFailures = append(out.ChunkFailures, failure)
			report.Failure = &failure
		} else {
			res = p.clamp(entityType, i+1, len(chunk), res)
			out.Created += res.Created
			out.Updated += res.Updated
			out.Duplicates += res.Duplicates
			out.Data = append(out.Data, res.Data...)
			report.Result = res
		}

		if opts.OnChunk != nil {
			opts.OnChunk(report)
		}
	}

	return out
}

// write calls the writer, turning a panic into a chunk error.
func (p *BatchProcessor) write(ctx context.Context, entityType string, records []Record, policy WriteOptions) (res WriteResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bulk write panic: %v", r)
		}
	}()
	return p.writer.BulkWrite(ctx, entityType, records, policy)
}

// clamp keeps a misreporting writer from pushing counts past the chunk size.
func (p *BatchProcessor) clamp(entityType string, chunk, size int, res WriteResult) WriteResult {
	if res.Created < 0 {
		res.Created = 0
	}
	if res.Updated < 0 {
		res.Updated = 0
	}
	if res.Duplicates < 0 {
		res.Duplicates = 0
	}
	total := res.Created + res.Updated + res.Duplicates
	if total <= size {
		return res
	}
	p.logger.Warn("bulk writer reported more records than sent",
		"entity", entityType,
		"chunk", chunk,
		"sent", size,
		"reported", total,
	)
	excess := total - size
	for _, n := range []*int{&res.Duplicates, &res.Updated, &res.Created} {
		cut := min(*n, excess)
		*n -= cut
		excess -= cut
	}
	return res
}
