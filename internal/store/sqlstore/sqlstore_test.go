package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	_ "github.com/JonMunkholm/bulkio/internal/core/entities"
	"github.com/JonMunkholm/bulkio/internal/schedule"
	"github.com/JonMunkholm/bulkio/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "bulkio.db"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func product(sku, name string, price float64) core.Record {
	return core.Record{"sku": core.StringValue(sku), "name": core.StringValue(name), "price": core.NumberValue(price)}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "", Options{}); err == nil {
		t.Error("Open accepted an unsupported driver")
	}
}

func TestBulkWrite_Policies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	res, err := s.BulkWrite(ctx, "products", []core.Record{product("A1", "Mug", 4), product("B2", "Cup", 3)}, core.WriteOptions{})
	if err != nil || res.Created != 2 {
		t.Fatalf("insert = %+v, %v", res, err)
	}

	tests := []struct {
		name        string
		records     []core.Record
		opts        core.WriteOptions
		wantErr     error
		wantCreated int
		wantUpdated int
		wantDups    int
	}{
		{
			name:    "existing key without policy fails",
			records: []core.Record{product("C3", "Bowl", 9), product("A1", "Mug", 5)},
			wantErr: store.ErrDuplicateKey,
		},
		{
			name:        "skip duplicates",
			records:     []core.Record{product("A1", "Mug", 5), product("D4", "Plate", 2)},
			opts:        core.WriteOptions{SkipDuplicates: true},
			wantCreated: 1,
			wantDups:    1,
		},
		{
			name:        "update existing",
			records:     []core.Record{{"sku": core.StringValue("B2"), "price": core.NumberValue(7), "name": core.Null()}, product("E5", "Jug", 8)},
			opts:        core.WriteOptions{UpdateExisting: true},
			wantCreated: 1,
			wantUpdated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.BulkWrite(ctx, "products", tt.records, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BulkWrite: %v", err)
			}
			if res.Created != tt.wantCreated || res.Updated != tt.wantUpdated || res.Duplicates != tt.wantDups {
				t.Errorf("result = %+v", res)
			}
		})
	}

	// The failed chunk rolled back, so C3 was never written.
	page, err := s.Page(ctx, "products", core.PageQuery{Limit: 100})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	var skus []string
	for _, r := range page {
		skus = append(skus, r.Get("sku").String())
	}
	if len(skus) != 4 || skus[0] != "A1" || skus[3] != "E5" {
		t.Errorf("stored skus = %v, want [A1 B2 D4 E5]", skus)
	}
	b2 := page[1]
	if !b2.Get("name").Equal(core.StringValue("Cup")) || !b2.Get("price").Equal(core.NumberValue(7)) {
		t.Errorf("merged B2 = %v", b2)
	}
}

func TestPage_FiltersAndPaging(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var records []core.Record
	for i, status := range []string{"paid", "pending", "paid", "paid", "shipped"} {
		records = append(records, core.Record{
			"order_number":   core.StringValue(string(rune('a' + i))),
			"customer_email": core.StringValue("a@b.com"),
			"order_date":     core.TimeValue(time.Date(2024, 1, 10+i, 0, 0, 0, 0, time.UTC)),
			"status":         core.StringValue(status),
			"total":          core.NumberValue(float64(i)),
		})
	}
	if _, err := s.BulkWrite(ctx, "orders", records, core.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	to := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		q    core.PageQuery
		want []string
	}{
		{"plain page", core.PageQuery{Limit: 2, Offset: 1}, []string{"b", "c"}},
		{"filter", core.PageQuery{Limit: 10, Filters: map[string]string{"status": "paid"}}, []string{"a", "c", "d"}},
		{"filter offset counts matches", core.PageQuery{Limit: 1, Offset: 1, Filters: map[string]string{"status": "paid"}}, []string{"c"}},
		{"date range", core.PageQuery{Limit: 10, DateRange: &core.DateRange{Field: "order_date", To: &to}}, []string{"a", "b", "c"}},
		{"past the end", core.PageQuery{Limit: 10, Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := s.Page(ctx, "orders", tt.q)
			if err != nil {
				t.Fatalf("Page: %v", err)
			}
			var got []string
			for _, r := range page {
				got = append(got, r.Get("order_number").String())
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestPage_IncludeAndFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.BulkWrite(ctx, "products", []core.Record{product("A1", "Mug", 4)}, core.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BulkWrite(ctx, "inventory", []core.Record{
		{"sku": core.StringValue("A1"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(7)},
	}, core.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	page, err := s.Page(ctx, "inventory", core.PageQuery{Limit: 10, Fields: []string{"on_hand"}, Include: []string{"products"}})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page = %v", page)
	}
	r := page[0]
	if !r.Get("products.name").Equal(core.StringValue("Mug")) || !r.Get("on_hand").Equal(core.NumberValue(7)) {
		t.Errorf("record = %v", r)
	}
	if _, ok := r["location"]; ok {
		t.Error("unlisted field survived projection")
	}

	if _, err := s.Page(ctx, "inventory", core.PageQuery{Include: []string{"warehouses"}}); !errors.Is(err, core.ErrUnknownEntity) {
		t.Errorf("unknown include err = %v", err)
	}
}

func TestScheduleState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	next := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	configs := []schedule.Config{
		{ID: "c2", Name: "weekly orders", NextRun: &next},
		{ID: "c1", Name: "daily products"},
	}
	if err := s.SaveConfigs(ctx, configs); err != nil {
		t.Fatalf("SaveConfigs: %v", err)
	}
	got, err := s.LoadConfigs(ctx)
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c2" || got[1].ID != "c1" {
		t.Fatalf("configs = %+v, want saved order", got)
	}
	if got[0].NextRun == nil || !got[0].NextRun.Equal(next) {
		t.Errorf("NextRun = %v, want %v", got[0].NextRun, next)
	}

	jobs := []schedule.Job{{ID: "j1", ConfigID: "c1", Status: schedule.JobCompleted}}
	if err := s.SaveJobs(ctx, jobs); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}
	if err := s.SaveJobs(ctx, nil); err != nil {
		t.Fatalf("SaveJobs(nil): %v", err)
	}
	loaded, err := s.LoadJobs(ctx)
	if err != nil || len(loaded) != 0 {
		t.Errorf("LoadJobs = %v, %v; want empty after replace", loaded, err)
	}
	if again, _ := s.LoadConfigs(ctx); len(again) != 2 {
		t.Error("saving jobs touched configs")
	}
}
