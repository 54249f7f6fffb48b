package pgstore

import (
	"context"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
	_ "github.com/JonMunkholm/bulkio/internal/core/entities"
	"github.com/JonMunkholm/bulkio/internal/schedule"
)

func TestBuildPageQuery(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		q         core.PageQuery
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "entity only",
			q:         core.PageQuery{},
			wantQuery: "SELECT data FROM records WHERE entity_type = $1 ORDER BY record_key",
			wantArgs:  []any{"orders"},
		},
		{
			name:      "paged with sorted filters",
			q:         core.PageQuery{Limit: 100, Offset: 200, Filters: map[string]string{"status": " paid ", "currency": "USD"}},
			wantQuery: "SELECT data FROM records WHERE entity_type = $1 AND data->>$2 = $3 AND data->>$4 = $5 ORDER BY record_key LIMIT $6 OFFSET $7",
			wantArgs:  []any{"orders", "currency", "USD", "status", "paid", 100, 200},
		},
		{
			name:      "date range",
			q:         core.PageQuery{Limit: 10, DateRange: &core.DateRange{Field: "order_date", From: &from, To: &to}},
			wantQuery: "SELECT data FROM records WHERE entity_type = $1 AND record_instant(data->>$2) >= $3 AND record_instant(data->>$4) <= $5 ORDER BY record_key LIMIT $6",
			wantArgs:  []any{"orders", "order_date", from, "order_date", to, 10},
		},
		{
			name:      "open range without field is ignored",
			q:         core.PageQuery{DateRange: &core.DateRange{From: &from}},
			wantQuery: "SELECT data FROM records WHERE entity_type = $1 ORDER BY record_key",
			wantArgs:  []any{"orders"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildPageQuery("orders", tt.q)
			if query != tt.wantQuery {
				t.Errorf("query =\n%s\nwant\n%s", query, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}

func TestDatabaseName(t *testing.T) {
	if got := DatabaseName("postgres://u:p@localhost:5432/bulkio?sslmode=disable"); got != "bulkio" {
		t.Errorf("DatabaseName = %q, want bulkio", got)
	}
}

// testStore connects to PGSTORE_TEST_URL and starts from empty tables.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("PGSTORE_TEST_URL")
	if url == "" {
		t.Skip("PGSTORE_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := Connect(ctx, PoolConfig{URL: url, MaxConns: 2})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE records, schedule_state"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func TestStore_BulkWritePolicies(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []core.Record{
		{"sku": core.StringValue("A1"), "name": core.StringValue("Mug"), "price": core.NumberValue(4)},
		{"sku": core.StringValue("B2"), "name": core.StringValue("Cup"), "price": core.NumberValue(3)},
	}
	res, err := s.BulkWrite(ctx, "products", first, core.WriteOptions{})
	if err != nil || res.Created != 2 {
		t.Fatalf("insert: %+v, %v", res, err)
	}

	again := []core.Record{{"sku": core.StringValue("A1"), "name": core.StringValue("Mug"), "price": core.NumberValue(5)}}
	if _, err := s.BulkWrite(ctx, "products", again, core.WriteOptions{}); err == nil {
		t.Error("plain insert of an existing key should fail the chunk")
	}

	res, err = s.BulkWrite(ctx, "products", again, core.WriteOptions{SkipDuplicates: true})
	if err != nil || res.Duplicates != 1 || res.Created != 0 {
		t.Errorf("skip: %+v, %v", res, err)
	}

	update := []core.Record{
		{"sku": core.StringValue("A1"), "price": core.NumberValue(6), "name": core.Null()},
		{"sku": core.StringValue("C3"), "name": core.StringValue("Bowl"), "price": core.NumberValue(9)},
	}
	res, err = s.BulkWrite(ctx, "products", update, core.WriteOptions{UpdateExisting: true})
	if err != nil || res.Updated != 1 || res.Created != 1 {
		t.Fatalf("upsert: %+v, %v", res, err)
	}
	if got := res.Data[0].Get("name"); !got.Equal(core.StringValue("Mug")) {
		t.Errorf("null field overwrote stored value: name = %v", got)
	}

	page, err := s.Page(ctx, "products", core.PageQuery{Limit: 10, Fields: []string{"sku", "price"}})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page) != 3 || page[0].Get("sku").String() != "A1" || page[0].Get("price").String() != "6" {
		t.Errorf("page = %v", page)
	}
	if _, ok := page[0]["name"]; ok {
		t.Error("projection kept an unlisted field")
	}
}

func TestStore_PageInclude(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.BulkWrite(ctx, "products", []core.Record{
		{"sku": core.StringValue("A1"), "name": core.StringValue("Mug"), "price": core.NumberValue(4)},
	}, core.WriteOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BulkWrite(ctx, "inventory", []core.Record{
		{"sku": core.StringValue("A1"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(7)},
		{"sku": core.StringValue("Z9"), "location": core.StringValue("WH1"), "on_hand": core.NumberValue(1)},
	}, core.WriteOptions{}); err != nil {
		t.Fatal(err)
	}

	page, err := s.Page(ctx, "inventory", core.PageQuery{Limit: 10, Include: []string{"products"}})
	if err != nil {
		t.Fatalf("Page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page = %v", page)
	}
	if got := page[0].Get("products.name"); !got.Equal(core.StringValue("Mug")) {
		t.Errorf("products.name = %v, want Mug", got)
	}
	if _, ok := page[1]["products.name"]; ok {
		t.Error("unmatched record got included fields")
	}
}

func TestStore_ScheduleState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	configs := []schedule.Config{{ID: "b", Name: "second"}, {ID: "a", Name: "first"}}
	if err := s.SaveConfigs(ctx, configs); err != nil {
		t.Fatalf("SaveConfigs: %v", err)
	}
	if err := s.SaveConfigs(ctx, configs[:1]); err != nil {
		t.Fatalf("SaveConfigs: %v", err)
	}
	got, err := s.LoadConfigs(ctx)
	if err != nil {
		t.Fatalf("LoadConfigs: %v", err)
	}
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("configs = %+v, want only b", got)
	}

	jobs, err := s.LoadJobs(ctx)
	if err != nil || len(jobs) != 0 {
		t.Errorf("LoadJobs = %v, %v", jobs, err)
	}
}
