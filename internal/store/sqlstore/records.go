package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/store"
)

var (
	_ core.BulkWriter = (*Store)(nil)
	_ core.Fetcher    = (*Store)(nil)
)

// BulkWrite writes one chunk in a single transaction. Existing keys are
// looked up first so created, updated and duplicate counts are exact.
func (s *Store) BulkWrite(ctx context.Context, entityType string, records []core.Record, opts core.WriteOptions) (core.WriteResult, error) {
	def, ok := core.Get(entityType)
	if !ok {
		return core.WriteResult{}, fmt.Errorf("%w: %s", core.ErrUnknownEntity, entityType)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.WriteResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result core.WriteResult
	for _, r := range records {
		key, err := store.RecordKey(def, r)
		if err != nil {
			return core.WriteResult{}, err
		}

		existing, found, err := lookup(ctx, tx, entityType, key)
		if err != nil {
			return core.WriteResult{}, err
		}

		switch {
		case !found:
			if err := write(ctx, tx, `INSERT INTO records (entity_type, record_key, data) VALUES (?, ?, ?)`, r, entityType, key); err != nil {
				return core.WriteResult{}, err
			}
			result.Created++
			result.Data = append(result.Data, r)

		case opts.UpdateExisting:
			merged := store.Merge(existing, r)
			if err := write(ctx, tx, `UPDATE records SET data = ?, updated_at = CURRENT_TIMESTAMP WHERE entity_type = ? AND record_key = ?`, merged, entityType, key); err != nil {
				return core.WriteResult{}, err
			}
			result.Updated++
			result.Data = append(result.Data, merged)

		case opts.SkipDuplicates:
			result.Duplicates++

		default:
			return core.WriteResult{}, fmt.Errorf("%s %q: %w", entityType, key, store.ErrDuplicateKey)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

func lookup(ctx context.Context, tx *sql.Tx, entityType, key string) (core.Record, bool, error) {
	var data string
	err := tx.QueryRowContext(ctx,
		`SELECT data FROM records WHERE entity_type = ? AND record_key = ?`, entityType, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("lookup %s %q: %w", entityType, key, err)
	}
	var r core.Record
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, false, fmt.Errorf("decode %s %q: %w", entityType, key, err)
	}
	return r, true, nil
}

// write runs an INSERT or UPDATE whose first placeholder is the record
// document.
func write(ctx context.Context, tx *sql.Tx, query string, r core.Record, entityType, key string) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode %s %q: %w", entityType, key, err)
	}
	if _, err := tx.ExecContext(ctx, query, string(data), entityType, key); err != nil {
		return fmt.Errorf("write %s %q: %w", entityType, key, err)
	}
	return nil
}

// Page returns one page of records ordered by key. Without filters the page
// is cut in SQL; otherwise records are matched in key order and the offset
// counts matching records only.
func (s *Store) Page(ctx context.Context, entityType string, q core.PageQuery) ([]core.Record, error) {
	filtered := len(q.Filters) > 0 || (q.DateRange != nil && q.DateRange.Field != "")

	query := `SELECT data FROM records WHERE entity_type = ? ORDER BY record_key`
	args := []any{entityType}
	if !filtered && q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entityType, err)
	}
	defer rows.Close()

	var records []core.Record
	skipped := 0
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", entityType, err)
		}
		var r core.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("decode %s: %w", entityType, err)
		}
		if filtered {
			if !matches(r, q) {
				continue
			}
			if skipped < q.Offset {
				skipped++
				continue
			}
		}
		records = append(records, r)
		if filtered && q.Limit > 0 && len(records) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", entityType, err)
	}
	rows.Close()

	for _, typ := range q.Include {
		if err := s.attach(ctx, typ, records); err != nil {
			return nil, err
		}
	}
	return store.Project(records, q.Fields, q.Include), nil
}

func matches(r core.Record, q core.PageQuery) bool {
	for field, want := range q.Filters {
		if r.Get(field).String() != strings.TrimSpace(want) {
			return false
		}
	}
	return store.InRange(r, q.DateRange)
}

func (s *Store) attach(ctx context.Context, entityType string, records []core.Record) error {
	inc, ok := store.PlanInclude(entityType, records)
	if !ok {
		return fmt.Errorf("include %s: %w", entityType, core.ErrUnknownEntity)
	}
	if len(inc.Keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(inc.Keys)), ", ")
	args := make([]any, 0, len(inc.Keys)+1)
	args = append(args, inc.Def.Type)
	for _, k := range inc.Keys {
		args = append(args, k)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT record_key, data FROM records WHERE entity_type = ? AND record_key IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("query include %s: %w", entityType, err)
	}
	defer rows.Close()

	related := make(map[string]core.Record, len(inc.Keys))
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return fmt.Errorf("scan include %s: %w", entityType, err)
		}
		var r core.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return fmt.Errorf("decode include %s %q: %w", entityType, key, err)
		}
		related[key] = r
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query include %s: %w", entityType, err)
	}

	inc.Attach(records, related)
	return nil
}
