package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/bulkio/internal/core"
	"github.com/JonMunkholm/bulkio/internal/store"
)

var (
	_ core.BulkWriter = (*Store)(nil)
	_ core.Fetcher    = (*Store)(nil)
)

const (
	insertRecordSQL = `INSERT INTO records (entity_type, record_key, data)
		VALUES ($1, $2, $3::jsonb)`

	insertIgnoreSQL = insertRecordSQL + `
		ON CONFLICT (entity_type, record_key) DO NOTHING`

	// xmax is zero for a freshly inserted row.
	upsertRecordSQL = insertRecordSQL + `
		ON CONFLICT (entity_type, record_key) DO UPDATE
		SET data = records.data || jsonb_strip_nulls(EXCLUDED.data), updated_at = now()
		RETURNING (xmax = 0), data`

	relatedSQL = `SELECT record_key, data FROM records
		WHERE entity_type = $1 AND record_key = ANY($2)`
)

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// BulkWrite writes one chunk in a single transaction. Any error rolls the
// whole chunk back.
func (s *Store) BulkWrite(ctx context.Context, entityType string, records []core.Record, opts core.WriteOptions) (core.WriteResult, error) {
	def, ok := core.Get(entityType)
	if !ok {
		return core.WriteResult{}, fmt.Errorf("%w: %s", core.ErrUnknownEntity, entityType)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.WriteResult{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var result core.WriteResult
	for _, r := range records {
		key, err := store.RecordKey(def, r)
		if err != nil {
			return core.WriteResult{}, err
		}
		data, err := json.Marshal(r)
		if err != nil {
			return core.WriteResult{}, fmt.Errorf("encode %s %q: %w", entityType, key, err)
		}

		switch {
		case opts.UpdateExisting:
			var inserted bool
			var stored []byte
			if err := tx.QueryRow(ctx, upsertRecordSQL, entityType, key, data).Scan(&inserted, &stored); err != nil {
				return core.WriteResult{}, fmt.Errorf("upsert %s %q: %w", entityType, key, err)
			}
			var merged core.Record
			if err := json.Unmarshal(stored, &merged); err != nil {
				return core.WriteResult{}, fmt.Errorf("decode %s %q: %w", entityType, key, err)
			}
			if inserted {
				result.Created++
			} else {
				result.Updated++
			}
			result.Data = append(result.Data, merged)

		case opts.SkipDuplicates:
			tag, err := tx.Exec(ctx, insertIgnoreSQL, entityType, key, data)
			if err != nil {
				return core.WriteResult{}, fmt.Errorf("insert %s %q: %w", entityType, key, err)
			}
			if tag.RowsAffected() == 0 {
				result.Duplicates++
				continue
			}
			result.Created++
			result.Data = append(result.Data, r)

		default:
			if _, err := tx.Exec(ctx, insertRecordSQL, entityType, key, data); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return core.WriteResult{}, fmt.Errorf("%s %q: %w", entityType, key, store.ErrDuplicateKey)
				}
				return core.WriteResult{}, fmt.Errorf("insert %s %q: %w", entityType, key, err)
			}
			result.Created++
			result.Data = append(result.Data, r)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return core.WriteResult{}, fmt.Errorf("commit: %w", err)
	}
	return result, nil
}

// Page returns one page of records ordered by key, with included entity
// types attached and the field list applied.
func (s *Store) Page(ctx context.Context, entityType string, q core.PageQuery) ([]core.Record, error) {
	query, args := buildPageQuery(entityType, q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entityType, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", entityType, err)
	}

	for _, typ := range q.Include {
		if err := s.attach(ctx, typ, records); err != nil {
			return nil, err
		}
	}
	return store.Project(records, q.Fields, q.Include), nil
}

func (s *Store) attach(ctx context.Context, entityType string, records []core.Record) error {
	inc, ok := store.PlanInclude(entityType, records)
	if !ok {
		return fmt.Errorf("include %s: %w", entityType, core.ErrUnknownEntity)
	}
	if len(inc.Keys) == 0 {
		return nil
	}

	rows, err := s.pool.Query(ctx, relatedSQL, inc.Def.Type, inc.Keys)
	if err != nil {
		return fmt.Errorf("query include %s: %w", entityType, err)
	}
	defer rows.Close()

	related := make(map[string]core.Record, len(inc.Keys))
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return fmt.Errorf("scan include %s: %w", entityType, err)
		}
		var r core.Record
		if err := json.Unmarshal(data, &r); err != nil {
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

// buildPageQuery renders the page SELECT. Filters are exact matches on the
// text form of a field; the date range compares instants and skips records
// whose field is not a date.
func buildPageQuery(entityType string, q core.PageQuery) (string, []any) {
	args := []any{entityType}
	conditions := []string{"entity_type = $1"}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	fields := make([]string, 0, len(q.Filters))
	for f := range q.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		conditions = append(conditions, fmt.Sprintf("data->>%s = %s", next(f), next(strings.TrimSpace(q.Filters[f]))))
	}

	if dr := q.DateRange; dr != nil && dr.Field != "" {
		if dr.From != nil {
			conditions = append(conditions, fmt.Sprintf("record_instant(data->>%s) >= %s", next(dr.Field), next(*dr.From)))
		}
		if dr.To != nil {
			conditions = append(conditions, fmt.Sprintf("record_instant(data->>%s) <= %s", next(dr.Field), next(*dr.To)))
		}
	}

	query := "SELECT data FROM records WHERE " + strings.Join(conditions, " AND ") + " ORDER BY record_key"
	if q.Limit > 0 {
		query += " LIMIT " + next(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + next(q.Offset)
	}
	return query, args
}

func scanRecords(rows pgx.Rows) ([]core.Record, error) {
	defer rows.Close()

	var records []core.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r core.Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
