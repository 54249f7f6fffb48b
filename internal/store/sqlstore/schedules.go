package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/bulkio/internal/schedule"
	"github.com/JonMunkholm/bulkio/internal/store"
)

var _ schedule.Store = (*Store)(nil)

func (s *Store) LoadConfigs(ctx context.Context) ([]schedule.Config, error) {
	return loadState[schedule.Config](ctx, s, store.KindConfig)
}

func (s *Store) SaveConfigs(ctx context.Context, configs []schedule.Config) error {
	return saveState(ctx, s, store.KindConfig, configs, func(c schedule.Config) string { return c.ID })
}

func (s *Store) LoadJobs(ctx context.Context) ([]schedule.Job, error) {
	return loadState[schedule.Job](ctx, s, store.KindJob)
}

func (s *Store) SaveJobs(ctx context.Context, jobs []schedule.Job) error {
	return saveState(ctx, s, store.KindJob, jobs, func(j schedule.Job) string { return j.ID })
}

func loadState[T any](ctx context.Context, s *Store, kind string) ([]T, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM schedule_state WHERE kind = ? ORDER BY position`, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s state: %w", kind, err)
	}
	defer rows.Close()

	var items []T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan %s state: %w", kind, err)
		}
		var item T
		if err := json.Unmarshal([]byte(payload), &item); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", kind, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s state: %w", kind, err)
	}
	return items, nil
}

// saveState replaces the stored collection of kind in one transaction.
func saveState[T any](ctx context.Context, s *Store, kind string, items []T, id func(T) string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule_state WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("clear %s state: %w", kind, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO schedule_state (kind, id, position, payload) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare %s state: %w", kind, err)
	}
	defer stmt.Close()

	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode %s state: %w", kind, err)
		}
		if _, err := stmt.ExecContext(ctx, kind, id(item), i, string(payload)); err != nil {
			return fmt.Errorf("save %s state: %w", kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s state: %w", kind, err)
	}
	return nil
}
