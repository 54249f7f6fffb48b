package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Store persists configs and job history as whole collections.
type Store interface {
	LoadConfigs(ctx context.Context) ([]Config, error)
	SaveConfigs(ctx context.Context, configs []Config) error
	LoadJobs(ctx context.Context) ([]Job, error)
	SaveJobs(ctx context.Context, jobs []Job) error
}

// MemoryStore keeps the collections as JSON in memory, so a load goes
// through the same decoding as a database-backed store.
type MemoryStore struct {
	mu      sync.Mutex
	configs []byte
	jobs    []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) LoadConfigs(ctx context.Context) ([]Config, error) {
	var configs []Config
	if err := m.load(&m.configs, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

func (m *MemoryStore) SaveConfigs(ctx context.Context, configs []Config) error {
	return m.save(&m.configs, configs)
}

func (m *MemoryStore) LoadJobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := m.load(&m.jobs, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (m *MemoryStore) SaveJobs(ctx context.Context, jobs []Job) error {
	return m.save(&m.jobs, jobs)
}

func (m *MemoryStore) load(src *[]byte, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(*src) == 0 {
		return nil
	}
	if err := json.Unmarshal(*src, v); err != nil {
		return fmt.Errorf("decode schedule state: %w", err)
	}
	return nil
}

func (m *MemoryStore) save(dst *[]byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode schedule state: %w", err)
	}
	m.mu.Lock()
	*dst = data
	m.mu.Unlock()
	return nil
}
