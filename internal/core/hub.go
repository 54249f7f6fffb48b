package core

import (
	"log/slog"
	"sync"
)

// Hub fans snapshots out to subscribers keyed by an ID (an operation or a
// job). Callbacks run outside the hub lock, one at a time per Publish call,
// and a panicking callback is logged and skipped.
type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func(T)
	logger *slog.Logger
}

// NewHub creates an empty hub. A nil logger uses slog.Default().
func NewHub[T any](logger *slog.Logger) *Hub[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub[T]{
		subs:   make(map[string]map[uint64]func(T)),
		logger: logger,
	}
}

// Subscribe registers cb for key. The returned function removes it and is
// safe to call more than once.
func (h *Hub[T]) Subscribe(key string, cb func(T)) (unsubscribe func()) {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]func(T))
	}
	h.subs[key][id] = cb
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if m := h.subs[key]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(h.subs, key)
				}
			}
		})
	}
}

// Publish delivers v to every subscriber of key.
func (h *Hub[T]) Publish(key string, v T) {
	h.mu.Lock()
	cbs := make([]func(T), 0, len(h.subs[key]))
	for _, cb := range h.subs[key] {
		cbs = append(cbs, cb)
	}
	h.mu.Unlock()

	for _, cb := range cbs {
		h.call(key, cb, v)
	}
}

func (h *Hub[T]) call(key string, cb func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panicked", "key", key, "panic", r)
		}
	}()
	cb(v)
}

// Drop removes every subscriber of key.
func (h *Hub[T]) Drop(key string) {
	h.mu.Lock()
	delete(h.subs, key)
	h.mu.Unlock()
}

// Count returns the number of subscribers for key.
func (h *Hub[T]) Count(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}
