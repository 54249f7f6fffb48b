package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkio/internal/logging"
)

// DefaultRetention is how long a finished operation stays queryable when its
// result is never collected.
const DefaultRetention = 15 * time.Minute

// DefaultPageSize is the fetch page size for exports.
const DefaultPageSize = 1000

// Options tunes a Service. Zero values fall back to the package defaults.
type Options struct {
	MaxConcurrent int
	MaxWait       time.Duration
	ChunkSize     int
	PageSize      int
	Retention     time.Duration
	MaxIssues     int

	// APIPrefix is prepended to export download links ("/api").
	APIPrefix string

	TrueToken  string
	FalseToken string

	Logger *slog.Logger
	Now    func() time.Time

	// AfterFunc schedules retention cleanup (time.AfterFunc by default).
	AfterFunc func(d time.Duration, f func())
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.MaxIssues <= 0 {
		o.MaxIssues = DefaultMaxIssues
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	return o
}

// Service runs imports and exports and tracks their progress.
type Service struct {
	writer  BulkWriter
	fetcher Fetcher
	codec   Codec

	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	limiter *OperationLimiter
	batch   *BatchProcessor
	hub     *Hub[OperationProgress]

	mu  sync.RWMutex
	ops map[string]*operation
}

// NewService wires a Service to its collaborators.
func NewService(writer BulkWriter, fetcher Fetcher, codec Codec, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		writer:  writer,
		fetcher: fetcher,
		codec:   codec,
		opts:    opts,
		logger:  opts.Logger,
		now:     opts.Now,
		limiter: NewOperationLimiter(opts.MaxConcurrent, opts.MaxWait),
		batch:   NewBatchProcessor(writer, opts.Logger),
		hub:     NewHub[OperationProgress](opts.Logger),
		ops:     make(map[string]*operation),
	}
}

// Entities lists the entity catalog.
func (s *Service) Entities() []EntityDefinition {
	return All()
}

// Limiter exposes the concurrency limiter for status reporting and drain.
func (s *Service) Limiter() *OperationLimiter {
	return s.limiter
}

// ActiveOperations returns the number of tracked operations.
func (s *Service) ActiveOperations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ops)
}

func (s *Service) newOperation(kind OperationKind, entityType, fileName string) *operation {
	id := uuid.New().String()
	op := &operation{
		id:   id,
		kind: kind,
		logger: logging.ForOperation(s.logger, id, entityType).With("kind", string(kind)),
		progress: OperationProgress{
			OperationID: id,
			Kind:        kind,
			EntityType:  entityType,
			FileName:    fileName,
			Status:      StatusPreparing,
			StartedAt:   s.now(),
		},
		done: make(chan struct{}),
	}

	s.mu.Lock()
	s.ops[id] = op
	s.mu.Unlock()
	return op
}

func (s *Service) lookup(id string) (*operation, error) {
	s.mu.RLock()
	op, ok := s.ops[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOperationNotFound, id)
	}
	return op, nil
}

// remove forgets an operation and its subscribers.
func (s *Service) remove(id string) {
	s.mu.Lock()
	delete(s.ops, id)
	s.mu.Unlock()
	s.hub.Drop(id)
}

// cleanup removes the operation from tracking after a delay.
func (s *Service) cleanup(id string, delay time.Duration) {
	s.opts.AfterFunc(delay, func() { s.remove(id) })
}

// Progress returns the current snapshot without blocking.
func (s *Service) Progress(id string) (OperationProgress, error) {
	op, err := s.lookup(id)
	if err != nil {
		return OperationProgress{}, err
	}
	return op.snapshot(), nil
}

// Subscribe calls cb with a snapshot after every change to the operation.
// Callbacks must treat the snapshot as read-only and return promptly.
func (s *Service) Subscribe(id string, cb func(OperationProgress)) (func(), error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(id, cb), nil
}

// Watch adapts a subscription to a channel. The current snapshot is sent
// first and the channel is closed after the terminal snapshot. Slow readers
// miss intermediate snapshots but always get the terminal one. Call stop
// to abandon the watch early.
func (s *Service) Watch(id string) (<-chan OperationProgress, func(), error) {
	op, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}

	w := &watcher{ch: make(chan OperationProgress, 16)}

	op.mu.Lock()
	unsubscribe := s.hub.Subscribe(id, w.send)
	w.send(op.progress.clone())
	op.mu.Unlock()

	stop := func() {
		unsubscribe()
		w.close()
	}
	return w.ch, stop, nil
}

type watcher struct {
	mu     sync.Mutex
	ch     chan OperationProgress
	closed bool
}

func (w *watcher) send(p OperationProgress) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if !p.Status.Terminal() {
		select {
		case w.ch <- p:
		default:
		}
		return
	}
	for {
		select {
		case w.ch <- p:
			close(w.ch)
			w.closed = true
			return
		default:
			select {
			case <-w.ch:
			default:
			}
		}
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		close(w.ch)
		w.closed = true
	}
}

// wait blocks until op finishes or ctx ends, then forgets it.
func (s *Service) wait(ctx context.Context, id string, kind OperationKind) (*operation, error) {
	op, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if op.kind != kind {
		return nil, fmt.Errorf("%w: %s is an %s", ErrWrongKind, id, op.kind)
	}

	select {
	case <-op.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.remove(id)
	return op, nil
}

// ImportResult blocks until the import finishes and returns its summary.
// Collecting the result destroys the operation.
func (s *Service) ImportResult(ctx context.Context, id string) (*ImportSummary, error) {
	op, err := s.wait(ctx, id, KindImport)
	if err != nil {
		return nil, err
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.err != nil {
		return nil, op.err
	}
	return op.summary, nil
}

// ExportResult blocks until the export finishes and returns the artifact.
// Collecting the result destroys the operation.
func (s *Service) ExportResult(ctx context.Context, id string) (*ExportResult, error) {
	op, err := s.wait(ctx, id, KindExport)
	if err != nil {
		return nil, err
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.err != nil {
		return nil, op.err
	}
	return op.export, nil
}

// runAsync runs fn in the background holding a limiter slot. The caller
// has already acquired the slot.
func (s *Service) runAsync(ctx context.Context, op *operation, fn func(ctx context.Context) error) {
	// Operations outlive the request that started them.
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.limiter.Release()
		defer func() {
			if r := recover(); r != nil {
				_ = s.panicked(op, r)
			}
		}()
		if err := fn(bg); err != nil && !errors.As(err, new(*OperationError)) {
			op.logger.Error("operation returned unexpected error", "error", err)
		}
	}()
}

// runSync runs fn on the calling goroutine holding a limiter slot.
func (s *Service) runSync(ctx context.Context, op *operation, fn func(ctx context.Context) error) (err error) {
	defer s.limiter.Release()
	defer func() {
		if r := recover(); r != nil {
			err = s.panicked(op, r)
		}
	}()
	return fn(ctx)
}
