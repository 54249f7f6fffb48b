package core

// operation.go owns the lifecycle of one import or export.
//
// Only the goroutine running the operation mutates its progress, always
// under op.mu, and every change is published as a copy after the lock is
// released. Status changes go through transition, which refuses to move
// backwards or out of a terminal state.

import (
	"fmt"
	"log/slog"
	"sync"
)

// DefaultMaxIssues caps the errors and warnings kept on a progress snapshot.
const DefaultMaxIssues = 1000

type operation struct {
	id     string
	kind   OperationKind
	logger *slog.Logger

	mu       sync.Mutex
	progress OperationProgress
	summary  *ImportSummary
	export   *ExportResult
	err      error

	done chan struct{}
}

func (op *operation) snapshot() OperationProgress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.progress.clone()
}

// update applies fn to the progress and publishes the result. Updates to a
// finished operation are dropped.
func (s *Service) update(op *operation, fn func(p *OperationProgress)) {
	op.mu.Lock()
	if op.progress.Status.Terminal() {
		op.mu.Unlock()
		return
	}
	fn(&op.progress)
	snap := op.progress.clone()
	op.mu.Unlock()

	s.hub.Publish(op.id, snap)
}

// transition moves op to next, applying fn in the same critical section so
// subscribers never see a status that disagrees with the counters.
func (s *Service) transition(op *operation, next Status, fn func(p *OperationProgress)) bool {
	op.mu.Lock()
	cur := op.progress.Status
	if cur.Terminal() || next.rank() <= cur.rank() {
		op.mu.Unlock()
		op.logger.Warn("refused status transition", "from", cur, "to", next)
		return false
	}
	op.progress.Status = next
	if fn != nil {
		fn(&op.progress)
	}
	if next.Terminal() {
		ended := s.now()
		op.progress.EndedAt = &ended
	}
	snap := op.progress.clone()
	op.mu.Unlock()

	op.logger.Debug("operation status changed", "from", cur, "to", next)
	s.hub.Publish(op.id, snap)
	return true
}

// complete marks op completed with its result.
func (s *Service) complete(op *operation, fn func(p *OperationProgress)) {
	if s.transition(op, StatusCompleted, fn) {
		s.finish(op)
	}
}

// fail marks op as errored and returns the wrapped error handed to callers.
func (s *Service) fail(op *operation, err error) error {
	op.mu.Lock()
	stage := op.progress.Status
	opErr := &OperationError{OperationID: op.id, Stage: stage, Err: err}
	if op.err == nil {
		op.err = opErr
	}
	op.mu.Unlock()

	op.logger.Error("operation failed", "stage", stage, "error", err)
	if s.transition(op, StatusError, func(p *OperationProgress) { p.Error = err.Error() }) {
		s.finish(op)
	}
	return opErr
}

// finish releases anyone blocked on the result and arms retention cleanup.
func (s *Service) finish(op *operation) {
	close(op.done)
	s.cleanup(op.id, s.opts.Retention)
}

// panicked turns a recovered panic into an operation failure.
func (s *Service) panicked(op *operation, r any) error {
	op.logger.Error("panic in operation", "panic", r)
	return s.fail(op, fmt.Errorf("internal error: %v", r))
}

// setIssues stores the validation findings, keeping at most MaxIssues of
// each kind.
func (s *Service) setIssues(p *OperationProgress, errs, warns []ImportIssue) {
	limit := s.opts.MaxIssues
	p.Errors, p.Warnings = errs, warns
	if len(p.Errors) > limit {
		p.Errors = p.Errors[:limit:limit]
		p.IssuesTruncated = true
	}
	if len(p.Warnings) > limit {
		p.Warnings = p.Warnings[:limit:limit]
		p.IssuesTruncated = true
	}
}
