package core

// import.go runs one file through decode, validation and the batch processor.
//
// Lifecycle: preparing -> validating -> processing -> completed. A decode
// failure, or a file where every row is invalid, ends in error instead.
// Failed chunks do not fail the import; they are reported in the summary.

import (
	"context"
	"fmt"
)

// ImportRequest is one uploaded file destined for an entity.
type ImportRequest struct {
	EntityType string
	FileName   string
	Data       []byte

	// Format overrides detection from FileName.
	Format   Format
	Encoding string

	// Mapping renames source columns to field names on top of the entity's
	// own aliases.
	Mapping map[string]string

	ChunkSize      int
	SkipDuplicates bool
	UpdateExisting bool

	// Rules replaces the entity's rule set when non-nil.
	Rules []ValidationRule
}

type importPlan struct {
	req       ImportRequest
	format    Format
	rules     []ValidationRule
	rename    map[string]string
	hints     map[string]Kind
	chunkSize int
}

func (s *Service) planImport(req ImportRequest) (importPlan, error) {
	if len(req.Data) == 0 {
		return importPlan{}, ErrEmptyFile
	}

	def, known := Get(req.EntityType)
	if !known && req.Rules == nil {
		return importPlan{}, fmt.Errorf("%w: %s", ErrUnknownEntity, req.EntityType)
	}

	format := req.Format
	if format == "" {
		f, err := FormatFromFilename(req.FileName)
		if err != nil {
			return importPlan{}, err
		}
		format = f
	} else if _, err := ParseFormat(string(format)); err != nil {
		return importPlan{}, err
	}

	plan := importPlan{
		req:       req,
		format:    format,
		rules:     def.Rules,
		rename:    make(map[string]string),
		hints:     def.Hints(),
		chunkSize: req.ChunkSize,
	}
	if req.Rules != nil {
		plan.rules = req.Rules
	}
	if plan.chunkSize <= 0 {
		plan.chunkSize = s.opts.ChunkSize
	}
	for from, to := range def.Renames {
		plan.rename[NormalizeHeader(from)] = to
	}
	for from, to := range req.Mapping {
		plan.rename[NormalizeHeader(from)] = to
	}
	if err := CheckRename(plan.rename); err != nil {
		return importPlan{}, err
	}
	// Decode sees the source headers, so aliases inherit their target's hint.
	for from, to := range plan.rename {
		if k, ok := plan.hints[to]; ok {
			plan.hints[from] = k
		}
	}
	return plan, nil
}

// StartImport validates the request, reserves a slot and runs the import in
// the background. Use Subscribe or Watch for progress and ImportResult for
// the summary.
func (s *Service) StartImport(ctx context.Context, req ImportRequest) (string, error) {
	plan, err := s.planImport(req)
	if err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	op := s.newOperation(KindImport, req.EntityType, req.FileName)
	s.runAsync(ctx, op, func(ctx context.Context) error {
		_, err := s.runImport(ctx, op, plan)
		return err
	})
	return op.id, nil
}

// RunImport performs an import on the calling goroutine.
func (s *Service) RunImport(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	plan, err := s.planImport(req)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	op := s.newOperation(KindImport, req.EntityType, req.FileName)
	defer s.remove(op.id)

	var summary *ImportSummary
	err = s.runSync(ctx, op, func(ctx context.Context) error {
		var runErr error
		summary, runErr = s.runImport(ctx, op, plan)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

func (s *Service) runImport(ctx context.Context, op *operation, plan importPlan) (*ImportSummary, error) {
	started := s.now()
	entity := plan.req.EntityType
	op.logger.Info("import started", "file", plan.req.FileName, "format", plan.format, "bytes", len(plan.req.Data))

	table, err := s.codec.Decode(plan.req.Data, DecodeOptions{
		Format:   plan.format,
		Encoding: plan.req.Encoding,
		Hints:    plan.hints,
	})
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("decode %s: %w", plan.req.FileName, err))
	}
	rows := table.Rows

	s.transition(op, StatusValidating, func(p *OperationProgress) {
		p.TotalRecords = len(rows)
	})

	outcome := ValidateRecords(rows, plan.rules, ValidateOptions{
		Rename: plan.rename,
		OnProgress: func(processed, valid, invalid int) {
			s.update(op, func(p *OperationProgress) {
				p.ValidRecords = valid
				p.InvalidRecords = invalid
			})
		},
	})

	s.update(op, func(p *OperationProgress) {
		p.ValidRecords = len(outcome.Valid)
		p.InvalidRecords = outcome.InvalidRows
		p.ProcessedRecords = outcome.InvalidRows
		s.setIssues(p, outcome.Errors, outcome.Warnings)
	})

	if len(outcome.Valid) == 0 && outcome.InvalidRows > 0 {
		return nil, s.fail(op, fmt.Errorf("%w: %d of %d rows failed validation", ErrNoValidRecords, outcome.InvalidRows, len(rows)))
	}

	totalChunks := (len(outcome.Valid) + plan.chunkSize - 1) / plan.chunkSize
	s.transition(op, StatusProcessing, func(p *OperationProgress) {
		p.TotalChunks = totalChunks
	})

	batch := s.batch.Process(ctx, entity, outcome.Valid, BatchOptions{
		ChunkSize:         plan.chunkSize,
		Policy:            WriteOptions{SkipDuplicates: plan.req.SkipDuplicates, UpdateExisting: plan.req.UpdateExisting},
		KeepFailedRecords: true,
		OnChunk: func(r ChunkReport) {
			s.update(op, func(p *OperationProgress) {
				p.CurrentChunk = r.Chunk
				p.ProcessedRecords += r.Size
				if r.Failure != nil {
					p.FailedChunks++
					return
				}
				p.CreatedRecords += r.Result.Created
				p.UpdatedRecords += r.Result.Updated
				p.DuplicateRecords += r.Result.Duplicates
			})
		},
	})

	summary := &ImportSummary{
		OperationID:    op.id,
		EntityType:     entity,
		TotalProcessed: outcome.InvalidRows + batch.Processed,
		Successful:     batch.Created + batch.Updated,
		Failed:         outcome.InvalidRows,
		Duplicates:     batch.Duplicates,
		Updated:        batch.Updated,
		Created:        batch.Created,
		FailedChunks:   len(batch.ChunkFailures),
		SkippedRecords: batch.SkippedRecords(),
		ChunkFailures:  batch.ChunkFailures,
		Duration:       s.now().Sub(started),
	}

	s.complete(op, func(p *OperationProgress) {
		summary.Errors = p.Errors
		summary.Warnings = p.Warnings
		op.summary = summary
	})

	op.logger.Info("import completed",
		"rows", len(rows),
		"created", summary.Created,
		"updated", summary.Updated,
		"duplicates", summary.Duplicates,
		"invalid", summary.Failed,
		"failed_chunks", summary.FailedChunks,
		"duration", summary.Duration,
	)
	return summary, nil
}
