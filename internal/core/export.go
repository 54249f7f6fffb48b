package core

// export.go pages records out of the fetcher and encodes them into a file.
//
// Lifecycle: preparing -> fetching -> formatting -> generating -> completed,
// with error reachable from every stage.

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

func (s *Service) planExport(spec ExportSpecification) (ExportSpecification, error) {
	if strings.TrimSpace(spec.EntityType) == "" {
		return spec, fmt.Errorf("%w: entity type is required", ErrUnknownEntity)
	}
	def, ok := Get(spec.EntityType)
	if !ok {
		return spec, fmt.Errorf("%w: %s", ErrUnknownEntity, spec.EntityType)
	}
	format, err := ParseFormat(string(spec.Format))
	if err != nil {
		return spec, err
	}
	spec.Format = format
	if len(spec.Fields) == 0 {
		spec.Fields = def.FieldNames()
	}
	return spec, nil
}

// StartExport validates the specification, reserves a slot and runs the
// export in the background.
func (s *Service) StartExport(ctx context.Context, spec ExportSpecification) (string, error) {
	spec, err := s.planExport(spec)
	if err != nil {
		return "", err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	op := s.newOperation(KindExport, spec.EntityType, "")
	s.runAsync(ctx, op, func(ctx context.Context) error {
		_, err := s.runExport(ctx, op, spec)
		return err
	})
	return op.id, nil
}

// RunExport performs an export on the calling goroutine.
func (s *Service) RunExport(ctx context.Context, spec ExportSpecification) (*ExportResult, error) {
	spec, err := s.planExport(spec)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	op := s.newOperation(KindExport, spec.EntityType, "")
	defer s.remove(op.id)

	var result *ExportResult
	err = s.runSync(ctx, op, func(ctx context.Context) error {
		var runErr error
		result, runErr = s.runExport(ctx, op, spec)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	// The operation is gone once this returns, so there is nothing to
	// download from; the caller decides where the artifact lives.
	result.Descriptor.DownloadURL = ""
	result.Artifact.Descriptor.DownloadURL = ""
	return result, nil
}

func (s *Service) runExport(ctx context.Context, op *operation, spec ExportSpecification) (*ExportResult, error) {
	started := s.now()
	op.logger.Info("export started", "format", spec.Format, "fields", len(spec.Fields))

	s.transition(op, StatusFetching, nil)

	records, err := s.fetchAll(ctx, op, spec)
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.transition(op, StatusFormatting, nil)

	columns := exportColumns(spec, records)
	projected := make([]Record, len(records))
	for i, r := range records {
		projected[i] = r.Project(columns)
		if (i+1)%DefaultProgressEvery == 0 {
			n := i + 1
			s.update(op, func(p *OperationProgress) { p.ProcessedRecords = n })
		}
	}

	s.transition(op, StatusGenerating, func(p *OperationProgress) {
		p.ProcessedRecords = len(projected)
	})

	data, err := s.codec.Encode(projected, EncodeOptions{
		Format:     spec.Format,
		EntityType: spec.EntityType,
		Fields:     columns,
		TrueToken:  s.opts.TrueToken,
		FalseToken: s.opts.FalseToken,
	})
	if err != nil {
		return nil, s.fail(op, fmt.Errorf("encode %s: %w", spec.Format, err))
	}

	desc := ArtifactDescriptor{
		Filename:    s.codec.Filename(spec.EntityType, spec.Format, s.now()),
		ContentType: s.codec.ContentType(spec.Format),
		Format:      spec.Format,
		Size:        len(data),
		RecordCount: len(projected),
		DownloadURL: fmt.Sprintf("%s/exports/%s/download", s.opts.APIPrefix, op.id),
	}
	result := &ExportResult{
		OperationID: op.id,
		Artifact:    &Artifact{Descriptor: desc, Data: data},
		Descriptor:  desc,
		RecordCount: len(projected),
		Duration:    s.now().Sub(started),
	}

	s.complete(op, func(p *OperationProgress) {
		p.FileName = desc.Filename
		op.export = result
	})

	op.logger.Info("export completed",
		"records", result.RecordCount,
		"bytes", desc.Size,
		"file", desc.Filename,
		"duration", result.Duration,
	)
	return result, nil
}

// exportColumns is the requested field list followed by the fields attached
// for included entities, sorted.
func exportColumns(spec ExportSpecification, records []Record) []string {
	if len(spec.Include) == 0 {
		return spec.Fields
	}
	listed := make(map[string]bool, len(spec.Fields))
	for _, f := range spec.Fields {
		listed[f] = true
	}
	columns := append([]string(nil), spec.Fields...)
	for _, f := range RecordFields(records) {
		if !listed[f] && IncludedField(f, spec.Include) {
			columns = append(columns, f)
		}
	}
	return columns
}

// fetchAll pages until a short or empty page.
func (s *Service) fetchAll(ctx context.Context, op *operation, spec ExportSpecification) ([]Record, error) {
	limit := s.opts.PageSize
	var records []Record
	for offset := 0; ; offset += limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.fetcher.Page(ctx, spec.EntityType, PageQuery{
			Limit:     limit,
			Offset:    offset,
			Fields:    spec.Fields,
			Filters:   spec.Filters,
			DateRange: spec.DateRange,
			Include:   spec.Include,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		records = append(records, page...)

		total := len(records)
		s.update(op, func(p *OperationProgress) { p.TotalRecords = total })

		if len(page) < limit {
			return records, nil
		}
	}
}

// RecordFields returns the sorted union of keys across records.
func RecordFields(records []Record) []string {
	seen := make(map[string]bool)
	for _, r := range records {
		for k := range r {
			seen[k] = true
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
