package core

import (
	"context"
	"time"
)

// OperationKind distinguishes imports from exports.
type OperationKind string

const (
	KindImport OperationKind = "import"
	KindExport OperationKind = "export"
)

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusPreparing  Status = "preparing"
	StatusValidating Status = "validating"
	StatusProcessing Status = "processing"
	StatusFetching   Status = "fetching"
	StatusFormatting Status = "formatting"
	StatusGenerating Status = "generating"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// rank orders statuses within a lifecycle; transitions may only increase it.
// The import and export paths share preparing/completed/error.
func (s Status) rank() int {
	switch s {
	case StatusPreparing:
		return 0
	case StatusValidating, StatusFetching:
		return 1
	case StatusProcessing, StatusFormatting:
		return 2
	case StatusGenerating:
		return 3
	case StatusCompleted, StatusError:
		return 10
	}
	return -1
}

// Terminal reports whether s is an absorbing state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Severity classifies an ImportIssue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ImportIssue is one validation finding for a row.
type ImportIssue struct {
	Row      int      `json:"row"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
	Value    string   `json:"value,omitempty"`
	Severity Severity `json:"severity"`
}

// OperationProgress is the live state of one import or export.
// Subscribers receive copies; only the owning operation mutates it.
type OperationProgress struct {
	OperationID      string        `json:"operationId"`
	Kind             OperationKind `json:"kind"`
	EntityType       string        `json:"entityType"`
	FileName         string        `json:"fileName,omitempty"`
	Status           Status        `json:"status"`
	TotalRecords     int           `json:"totalRecords"`
	ProcessedRecords int           `json:"processedRecords"`
	ValidRecords     int           `json:"validRecords"`
	InvalidRecords   int           `json:"invalidRecords"`
	DuplicateRecords int           `json:"duplicateRecords"`
	CreatedRecords   int           `json:"createdRecords"`
	UpdatedRecords   int           `json:"updatedRecords"`
	CurrentChunk     int           `json:"currentChunk"`
	TotalChunks      int           `json:"totalChunks"`
	FailedChunks     int           `json:"failedChunks"`
	Errors           []ImportIssue `json:"errors,omitempty"`
	Warnings         []ImportIssue `json:"warnings,omitempty"`
	IssuesTruncated  bool          `json:"issuesTruncated,omitempty"`
	StartedAt        time.Time     `json:"startedAt"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// Percent returns progress as 0-100 based on processed over total records.
func (p OperationProgress) Percent() int {
	if p.Status == StatusCompleted {
		return 100
	}
	if p.TotalRecords <= 0 {
		return 0
	}
	return (p.ProcessedRecords * 100) / p.TotalRecords
}

// clone deep-copies the issue slices so snapshots stay read-only.
func (p OperationProgress) clone() OperationProgress {
	out := p
	if p.Errors != nil {
		out.Errors = append([]ImportIssue(nil), p.Errors...)
	}
	if p.Warnings != nil {
		out.Warnings = append([]ImportIssue(nil), p.Warnings...)
	}
	if p.EndedAt != nil {
		t := *p.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Format is a tabular file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DateRange restricts an export to records whose Field lies in [From, To].
type DateRange struct {
	Field string     `json:"field"`
	From  *time.Time `json:"from,omitempty"`
	To    *time.Time `json:"to,omitempty"`
}

// ExportSpecification describes one export.
type ExportSpecification struct {
	EntityType string            `json:"entityType"`
	Fields     []string          `json:"fields,omitempty"`
	Filters    map[string]string `json:"filters,omitempty"`
	DateRange  *DateRange        `json:"dateRange,omitempty"`
	Include    []string          `json:"include,omitempty"`
	Format     Format            `json:"format"`
}

// WriteOptions is the duplicate policy handed to the bulk writer.
type WriteOptions struct {
	SkipDuplicates bool `json:"skipDuplicates"`
	UpdateExisting bool `json:"updateExisting"`
}

// WriteResult is what the bulk writer reports for one chunk.
type WriteResult struct {
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Duplicates int      `json:"duplicates"`
	Data       []Record `json:"data,omitempty"`
}

// BulkWriter creates or updates records in bulk.
// An error means the whole call failed and nothing should be assumed written.
type BulkWriter interface {
	BulkWrite(ctx context.Context, entityType string, records []Record, opts WriteOptions) (WriteResult, error)
}

// PageQuery selects one page of records for an export.
type PageQuery struct {
	Limit     int
	Offset    int
	Fields    []string
	Filters   map[string]string
	DateRange *DateRange
	Include   []string
}

// Fetcher pages through stored records.
type Fetcher interface {
	Page(ctx context.Context, entityType string, q PageQuery) ([]Record, error)
}

// ArtifactDescriptor describes a generated export file.
type ArtifactDescriptor struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Format      Format `json:"format"`
	Size        int    `json:"size"`
	RecordCount int    `json:"recordCount"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Artifact is a generated export file with its bytes.
type Artifact struct {
	Descriptor ArtifactDescriptor
	Data       []byte
}

// ChunkFailure records a chunk whose write call failed. The records are kept
// so they can be reprocessed by hand.
type ChunkFailure struct {
	Chunk    int      `json:"chunk"`
	FirstRow int      `json:"firstRow"`
	LastRow  int      `json:"lastRow"`
	Count    int      `json:"count"`
	Records  []Record `json:"records,omitempty"`
	Error    string   `json:"error"`
}

// ImportSummary is the final result of an import.
type ImportSummary struct {
	OperationID    string         `json:"operationId"`
	EntityType     string         `json:"entityType"`
	TotalProcessed int            `json:"totalProcessed"`
	Successful     int            `json:"successful"`
	Failed         int            `json:"failed"`
	Duplicates     int            `json:"duplicates"`
	Updated        int            `json:"updated"`
	Created        int            `json:"created"`
	FailedChunks   int            `json:"failedChunks"`
	SkippedRecords int            `json:"skippedRecords"`
	ChunkFailures  []ChunkFailure `json:"chunkFailures,omitempty"`
	Errors         []ImportIssue  `json:"errors,omitempty"`
	Warnings       []ImportIssue  `json:"warnings,omitempty"`
	Duration       time.Duration  `json:"duration"`
}

// ExportResult is the final result of an export.
type ExportResult struct {
	OperationID string             `json:"operationId"`
	Artifact    *Artifact          `json:"-"`
	Descriptor  ArtifactDescriptor `json:"artifact"`
	RecordCount int                `json:"recordCount"`
	Duration    time.Duration      `json:"duration"`
}
