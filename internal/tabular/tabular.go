// Package tabular converts between CSV or XLSX bytes and core records.
//
// Decoding normalizes headers (see core.NormalizeHeader), numbers rows by
// the source line they start on (the header is line 1), skips blank rows
// and turns empty cells into null. Encoding writes one header row followed
// by one row per record with values rendered by FormatValue.
package tabular

import (
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/bulkio/internal/core"
)

type (
	Table         = core.Table
	DecodeOptions = core.DecodeOptions
	EncodeOptions = core.EncodeOptions
)

// Default bool tokens for exports.
const (
	DefaultTrueToken  = "Yes"
	DefaultFalseToken = "No"
)

// TimeLayout is how exported instants are written: UTC with milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Codec implements core.Codec for csv and xlsx.
type Codec struct{}

// New returns a Codec.
func New() *Codec { return &Codec{} }

var _ core.Codec = (*Codec)(nil)

// Decode parses data into a table.
func (c *Codec) Decode(data []byte, opts DecodeOptions) (*Table, error) {
	if len(data) == 0 {
		return nil, core.ErrEmptyFile
	}
	format, err := core.ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}

	var grid [][]string
	switch format {
	case core.FormatXLSX:
		grid, err = readWorkbook(data)
	default:
		grid, err = readCSV(data, opts.Encoding)
	}
	if err != nil {
		return nil, err
	}
	return buildTable(grid, opts.Hints)
}

// Encode renders records as a csv or xlsx file.
func (c *Codec) Encode(records []core.Record, opts EncodeOptions) ([]byte, error) {
	format, err := core.ParseFormat(string(opts.Format))
	if err != nil {
		return nil, err
	}
	fields := opts.Fields
	if len(fields) == 0 {
		fields = core.RecordFields(records)
	}
	grid := encodeGrid(records, fields, opts)

	if format == core.FormatXLSX {
		return writeWorkbook(grid, opts.EntityType)
	}
	return writeCSV(grid)
}

// Filename implements core.Codec with ExportFilename.
func (c *Codec) Filename(entityType string, format core.Format, at time.Time) string {
	return ExportFilename(entityType, format, at)
}

// ContentType implements core.Codec.
func (c *Codec) ContentType(format core.Format) string {
	return ContentType(format)
}

// ExportFilename builds "{entity}_export_{timestamp}.{ext}" where the
// timestamp is ISO-8601 UTC with ':' and '.' replaced by '-'.
func ExportFilename(entityType string, format core.Format, at time.Time) string {
	stamp := at.UTC().Format(TimeLayout)
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s_export_%s.%s", entityType, stamp, Extension(format))
}

// Extension returns the file extension without the dot.
func Extension(format core.Format) string {
	if format == core.FormatXLSX {
		return "xlsx"
	}
	return "csv"
}

// ContentType returns the MIME type for a format.
func ContentType(format core.Format) string {
	if format == core.FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}
