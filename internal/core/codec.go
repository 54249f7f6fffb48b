package core

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Table is a decoded file: normalized headers plus data rows.
type Table struct {
	Headers []string
	Rows    []Row
}

// DecodeOptions controls how upload bytes become rows.
type DecodeOptions struct {
	Format Format
	// Encoding names the source charset ("utf-8", "windows-1252", ...).
	Encoding string
	// Hints coerces the named columns to a kind at decode time. Cells that
	// do not convert stay strings so validation can report them.
	Hints map[string]Kind
}

// EncodeOptions controls how records become an artifact.
type EncodeOptions struct {
	Format     Format
	EntityType string
	// Fields fixes the column order. Empty means the sorted union of keys.
	Fields     []string
	TrueToken  string
	FalseToken string
}

// Codec converts between file bytes and records.
type Codec interface {
	Decode(data []byte, opts DecodeOptions) (*Table, error)
	Encode(records []Record, opts EncodeOptions) ([]byte, error)
	Filename(entityType string, format Format, at time.Time) string
	ContentType(format Format) string
}

// ParseFormat accepts "csv" or "xlsx" in any case. Empty means csv.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "excel":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
}

// FormatFromFilename picks the format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "csv", "txt":
		return FormatCSV, nil
	case "xlsx":
		return FormatXLSX, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
}
