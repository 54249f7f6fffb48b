package core

// convert.go provides coercion of raw cell text into typed values.
//
// These functions handle the messy reality of user-provided spreadsheet data:
//   - Multiple date formats (US, EU, ISO, etc.)
//   - Currency symbols and thousand separators in numbers
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// Each Parse* function reports ok=false for empty or invalid input.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted.
// Years that would result in dates more than this many years in the future
// are assumed to be in the previous century.
var TwoDigitYearPivot = 20

// Date layouts split by year format for proper 2-digit year handling
var (
	twoDigitYearLayouts = []string{
		"1/2/06", "01/02/06", "1-2-06", "1.2.06", "01.02.06",
	}
	fourDigitYearLayouts = []string{
		time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02 15:04",
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
		"2006-01-02", "2006/01/02", "2006.01.02",
		"Jan 2, 2006", "2 Jan 2006", "January 2, 2006",
		"20060102",
	}
)

// NumberNotes describes cleanup applied while parsing a number.
type NumberNotes struct {
	StrippedCurrency bool
	Accounting       bool
}

// ParseNumber parses a numeric cell.
// Handles currency symbols, thousands separators, and accounting format (parentheses for negative).
func ParseNumber(s string) (float64, NumberNotes, bool) {
	var notes NumberNotes
	s = CleanCell(s)
	if s == "" {
		return 0, notes, false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		notes.Accounting = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols and thousands separators
	before := s
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, "€", "") // Euro
	s = strings.ReplaceAll(s, "£", "") // Pound
	notes.StrippedCurrency = s != before
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, notes, false
	}

	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return 0, notes, false
	}
	return n, notes, true
}

// ParseDate parses a date or timestamp cell.
// Supports multiple date formats and handles 2-digit years with pivot.
// twoDigit reports whether the year was expanded from two digits.
func ParseDate(s string) (t time.Time, twoDigit bool, ok bool) {
	s = CleanCell(s)
	if s == "" {
		return time.Time{}, false, false
	}

	// Try 4-digit year layouts first (unambiguous)
	for _, layout := range fourDigitYearLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			return parsed, false, true
		}
	}

	// Try 2-digit year layouts with pivot year adjustment
	pivotYear := time.Now().Year() + TwoDigitYearPivot

	for _, layout := range twoDigitYearLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			if parsed.Year() > pivotYear {
				parsed = parsed.AddDate(-100, 0, 0)
			}
			return parsed, true, true
		}
	}

	return time.Time{}, false, false
}

// ParseBool accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(CleanCell(s)) {
	case "true", "t", "yes", "y", "1", "oui":
		return true, true
	case "false", "f", "no", "n", "0", "non":
		return false, true
	default:
		return false, false
	}
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

// NormalizeHeader lowercases a header cell and turns spaces into underscores,
// so "Unit Price" and "unit_price" address the same field.
func NormalizeHeader(s string) string {
	s = strings.ToLower(CleanCell(s))
	s = strings.Join(strings.Fields(s), "_")
	return s
}
