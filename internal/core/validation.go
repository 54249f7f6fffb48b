package core

// validation.go applies a full rule set to every decoded row before writing.
//
// Rules are evaluated row-major, rule-minor: every rule for row i runs
// before row i+1, and that order is the order issues are reported in.
// A row with any error-severity failure is excluded from the valid set;
// warnings never exclude a row.

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultProgressEvery is how often (in rows) validation reports progress.
const DefaultProgressEvery = 100

// ValidateOptions tunes ValidateRecords.
type ValidateOptions struct {
	// Rename maps source field names to target names and is applied to each
	// row before its rules run.
	Rename map[string]string

	// ProgressEvery is the row interval for OnProgress (default 100).
	ProgressEvery int

	// OnProgress receives advisory counts; it cannot affect the outcome.
	OnProgress func(processed, valid, invalid int)
}

// ValidationOutcome partitions rows into valid rows and issues.
type ValidationOutcome struct {
	Valid       []Row
	Errors      []ImportIssue
	Warnings    []ImportIssue
	InvalidRows int
}

// ApplyRename moves each key in mapping to its target name, dropping the
// source key. Every source is read before any target is written, so the
// result does not depend on map order. When two sources share a target the
// lexically first one wins. Applying it twice is a no-op unless a target is
// itself a source; CheckRename rejects such mappings.
func ApplyRename(r Record, mapping map[string]string) {
	var sources []string
	for from, to := range mapping {
		if _, ok := r[from]; ok && from != to {
			sources = append(sources, from)
		}
	}
	if len(sources) == 0 {
		return
	}
	sort.Strings(sources)

	moved := make(Record, len(sources))
	for _, from := range sources {
		if _, taken := moved[mapping[from]]; !taken {
			moved[mapping[from]] = r[from]
		}
		delete(r, from)
	}
	for to, v := range moved {
		// An explicit target column wins over an aliased one.
		if _, exists := r[to]; !exists {
			r[to] = v
		}
	}
}

// CheckRename rejects mappings where a target is also a source.
func CheckRename(mapping map[string]string) error {
	var chained []string
	for from, to := range mapping {
		if from == to {
			continue
		}
		if next, ok := mapping[to]; ok && next != to {
			chained = append(chained, from+" -> "+to+" -> "+next)
		}
	}
	if len(chained) > 0 {
		sort.Strings(chained)
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(chained, ", "))
	}
	return nil
}

// ValidateRecords validates rows against rules.
func ValidateRecords(rows []Row, rules []ValidationRule, opts ValidateOptions) ValidationOutcome {
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}

	out := ValidationOutcome{Valid: make([]Row, 0, len(rows))}

	for i, row := range rows {
		if row.Fields == nil {
			row.Fields = Record{}
		}
		if len(opts.Rename) > 0 {
			ApplyRename(row.Fields, opts.Rename)
		}

		rowFailed := false
		for _, rule := range rules {
			v := row.Fields.Get(rule.Field)
			res := ValidateField(v, rule, row.Fields)

			for _, w := range res.Warnings {
				out.Warnings = append(out.Warnings, ImportIssue{
					Row:      row.Index,
					Field:    rule.Field,
					Message:  w,
					Value:    v.String(),
					Severity: SeverityWarning,
				})
			}
			if res.Valid {
				continue
			}

			issue := ImportIssue{
				Row:      row.Index,
				Field:    rule.Field,
				Message:  res.Message,
				Value:    v.String(),
				Severity: rule.severity(),
			}
			if issue.Severity == SeverityWarning {
				out.Warnings = append(out.Warnings, issue)
				continue
			}
			out.Errors = append(out.Errors, issue)
			rowFailed = true
		}

		if rowFailed {
			out.InvalidRows++
		} else {
			out.Valid = append(out.Valid, row)
		}

		if opts.OnProgress != nil && (i+1)%every == 0 {
			opts.OnProgress(i+1, len(out.Valid), out.InvalidRows)
		}
	}

	return out
}

// ErrorRows returns the distinct row numbers that produced errors, in
// report order.
func (o ValidationOutcome) ErrorRows() []int {
	seen := make(map[int]bool, o.InvalidRows)
	rows := make([]int, 0, o.InvalidRows)
	for _, issue := range o.Errors {
		if !seen[issue.Row] {
			seen[issue.Row] = true
			rows = append(rows, issue.Row)
		}
	}
	return rows
}
