package core

// rules.go evaluates one typed validation rule against one value.
//
// Empty values pass every rule except RuleRequired: optional fields are
// never penalized for being blank.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// RuleKind is the type of check a ValidationRule performs.
type RuleKind string

const (
	RuleRequired RuleKind = "required"
	RuleEmail    RuleKind = "email"
	RuleNumeric  RuleKind = "numeric"
	RuleDate     RuleKind = "date"
	RuleEnum     RuleKind = "enum"
	RulePattern  RuleKind = "pattern"
	RuleCustom   RuleKind = "custom"
)

// Predicate is the check behind a RuleCustom rule. The full record is
// passed for cross-field checks.
type Predicate func(v Value, record Record) bool

// ValidationRule is one check on one field.
type ValidationRule struct {
	Field     string    `json:"field"`
	Kind      RuleKind  `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Pattern   string    `json:"pattern,omitempty"`
	Allowed   []string  `json:"allowed,omitempty"`
	Predicate Predicate `json:"-"`
	// Severity defaults to SeverityError. A warning rule never excludes a row.
	Severity Severity `json:"severity,omitempty"`
}

func (r ValidationRule) severity() Severity {
	if r.Severity == SeverityWarning {
		return SeverityWarning
	}
	return SeverityError
}

// FieldResult is the outcome of ValidateField.
type FieldResult struct {
	Valid    bool
	Message  string
	Warnings []string
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// patternCache avoids recompiling the same rule pattern on every row.
var patternCache sync.Map // map[string]*regexp.Regexp

func compilePattern(p string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patternCache.Store(p, re)
	return re, nil
}

// ValidateField evaluates rule against v. record may be nil except for
// custom predicates that inspect other fields.
func ValidateField(v Value, rule ValidationRule, record Record) FieldResult {
	if v.IsEmpty() {
		if rule.Kind == RuleRequired {
			return rule.fail(fmt.Sprintf("%s is required", rule.Field))
		}
		return FieldResult{Valid: true}
	}

	switch rule.Kind {
	case RuleRequired:
		return FieldResult{Valid: true}

	case RuleEmail:
		if !emailRegex.MatchString(strings.TrimSpace(v.String())) {
			return rule.fail(fmt.Sprintf("%s must be a valid email address", rule.Field))
		}

	case RuleNumeric:
		return validateNumeric(v, rule)

	case RuleDate:
		if t, ok := v.Time(); ok && !t.IsZero() {
			return FieldResult{Valid: true}
		}
		s, _ := v.Str()
		if _, twoDigit, ok := ParseDate(s); ok {
			res := FieldResult{Valid: true}
			if twoDigit {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s uses a two-digit year", rule.Field))
			}
			return res
		}
		return rule.fail(fmt.Sprintf("%s: invalid date format (use YYYY-MM-DD or similar)", rule.Field))

	case RuleEnum:
		raw := CleanCell(v.String())
		for _, allowed := range rule.Allowed {
			if strings.EqualFold(allowed, raw) {
				return FieldResult{Valid: true}
			}
		}
		return rule.fail(fmt.Sprintf("%s must be one of: %s", rule.Field, strings.Join(rule.Allowed, ", ")))

	case RulePattern:
		re, err := compilePattern(rule.Pattern)
		if err != nil {
			return FieldResult{Message: fmt.Sprintf("%s: invalid pattern %q", rule.Field, rule.Pattern)}
		}
		if !re.MatchString(v.String()) {
			return rule.fail(fmt.Sprintf("%s has an invalid format", rule.Field))
		}

	case RuleCustom:
		if rule.Predicate != nil && !rule.Predicate(v, record) {
			return rule.fail(fmt.Sprintf("%s is invalid", rule.Field))
		}

	default:
		return FieldResult{Message: fmt.Sprintf("%s: unknown rule kind %q", rule.Field, rule.Kind)}
	}

	return FieldResult{Valid: true}
}

func validateNumeric(v Value, rule ValidationRule) FieldResult {
	var (
		n     float64
		ok    bool
		notes NumberNotes
	)
	if s, isStr := v.Str(); isStr {
		n, notes, ok = ParseNumber(s)
	} else {
		n, ok = v.Float()
	}
	if !ok {
		return rule.fail(fmt.Sprintf("%s: invalid number format", rule.Field))
	}
	// Bound violations keep their specific message even when rule.Message is set.
	if rule.Min != nil && n < *rule.Min {
		return FieldResult{Message: fmt.Sprintf("%s must be at least %s", rule.Field, formatBound(*rule.Min))}
	}
	if rule.Max != nil && n > *rule.Max {
		return FieldResult{Message: fmt.Sprintf("%s must be at most %s", rule.Field, formatBound(*rule.Max))}
	}
	res := FieldResult{Valid: true}
	if notes.StrippedCurrency {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: currency symbol removed", rule.Field))
	}
	return res
}

func (r ValidationRule) fail(defaultMsg string) FieldResult {
	if r.Message != "" {
		return FieldResult{Message: r.Message}
	}
	return FieldResult{Message: defaultMsg}
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
