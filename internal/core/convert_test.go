package core

import (
	"testing"
	"time"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		want         float64
		wantOK       bool
		wantCurrency bool
	}{
		{"positive integer", "123", 123, true, false},
		{"negative integer", "-456", -456, true, false},
		{"decimal", "123.45", 123.45, true, false},
		{"leading decimal point", ".99", 0.99, true, false},
		{"trailing decimal point", "99.", 99, true, false},
		{"scientific", "1.5e3", 1500, true, false},
		{"dollar with thousands", "$1,234.56", 1234.56, true, true},
		{"euro", "€1234.56", 1234.56, true, true},
		{"pound", "£1234.56", 1234.56, true, true},
		{"accounting negative", "(1,234.56)", -1234.56, true, false},
		{"accounting with currency", "($50)", -50, true, true},
		{"excel formula", `="42"`, 42, true, false},
		{"surrounding whitespace", "  7  ", 7, true, false},
		{"empty", "", 0, false, false},
		{"letters", "abc", 0, false, false},
		{"mixed", "12abc", 0, false, false},
		{"double sign", "--5", 0, false, false},
		{"overflow", "1e400", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, notes, ok := ParseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if notes.StrippedCurrency != tt.wantCurrency {
				t.Errorf("ParseNumber(%q) StrippedCurrency = %v, want %v", tt.input, notes.StrippedCurrency, tt.wantCurrency)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		want         time.Time
		wantOK       bool
		wantTwoDigit bool
	}{
		{"iso", "2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"rfc3339", "2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true, false},
		{"iso datetime", "2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), true, false},
		{"us slashes", "1/15/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"us padded", "01/15/2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"dotted", "1.15.2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"month name", "Jan 15, 2024", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"compact", "20240115", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, false},
		{"two digit year", "1/15/24", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), true, true},
		{"empty", "", time.Time{}, false, false},
		{"garbage", "not a date", time.Time{}, false, false},
		{"impossible day", "2024-02-30", time.Time{}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, twoDigit, ok := ParseDate(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseDate(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if twoDigit != tt.wantTwoDigit {
				t.Errorf("ParseDate(%q) twoDigit = %v, want %v", tt.input, twoDigit, tt.wantTwoDigit)
			}
		})
	}
}

func TestParseDate_TwoDigitYearPivot(t *testing.T) {
	farFuture := (time.Now().Year() + TwoDigitYearPivot + 5) % 100
	input := "1/1/" + twoDigits(farFuture)

	got, twoDigit, ok := ParseDate(input)
	if !ok || !twoDigit {
		t.Fatalf("ParseDate(%q) ok=%v twoDigit=%v", input, ok, twoDigit)
	}
	if got.Year() > time.Now().Year()+TwoDigitYearPivot {
		t.Errorf("ParseDate(%q) year = %d, want previous century", input, got.Year())
	}
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func TestParseBool(t *testing.T) {
	tests := []struct {
		input  string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"YES", true, true},
		{"y", true, true},
		{"1", true, true},
		{"oui", true, true},
		{"false", false, true},
		{"No", false, true},
		{"0", false, true},
		{"non", false, true},
		{"", false, false},
		{"maybe", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseBool(tt.input)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  hello  ", "hello"},
		{`="00123"`, "00123"},
		{"=SUM", "SUM"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Unit Price", "unit_price"},
		{"  SKU ", "sku"},
		{"unit_price", "unit_price"},
		{"Order   Date", "order_date"},
	}

	for _, tt := range tests {
		if got := NormalizeHeader(tt.input); got != tt.want {
			t.Errorf("NormalizeHeader(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
