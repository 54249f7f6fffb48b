package tabular

import (
	"strings"

	"github.com/JonMunkholm/bulkio/internal/core"
)

// buildTable turns parsed records (header first) into rows. Row.Index is the
// record's position after the header plus 2, independent of how many
// physical lines a quoted cell spans. Blank records are dropped but still
// consume an index.
func buildTable(grid [][]string, hints map[string]core.Kind) (*Table, error) {
	for len(grid) > 0 && isBlank(grid[0]) {
		grid = grid[1:]
	}
	if len(grid) == 0 {
		return nil, core.ErrEmptyFile
	}

	headers := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		headers[i] = core.NormalizeHeader(h)
	}

	table := &Table{Headers: headers}
	for i, line := range grid[1:] {
		if isBlank(line) {
			continue
		}
		fields := make(core.Record, len(headers))
		for col, name := range headers {
			if name == "" {
				continue
			}
			var cell string
			if col < len(line) {
				cell = line[col]
			}
			fields[name] = cellValue(cell, hints[name])
		}
		table.Rows = append(table.Rows, core.Row{Index: i + 2, Fields: fields})
	}
	return table, nil
}

// cellValue converts one cell. A hinted cell that does not convert stays a
// string so validation can report it.
func cellValue(cell string, hint core.Kind) core.Value {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return core.Null()
	}
	v := core.StringValue(cell)
	if hint == core.KindNull || hint == core.KindString {
		return v
	}
	if coerced, ok := v.Coerce(hint); ok {
		return coerced
	}
	return v
}

func isBlank(line []string) bool {
	for _, cell := range line {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// encodeGrid renders the header row and one row per record.
func encodeGrid(records []core.Record, fields []string, opts EncodeOptions) [][]string {
	grid := make([][]string, 0, len(records)+1)
	grid = append(grid, append([]string(nil), fields...))
	for _, r := range records {
		line := make([]string, len(fields))
		for i, f := range fields {
			line[i] = FormatValue(r.Get(f), opts.TrueToken, opts.FalseToken)
		}
		grid = append(grid, line)
	}
	return grid
}

// FormatValue renders a value for export. Empty tokens fall back to Yes/No.
func FormatValue(v core.Value, trueToken, falseToken string) string {
	switch v.Kind() {
	case core.KindNull:
		return ""
	case core.KindBool:
		b, _ := v.Bool()
		if b {
			if trueToken == "" {
				return DefaultTrueToken
			}
			return trueToken
		}
		if falseToken == "" {
			return DefaultFalseToken
		}
		return falseToken
	case core.KindTime:
		t, _ := v.Time()
		return t.UTC().Format(TimeLayout)
	}
	return v.String()
}
