package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// readCSV parses the whole file. Rows may have any number of fields and
// stray quotes are tolerated, as spreadsheet exports often contain both.
func readCSV(data []byte, charset string) ([][]string, error) {
	decoded, err := decodeCharset(newBOMSkippingReader(bytes.NewReader(data)), charset)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(newUTF8Sanitizer(decoded))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var grid [][]string
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// writeCSV writes a BOM so spreadsheet tools detect UTF-8.
func writeCSV(grid [][]string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(utf8BOM)

	w := csv.NewWriter(&buf)
	if err := w.WriteAll(grid); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}
