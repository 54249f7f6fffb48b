package tabular

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// charsets lists the legacy encodings accepted for uploads. UTF-8 is the
// default and needs no decoder.
var charsets = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"windows-1251": charmap.Windows1251,
	"cp1251":       charmap.Windows1251,
	"iso-8859-1":   charmap.ISO8859_1,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
}

// decodeCharset wraps r so it yields UTF-8.
func decodeCharset(r io.Reader, name string) (io.Reader, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, ok := charsets[key]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
	return enc.NewDecoder().Reader(r), nil
}
