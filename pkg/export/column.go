package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zdtools/zdexport/pkg/filter"
	"github.com/zdtools/zdexport/pkg/pagination"
)

// Formatter renders one looked-up value as cell text. ok is false when the
// field was missing from the record.
type Formatter func(v any, ok bool) string

// Column maps a record field to an output column.
type Column struct {
	// Header is the column label. Empty uses Field.
	Header string

	// Field is a top-level record key, or a dotted path into the record such
	// as "organization_fields.service_level" when no key has that exact name.
	Field string

	// Format overrides the default cell rendering.
	Format Formatter
}

// Columns builds columns whose headers equal their field paths.
func Columns(fields ...string) []Column {
	cols := make([]Column, len(fields))
	for i, f := range fields {
		cols[i] = Column{Header: f, Field: f}
	}
	return cols
}

func (c Column) header() string {
	if c.Header != "" {
		return c.Header
	}
	return c.Field
}

// Cell renders the column's value for one record.
func (c Column) Cell(record pagination.Record) string {
	v, ok := c.value(record)
	if c.Format != nil {
		return normalizeNewlines(c.Format(v, ok))
	}
	if !ok {
		return ""
	}
	return FormatValue(v)
}

func (c Column) value(record pagination.Record) (any, bool) {
	if v, ok := record[c.Field]; ok {
		return v, true
	}
	return filter.Lookup(record, c.Field)
}

// Headers returns the header labels of cols.
func Headers(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.header()
	}
	return out
}

// Row renders one record as cells in column order.
func Row(record pagination.Record, cols []Column) []string {
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i] = c.Cell(record)
	}
	return row
}

// FormatValue renders a decoded JSON value as cell text. Nested lists and
// objects become compact JSON with sorted keys.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return normalizeNewlines(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int64, int32, uint, uint64, uint32:
		return fmt.Sprint(t)
	default:
		s, err := compactJSON(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return normalizeNewlines(s)
	}
}

// DateFormat renders RFC 3339 timestamps with layout. Values that do not
// parse are written unchanged; missing values stay empty.
func DateFormat(layout string) Formatter {
	return func(v any, ok bool) string {
		if !ok || v == nil {
			return ""
		}
		s, isString := v.(string)
		if !isString {
			return FormatValue(v)
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return s
		}
		return t.Format(layout)
	}
}

// Default renders missing values as def instead of an empty cell.
func Default(def string) Formatter {
	return func(v any, ok bool) string {
		if !ok || v == nil {
			return def
		}
		return FormatValue(v)
	}
}

// Join renders a list value as its items separated by sep, e.g. domain
// names as "a.com, b.com". Non-list values use the default rendering.
func Join(sep string) Formatter {
	return func(v any, ok bool) string {
		if !ok {
			return ""
		}
		items, isList := v.([]any)
		if !isList {
			return FormatValue(v)
		}
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = FormatValue(item)
		}
		return strings.Join(parts, sep)
	}
}

func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func normalizeNewlines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
