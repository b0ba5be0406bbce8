package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// DefaultIndent is the JSON indentation width used when none is given.
const DefaultIndent = 4

// WriteJSON dumps v to path with indent spaces. v is normally a slice of
// records or a mapping; it is written unchanged apart from formatting.
func WriteJSON(v any, path string, indent int) (*FileMetadata, error) {
	if indent <= 0 {
		indent = DefaultIndent
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create JSON file: %w", err)
	}

	buffered := bufio.NewWriter(file)
	enc := json.NewEncoder(buffered)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", strings.Repeat(" ", indent))

	if err := enc.Encode(emptyAsArray(v)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}

	return describe(path, countEntries(v))
}

// emptyAsArray turns a nil slice into [] so an export with no records is
// still a valid list.
func emptyAsArray(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return []any{}
	}
	return v
}

func countEntries(v any) int64 {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return int64(rv.Len())
	default:
		return 1
	}
}
