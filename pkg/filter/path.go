package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidArrayIndex is returned for a malformed "[i]" path segment.
var ErrInvalidArrayIndex = errors.New("invalid array index in path")

// Lookup returns the value at a dotted path inside a record.
//
// Path notation:
//   - "organization_fields.service_level" walks nested objects
//   - "tags[0]" indexes into an array
//   - "via.source.from[1].address" combines both
//
// The boolean is false when any step is missing, out of range or not the
// expected container type.
func Lookup(record map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = record
	for _, part := range strings.Split(path, ".") {
		key, index, hasIndex, err := parsePathPart(part)
		if err != nil {
			return nil, false
		}

		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}

		if hasIndex {
			arr, ok := current.([]any)
			if !ok || index >= len(arr) {
				return nil, false
			}
			current = arr[index]
		}
	}

	return current, true
}

// ValidatePath reports whether every segment of path parses.
func ValidatePath(path string) error {
	if path == "" {
		return errors.New("empty path")
	}
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return fmt.Errorf("empty segment in path %q", path)
		}
		if _, _, _, err := parsePathPart(part); err != nil {
			return err
		}
	}
	return nil
}

// parsePathPart splits "items[0]" into ("items", 0, true).
func parsePathPart(part string) (key string, index int, hasIndex bool, err error) {
	open := strings.Index(part, "[")
	if open == -1 {
		return part, -1, false, nil
	}

	end := strings.Index(part, "]")
	if end == -1 || end < open+1 || end != len(part)-1 {
		return "", -1, false, fmt.Errorf("%w: %q", ErrInvalidArrayIndex, part)
	}

	index, err = strconv.Atoi(part[open+1 : end])
	if err != nil || index < 0 {
		return "", -1, false, fmt.Errorf("%w: %q", ErrInvalidArrayIndex, part)
	}
	return part[:open], index, true, nil
}
