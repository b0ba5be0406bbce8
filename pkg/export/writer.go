// Package export writes accumulated records to files.
//
// Writing is a separate step from fetching: a pipeline run that stopped on a
// page error still hands its partial records to these writers. Every writer
// overwrites an existing file and reports size, sha256 checksum and row count.
package export

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zdtools/zdexport/pkg/pagination"
)

// Format is an output file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned by ParseFormat and Write.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FileMetadata describes a written file.
type FileMetadata struct {
	Path     string
	Size     int64
	Checksum string
	RowCount int64
}

// Writer is implemented by the row-oriented formats.
type Writer interface {
	// WriteHeader writes the column headers.
	WriteHeader(headers []string) error

	// WriteRow appends one data row.
	WriteRow(cells []string) error

	// Finalize flushes and closes the file and returns its metadata.
	Finalize() (*FileMetadata, error)

	// Cleanup releases resources and removes the partial file after a failure.
	Cleanup() error
}

// Write renders records to path in format. cols is ignored for JSON, which
// dumps the records unchanged.
func Write(format Format, records []pagination.Record, cols []Column, path string) (*FileMetadata, error) {
	switch format {
	case FormatCSV:
		return WriteCSVColumns(records, cols, path)
	case FormatJSON:
		return WriteJSON(records, path, DefaultIndent)
	case FormatXLSX:
		return WriteXLSX(records, cols, path, "")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func writeRows(w Writer, records []pagination.Record, cols []Column) (*FileMetadata, error) {
	if err := w.WriteHeader(Headers(cols)); err != nil {
		w.Cleanup()
		return nil, err
	}
	for _, record := range records {
		if err := w.WriteRow(Row(record, cols)); err != nil {
			w.Cleanup()
			return nil, err
		}
	}
	meta, err := w.Finalize()
	if err != nil {
		w.Cleanup()
		return nil, err
	}
	return meta, nil
}

// TimestampedPath returns dir/prefix_YYYYMMDD_HHMMSS.ext.
func TimestampedPath(dir, prefix, ext string, t time.Time) string {
	ext = strings.TrimPrefix(ext, ".")
	name := fmt.Sprintf("%s_%s.%s", prefix, t.Format("20060102_150405"), ext)
	return filepath.Join(dir, name)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// describe stats path and computes its checksum.
func describe(path string, rows int64) (*FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	checksum, err := checksumFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	return &FileMetadata{
		Path:     path,
		Size:     info.Size(),
		Checksum: checksum,
		RowCount: rows,
	}, nil
}

func checksumFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
