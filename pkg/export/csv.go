package export

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/zdtools/zdexport/pkg/pagination"
)

// CSVWriter writes RFC 4180 CSV with "\n" record separators.
type CSVWriter struct {
	file     *os.File
	writer   *csv.Writer
	buffered *bufio.Writer
	path     string
	rowCount int64
}

// NewCSVWriter creates path (truncating it) and returns a writer for it.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV file: %w", err)
	}

	buffered := bufio.NewWriterSize(file, 64*1024)
	return &CSVWriter{
		file:     file,
		writer:   csv.NewWriter(buffered),
		buffered: buffered,
		path:     path,
	}, nil
}

// WriteHeader writes the header row.
func (w *CSVWriter) WriteHeader(headers []string) error {
	if err := w.writer.Write(headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	w.rowCount++
	return nil
}

// WriteRow appends one row.
func (w *CSVWriter) WriteRow(cells []string) error {
	if err := w.writer.Write(cells); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	w.rowCount++

	if w.rowCount%1000 == 0 {
		w.writer.Flush()
		if err := w.writer.Error(); err != nil {
			return fmt.Errorf("failed to flush writer: %w", err)
		}
	}
	return nil
}

// Finalize flushes and closes the file.
func (w *CSVWriter) Finalize() (*FileMetadata, error) {
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV writer: %w", err)
	}
	if err := w.buffered.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush buffer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	w.file = nil

	return describe(w.path, w.rowCount)
}

// Cleanup closes and removes the file.
func (w *CSVWriter) Cleanup() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	return os.Remove(w.path)
}

// WriteCSV writes records with one column per field path; headers are the
// paths themselves. Missing fields produce empty cells.
func WriteCSV(records []pagination.Record, fields []string, path string) (*FileMetadata, error) {
	return WriteCSVColumns(records, Columns(fields...), path)
}

// WriteCSVColumns writes records using explicit column definitions.
func WriteCSVColumns(records []pagination.Record, cols []Column, path string) (*FileMetadata, error) {
	w, err := NewCSVWriter(path)
	if err != nil {
		return nil, err
	}
	return writeRows(w, records, cols)
}
