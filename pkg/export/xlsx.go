package export

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/zdtools/zdexport/pkg/pagination"
)

// DefaultSheet is the worksheet name used when none is given.
const DefaultSheet = "Sheet1"

// ExcelWriter streams rows into a single worksheet.
type ExcelWriter struct {
	file         *excelize.File
	streamWriter *excelize.StreamWriter
	path         string
	sheet        string
	currentRow   int
	rowCount     int64
}

// NewExcelWriter prepares a workbook that is saved to path on Finalize.
func NewExcelWriter(path, sheet string) (*ExcelWriter, error) {
	if sheet == "" {
		sheet = DefaultSheet
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	index, err := file.NewSheet(sheet)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if sheet != DefaultSheet {
		if err := file.DeleteSheet(DefaultSheet); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove default sheet: %w", err)
		}
	}

	streamWriter, err := file.NewStreamWriter(sheet)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create stream writer: %w", err)
	}

	return &ExcelWriter{
		file:         file,
		streamWriter: streamWriter,
		path:         path,
		sheet:        sheet,
		currentRow:   1,
	}, nil
}

// WriteHeader writes the header row.
func (w *ExcelWriter) WriteHeader(headers []string) error {
	if err := w.setRow(headers); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}
	return nil
}

// WriteRow appends one row.
func (w *ExcelWriter) WriteRow(cells []string) error {
	if err := w.setRow(cells); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (w *ExcelWriter) setRow(cells []string) error {
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}

	values := make([]interface{}, len(cells))
	for i, v := range cells {
		values[i] = v
	}
	if err := w.streamWriter.SetRow(cell, values); err != nil {
		return err
	}

	w.currentRow++
	w.rowCount++
	return nil
}

// Finalize flushes the stream and saves the workbook.
func (w *ExcelWriter) Finalize() (*FileMetadata, error) {
	if err := w.streamWriter.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush stream: %w", err)
	}
	if err := w.file.SaveAs(w.path); err != nil {
		return nil, fmt.Errorf("failed to save Excel file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Excel file: %w", err)
	}
	w.file = nil

	return describe(w.path, w.rowCount)
}

// Cleanup discards the workbook and any saved file.
func (w *ExcelWriter) Cleanup() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteXLSX writes records to a single-sheet workbook.
func WriteXLSX(records []pagination.Record, cols []Column, path, sheet string) (*FileMetadata, error) {
	w, err := NewExcelWriter(path, sheet)
	if err != nil {
		return nil, err
	}
	return writeRows(w, records, cols)
}
