package bulk

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/zdtools/zdexport/pkg/export"
)

// ErrColumnNotFound is returned by LoadIDColumn when the header lacks the column.
var ErrColumnNotFound = errors.New("column not found")

// LoadTagCSV reads "Ticket ID,Tag" rows. The header row is skipped, rows
// without an id are skipped, and the last non-empty tag wins.
func LoadTagCSV(path string) (ids []string, tag string, err error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, "", err
	}

	for i, row := range rows {
		if i == 0 {
			continue
		}
		if len(row) > 1 {
			if t := strings.TrimSpace(row[1]); t != "" {
				tag = t
			}
		}
		if id := strings.TrimSpace(row[0]); id != "" {
			ids = append(ids, id)
		}
	}

	if len(ids) == 0 {
		return nil, "", fmt.Errorf("%s: %w", path, ErrNoIDs)
	}
	if tag == "" {
		return nil, "", fmt.Errorf("%s: %w", path, ErrNoTag)
	}
	return ids, tag, nil
}

// LoadIDColumn reads the non-empty values of the named header column.
func LoadIDColumn(path, column string) ([]string, error) {
	rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoIDs)
	}

	idx := -1
	for i, h := range rows[0] {
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == column {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%s: %w: %q", path, ErrColumnNotFound, column)
	}

	var ids []string
	for _, row := range rows[1:] {
		if idx >= len(row) {
			continue
		}
		if v := strings.TrimSpace(row[idx]); v != "" {
			ids = append(ids, v)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoIDs)
	}
	return ids, nil
}

// WriteLog writes results as a CSV log with the given id column header.
func WriteLog(results []Result, idHeader, path string) (*export.FileMetadata, error) {
	w, err := export.NewCSVWriter(path)
	if err != nil {
		return nil, err
	}

	if err := w.WriteHeader([]string{idHeader, "Status", "Response Code", "Error Message"}); err != nil {
		w.Cleanup()
		return nil, err
	}
	for _, r := range results {
		if err := w.WriteRow([]string{r.ID, r.Status(), r.Code(), r.Message}); err != nil {
			w.Cleanup()
			return nil, err
		}
	}
	return w.Finalize()
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
