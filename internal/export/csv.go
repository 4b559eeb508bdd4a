// Package export writes the records published in a run to CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samvad-hq/helpline-relay/internal/domain"
	"github.com/spf13/afero"
)

var header = []string{"", "description", "category", "state", "district", "phoneNumber", "addedOn", "modifiedOn"}

// CSVWriter writes one <Name>Data.csv file per source under dir.
type CSVWriter struct {
	fs  afero.Fs
	dir string
}

// NewCSVWriter returns a writer rooted at dir. A nil fs means the OS filesystem.
func NewCSVWriter(fs afero.Fs, dir string) *CSVWriter {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &CSVWriter{fs: fs, dir: dir}
}

// Path returns the file the records of name are written to.
func (w *CSVWriter) Path(name string) string {
	return filepath.Join(w.dir, name+"Data.csv")
}

// Write replaces the export for name with records, one row per record led by
// its position. Phone numbers are joined with " / ".
func (w *CSVWriter) Write(name string, records []domain.CanonicalRecord) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("export name is empty")
	}
	if err := w.fs.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	path := w.Path(name)
	f, err := w.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.Write(header); err != nil {
		return "", fmt.Errorf("write export header: %w", err)
	}
	for i, r := range records {
		row := []string{
			strconv.Itoa(i),
			r.Description,
			r.Category,
			r.State,
			r.District,
			strings.Join(r.PhoneNumber, " / "),
			cell(r.AddedOn),
			cell(r.ModifiedOn),
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("write export row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("flush export: %w", err)
	}
	return path, f.Close()
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
