package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/maltedev/amazon-review-harvester/internal/models"
)

// ErrHeaderMismatch is returned when a persisted file's header is not the
// review header.
var ErrHeaderMismatch = errors.New("dataset header mismatch")

// Load reads a persisted dataset. A missing file yields an empty dataset.
func Load(path string) (*Dataset, error) {
	d := New()
	if err := d.LoadCSV(path); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadCSV appends the rows of the CSV file at path after the rows already
// held. A missing file is not an error and adds nothing; the header is
// checked, never re-read into the dataset.
func (d *Dataset) LoadCSV(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	return d.ReadCSV(f)
}

// ReadCSV appends rows read from r, which must start with the header row.
// An empty input adds nothing.
func (d *Dataset) ReadCSV(r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dataset header: %w", err)
	}
	if !slices.Equal(header, d.header) {
		return fmt.Errorf("%w: got %v", ErrHeaderMismatch, header)
	}

	var records []models.ReviewRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read dataset row %d: %w", line, err)
		}

		rec, err := models.RecordFromRow(row)
		if err != nil {
			return fmt.Errorf("dataset row %d: %w", line, err)
		}
		records = append(records, rec)
	}

	d.Append(records...)
	return nil
}

// WriteCSV writes the header and every row to w. Nil fields are written as
// empty cells.
func (d *Dataset) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(d.header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, rec := range d.Rows() {
		if err := cw.Write(rec.Row()); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveCSV persists the dataset to path through a temp file and rename.
func (d *Dataset) SaveCSV(path string) error {
	tmpFile := path + ".tmp"
	f, err := os.Create(tmpFile)
	if err != nil {
		return fmt.Errorf("failed to create dataset file: %w", err)
	}

	if err := d.WriteCSV(f); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to close dataset file: %w", err)
	}

	return os.Rename(tmpFile, path)
}

// InitCSV writes a header-only dataset file unless one already exists.
func InitCSV(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat dataset: %w", err)
	}
	return true, New().SaveCSV(path)
}
