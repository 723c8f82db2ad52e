package dataset

import (
	"fmt"
	"strings"

	"github.com/maltedev/amazon-review-harvester/internal/models"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Reviews"

// ExportOptions tunes the spreadsheet conversion.
type ExportOptions struct {
	// CleanNewlines removes line breaks from review text.
	CleanNewlines bool
}

// ExportXLSX writes the dataset to a spreadsheet with the same header and
// row order. Page indices are numeric cells; nil fields are left empty.
func (d *Dataset) ExportXLSX(path string, opts ExportOptions) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("failed to open stream writer: %w", err)
	}

	header := make([]interface{}, 0, models.NumColumns)
	for _, h := range d.header {
		header = append(header, h)
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range d.Rows() {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, spreadsheetRow(rec, opts)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save spreadsheet: %w", err)
	}
	return nil
}

func spreadsheetRow(rec models.ReviewRecord, opts ExportOptions) []interface{} {
	if opts.CleanNewlines && rec.ReviewText != nil {
		rec.ReviewText = models.String(strings.ReplaceAll(*rec.ReviewText, "\n", ""))
	}

	values := rec.Values()
	row := make([]interface{}, 0, models.NumColumns)
	for _, v := range values[:models.NumColumns-2] {
		if v == nil {
			row = append(row, nil)
			continue
		}
		row = append(row, *v)
	}
	return append(row, rec.ReviewPageIndex, rec.SearchPageIndex)
}
