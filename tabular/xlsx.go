package tabular

import (
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// ReadXLSXFile reads a worksheet whose first row is the header. An empty
// sheet name selects the first sheet.
func ReadXLSXFile(path, sheet string, opts ...ReadOption) (*Frame, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.Wrapf(errors.ErrEmptyData, "%s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s of %s", sheet, path)
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(errors.ErrEmptyData, "sheet %s of %s is empty", sheet, path)
	}
	return FromRecords(filepath.Base(path), rows[0], rows[1:], opts...)
}

// WriteXLSXSheet writes the frame into sheet of an open workbook, creating
// the sheet when needed. Numbers and booleans are stored as typed cells.
func WriteXLSXSheet(wb *excelize.File, sheet string, f *Frame) error {
	idx, err := wb.GetSheetIndex(sheet)
	if err != nil {
		return errors.Wrapf(err, "look up sheet %s", sheet)
	}
	if idx < 0 {
		if _, err := wb.NewSheet(sheet); err != nil {
			return errors.Wrapf(err, "create sheet %s", sheet)
		}
	}

	header := make([]interface{}, f.NCols())
	for j, n := range f.Names() {
		header[j] = n
	}
	if err := wb.SetSheetRow(sheet, "A1", &header); err != nil {
		return errors.Wrap(err, "write header")
	}

	for i := 0; i < f.NRows(); i++ {
		row := make([]interface{}, f.NCols())
		for j, c := range f.Columns() {
			if c.IsMissing(i) {
				row[j] = nil
				continue
			}
			switch c.Kind {
			case KindNumeric:
				row[j] = c.Num[i]
			case KindBinary:
				row[j] = c.Bin[i] == True
			default:
				row[j] = c.Text[i]
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.WithStack(err)
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			return errors.Wrapf(err, "write row %d", i+2)
		}
	}
	return nil
}

// WriteXLSXFile writes the frame to a new single-sheet workbook.
func WriteXLSXFile(path, sheet string, f *Frame) error {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := WriteXLSXSheet(wb, sheet, f); err != nil {
		return err
	}
	if sheet != "Sheet1" {
		if err := wb.DeleteSheet("Sheet1"); err != nil {
			return errors.WithStack(err)
		}
	}
	return errors.Wrapf(wb.SaveAs(path), "save %s", path)
}
