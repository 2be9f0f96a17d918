package tabular

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/sipredict/pkg/errors"
)

// ReadCSV parses a delimited file with a header row.
func ReadCSV(source string, r io.Reader, opts ...ReadOption) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.Wrapf(errors.ErrEmptyData, "source %s has no header", source)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read header of %s", source)
	}
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", source)
	}
	return FromRecords(source, header, records, opts...)
}

// ReadCSVFile opens path and calls ReadCSV with the base name as source.
func ReadCSVFile(path string, opts ...ReadOption) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()
	return ReadCSV(filepath.Base(path), file, opts...)
}

// WriteCSV writes the frame with a header row.
func WriteCSV(w io.Writer, f *Frame) error {
	header, rows := f.Records()
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, "write header")
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, "write rows")
	}
	return nil
}

// WriteCSVFile writes the frame to path atomically (temp file + rename).
func WriteCSVFile(path string, f *Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.csv")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, f); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "rename to %s", path)
}
