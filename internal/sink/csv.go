package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"forcebackup/internal/errors"
)

// CSVSink writes each object's rows into <dir>/<object>.csv.
type CSVSink struct {
	dir string

	object  string
	columns int
	file    *os.File
	writer  *csv.Writer
}

// NewCSVSink creates a sink rooted at dir, creating it if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if dir == "" {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			"CSV sink requires an output directory", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation,
			"failed to create sink directory "+dir, err)
	}
	return &CSVSink{dir: dir}, nil
}

// Begin opens the object's file and writes the header row.
func (s *CSVSink) Begin(ctx context.Context, object string, columns []string) error {
	if s.file != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("sink scope for %s still open", s.object), nil)
	}

	path := filepath.Join(s.dir, object+".csv")
	file, err := os.Create(path)
	if err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation,
			"failed to create "+path, err)
	}

	writer := csv.NewWriter(file)
	if err := writer.Write(columns); err != nil {
		file.Close()
		return errors.NewAppError(errors.ErrorTypeValidation,
			"failed to write CSV header", err)
	}

	s.object = object
	s.columns = len(columns)
	s.file = file
	s.writer = writer
	return nil
}

// Append writes one row.
func (s *CSVSink) Append(ctx context.Context, values []string) error {
	if s.file == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "no open sink scope", nil)
	}
	if len(values) != s.columns {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("row has %d values, header has %d columns", len(values), s.columns), nil)
	}
	if err := s.writer.Write(values); err != nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "failed to write CSV row", err)
	}
	return nil
}

// End flushes and closes the object's file.
func (s *CSVSink) End(ctx context.Context) error {
	if s.file == nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "no open sink scope", nil)
	}

	s.writer.Flush()
	flushErr := s.writer.Error()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil
	s.object = ""

	if flushErr != nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "failed to flush CSV", flushErr)
	}
	if closeErr != nil {
		return errors.NewAppError(errors.ErrorTypeValidation, "failed to close CSV", closeErr)
	}
	return nil
}

// Close releases any open scope.
func (s *CSVSink) Close() error {
	if s.file != nil {
		return s.End(context.Background())
	}
	return nil
}
