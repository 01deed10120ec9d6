package bulk

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	apperrors "forcebackup/internal/errors"
)

// readColumn returns the values of one column of a CSV file, in row order.
// Quoted cells are handled by the CSV reader.
func readColumn(path, column string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to open CSV "+path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to read CSV header of "+path, err)
	}

	index := -1
	for i, name := range header {
		if name == column {
			index = i
			break
		}
	}
	if index == -1 {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("CSV %s has no %s column", path, column), nil)
	}

	var values []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"failed to read CSV row of "+path, err)
		}
		if index < len(record) {
			values = append(values, record[index])
		}
	}
	return values, nil
}

// appendColumn rewrites a CSV file with one extra trailing column. The new
// cell of each row is looked up by the row's key column value; missing keys
// get an empty cell. The rewrite goes through a temp file in the same
// directory followed by a rename, so a crash never corrupts the original.
func appendColumn(path, keyColumn, newColumn string, values map[string]string) error {
	in, err := os.Open(path)
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to open CSV "+path, err)
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to create temp file for CSV rewrite", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	reader := csv.NewReader(in)
	writer := csv.NewWriter(tmp)

	header, err := reader.Read()
	if err == io.EOF {
		tmp.Close()
		return nil
	}
	if err != nil {
		tmp.Close()
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to read CSV header of "+path, err)
	}

	keyIndex := -1
	for i, name := range header {
		if name == keyColumn {
			keyIndex = i
			break
		}
	}
	if keyIndex == -1 {
		tmp.Close()
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			fmt.Sprintf("CSV %s has no %s column", path, keyColumn), nil)
	}

	if err := writer.Write(append(header, newColumn)); err != nil {
		tmp.Close()
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to write CSV header", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			tmp.Close()
			return apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"failed to read CSV row of "+path, err)
		}

		cell := ""
		if keyIndex < len(record) {
			cell = values[record[keyIndex]]
		}
		if err := writer.Write(append(record, cell)); err != nil {
			tmp.Close()
			return apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"failed to write CSV row", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to flush rewritten CSV", err)
	}
	if err := tmp.Close(); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to close rewritten CSV", err)
	}
	in.Close()

	if err := os.Rename(tmpPath, path); err != nil {
		return apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to replace CSV "+path, err)
	}
	return nil
}

// ReadRecords loads a CSV file into header plus row maps. Restores work on
// whole objects in memory batch by batch; the reader streams, the caller
// decides how much to hold.
func ReadRecords(path string) ([]string, []map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to open CSV "+path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
			"failed to read CSV header of "+path, err)
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
				"failed to read CSV row of "+path, err)
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
