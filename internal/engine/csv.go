package engine

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadCSV parses attendee rows from r. The first record must be a header
// containing at least name and email columns (case-insensitive); phone is
// optional. Column order is free.
func ReadCSV(r io.Reader) ([]OnboardRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	idx := map[string]int{}
	for i, col := range header {
		idx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	nameIdx, ok := idx["name"]
	if !ok {
		return nil, fmt.Errorf("csv header missing name column")
	}
	emailIdx, ok := idx["email"]
	if !ok {
		return nil, fmt.Errorf("csv header missing email column")
	}
	phoneIdx, hasPhone := idx["phone"]

	var rows []OnboardRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		row := OnboardRow{}
		if nameIdx < len(record) {
			row.Name = record[nameIdx]
		}
		if emailIdx < len(record) {
			row.Email = record[emailIdx]
		}
		if hasPhone && phoneIdx < len(record) {
			row.Phone = record[phoneIdx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadCSVFile parses attendee rows from a file on disk.
func ReadCSVFile(path string) ([]OnboardRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f)
}
