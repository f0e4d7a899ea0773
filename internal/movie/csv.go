package movie

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Column order of the header-less CSV file
const (
	colTitle = iota
	colRating
	colExternalID
	numColumns
)

// WriteCSV writes records in order, one row per record, without a header
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	for _, r := range records {
		rating := ""
		if r.Rating != 0 {
			rating = strconv.Itoa(r.Rating)
		}
		if err := cw.Write([]string{r.Title, rating, r.ExternalID}); err != nil {
			return fmt.Errorf("failed to write row for %q: %w", r.Title, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses rows written by WriteCSV. Short rows are padded with empty columns.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var records []Record
	line := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		for len(row) < numColumns {
			row = append(row, "")
		}

		rec := Record{
			Title:      row[colTitle],
			ExternalID: strings.TrimSpace(row[colExternalID]),
		}
		if v := strings.TrimSpace(row[colRating]); v != "" {
			rating, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid rating %q on CSV line %d: %w", v, line, err)
			}
			rec.Rating = rating
		}
		records = append(records, rec)
	}
	return records, nil
}

// SaveFile writes records to path, replacing any previous content
func SaveFile(path string, records []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile reads every record from the CSV file at path
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}
