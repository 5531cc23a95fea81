package series

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// dateLayout is the row date format used by the station archive files.
const dateLayout = "2006-01-02"

// dateColumn is the header name of the date index column.
const dateColumn = "datetime"

// WriteCSV encodes the table in the archive file format: a header row
// `datetime,<param>,...` followed by one row per date in ascending order.
// Missing values are written as empty cells.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{dateColumn}, t.params...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, d := range t.Dates() {
		row := t.rows[d]
		record[0] = d.Format(dateLayout)
		for i, p := range t.params {
			v := row[p]
			if v.Valid {
				record[i+1] = strconv.FormatFloat(v.Float64, 'g', -1, 64)
			} else {
				record[i+1] = ""
			}
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s: %w", record[0], err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// ReadCSV decodes a table from the archive file format.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("read header: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 1 || header[0] != dateColumn {
		return nil, fmt.Errorf("read header: first column is %q, want %q", header[0], dateColumn)
	}

	t := NewTable(header[1:]...)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		date, err := time.ParseInLocation(dateLayout, record[0], time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", record[0], err)
		}
		if _, dup := t.rows[date]; dup {
			return nil, fmt.Errorf("duplicate date %s", record[0])
		}

		row := make(Row, len(t.params))
		for i, p := range t.params {
			cell := record[i+1]
			if cell == "" {
				row[p] = sql.NullFloat64{}
				continue
			}
			f, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s value %q on %s: %w", p, cell, record[0], err)
			}
			row[p] = sql.NullFloat64{Float64: f, Valid: true}
		}
		t.rows[date] = row
	}
	return t, nil
}
