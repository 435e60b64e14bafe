// Package dataset loads historical traffic-volume records from CSV and
// exposes the aggregate views the dashboard charts are drawn from.
//
// The input file must carry a header with the columns DateTime, ID, Junction
// and Vehicles. Column order does not matter and extra columns are ignored.
//
//	DateTime,Junction,Vehicles,ID
//	2015-11-01 00:00:00,1,15,20151101001
//
// A loaded Table is immutable; every accessor returns fresh slices.
package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// Column names required in the CSV header.
const (
	ColumnDateTime = "DateTime"
	ColumnID       = "ID"
	ColumnJunction = "Junction"
	ColumnVehicles = "Vehicles"
)

var (
	// ErrMissingColumn is returned when the CSV header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
	// ErrMalformedRow is returned when a row has the wrong number of fields,
	// a field cannot be parsed, or a vehicle count is negative.
	ErrMalformedRow = errors.New("malformed row")
	// ErrEmpty is returned when the CSV has a header but no records.
	ErrEmpty = errors.New("dataset has no records")
)

// timestampLayouts are tried in order when parsing the DateTime column.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Record is a single hourly observation at one junction.
type Record struct {
	DateTime time.Time
	ID       int64
	Junction int
	Vehicles int
}

// Table holds records in file order together with a fingerprint of the raw
// bytes they were parsed from.
type Table struct {
	Source      string
	Fingerprint string
	records     []Record
}

// LoadFile reads and parses the CSV file at path.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return Load(f, path)
}

// Load parses CSV records from r. source labels the table in logs and
// metadata. The whole input is hashed so a cached model can tell whether it
// was trained on the same bytes.
func Load(r io.Reader, source string) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	sum := sha256.Sum256(raw)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var records []Record
	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, fmt.Errorf("%w: %w", ErrMalformedRow, parseErr)
			}
			return nil, fmt.Errorf("read csv: %w", err)
		}

		line, _ := reader.FieldPos(0)
		rec, err := parseRecord(fields, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrEmpty
	}

	return &Table{
		Source:      source,
		Fingerprint: hex.EncodeToString(sum[:]),
		records:     records,
	}, nil
}

// NewTable builds a table from already parsed records. The fingerprint is
// derived from the record contents.
func NewTable(source string, records []Record) *Table {
	h := sha256.New()
	for _, r := range records {
		fmt.Fprintf(h, "%d,%d,%d,%d\n", r.DateTime.Unix(), r.ID, r.Junction, r.Vehicles)
	}

	cp := make([]Record, len(records))
	copy(cp, records)

	return &Table{
		Source:      source,
		Fingerprint: hex.EncodeToString(h.Sum(nil)),
		records:     cp,
	}
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Records returns a copy of all records in file order.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

type columns struct {
	dateTime, id, junction, vehicles int
}

func columnIndex(header []string) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		// Byte order marks show up on files exported from spreadsheets.
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		pos[name] = i
	}

	lookup := func(name string) (int, error) {
		i, ok := pos[name]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
		return i, nil
	}

	var c columns
	var err error
	if c.dateTime, err = lookup(ColumnDateTime); err != nil {
		return c, err
	}
	if c.id, err = lookup(ColumnID); err != nil {
		return c, err
	}
	if c.junction, err = lookup(ColumnJunction); err != nil {
		return c, err
	}
	if c.vehicles, err = lookup(ColumnVehicles); err != nil {
		return c, err
	}
	return c, nil
}

func parseRecord(fields []string, c columns) (Record, error) {
	ts, err := ParseTimestamp(fields[c.dateTime])
	if err != nil {
		return Record{}, err
	}

	id, err := strconv.ParseInt(strings.TrimSpace(fields[c.id]), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s %q", ColumnID, fields[c.id])
	}

	junction, err := strconv.Atoi(strings.TrimSpace(fields[c.junction]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s %q", ColumnJunction, fields[c.junction])
	}

	vehicles, err := strconv.Atoi(strings.TrimSpace(fields[c.vehicles]))
	if err != nil {
		return Record{}, fmt.Errorf("invalid %s %q", ColumnVehicles, fields[c.vehicles])
	}
	if vehicles < 0 {
		return Record{}, fmt.Errorf("negative %s %d", ColumnVehicles, vehicles)
	}

	return Record{
		DateTime: ts,
		ID:       id,
		Junction: junction,
		Vehicles: vehicles,
	}, nil
}

// ParseTimestamp parses a DateTime field. Values without a zone are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", ColumnDateTime, s)
}
