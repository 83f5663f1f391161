package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
)

// ErrSchemaMismatch is returned when a CSV header does not match the record schema.
var ErrSchemaMismatch = errors.New("dataset schema mismatch")

// Identifier columns written ahead of the schema columns.
const (
	ColAccount         = "account_id"
	ColAnchorTimestamp = "anchor_timestamp"
	ColAnchorTxID      = "anchor_txn_id"
)

var idColumns = []string{ColAccount, ColAnchorTimestamp, ColAnchorTxID}

// WriteCSV writes the table with a header row. Values use the shortest
// representation that parses back to the same float64.
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)

	header := append(append([]string(nil), idColumns...), t.Columns...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for _, r := range t.Rows {
		record[0] = r.Account
		record[1] = strconv.FormatInt(r.AnchorTimestamp, 10)
		record[2] = r.AnchorTxID
		for i, v := range r.Values {
			record[len(idColumns)+i] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s/%d: %w", r.Account, r.AnchorTimestamp, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := New()
	want := append(append([]string(nil), idColumns...), t.Columns...)
	if !slices.Equal(header, want) {
		return nil, fmt.Errorf("%w: got %v", ErrSchemaMismatch, header)
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ts, err := strconv.ParseInt(record[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %s: %w", line, ColAnchorTimestamp, err)
		}
		row := Row{
			Account:         record[0],
			AnchorTimestamp: ts,
			AnchorTxID:      record[2],
			Values:          make([]float64, len(t.Columns)),
		}
		for i, col := range t.Columns {
			v, err := strconv.ParseFloat(record[len(idColumns)+i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, col, err)
			}
			row.Values[i] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// SaveCSV writes the table to path, replacing it atomically.
func SaveCSV(path string, t *Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadCSV reads a table from path.
func LoadCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}
