package scoring

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// ScoreColumn is the header of a score file.
const ScoreColumn = "score"

// ReadScores parses a single-column CSV of predictions with a "score" header,
// one row per test row in dataset order.
func ReadScores(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != ScoreColumn {
		return nil, fmt.Errorf("unexpected header %q, want %q", header[0], ScoreColumn)
	}

	var out []float64
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, v)
	}
}

// LoadScores reads a score file from path.
func LoadScores(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadScores(f)
}
