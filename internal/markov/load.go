package markov

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

//go:embed default_matrix.csv
var defaultMatrixCSV []byte

// rowHeader is the name of the first column holding the source zone.
const rowHeader = "before"

// DefaultMatrix returns the transition table of the default store.
func DefaultMatrix() Matrix {
	m, err := ReadCSV(bytes.NewReader(defaultMatrixCSV))
	if err != nil {
		panic(fmt.Sprintf("markov: embedded matrix: %v", err))
	}
	return m
}

// Default returns the validated default model (entrance → … → exit).
func Default() *Model {
	m, err := New(DefaultMatrix(), ZoneEntrance, ZoneExit)
	if err != nil {
		panic(fmt.Sprintf("markov: embedded matrix: %v", err))
	}
	return m
}

// LoadFile reads and validates a transition table from a CSV file.
func LoadFile(path string, initial, terminal Zone) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open matrix: %w", err)
	}
	defer f.Close()
	return LoadCSV(f, initial, terminal)
}

// LoadCSV reads and validates a transition table.
func LoadCSV(r io.Reader, initial, terminal Zone) (*Model, error) {
	m, err := ReadCSV(r)
	if err != nil {
		return nil, err
	}
	return New(m, initial, terminal)
}

// ReadCSV parses a table whose header is "before,<zone>,<zone>,..." and
// whose rows start with the source zone. Parsing problems are reported as
// matrix invariant violations; stochastic checks happen in New.
func ReadCSV(r io.Reader) (Matrix, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Matrix{}, fmt.Errorf("%w: empty table", ErrMatrixInvariant)
	}
	if err != nil {
		return Matrix{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 || strings.TrimSpace(header[0]) != rowHeader {
		return Matrix{}, fmt.Errorf("%w: header must start with %q", ErrMatrixInvariant, rowHeader)
	}

	var m Matrix
	for _, h := range header[1:] {
		m.Targets = append(m.Targets, Zone(strings.TrimSpace(h)))
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Matrix{}, fmt.Errorf("read line %d: %w", line, err)
		}
		if len(rec) != len(header) {
			return Matrix{}, fmt.Errorf("%w: line %d has %d fields, want %d",
				ErrMatrixInvariant, line, len(rec), len(header))
		}
		row := Row{From: Zone(strings.TrimSpace(rec[0])), Probs: make([]float64, 0, len(rec)-1)}
		for i, field := range rec[1:] {
			p, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return Matrix{}, fmt.Errorf("%w: line %d column %q: %v",
					ErrMatrixInvariant, line, m.Targets[i], err)
			}
			row.Probs = append(row.Probs, p)
		}
		m.Rows = append(m.Rows, row)
	}
	return m, nil
}

// WriteCSV writes m in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, m Matrix) error {
	cw := csv.NewWriter(w)
	header := []string{rowHeader}
	for _, t := range m.Targets {
		header = append(header, string(t))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range m.Rows {
		rec := []string{string(r.From)}
		for _, p := range r.Probs {
			rec = append(rec, strconv.FormatFloat(p, 'f', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Matrix returns a copy of the model's table.
func (m *Model) Matrix() Matrix {
	out := Matrix{Targets: m.Targets()}
	for _, r := range m.rows {
		probs := make([]float64, len(r.Probs))
		copy(probs, r.Probs)
		out.Rows = append(out.Rows, Row{From: r.From, Probs: probs})
	}
	return out
}
