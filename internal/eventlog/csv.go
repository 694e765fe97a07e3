package eventlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/talgya/mini-market/internal/engine"
)

// CSVHeader is the column row of a day log.
var CSVHeader = []string{"timestamp", "customer_id", "name", "location"}

// CSVWriter is an engine.Sink writing one day-log row per event.
type CSVWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
	rows   int
}

// NewCSVWriter writes the header to w.
func NewCSVWriter(w io.Writer) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w)}
	if err := cw.w.Write(CSVHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	return cw, nil
}

// CreateCSV opens path and starts a day log in it.
func CreateCSV(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create csv log: %w", err)
	}
	cw, err := NewCSVWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	cw.closer = f
	return cw, nil
}

// Record writes the tick's rows and flushes them.
func (c *CSVWriter) Record(_ uint64, events []engine.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		if err := c.w.Write(Row(e)); err != nil {
			return err
		}
		c.rows++
	}
	c.w.Flush()
	return c.w.Error()
}

// Rows returns the number of rows written after the header.
func (c *CSVWriter) Rows() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rows
}

// Close flushes and closes the underlying file if CreateCSV opened it.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.w.Flush()
	err := c.w.Error()
	if c.closer != nil {
		if cerr := c.closer.Close(); err == nil {
			err = cerr
		}
		c.closer = nil
	}
	return err
}

// Row formats an event as a day-log row.
func Row(e engine.Event) []string {
	return []string{
		e.Timestamp,
		strconv.FormatUint(uint64(e.CustomerID), 10),
		e.Name,
		string(e.Zone),
	}
}
