// Package eventlog writes the per-tick event stream to compact files: an
// lz4-compressed msgpack log for replay and a plain CSV day log.
package eventlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

const (
	// Version is the current log format version.
	Version = 1
	// DefaultBatchSize is the number of ticks buffered before encoding.
	DefaultBatchSize = 64
)

var (
	ErrClosed    = errors.New("event log closed")
	ErrBadHeader = errors.New("event log header missing or unsupported")
)

// Header is the first record of every log.
type Header struct {
	Version     int     `msgpack:"v"`
	Seed        int64   `msgpack:"seed"`
	ArrivalRate float64 `msgpack:"rate"`
	Layout      string  `msgpack:"layout,omitempty"`
	OpeningHour int     `msgpack:"open"`
}

// Tick is one decoded tick of events.
type Tick struct {
	Tick      uint64
	Timestamp string
	Events    []engine.Event
}

type tickRecord struct {
	Tick      uint64        `msgpack:"t"`
	Timestamp string        `msgpack:"ts"`
	Events    []eventRecord `msgpack:"e"`
}

type eventRecord struct {
	ID   uint64 `msgpack:"id"`
	Name string `msgpack:"n"`
	Zone string `msgpack:"z"`
	Pos  []int  `msgpack:"p,omitempty"`
}

// Writer is an engine.Sink that buffers ticks and encodes them in batches.
type Writer struct {
	mu        sync.Mutex
	clock     engine.Clock
	zw        *lz4.Writer
	enc       *msgpack.Encoder
	closer    io.Closer
	pending   []tickRecord
	batchSize int
	ticks     int
	closed    bool
}

// NewWriter starts a log on w and writes the header.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	zw := lz4.NewWriter(w)
	lw := &Writer{
		clock:     engine.NewClock(h.OpeningHour),
		zw:        zw,
		enc:       msgpack.NewEncoder(zw),
		batchSize: DefaultBatchSize,
	}
	h.Version = Version
	if err := lw.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	return lw, nil
}

// Create opens path for writing and starts a log in it. Close also closes
// the file.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create event log: %w", err)
	}
	w, err := NewWriter(f, h)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// SetBatchSize sets how many ticks are buffered before encoding.
func (w *Writer) SetBatchSize(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n < 1 {
		n = 1
	}
	w.batchSize = n
}

// Ticks returns how many ticks have been recorded.
func (w *Writer) Ticks() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ticks
}

// Record buffers one tick of events. The tick's timestamp comes from the
// header's opening hour, so ticks without events keep theirs.
func (w *Writer) Record(tick uint64, events []engine.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	rec := tickRecord{
		Tick:      tick,
		Timestamp: w.clock.Timestamp(tick),
		Events:    make([]eventRecord, len(events)),
	}
	for i, e := range events {
		er := eventRecord{ID: uint64(e.CustomerID), Name: e.Name, Zone: string(e.Zone)}
		if e.Position != nil {
			er.Pos = []int{e.Position.Row, e.Position.Col}
		}
		rec.Events[i] = er
	}
	w.pending = append(w.pending, rec)
	w.ticks++

	if len(w.pending) >= w.batchSize {
		return w.flushLocked()
	}
	return nil
}

// Flush encodes buffered ticks and flushes the compressor.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.zw.Flush()
}

func (w *Writer) flushLocked() error {
	for _, rec := range w.pending {
		if err := w.enc.Encode(rec); err != nil {
			return fmt.Errorf("encode tick %d: %w", rec.Tick, err)
		}
	}
	clear(w.pending)
	w.pending = w.pending[:0]
	return nil
}

// Close flushes pending ticks and ends the lz4 frame.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flushLocked()
	err = errors.Join(err, w.zw.Close())
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// Read decodes a whole log.
func Read(r io.Reader) (Header, []Tick, error) {
	var ticks []Tick
	h, err := Scan(r, func(t Tick) error {
		ticks = append(ticks, t)
		return nil
	})
	return h, ticks, err
}

// Open reads the log at path.
func Open(path string) (Header, []Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Scan decodes a log one tick at a time.
func Scan(r io.Reader, fn func(Tick) error) (Header, error) {
	dec := msgpack.NewDecoder(lz4.NewReader(r))

	var h Header
	if err := dec.Decode(&h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: version %d", ErrBadHeader, h.Version)
	}

	for {
		var rec tickRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return h, nil
		}
		if err != nil {
			return h, fmt.Errorf("decode tick: %w", err)
		}
		if err := fn(rec.decode()); err != nil {
			return h, err
		}
	}
}

func (rec tickRecord) decode() Tick {
	t := Tick{Tick: rec.Tick, Timestamp: rec.Timestamp, Events: make([]engine.Event, len(rec.Events))}
	for i, er := range rec.Events {
		e := engine.Event{
			Tick:       rec.Tick,
			Timestamp:  rec.Timestamp,
			CustomerID: agents.CustomerID(er.ID),
			Name:       er.Name,
			Zone:       markov.Zone(er.Zone),
		}
		if len(er.Pos) == 2 {
			e.Position = &world.Cell{Row: er.Pos[0], Col: er.Pos[1]}
		}
		t.Events[i] = e
	}
	return t
}
