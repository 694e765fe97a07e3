// Package persistence provides the SQLite event store: one row per customer
// per tick, grouped into runs.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/mini-market/internal/agents"
	"github.com/talgya/mini-market/internal/engine"
	"github.com/talgya/mini-market/internal/markov"
	"github.com/talgya/mini-market/internal/world"
)

// ErrNoRun is returned when events are recorded before StartRun.
var ErrNoRun = errors.New("no run started")

// DB wraps a SQLite connection for the event store.
type DB struct {
	conn  *sqlx.DB
	runID string
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	Seed        int64
	ArrivalRate float64
	Mode        string
}

// Run is a stored run.
type Run struct {
	ID          string         `db:"id" json:"id"`
	Seed        int64          `db:"seed" json:"seed"`
	ArrivalRate float64        `db:"arrival_rate" json:"arrival_rate"`
	Mode        string         `db:"mode" json:"mode"`
	StartedAt   string         `db:"started_at" json:"started_at"`
	FinishedAt  sql.NullString `db:"finished_at" json:"-"`
	Ticks       int64          `db:"ticks" json:"ticks"`
	Spawned     int64          `db:"spawned" json:"spawned"`
	Exited      int64          `db:"exited" json:"exited"`
}

type eventRow struct {
	Tick       uint64        `db:"tick"`
	Timestamp  string        `db:"timestamp"`
	CustomerID uint64        `db:"customer_id"`
	Name       string        `db:"name"`
	Zone       string        `db:"zone"`
	PosRow     sql.NullInt64 `db:"pos_row"`
	PosCol     sql.NullInt64 `db:"pos_col"`
}

func (r eventRow) event() engine.Event {
	e := engine.Event{
		Tick:       r.Tick,
		Timestamp:  r.Timestamp,
		CustomerID: agents.CustomerID(r.CustomerID),
		Name:       r.Name,
		Zone:       markov.Zone(r.Zone),
	}
	if r.PosRow.Valid && r.PosCol.Valid {
		e.Position = &world.Cell{Row: int(r.PosRow.Int64), Col: int(r.PosCol.Int64)}
	}
	return e
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		arrival_rate REAL NOT NULL,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		ticks INTEGER NOT NULL DEFAULT 0,
		spawned INTEGER NOT NULL DEFAULT 0,
		exited INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		tick INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		customer_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		zone TEXT NOT NULL,
		pos_row INTEGER,
		pos_col INTEGER
	);

	CREATE TABLE IF NOT EXISTS run_meta (
		run_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (run_id, key)
	);

	CREATE INDEX IF NOT EXISTS idx_events_run_tick ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_events_customer ON events(run_id, customer_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartRun registers a new run and directs subsequent Record calls to it.
func (db *DB) StartRun(info RunInfo) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		"INSERT INTO runs (id, seed, arrival_rate, mode, started_at) VALUES (?, ?, ?, ?, ?)",
		id, info.Seed, info.ArrivalRate, info.Mode, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	db.runID = id
	slog.Info("event store run started", "run", id, "seed", info.Seed, "mode", info.Mode)
	return id, nil
}

// RunID returns the current run, empty before StartRun.
func (db *DB) RunID() string { return db.runID }

// Record appends one tick of events to the current run.
func (db *DB) Record(tick uint64, events []engine.Event) error {
	if db.runID == "" {
		return ErrNoRun
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Preparex(`INSERT INTO events
		(run_id, tick, timestamp, customer_id, name, zone, pos_row, pos_col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		var row, col sql.NullInt64
		if e.Position != nil {
			row = sql.NullInt64{Int64: int64(e.Position.Row), Valid: true}
			col = sql.NullInt64{Int64: int64(e.Position.Col), Valid: true}
		}
		_, err := stmt.Exec(db.runID, tick, e.Timestamp, uint64(e.CustomerID), e.Name, string(e.Zone), row, col)
		if err != nil {
			return fmt.Errorf("insert event tick %d customer %d: %w", tick, e.CustomerID, err)
		}
	}

	return tx.Commit()
}

// FinishRun stores the final statistics of the current run.
func (db *DB) FinishRun(ticks uint64, stats engine.Stats) error {
	if db.runID == "" {
		return ErrNoRun
	}
	_, err := db.conn.Exec(
		"UPDATE runs SET finished_at = ?, ticks = ?, spawned = ?, exited = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), ticks, stats.Spawned, stats.Exited, db.runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	slog.Info("event store run finished", "run", db.runID, "ticks", ticks)
	return nil
}

// SaveMeta stores a key-value pair for the current run.
func (db *DB) SaveMeta(key, value string) error {
	if db.runID == "" {
		return ErrNoRun
	}
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO run_meta (run_id, key, value) VALUES (?, ?, ?)",
		db.runID, key, value,
	)
	return err
}

// GetMeta retrieves a metadata value of the current run.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM run_meta WHERE run_id = ? AND key = ?", db.runID, key)
	return value, err
}

// Runs lists stored runs, newest first.
func (db *DB) Runs() ([]Run, error) {
	var runs []Run
	err := db.conn.Select(&runs, "SELECT * FROM runs ORDER BY started_at DESC, rowid DESC")
	return runs, err
}

// RecentEvents returns the most recent N events of the current run,
// newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT tick, timestamp, customer_id, name, zone, pos_row, pos_col
		 FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?`,
		db.runID, limit,
	)
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// CustomerTrail returns every event of one customer in tick order.
func (db *DB) CustomerTrail(id agents.CustomerID) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		`SELECT tick, timestamp, customer_id, name, zone, pos_row, pos_col
		 FROM events WHERE run_id = ? AND customer_id = ? ORDER BY tick, id`,
		db.runID, uint64(id),
	)
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// ZoneCounts returns how many customers were in each zone at tick. A zero
// tick means the latest recorded tick.
func (db *DB) ZoneCounts(tick uint64) (map[markov.Zone]int, error) {
	if tick == 0 {
		var latest sql.NullInt64
		if err := db.conn.Get(&latest, "SELECT MAX(tick) FROM events WHERE run_id = ?", db.runID); err != nil {
			return nil, err
		}
		if !latest.Valid {
			return map[markov.Zone]int{}, nil
		}
		tick = uint64(latest.Int64)
	}

	var rows []struct {
		Zone  string `db:"zone"`
		Count int    `db:"n"`
	}
	err := db.conn.Select(&rows,
		"SELECT zone, COUNT(*) AS n FROM events WHERE run_id = ? AND tick = ? GROUP BY zone",
		db.runID, tick,
	)
	if err != nil {
		return nil, err
	}
	out := make(map[markov.Zone]int, len(rows))
	for _, r := range rows {
		out[markov.Zone(r.Zone)] = r.Count
	}
	return out, nil
}

func toEvents(rows []eventRow) []engine.Event {
	out := make([]engine.Event, len(rows))
	for i, r := range rows {
		out[i] = r.event()
	}
	return out
}
