package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// FileName is the name of the database inside the data directory.
const FileName = "event_recorder.db"

// DB handles database operations
type DB struct {
	Db *sql.DB
}

// EventRecord is a decoded record item in the database
type EventRecord struct {
	ID          int64     `json:"id"`
	Received    time.Time `json:"received"`
	Time        uint64    `json:"time"`
	Seconds     uint32    `json:"seconds"`
	Nanoseconds uint32    `json:"nanoseconds"`
	CPU         uint32    `json:"cpu"`
	Kind        uint32    `json:"kind"`
	Event       string    `json:"event"`
	Data        uint64    `json:"data"`
	ThreadName  string    `json:"thread_name,omitempty"`
}

// OverflowRecord is a report of items lost on one processor
type OverflowRecord struct {
	ID       int64     `json:"id"`
	Received time.Time `json:"received"`
	Time     uint64    `json:"time"`
	CPU      uint32    `json:"cpu"`
	Lost     uint64    `json:"lost"`
}

// ThreadRecord is the last known name of a thread
type ThreadRecord struct {
	ID        uint32    `json:"id"`
	Name      string    `json:"name"`
	CPU       uint32    `json:"cpu"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CPUStats summarizes the stored events of one processor
type CPUStats struct {
	CPU    uint32 `json:"cpu"`
	Events int64  `json:"events"`
	First  uint64 `json:"first"`
	Last   uint64 `json:"last"`
	Lost   uint64 `json:"lost"`
}

// EventQuery selects stored events. Zero values do not filter.
type EventQuery struct {
	CPU     *uint32
	Event   string
	AfterID int64
	Limit   int
}

func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	dbPath := filepath.Join(dataDir, FileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to enable WAL mode")
	}

	if err := initEventSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize event schema")
	}

	if err := initSigmaSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize sigma schema")
	}

	return &DB{Db: db}, nil
}

func initEventSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		received     DATETIME NOT NULL,
		bt           INTEGER NOT NULL,   -- 32.32 binary time
		seconds      INTEGER NOT NULL,
		nanoseconds  INTEGER NOT NULL,
		cpu          INTEGER NOT NULL,
		kind         INTEGER NOT NULL,
		event        TEXT NOT NULL,
		data         INTEGER NOT NULL,   -- stored as two's complement
		thread_name  TEXT
	);

	CREATE TABLE IF NOT EXISTS overflows (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		received     DATETIME NOT NULL,
		bt           INTEGER NOT NULL,
		cpu          INTEGER NOT NULL,
		lost         INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threads (
		id           INTEGER PRIMARY KEY,
		name         TEXT NOT NULL,
		cpu          INTEGER NOT NULL,
		updated_at   DATETIME NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to create event tables")
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_cpu ON events(cpu);",
		"CREATE INDEX IF NOT EXISTS idx_events_event ON events(event);",
		"CREATE INDEX IF NOT EXISTS idx_events_bt ON events(bt);",
		"CREATE INDEX IF NOT EXISTS idx_overflows_cpu ON overflows(cpu);",
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return errors.Wrap(err, "failed to create index")
		}
	}

	return nil
}

func initSigmaSchema(db *sql.DB) error {
	schema := `
    CREATE TABLE IF NOT EXISTS detector_state (
        id INTEGER PRIMARY KEY,
        event_type TEXT NOT NULL,
        last_id INTEGER NOT NULL,
        last_processed_time DATETIME NOT NULL,
        rule_count INTEGER DEFAULT 0,
        match_count INTEGER DEFAULT 0,
        updated_at DATETIME NOT NULL,
        UNIQUE(event_type)
    );

    CREATE TABLE IF NOT EXISTS sigma_matches (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        event_id INTEGER NOT NULL,
        rule_id TEXT NOT NULL,
        rule_name TEXT NOT NULL,
        cpu INTEGER,
        event TEXT,
        data INTEGER,
        thread_name TEXT,
        timestamp DATETIME NOT NULL,
        severity TEXT NOT NULL,
        status TEXT DEFAULT 'new' NOT NULL,
        match_details TEXT,
        event_data TEXT,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_sigma_matches_rule_id ON sigma_matches(rule_id);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_timestamp ON sigma_matches(timestamp);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_status ON sigma_matches(status);
    CREATE INDEX IF NOT EXISTS idx_sigma_matches_event_id ON sigma_matches(event_id);`

	if _, err := db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to create Sigma tables")
	}

	return nil
}

const insertEvent = `
	INSERT INTO events (
		received, bt, seconds, nanoseconds, cpu, kind, event, data, thread_name
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertEvent adds a decoded event and sets its ID
func (db *DB) InsertEvent(record *EventRecord) error {
	res, err := db.Db.Exec(insertEvent, eventArgs(record)...)
	if err != nil {
		return errors.Wrap(err, "failed to insert event")
	}
	record.ID, err = res.LastInsertId()
	return err
}

// InsertEvents adds a batch of events in one transaction
func (db *DB) InsertEvents(records []*EventRecord) error {
	tx, err := db.Db.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	stmt, err := tx.Prepare(insertEvent)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "failed to prepare insert")
	}
	defer stmt.Close()

	for _, record := range records {
		res, err := stmt.Exec(eventArgs(record)...)
		if err != nil {
			tx.Rollback()
			return errors.Wrap(err, "failed to insert event")
		}
		if record.ID, err = res.LastInsertId(); err != nil {
			tx.Rollback()
			return err
		}
	}
	return errors.Wrap(tx.Commit(), "failed to commit events")
}

// sqlite integers are signed, so the unsigned columns are stored bit for bit.
func eventArgs(r *EventRecord) []interface{} {
	if r.Received.IsZero() {
		r.Received = time.Now()
	}
	var thread interface{}
	if r.ThreadName != "" {
		thread = r.ThreadName
	}
	return []interface{}{
		r.Received,
		int64(r.Time),
		r.Seconds,
		r.Nanoseconds,
		r.CPU,
		r.Kind,
		r.Event,
		int64(r.Data),
		thread,
	}
}

// InsertOverflow records that lost items were dropped on cpu
func (db *DB) InsertOverflow(cpu uint32, lost uint64, bt uint64) error {
	query := `INSERT INTO overflows (received, bt, cpu, lost) VALUES (?, ?, ?, ?)`
	_, err := db.Db.Exec(query, time.Now(), int64(bt), cpu, int64(lost))
	return errors.Wrap(err, "failed to insert overflow")
}

// UpsertThread stores the name of a thread
func (db *DB) UpsertThread(id uint32, name string, cpu uint32) error {
	query := `
	INSERT INTO threads (id, name, cpu, updated_at) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		cpu = excluded.cpu,
		updated_at = excluded.updated_at`
	_, err := db.Db.Exec(query, id, name, cpu, time.Now())
	return errors.Wrap(err, "failed to store thread")
}

// Events returns stored events in insertion order
func (db *DB) Events(q EventQuery) ([]*EventRecord, error) {
	query := `
	SELECT id, received, bt, seconds, nanoseconds, cpu, kind, event, data, thread_name
	FROM events`

	where := []string{"id > ?"}
	args := []interface{}{q.AfterID}
	if q.CPU != nil {
		where = append(where, "cpu = ?")
		args = append(args, *q.CPU)
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		args = append(args, q.Event)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += " WHERE " + strings.Join(where, " AND ") + " ORDER BY id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var records []*EventRecord
	for rows.Next() {
		var (
			r      EventRecord
			bt     int64
			data   int64
			thread sql.NullString
		)
		err := rows.Scan(&r.ID, &r.Received, &bt, &r.Seconds, &r.Nanoseconds,
			&r.CPU, &r.Kind, &r.Event, &data, &thread)
		if err != nil {
			return nil, err
		}
		r.Time = uint64(bt)
		r.Data = uint64(data)
		r.ThreadName = thread.String
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Overflows returns the latest overflow reports, newest first
func (db *DB) Overflows(limit int) ([]*OverflowRecord, error) {
	rows, err := db.Db.Query(
		`SELECT id, received, bt, cpu, lost FROM overflows ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query overflows")
	}
	defer rows.Close()

	var records []*OverflowRecord
	for rows.Next() {
		var r OverflowRecord
		var bt, lost int64
		if err := rows.Scan(&r.ID, &r.Received, &bt, &r.CPU, &lost); err != nil {
			return nil, err
		}
		r.Time = uint64(bt)
		r.Lost = uint64(lost)
		records = append(records, &r)
	}
	return records, rows.Err()
}

// Threads returns all known threads ordered by ID
func (db *DB) Threads() ([]*ThreadRecord, error) {
	rows, err := db.Db.Query(`SELECT id, name, cpu, updated_at FROM threads ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query threads")
	}
	defer rows.Close()

	var records []*ThreadRecord
	for rows.Next() {
		var r ThreadRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.CPU, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// CPUSummary returns per processor event counts, time range and losses
func (db *DB) CPUSummary() ([]CPUStats, error) {
	query := `
	SELECT e.cpu, COUNT(*), MIN(e.bt), MAX(e.bt),
		COALESCE((SELECT SUM(o.lost) FROM overflows o WHERE o.cpu = e.cpu), 0)
	FROM events e
	GROUP BY e.cpu
	ORDER BY e.cpu`

	rows, err := db.Db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to summarize processors")
	}
	defer rows.Close()

	var stats []CPUStats
	for rows.Next() {
		var s CPUStats
		var first, last, lost int64
		if err := rows.Scan(&s.CPU, &s.Events, &first, &last, &lost); err != nil {
			return nil, err
		}
		s.First = uint64(first)
		s.Last = uint64(last)
		s.Lost = uint64(lost)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Db.Close()
}
