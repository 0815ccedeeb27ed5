package postchain

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eringen/postchain/chain"
)

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

// Store is a SQLite-backed chain.Store. Records are kept as encoded blobs
// keyed by address; destroyed addresses are tombstoned and never reused.
type Store struct {
	db *sql.DB
	// wmu serializes writers so a read-then-write unit of work never races
	// another writer for the SQLite write lock.
	wmu sync.Mutex
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and runs schema migrations.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them. WAL lets
	// readers run alongside the single writer; busy_timeout makes the event
	// log wait for the writer instead of failing with SQLITE_BUSY.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS records (
    address BLOB PRIMARY KEY,
    kind INTEGER NOT NULL,
    space INTEGER NOT NULL,
    data BLOB
);
CREATE INDEX IF NOT EXISTS idx_records_kind ON records(kind);

CREATE TABLE IF NOT EXISTS tombstones (
    address BLOB PRIMARY KEY,
    kind INTEGER NOT NULL,
    destroyed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    label TEXT NOT NULL,
    blog BLOB NOT NULL,
    post_id BLOB NOT NULL,
    next_post_id BLOB,
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_blog ON events(blog);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`)
	return err
}

// migrate applies incremental schema migrations based on a version stored in the settings table.
func (s *Store) migrate() error {
	verStr, err := s.GetSetting("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version := 0
	if verStr != "" {
		version, err = strconv.Atoi(verStr)
		if err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}
	return s.SetSetting("schema_version", strconv.Itoa(currentSchemaVersion))
}

// GetSetting retrieves a setting value by key. Returns empty string if not found.
func (s *Store) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return val, err
}

// SetSetting stores a setting value by key (upsert).
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Update runs fn in a write transaction. The transaction commits only when
// fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(chain.Tx) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &chain.StorageError{Op: "begin", Err: err}
	}
	if err := fn(&sqlTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &chain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(chain.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &chain.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	return fn(&sqlTx{ctx: ctx, tx: tx, readOnly: true})
}

type sqlTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

var errReadOnly = errors.New("write in read-only transaction")

func (t *sqlTx) retired(addr chain.Address) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(t.ctx, `SELECT COUNT(*) FROM tombstones WHERE address = ?`, addr[:]).Scan(&n)
	return n > 0, err
}

func (t *sqlTx) Allocate(kind chain.Kind, space int) (chain.Address, error) {
	if t.readOnly {
		return chain.None, errReadOnly
	}
	for {
		addr, err := chain.NewAddress()
		if err != nil {
			return chain.None, err
		}
		if addr.IsNone() {
			continue
		}
		retired, err := t.retired(addr)
		if err != nil {
			return chain.None, err
		}
		if retired {
			continue
		}
		res, err := t.tx.ExecContext(t.ctx, `INSERT OR IGNORE INTO records (address, kind, space, data) VALUES (?, ?, ?, NULL)`,
			addr[:], int(kind), space)
		if err != nil {
			return chain.None, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		return addr, nil
	}
}

func (t *sqlTx) Read(addr chain.Address) (chain.Kind, []byte, error) {
	var (
		kind int
		data []byte
	)
	err := t.tx.QueryRowContext(t.ctx, `SELECT kind, data FROM records WHERE address = ?`, addr[:]).Scan(&kind, &data)
	if err == sql.ErrNoRows {
		retired, rerr := t.retired(addr)
		if rerr != nil {
			return 0, nil, rerr
		}
		if retired {
			return 0, nil, chain.ErrAddressRetired
		}
		return 0, nil, chain.ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	if data == nil {
		return 0, nil, chain.ErrNotFound
	}
	return chain.Kind(kind), data, nil
}

func (t *sqlTx) Write(addr chain.Address, kind chain.Kind, data []byte) error {
	if t.readOnly {
		return errReadOnly
	}
	var have, space int
	err := t.tx.QueryRowContext(t.ctx, `SELECT kind, space FROM records WHERE address = ?`, addr[:]).Scan(&have, &space)
	if err == sql.ErrNoRows {
		retired, rerr := t.retired(addr)
		if rerr != nil {
			return rerr
		}
		if retired {
			return chain.ErrAddressRetired
		}
		return chain.ErrNotFound
	}
	if err != nil {
		return err
	}
	if chain.Kind(have) != kind {
		return fmt.Errorf("%w: write %s into %s record", chain.ErrKindMismatch, kind, chain.Kind(have))
	}
	if len(data) > space {
		return fmt.Errorf("%w: %d > %d bytes", chain.ErrSpaceExceeded, len(data), space)
	}
	_, err = t.tx.ExecContext(t.ctx, `UPDATE records SET data = ? WHERE address = ?`, data, addr[:])
	return err
}

func (t *sqlTx) Destroy(addr chain.Address) error {
	if t.readOnly {
		return errReadOnly
	}
	var kind int
	err := t.tx.QueryRowContext(t.ctx, `DELETE FROM records WHERE address = ? RETURNING kind`, addr[:]).Scan(&kind)
	if err == sql.ErrNoRows {
		retired, rerr := t.retired(addr)
		if rerr != nil {
			return rerr
		}
		if retired {
			return chain.ErrAddressRetired
		}
		return chain.ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO tombstones (address, kind, destroyed_at) VALUES (?, ?, ?)`,
		addr[:], kind, time.Now().UTC().Format(time.RFC3339))
	return err
}

func (t *sqlTx) Addresses(kind chain.Kind) ([]chain.Address, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT address FROM records WHERE kind = ? AND data IS NOT NULL ORDER BY address`, int(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chain.Address
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		if len(b) != chain.AddressSize {
			return nil, fmt.Errorf("malformed address of %d bytes", len(b))
		}
		var addr chain.Address
		copy(addr[:], b)
		out = append(out, addr)
	}
	return out, rows.Err()
}

// LoggedEvent is a PostEvent with its position in the event log.
type LoggedEvent struct {
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	chain.PostEvent
}

// EventLog reads the events table. Rows are written by the transaction
// that commits the mutation they describe, so replay never misses a
// committed operation.
type EventLog struct {
	store *Store
}

// NewEventLog returns an EventLog reading from s.
func NewEventLog(s *Store) *EventLog {
	return &EventLog{store: s}
}

// Append implements chain.Journal.
func (t *sqlTx) Append(ev chain.PostEvent) error {
	if t.readOnly {
		return errReadOnly
	}
	var next []byte
	if ev.NextPostID != nil {
		next = ev.NextPostID[:]
	}
	_, err := t.tx.ExecContext(t.ctx, `INSERT INTO events (label, blog, post_id, next_post_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		string(ev.Label), ev.Blog[:], ev.PostID[:], next, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns up to limit events with a sequence number greater than after,
// oldest first.
func (l *EventLog) Events(ctx context.Context, after int64, limit int) ([]LoggedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.store.db.QueryContext(ctx, `SELECT seq, label, blog, post_id, next_post_id, created_at FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LoggedEvent
	for rows.Next() {
		var (
			ev               LoggedEvent
			label, createdAt string
			blog, post, next []byte
		)
		if err := rows.Scan(&ev.Seq, &label, &blog, &post, &next, &createdAt); err != nil {
			return nil, err
		}
		ev.Label = chain.Label(label)
		copy(ev.Blog[:], blog)
		copy(ev.PostID[:], post)
		if next != nil {
			var n chain.Address
			copy(n[:], next)
			ev.NextPostID = &n
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse event time %q: %w", createdAt, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
