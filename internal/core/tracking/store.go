package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charleschow/futures-trading/internal/core/trading"
	"github.com/charleschow/futures-trading/internal/telemetry"

	_ "modernc.org/sqlite"
)

const (
	maxStoreBytes  int64   = 256 << 20 // 256 MiB
	evictPct       float64 = 0.10      // evict oldest 10% of settled rows
	vacuumInterval         = 10        // incremental vacuum every N evictions
)

// Outcome is what the journal knows about a placement attempt.
type Outcome string

const (
	OutcomePending  Outcome = "pending"   // recorded, response not yet seen
	OutcomePlaced   Outcome = "placed"    // exchange accepted the order
	OutcomeRejected Outcome = "rejected"  // exchange answered with an error
	OutcomeFailed   Outcome = "failed"    // never left the process
	OutcomeUnknown  Outcome = "unknown"   // sent, no usable response
	OutcomeNotFound Outcome = "not_found" // reconciled: exchange has no such order
)

// Unresolved reports whether the exchange-side state of the order is not
// known yet.
func (o Outcome) Unresolved() bool {
	return o == OutcomePending || o == OutcomeUnknown
}

type Entry struct {
	ID            int64
	ClientOrderID string
	Symbol        string
	Side          string
	Type          string
	Quantity      string
	Price         string
	Outcome       Outcome
	OrderID       int64
	Status        string
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var ErrNotFound = errors.New("journal entry not found")

// Store is the local order journal: one row per placement attempt, kept in
// SQLite and capped at ~256 MiB. When over budget the oldest resolved rows
// are evicted; unresolved rows are never dropped.
type Store struct {
	db           *sql.DB
	mu           sync.Mutex
	now          func() time.Time
	maxBytes     int64
	cachedSize   int64
	rowCount     int64
	evictCounter int
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	var avMode int
	if err := db.QueryRow(`PRAGMA auto_vacuum`).Scan(&avMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("read auto_vacuum: %w", err)
	}
	if avMode != 2 {
		if _, err := db.Exec(`PRAGMA auto_vacuum = INCREMENTAL`); err != nil {
			db.Close()
			return nil, fmt.Errorf("set auto_vacuum: %w", err)
		}
		if _, err := db.Exec(`VACUUM`); err != nil {
			telemetry.Warnf("journal: VACUUM to enable auto_vacuum failed: %v", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	var size int64
	db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`).Scan(&size)
	var rowCount int64
	db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&rowCount)

	telemetry.Debugf("journal: opened %s size=%d rows=%d", path, size, rowCount)
	return &Store{db: db, now: time.Now, maxBytes: maxStoreBytes, cachedSize: size, rowCount: rowCount}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS orders (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	client_order_id TEXT    NOT NULL DEFAULT '',
	symbol          TEXT    NOT NULL,
	side            TEXT    NOT NULL,
	order_type      TEXT    NOT NULL,
	quantity        TEXT    NOT NULL,
	price           TEXT    NOT NULL DEFAULT '',
	outcome         TEXT    NOT NULL,
	order_id        INTEGER NOT NULL DEFAULT 0,
	status          TEXT    NOT NULL DEFAULT '',
	error           TEXT    NOT NULL DEFAULT '',
	created_at      TEXT    NOT NULL,
	updated_at      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_outcome ON orders (outcome)`

// Begin records a placement attempt as pending and returns its row ID.
func (s *Store) Begin(req trading.Request) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price := ""
	if req.IsLimit() {
		price = req.Price.String()
	}
	ts := s.now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.Exec(
		`INSERT INTO orders (client_order_id, symbol, side, order_type, quantity, price, outcome, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?)`,
		req.ClientOrderID, req.Symbol, string(req.Side), string(req.Type), req.Quantity.String(), price,
		string(OutcomePending), ts, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("insert journal entry: %w", err)
	}

	id, _ := res.LastInsertId()
	s.rowCount++
	s.refreshSize()
	if s.cachedSize > s.maxBytes {
		s.evict()
	}
	return id, nil
}

// Complete records the outcome of an attempt. res is optional; cause, if
// non-nil, is stored as text.
func (s *Store) Complete(id int64, outcome Outcome, res *trading.Result, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		orderID int64
		status  string
		errText string
	)
	if res != nil {
		orderID = res.OrderID
		status = string(res.Status)
	}
	if cause != nil {
		errText = cause.Error()
	}

	r, err := s.db.Exec(
		`UPDATE orders SET outcome=?, order_id=CASE WHEN ?=0 THEN order_id ELSE ? END,
			status=CASE WHEN ?='' THEN status ELSE ? END, error=?, updated_at=? WHERE id=?`,
		string(outcome), orderID, orderID, status, status, errText,
		s.now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("update journal entry %d: %w", id, err)
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return fmt.Errorf("update journal entry %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) Get(id int64) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT `+entryColumns+` FROM orders WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("journal entry %d: %w", id, ErrNotFound)
	}
	return e, err
}

// Unresolved returns pending and unknown entries, oldest first.
func (s *Store) Unresolved() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM orders WHERE outcome IN (?, ?) ORDER BY id ASC`,
		string(OutcomePending), string(OutcomeUnknown))
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT `+entryColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const entryColumns = `id, client_order_id, symbol, side, order_type, quantity, price,
	outcome, order_id, status, error, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var (
		e                Entry
		outcome          string
		created, updated string
	)
	if err := sc.Scan(&e.ID, &e.ClientOrderID, &e.Symbol, &e.Side, &e.Type, &e.Quantity, &e.Price,
		&outcome, &e.OrderID, &e.Status, &e.Error, &created, &updated); err != nil {
		return Entry{}, err
	}
	e.Outcome = Outcome(outcome)
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return e, nil
}

// refreshSize re-reads the database file size from SQLite pragmas.
// Must be called with s.mu held.
func (s *Store) refreshSize() {
	var size int64
	row := s.db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err == nil {
		s.cachedSize = size
	}
}

// evict deletes the oldest 10% of resolved rows by count.
// Must be called with s.mu held.
func (s *Store) evict() {
	toDelete := int64(float64(s.rowCount) * evictPct)
	if toDelete < 1 {
		toDelete = 1
	}

	res, err := s.db.Exec(
		`DELETE FROM orders WHERE id IN (
			SELECT id FROM orders WHERE outcome NOT IN (?, ?) ORDER BY id ASC LIMIT ?
		)`, string(OutcomePending), string(OutcomeUnknown), toDelete,
	)
	if err != nil {
		telemetry.Warnf("journal evict: %v", err)
		return
	}

	deleted, _ := res.RowsAffected()
	s.rowCount -= deleted
	s.evictCounter++

	telemetry.Infof("journal: evicted %d rows (target %d)", deleted, toDelete)

	if s.evictCounter%vacuumInterval == 0 {
		s.db.Exec(`PRAGMA incremental_vacuum`)
	}

	s.refreshSize()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
