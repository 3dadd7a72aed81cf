// Package audit keeps a durable trail of every access change: who or
// what changed a subject's state, when, and why. It is a separate
// SQLite database from the state store so the trail survives state
// resets.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/waveworm/pfsense-toggle/internal/clock"
)

// Sources of audit events.
const (
	SourceAPI       = "api"       // Operator action via the HTTP API
	SourceEngine    = "engine"    // Reconciliation corrections
	SourceTimer     = "timer"     // Timer expiry
	SourceScheduler = "scheduler" // Background tasks
	SourceCLI       = "cli"       // Local command line
)

// Event represents a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Source    string    `json:"source"`
	IP        string    `json:"ip,omitempty"`
}

// Store provides persistent storage for audit events.
type Store struct {
	mu         sync.RWMutex
	db         *sql.DB
	clk        clock.Clock
	maxEntries int
}

// NewStore creates a new audit store at the given path. maxEntries caps
// the trail; pruning keeps the newest entries. clk may be nil for the
// real clock.
func NewStore(dbPath string, maxEntries int, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = &clock.RealClock{}
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL,
			subject TEXT,
			action TEXT NOT NULL,
			detail TEXT,
			source TEXT NOT NULL,
			ip TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_events(subject);
		CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if maxEntries <= 0 {
		maxEntries = 500
	}

	return &Store{
		db:         db,
		clk:        clk,
		maxEntries: maxEntries,
	}, nil
}

// Write persists an audit event. A zero ID or Timestamp is filled in.
func (s *Store) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clk.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_events (id, timestamp, subject, action, detail, source, ip)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.Timestamp, evt.Subject, evt.Action, evt.Detail, evt.Source, evt.IP)

	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	return nil
}

// Record is a convenience for Write with just the common fields.
func (s *Store) Record(source, subject, action, detail string) error {
	return s.Write(Event{
		Subject: subject,
		Action:  action,
		Detail:  detail,
		Source:  source,
	})
}

// Query returns audit events newest first, filtered by subject and
// action when non-empty.
func (s *Store) Query(subject, action string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, subject, action, detail, source, ip
		FROM audit_events WHERE 1=1`
	args := []any{}

	if subject != "" {
		query += " AND subject = ?"
		args = append(args, subject)
	}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}

	query += " ORDER BY timestamp DESC, id"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var subj, detail, ip sql.NullString

		err := rows.Scan(&evt.ID, &evt.Timestamp, &subj, &evt.Action, &detail, &evt.Source, &ip)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		evt.Subject = subj.String
		evt.Detail = detail.String
		evt.IP = ip.String

		events = append(events, evt)
	}

	return events, rows.Err()
}

// Recent returns the newest events up to limit.
func (s *Store) Recent(limit int) ([]Event, error) {
	return s.Query("", "", limit)
}

// Prune trims the trail to the configured cap, deleting the oldest
// entries first. It returns the number removed. A cap of zero means
// the trail is unbounded and nothing is pruned.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries <= 0 {
		return 0, nil
	}

	result, err := s.db.Exec(`
		DELETE FROM audit_events WHERE id NOT IN (
			SELECT id FROM audit_events ORDER BY timestamp DESC, id LIMIT ?
		)
	`, s.maxEntries)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}

	return result.RowsAffected()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
