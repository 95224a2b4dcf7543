// Package storage persists the two durable artifacts spec.md §6.1 and
// §4.10 describe: the trusted peers.json on-disk layout, and a
// SQLite-backed transfer history store, grounded on the teacher's
// storage.Store (X0RA-GoSend/storage/database.go, security_events.go).
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"p2pxfer/models"
)

// DefaultHistoryFileName is the SQLite filename under the config directory.
const DefaultHistoryFileName = "history.db"

// DefaultWALCheckpointInterval controls periodic WAL truncation.
const DefaultWALCheckpointInterval = 24 * time.Hour

// DefaultSecurityEventRetention bounds how long security events are kept.
const DefaultSecurityEventRetention = 90 * 24 * time.Hour

var historyMigrations = []string{
	`
CREATE TABLE IF NOT EXISTS sessions (
  session_id        TEXT PRIMARY KEY,
  peer_endpoint_id   TEXT NOT NULL,
  direction          TEXT NOT NULL CHECK(direction IN ('send','receive')),
  file_count         INTEGER NOT NULL,
  total_bytes        INTEGER NOT NULL,
  outcome            TEXT NOT NULL,
  started_at         INTEGER NOT NULL,
  ended_at           INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_sessions_peer_time
ON sessions (peer_endpoint_id, started_at DESC);
`,
	`
CREATE TABLE IF NOT EXISTS security_events (
  id               INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type       TEXT NOT NULL,
  peer_endpoint_id TEXT,
  detail           TEXT NOT NULL,
  severity         TEXT NOT NULL CHECK(severity IN ('info','warning','critical')),
  at               INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_security_events_time
ON security_events (at DESC, id DESC);
`,
}

// HistoryStore is a thin wrapper around a SQLite connection holding the
// transfer history and security event log. It is independent of
// peers.json/node_secret.key and is never consulted for a trust or
// transfer decision.
type HistoryStore struct {
	db *sql.DB

	walCheckpointInterval  time.Duration
	walCheckpointStop      chan struct{}
	walCheckpointWG        sync.WaitGroup
	securityEventRetention time.Duration
	closeOnce              sync.Once
}

// OpenHistoryStore opens (or creates) history.db under configDir and
// runs schema migrations.
func OpenHistoryStore(configDir string) (*HistoryStore, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create config directory: %w", err)
	}
	return openHistoryPath(filepath.Join(configDir, DefaultHistoryFileName))
}

func openHistoryPath(dbPath string) (*HistoryStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(dbPath))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite database: %w", err)
	}

	store := &HistoryStore{
		db:                     db,
		walCheckpointInterval:  DefaultWALCheckpointInterval,
		walCheckpointStop:      make(chan struct{}),
		securityEventRetention: DefaultSecurityEventRetention,
	}
	if err := store.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.checkpointWAL(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.startWALCheckpointLoop()
	return store, nil
}

// Close closes the SQLite connection and stops the checkpoint loop.
func (s *HistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.walCheckpointStop)
		s.walCheckpointWG.Wait()
		closeErr = s.db.Close()
		s.db = nil
	})
	return closeErr
}

func (s *HistoryStore) enableWALMode() error {
	var mode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&mode); err != nil {
		return fmt.Errorf("storage: enable WAL mode: %w", err)
	}
	if !strings.EqualFold(mode, "wal") {
		return fmt.Errorf("storage: enable WAL mode: unexpected journal mode %q", mode)
	}
	return nil
}

func (s *HistoryStore) checkpointWAL() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("storage: wal checkpoint: %w", err)
	}
	return nil
}

func (s *HistoryStore) startWALCheckpointLoop() {
	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(s.walCheckpointInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = s.checkpointWAL()
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}

func (s *HistoryStore) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("storage: read schema version: %w", err)
	}
	if version >= len(historyMigrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin migration transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := version; i < len(historyMigrations); i++ {
		if _, err := tx.Exec(historyMigrations[i]); err != nil {
			return fmt.Errorf("storage: apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("storage: set schema version %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// RecordSession inserts one terminal SessionRecord.
func (s *HistoryStore) RecordSession(rec models.SessionRecord) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO sessions (
			session_id, peer_endpoint_id, direction, file_count, total_bytes, outcome, started_at, ended_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID,
		rec.PeerEndpointID.String(),
		string(rec.Direction),
		rec.FileCount,
		rec.TotalBytes,
		string(rec.Outcome),
		rec.StartedAt.UnixMilli(),
		rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: record session %q: %w", rec.SessionID, err)
	}
	return nil
}

// SessionHistoryFilter narrows ListSessions.
type SessionHistoryFilter struct {
	PeerEndpointID *models.EndpointId
	Limit          int
}

// ListSessions returns recent session records, newest first.
func (s *HistoryStore) ListSessions(filter SessionHistoryFilter) ([]models.SessionRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `SELECT session_id, peer_endpoint_id, direction, file_count, total_bytes, outcome, started_at, ended_at FROM sessions`
	args := make([]any, 0, 2)
	if filter.PeerEndpointID != nil {
		query += ` WHERE peer_endpoint_id = ?`
		args = append(args, filter.PeerEndpointID.String())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]models.SessionRecord, 0)
	for rows.Next() {
		var rec models.SessionRecord
		var peerHex, direction, outcome string
		var startedAt, endedAt int64
		if err := rows.Scan(&rec.SessionID, &peerHex, &direction, &rec.FileCount, &rec.TotalBytes, &outcome, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("storage: scan session row: %w", err)
		}
		peerID, err := models.ParseEndpointId(peerHex)
		if err != nil {
			return nil, fmt.Errorf("storage: parse session peer id: %w", err)
		}
		rec.PeerEndpointID = peerID
		rec.Direction = models.Direction(direction)
		rec.Outcome = models.SessionState(outcome)
		rec.StartedAt = time.UnixMilli(startedAt)
		rec.EndedAt = time.UnixMilli(endedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate session rows: %w", err)
	}
	return out, nil
}

// LogSecurityEvent inserts a SecurityEvent and prunes anything older
// than the configured retention window.
func (s *HistoryStore) LogSecurityEvent(event models.SecurityEvent) error {
	if strings.TrimSpace(event.EventType) == "" {
		return errors.New("storage: event_type is required")
	}
	if event.Severity == "" {
		event.Severity = models.SecuritySeverityInfo
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	var peerHex sql.NullString
	if event.PeerEndpointID != nil {
		peerHex = sql.NullString{String: event.PeerEndpointID.String(), Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO security_events (event_type, peer_endpoint_id, detail, severity, at) VALUES (?, ?, ?, ?, ?)`,
		event.EventType, peerHex, event.Detail, string(event.Severity), event.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage: insert security event %q: %w", event.EventType, err)
	}

	if s.securityEventRetention > 0 {
		cutoff := time.Now().Add(-s.securityEventRetention).UnixMilli()
		if _, err := s.db.Exec(`DELETE FROM security_events WHERE at < ?`, cutoff); err != nil {
			return fmt.Errorf("storage: prune security events: %w", err)
		}
	}
	return nil
}

// SecurityEventFilter narrows ListSecurityEvents.
type SecurityEventFilter struct {
	EventType string
	Severity  models.SecuritySeverity
	Limit     int
}

// ListSecurityEvents returns recent security events, newest first.
func (s *HistoryStore) ListSecurityEvents(filter SecurityEventFilter) ([]models.SecurityEvent, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := strings.Builder{}
	query.WriteString(`SELECT event_type, peer_endpoint_id, detail, severity, at FROM security_events`)
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if len(where) > 0 {
		query.WriteString(" WHERE ")
		query.WriteString(strings.Join(where, " AND "))
	}
	query.WriteString(" ORDER BY at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := s.db.Query(query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list security events: %w", err)
	}
	defer rows.Close()

	out := make([]models.SecurityEvent, 0)
	for rows.Next() {
		var event models.SecurityEvent
		var peerHex sql.NullString
		var severity string
		var at int64
		if err := rows.Scan(&event.EventType, &peerHex, &event.Detail, &severity, &at); err != nil {
			return nil, fmt.Errorf("storage: scan security event row: %w", err)
		}
		if peerHex.Valid {
			peerID, err := models.ParseEndpointId(peerHex.String)
			if err != nil {
				return nil, fmt.Errorf("storage: parse security event peer id: %w", err)
			}
			event.PeerEndpointID = &peerID
		}
		event.Severity = models.SecuritySeverity(severity)
		event.At = time.UnixMilli(at)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: iterate security event rows: %w", err)
	}
	return out, nil
}
