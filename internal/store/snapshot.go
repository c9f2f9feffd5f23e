// Package store persists the last known quota snapshot per account and
// the proxy configuration.
package store

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quotapanel/quotapanel/internal/errors"
	"github.com/quotapanel/quotapanel/internal/logging"
	"github.com/quotapanel/quotapanel/internal/models"
)

// SnapshotStore keeps the most recent successful quota snapshot for each
// account in SQLite, so a restart does not blank the dashboard until the
// first live aggregation completes.
type SnapshotStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSnapshotStore opens (and if needed creates) the snapshot database.
func NewSnapshotStore(dbPath string, logger *logging.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = logging.NewLogger()
	}

	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDirectoryCreate{Path: dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	s := &SnapshotStore{db: db, logger: logger}
	if err := s.createTable(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS quota_snapshots (
			email      TEXT PRIMARY KEY,
			fetched_at DATETIME NOT NULL,
			payload    TEXT NOT NULL
		)
	`
	_, err := s.db.Exec(query)
	return err
}

// Put upserts the latest snapshot for an account.
func (s *SnapshotStore) Put(email string, snapshot *models.QuotaSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO quota_snapshots (email, fetched_at, payload)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET fetched_at = excluded.fetched_at, payload = excluded.payload
	`
	_, err = s.db.Exec(query, email, time.Now().UTC(), string(payload))
	return err
}

// Get returns the stored snapshot for an account, or ok=false when the
// account was never snapshotted.
func (s *SnapshotStore) Get(email string) (*models.QuotaSnapshot, bool) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM quota_snapshots WHERE email = ?", email).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("snapshot read failed", "email", email, "error", err.Error())
		return nil, false
	}
	var snapshot models.QuotaSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		s.logger.Warn("stored snapshot is malformed", "email", email, "error", err.Error())
		return nil, false
	}
	return &snapshot, true
}

// All returns every stored snapshot keyed by account email.
func (s *SnapshotStore) All() (map[string]*models.QuotaSnapshot, error) {
	rows, err := s.db.Query("SELECT email, payload FROM quota_snapshots")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.QuotaSnapshot)
	for rows.Next() {
		var email, payload string
		if err := rows.Scan(&email, &payload); err != nil {
			return nil, err
		}
		var snapshot models.QuotaSnapshot
		if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
			s.logger.Warn("stored snapshot is malformed", "email", email, "error", err.Error())
			continue
		}
		out[email] = &snapshot
	}
	return out, rows.Err()
}

// Delete drops the stored snapshot for an account. Deleting an unknown
// account is not an error.
func (s *SnapshotStore) Delete(email string) error {
	_, err := s.db.Exec("DELETE FROM quota_snapshots WHERE email = ?", email)
	return err
}

// Close closes the underlying database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
