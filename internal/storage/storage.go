package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for export attempts.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS export_attempts (
            id TEXT PRIMARY KEY,
            mode TEXT NOT NULL,
            status TEXT NOT NULL,
            session_id TEXT,
            asset_id TEXT,
            fields_json TEXT,
            artifact_path TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_export_attempts_session ON export_attempts(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_export_attempts_mode ON export_attempts(mode);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// AttemptRecord captures one persisted export attempt.
type AttemptRecord struct {
	ID           string
	Mode         string
	Status       string
	SessionID    string
	AssetID      string
	FieldsJSON   string
	ArtifactPath string
	Error        string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// RecordQueued inserts a pending attempt.
func (s *Store) RecordQueued(rec AttemptRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO export_attempts (id, mode, status, session_id, fields_json) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.Mode, rec.Status, rec.SessionID, rec.FieldsJSON)
	return err
}

// DiscardQueued removes an attempt that never reached the worker. Rows that
// already started stay put.
func (s *Store) DiscardQueued(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`DELETE FROM export_attempts WHERE id=? AND status='queued';`, id)
	return err
}

// RecordStart marks an attempt as running.
func (s *Store) RecordStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE export_attempts SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordResult finalizes an attempt. The asset id only exists for live mode
// and only once the attempt ran.
func (s *Store) RecordResult(id, status, artifactPath, assetID, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE export_attempts SET status=?, artifact_path=?, asset_id=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, artifactPath, assetID, errMsg, id)
	return err
}

// RecentAttempts returns the latest attempts up to limit.
func (s *Store) RecentAttempts(limit int) ([]AttemptRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, mode, status, session_id, asset_id, fields_json, artifact_path, created_at, started_at, completed_at, error_message FROM export_attempts ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var created time.Time
		var started, completed sql.NullTime
		var assetID, fieldsJSON, artifact, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Mode, &rec.Status, &rec.SessionID, &assetID, &fieldsJSON, &artifact, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		rec.AssetID = assetID.String
		rec.FieldsJSON = fieldsJSON.String
		rec.ArtifactPath = artifact.String
		rec.Error = errorMsg.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// MarshalFields renders metadata fields for the fields_json column.
func MarshalFields(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
