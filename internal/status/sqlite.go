package status

import (
	"database/sql"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-agent/internal/model"
)

// SQLiteStore persists job statuses in a local SQLite database so status
// survives a process restart. Same contract as MemoryStore: last write wins,
// one row per job, the whole status written in a single statement.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) a SQLite status store at the given path.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	const migration = `
CREATE TABLE IF NOT EXISTS job_status (
	job_id     TEXT PRIMARY KEY,
	phase      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	payload    TEXT,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`
	if _, err := db.Exec(migration); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Set(jobID string, phase model.Phase, detail string, payload map[string]any) {
	var payloadJSON sql.NullString
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			zap.L().Warn("status: marshal payload", zap.String("job_id", jobID), zap.Error(err))
		} else {
			payloadJSON = sql.NullString{String: string(raw), Valid: true}
		}
	}

	_, err := s.db.Exec(`
INSERT INTO job_status (job_id, phase, detail, payload, updated_at)
VALUES (?, ?, ?, ?, datetime('now'))
ON CONFLICT(job_id) DO UPDATE SET
	phase = excluded.phase,
	detail = excluded.detail,
	payload = excluded.payload,
	updated_at = excluded.updated_at`,
		jobID, string(phase), detail, payloadJSON,
	)
	if err != nil {
		zap.L().Warn("status: set failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *SQLiteStore) Get(jobID string) model.Status {
	var (
		phase       string
		detail      string
		payloadJSON sql.NullString
	)
	err := s.db.QueryRow(
		`SELECT phase, detail, payload FROM job_status WHERE job_id = ?`, jobID,
	).Scan(&phase, &detail, &payloadJSON)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			zap.L().Warn("status: get failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return unknownStatus(jobID)
	}

	st := model.Status{
		JobID:  jobID,
		Phase:  model.Phase(phase),
		Detail: detail,
	}
	if payloadJSON.Valid && payloadJSON.String != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadJSON.String), &payload); err == nil {
			st.Payload = payload
		}
	}
	return st
}

func (s *SQLiteStore) Reset() {
	if _, err := s.db.Exec(`DELETE FROM job_status`); err != nil {
		zap.L().Warn("status: reset failed", zap.Error(err))
	}
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
