package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

// Schema creates the table PostgresStore reads and writes.
const Schema = `CREATE TABLE IF NOT EXISTS student_prefs (
    device_id  TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    value      TEXT        NOT NULL,
    details    JSONB,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (device_id, key)
)`

const (
	upsertPref = `INSERT INTO student_prefs (device_id, key, value, details, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (device_id, key) DO UPDATE
SET value = EXCLUDED.value, details = EXCLUDED.details, updated_at = now()`

	selectPref = `SELECT value FROM student_prefs WHERE device_id = $1 AND key = $2`
)

// DBTX is the subset of *sql.DB and *sql.Tx the store needs.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// prefDetails is stored alongside each value for later inspection.
type prefDetails struct {
	SavedAt time.Time `json:"saved_at"`
}

// PostgresStore keeps preferences for many devices in one shared table,
// keyed by device id.
type PostgresStore struct {
	db       DBTX
	deviceID string
	now      func() time.Time
}

func NewPostgresStore(db DBTX, deviceID string) *PostgresStore {
	return &PostgresStore{db: db, deviceID: deviceID, now: time.Now}
}

func (s *PostgresStore) Load(ctx context.Context) (string, bool, error) {
	return s.get(ctx, KeyAssignedCode)
}

func (s *PostgresStore) Save(ctx context.Context, code string) error {
	return s.put(ctx, KeyAssignedCode, code)
}

func (s *PostgresStore) SaveLastResponse(ctx context.Context, answer protocol.Answer) error {
	return s.put(ctx, KeyLastResponse, string(answer))
}

func (s *PostgresStore) LoadLastResponse(ctx context.Context) (protocol.Answer, bool, error) {
	v, ok, err := s.get(ctx, KeyLastResponse)
	if err != nil || !ok {
		return "", false, err
	}
	a, ok := protocol.ParseAnswer(v)
	return a, ok, nil
}

func (s *PostgresStore) put(ctx context.Context, key, value string) error {
	details, err := json.Marshal(prefDetails{SavedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode pref details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsertPref, s.deviceID, key, value,
		pqtype.NullRawMessage{RawMessage: details, Valid: true})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, selectPref, s.deviceID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return value, value != "", nil
}
