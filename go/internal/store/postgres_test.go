package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	return nil, f.err
}

func (f *fakeDB) QueryRowContext(context.Context, string, ...interface{}) *sql.Row {
	return nil
}

func TestPostgresStoreUpsertArgs(t *testing.T) {
	db := &fakeDB{}
	s := NewPostgresStore(db, "tablet-7")
	savedAt := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return savedAt }

	ctx := context.Background()
	if err := s.Save(ctx, "42"); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := s.SaveLastResponse(ctx, protocol.AnswerC); err != nil {
		t.Fatalf("SaveLastResponse err: %v", err)
	}
	if len(db.calls) != 2 {
		t.Fatalf("exec calls: got %d want 2", len(db.calls))
	}

	details, err := json.Marshal(prefDetails{SavedAt: savedAt})
	if err != nil {
		t.Fatalf("Marshal err: %v", err)
	}
	want := []execCall{
		{query: upsertPref, args: []interface{}{"tablet-7", KeyAssignedCode, "42", pqtype.NullRawMessage{RawMessage: details, Valid: true}}},
		{query: upsertPref, args: []interface{}{"tablet-7", KeyLastResponse, "C", pqtype.NullRawMessage{RawMessage: details, Valid: true}}},
	}
	if diff := cmp.Diff(want, db.calls, cmp.AllowUnexported(execCall{})); diff != "" {
		t.Fatalf("exec calls mismatch (-want +got):\n%s", diff)
	}

	var got prefDetails
	if err := json.Unmarshal(db.calls[0].args[3].(pqtype.NullRawMessage).RawMessage, &got); err != nil {
		t.Fatalf("Unmarshal err: %v", err)
	}
	if !got.SavedAt.Equal(savedAt) {
		t.Fatalf("saved_at: got %v want %v", got.SavedAt, savedAt)
	}
}

func TestPostgresStoreSaveError(t *testing.T) {
	db := &fakeDB{err: errors.New("connection reset")}
	s := NewPostgresStore(db, "tablet-7")
	if err := s.Save(context.Background(), "42"); !errors.Is(err, db.err) {
		t.Fatalf("Save: got %v want %v", err, db.err)
	}
}
