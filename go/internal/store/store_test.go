package store_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mcdev12/classcast/go/internal/protocol"
	"github.com/mcdev12/classcast/go/internal/session"
	"github.com/mcdev12/classcast/go/internal/store"
)

var (
	_ store.Store       = (*store.MemoryStore)(nil)
	_ store.AnswerStore = (*store.MemoryStore)(nil)
	_ store.Store       = (*store.FileStore)(nil)
	_ store.AnswerStore = (*store.FileStore)(nil)
	_ store.Store       = (*store.PostgresStore)(nil)
	_ store.AnswerStore = (*store.PostgresStore)(nil)
)

func TestFileStoreMissingFile(t *testing.T) {
	s := store.NewFileStore(filepath.Join(t.TempDir(), "prefs.yaml"))
	code, ok, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if ok || code != "" {
		t.Fatalf("expected no code, got %q ok=%v", code, ok)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	first := store.NewFileStore(path)
	if err := first.Save(ctx, "42"); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	if err := first.SaveLastResponse(ctx, protocol.AnswerC); err != nil {
		t.Fatalf("SaveLastResponse err: %v", err)
	}

	second := store.NewFileStore(path)
	code, ok, err := second.Load(ctx)
	if err != nil || !ok || code != "42" {
		t.Fatalf("Load: got %q ok=%v err=%v want 42", code, ok, err)
	}
	a, ok, err := second.LoadLastResponse(ctx)
	if err != nil || !ok || a != protocol.AnswerC {
		t.Fatalf("LoadLastResponse: got %q ok=%v err=%v want C", a, ok, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile err: %v", err)
	}
	if !strings.Contains(string(data), "assigned_code: \"42\"") {
		t.Fatalf("unexpected file contents:\n%s", data)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	if err := os.WriteFile(path, []byte("assigned_code: [oops"), 0o600); err != nil {
		t.Fatalf("WriteFile err: %v", err)
	}
	if _, _, err := store.NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMachineResumesFromFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	if err := store.NewFileStore(path).Save(ctx, "42"); err != nil {
		t.Fatalf("Save err: %v", err)
	}

	m, err := session.NewMachine(ctx, store.NewFileStore(path))
	if err != nil {
		t.Fatalf("NewMachine err: %v", err)
	}
	if st := m.State(); st.Phase != session.Confirmed || st.AssignedCode != "42" {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	if _, ok, _ := s.Load(ctx); ok {
		t.Fatal("fresh store reported a code")
	}
	if err := s.Save(ctx, "7"); err != nil {
		t.Fatalf("Save err: %v", err)
	}
	code, ok, err := s.Load(ctx)
	if err != nil || !ok || code != "7" {
		t.Fatalf("Load: got %q ok=%v err=%v", code, ok, err)
	}
	if s.Saves() != 1 {
		t.Fatalf("Saves: got %d want 1", s.Saves())
	}
}
