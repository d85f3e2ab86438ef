package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/classcast/go/internal/protocol"
)

// prefs is the on-disk document.
type prefs struct {
	AssignedCode string `yaml:"assigned_code,omitempty"`
	LastResponse string `yaml:"last_response,omitempty"`
}

// FileStore keeps preferences in a small YAML file on the device.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		return "", false, err
	}
	return p.AssignedCode, p.AssignedCode != "", nil
}

func (s *FileStore) Save(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		return err
	}
	p.AssignedCode = code
	return s.write(p)
}

func (s *FileStore) SaveLastResponse(_ context.Context, answer protocol.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		return err
	}
	p.LastResponse = string(answer)
	return s.write(p)
}

func (s *FileStore) LoadLastResponse(context.Context) (protocol.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		return "", false, err
	}
	a, ok := protocol.ParseAnswer(p.LastResponse)
	return a, ok, nil
}

func (s *FileStore) read() (prefs, error) {
	var p prefs
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("failed to read store file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse store file: %w", err)
	}
	return p, nil
}

// write replaces the file atomically so a crash never leaves half a document.
func (s *FileStore) write(p prefs) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".classcast-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
