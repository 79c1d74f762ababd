package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"dealfinder/internal/models"
)

// JSONFile is a Store keeping every alert in one JSON array on disk.
type JSONFile struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*JSONFile)(nil)

// NewJSONFile creates the file with an empty list when it does not exist yet.
func NewJSONFile(path string) (*JSONFile, error) {
	s := &JSONFile{path: path}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.write(nil); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONFile) Close() error { return nil }

func (s *JSONFile) Load(ctx context.Context) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// SaveAll replaces alerts with matching ids and appends new ones, then rewrites the file.
func (s *JSONFile) SaveAll(ctx context.Context, alerts []models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}
	index := make(map[string]int, len(current))
	for i, a := range current {
		index[a.ID] = i
	}
	for _, a := range alerts {
		if i, ok := index[a.ID]; ok {
			current[i] = a
			continue
		}
		index[a.ID] = len(current)
		current = append(current, a)
	}
	return s.write(current)
}

func (s *JSONFile) Append(ctx context.Context, alert models.Alert) error {
	return s.SaveAll(ctx, []models.Alert{alert})
}

func (s *JSONFile) read() ([]models.Alert, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read alerts: %w", err)
	}
	var alerts []models.Alert
	if len(data) == 0 {
		return alerts, nil
	}
	if err := json.Unmarshal(data, &alerts); err != nil {
		return nil, fmt.Errorf("decode alerts: %w", err)
	}
	return alerts, nil
}

// write replaces the file through a rename so readers never see a partial list.
func (s *JSONFile) write(alerts []models.Alert) error {
	if alerts == nil {
		alerts = []models.Alert{}
	}
	data, err := json.MarshalIndent(alerts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode alerts: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".alerts-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write alerts: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace alerts file: %w", err)
	}
	return nil
}
