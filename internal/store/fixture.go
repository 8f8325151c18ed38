package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"bos-cli/internal/model"

	"github.com/natefinch/atomic"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML import/export document.
type Fixture struct {
	Tasks []model.Task `yaml:"tasks"`
}

// ImportYAML upserts every task in the document and returns how many were written.
func (s *Store) ImportYAML(ctx context.Context, r io.Reader) (int, error) {
	var fx Fixture
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&fx); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("decode fixture: %w", err)
	}
	now := model.Now()
	for i, t := range fx.Tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if err := s.Upsert(ctx, t); err != nil {
			return i, err
		}
	}
	return len(fx.Tasks), nil
}

// ImportYAMLFile is ImportYAML on a file.
func (s *Store) ImportYAMLFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := s.ImportYAML(ctx, f)
	if err != nil {
		return n, fmt.Errorf("%s: %w", path, err)
	}
	return n, nil
}

// ExportYAML writes the tasks of jobID ("" for all) in storage order.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer, jobID string) error {
	tasks, err := s.List(ctx, jobID)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Fixture{Tasks: tasks}); err != nil {
		return err
	}
	return enc.Close()
}

// ExportYAMLFile replaces path atomically with an export.
func (s *Store) ExportYAMLFile(ctx context.Context, path, jobID string) error {
	var buf bytes.Buffer
	if err := s.ExportYAML(ctx, &buf, jobID); err != nil {
		return err
	}
	return atomic.WriteFile(path, &buf)
}
