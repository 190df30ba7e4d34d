// Package prefs persists the scheduler state in a local TOML file.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"bullionwatch/internal/scheduler"
)

const defaultPath = "~/.config/bullionwatch/state.toml"

// DefaultPath returns the default state file path.
func DefaultPath() string {
	return defaultPath
}

type document struct {
	Schedule scheduleRecord `toml:"schedule"`
}

// scheduleRecord is the on-disk form of scheduler.State. Timestamps are
// RFC 3339 strings; empty means unset.
type scheduleRecord struct {
	Enabled      bool   `toml:"enabled"`
	LastFiredAt  string `toml:"last_fired_at,omitempty"`
	NextDeadline string `toml:"next_deadline,omitempty"`
}

func toRecord(st scheduler.State) scheduleRecord {
	return scheduleRecord{
		Enabled:      st.Enabled,
		LastFiredAt:  formatTime(st.LastFiredAt),
		NextDeadline: formatTime(st.NextDeadline),
	}
}

func (r scheduleRecord) state() (scheduler.State, error) {
	fired, err := parseTime(r.LastFiredAt)
	if err != nil {
		return scheduler.State{}, fmt.Errorf("last_fired_at: %w", err)
	}
	deadline, err := parseTime(r.NextDeadline)
	if err != nil {
		return scheduler.State{}, fmt.Errorf("next_deadline: %w", err)
	}
	return scheduler.State{Enabled: r.Enabled, LastFiredAt: fired, NextDeadline: deadline}, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (*time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FileStore implements scheduler.StateStore on a TOML file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore resolves path (empty means the default) and returns a store.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		path = defaultPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("resolve state path: %w", err)
	}
	return &FileStore{path: resolved}, nil
}

// Path is the resolved file location.
func (f *FileStore) Path() string {
	return f.path
}

// LoadSchedule reads the state. A missing file yields scheduler.ErrNoState;
// an undecodable one yields an error wrapping scheduler.ErrNoState that
// names the cause.
func (f *FileStore) LoadSchedule(context.Context) (scheduler.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return scheduler.State{}, scheduler.ErrNoState
		}
		return scheduler.State{}, fmt.Errorf("read state: %w", err)
	}

	var doc document
	if err := toml.Unmarshal(data, &doc); err != nil {
		return scheduler.State{}, fmt.Errorf("%w: decode %s: %v", scheduler.ErrNoState, f.path, err)
	}
	st, err := doc.Schedule.state()
	if err != nil {
		return scheduler.State{}, fmt.Errorf("%w: decode %s: %v", scheduler.ErrNoState, f.path, err)
	}
	return st, nil
}

// SaveSchedule writes the state, creating directories as needed.
func (f *FileStore) SaveSchedule(_ context.Context, st scheduler.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := toml.Marshal(document{Schedule: toRecord(st)})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}

var _ scheduler.StateStore = (*FileStore)(nil)
