// Package checkpoint persists a single best-effort snapshot of run progress.
package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FileName is the canonical snapshot file inside a run directory.
const FileName = "state.json"

// DefaultInterval is the minimum time between periodic saves.
const DefaultInterval = 300 * time.Second

// Snapshot is a point-in-time dump of pipeline progress.
type Snapshot struct {
	Phase          string         `json:"phase"`
	CandidateCount int            `json:"candidate_count"`
	PersonCount    int            `json:"person_count"`
	Metrics        map[string]any `json:"metrics,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	CheckpointTime time.Time      `json:"checkpoint_time"`
}

// Checkpointer atomically saves and restores a Snapshot in a run directory.
// Saves are serialized internally.
type Checkpointer struct {
	dir      string
	interval time.Duration

	mu       sync.Mutex
	lastSave time.Time

	nowFunc func() time.Time
}

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithClock sets the time source used for interval checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Checkpointer) {
		if now != nil {
			c.nowFunc = now
		}
	}
}

// New creates a Checkpointer writing into dir. A non-positive interval uses
// DefaultInterval.
func New(dir string, interval time.Duration, opts ...Option) *Checkpointer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	c := &Checkpointer{dir: dir, interval: interval, nowFunc: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.lastSave = c.nowFunc()
	return c
}

// Path returns the canonical snapshot path.
func (c *Checkpointer) Path() string {
	return filepath.Join(c.dir, FileName)
}

// Save writes s to a temporary file in the run directory and renames it over
// the canonical snapshot, so readers never see a partial write.
func (c *Checkpointer) Save(s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.CheckpointTime = c.nowFunc().UTC()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return eris.Wrap(err, "checkpoint: marshal snapshot")
	}

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return eris.Wrap(err, "checkpoint: create run dir")
	}

	tmp, err := os.CreateTemp(c.dir, ".state-*.tmp")
	if err != nil {
		return eris.Wrap(err, "checkpoint: create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return eris.Wrap(err, "checkpoint: write temp file")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return eris.Wrap(err, "checkpoint: sync temp file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return eris.Wrap(err, "checkpoint: close temp file")
	}
	if err := os.Rename(tmpName, c.Path()); err != nil {
		cleanup()
		return eris.Wrap(err, "checkpoint: rename snapshot")
	}

	c.lastSave = c.nowFunc()
	zap.L().Debug("checkpoint saved",
		zap.String("phase", s.Phase),
		zap.Int("candidates", s.CandidateCount),
		zap.Int("persons", s.PersonCount),
	)
	return nil
}

// Load returns the last saved snapshot. A missing, empty, or malformed file
// reports false and is never an error.
func (c *Checkpointer) Load() (*Snapshot, bool) {
	data, err := os.ReadFile(c.Path())
	if err != nil {
		if !os.IsNotExist(err) {
			zap.L().Warn("checkpoint: read failed", zap.String("path", c.Path()), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 {
		return nil, false
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		zap.L().Warn("checkpoint: malformed snapshot ignored", zap.String("path", c.Path()), zap.Error(err))
		return nil, false
	}
	return &s, true
}

// ShouldCheckpoint reports whether the save interval has elapsed since the
// last successful save.
func (c *Checkpointer) ShouldCheckpoint() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowFunc().Sub(c.lastSave) >= c.interval
}
