// Package storage persists a working directory's reconciliation state:
// the per-volume annotation snapshots and the key/id map. Backends are
// pluggable by DSN scheme; the JSON file backend mirrors the on-disk
// layout of a downloaded project (ann/<volume>.json + key_id_map.json).
package storage

import (
	"errors"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
	"github.com/supervisely-ecosystem/annosync/internal/keymap"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// WorkdirState is the durable state of one working directory. Each save
// happens right after a confirmed remote operation, never speculatively,
// so a reloaded state always describes operations that completed.
type WorkdirState struct {
	Annotations map[string]annotation.VolumeDocument `json:"annotations"`
	KeyMap      keymap.Document                      `json:"keyIdMap"`
}

func NewWorkdirState() *WorkdirState {
	return &WorkdirState{
		Annotations: map[string]annotation.VolumeDocument{},
		KeyMap:      keymap.New().Dump(),
	}
}

func (s *WorkdirState) normalize() {
	if s.Annotations == nil {
		s.Annotations = map[string]annotation.VolumeDocument{}
	}
	if s.KeyMap.Objects == nil {
		s.KeyMap.Objects = map[string]int64{}
	}
	if s.KeyMap.Figures == nil {
		s.KeyMap.Figures = map[string]int64{}
	}
	if s.KeyMap.Tags == nil {
		s.KeyMap.Tags = map[string]int64{}
	}
}

// StateBackend loads and saves workdir state. Load returns (nil, nil)
// when no state was ever saved.
type StateBackend interface {
	Load() (*WorkdirState, error)
	Save(state *WorkdirState) error
}
