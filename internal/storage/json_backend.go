package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
	"github.com/supervisely-ecosystem/annosync/internal/keymap"
)

const (
	keyMapFileName = "key_id_map.json"
	annDirName     = "ann"
)

// JSONFileBackend stores workdir state as plain JSON files inside the
// working directory: ann/<volume>.json per volume plus key_id_map.json.
// Every file is replaced atomically so a crash mid-save never leaves a
// torn document behind.
type JSONFileBackend struct {
	dir string
}

func NewJSONFileBackend(dir string) *JSONFileBackend {
	return &JSONFileBackend{dir: filepath.Clean(dir)}
}

func (b *JSONFileBackend) Dir() string { return b.dir }

func (b *JSONFileBackend) Load() (*WorkdirState, error) {
	keyMapData, err := os.ReadFile(filepath.Join(b.dir, keyMapFileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := NewWorkdirState()
	var doc keymap.Document
	if err := json.Unmarshal(keyMapData, &doc); err != nil {
		return nil, err
	}
	state.KeyMap = doc

	annDir := filepath.Join(b.dir, annDirName)
	entries, err := os.ReadDir(annDir)
	if errors.Is(err, os.ErrNotExist) {
		state.normalize()
		return state, nil
	}
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(annDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		var volumeDoc annotation.VolumeDocument
		if err := json.Unmarshal(data, &volumeDoc); err != nil {
			return nil, err
		}
		name := volumeDoc.VolumeName
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ".json")
		}
		state.Annotations[name] = volumeDoc
	}
	state.normalize()
	return state, nil
}

func (b *JSONFileBackend) Save(state *WorkdirState) error {
	if state == nil {
		return nil
	}
	state.normalize()
	annDir := filepath.Join(b.dir, annDirName)
	if err := os.MkdirAll(annDir, 0o755); err != nil {
		return err
	}
	for name, volumeDoc := range state.Annotations {
		data, err := json.MarshalIndent(volumeDoc, "", "  ")
		if err != nil {
			return err
		}
		if err := writeFileAtomic(filepath.Join(annDir, name+".json"), data, 0o644); err != nil {
			return err
		}
	}
	// drop snapshots for volumes no longer tracked
	entries, err := os.ReadDir(annDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if _, ok := state.Annotations[name]; !ok {
			if err := os.Remove(filepath.Join(annDir, entry.Name())); err != nil {
				return err
			}
		}
	}

	keyMapData, err := json.MarshalIndent(state.KeyMap, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(b.dir, keyMapFileName), keyMapData, 0o644)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
