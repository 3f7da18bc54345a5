package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
)

func TestJSONFileBackendLoadMissingStateReturnsNil(t *testing.T) {
	backend := NewJSONFileBackend(t.TempDir())
	state, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected nil state for empty workdir, got %+v", state)
	}
}

func TestJSONFileBackendSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend := NewJSONFileBackend(dir)

	state := NewWorkdirState()
	doc := annotation.VolumeDocument{VolumeName: "CT001", VolumeID: 7}
	doc.AddObject(annotation.ObjectRecord{
		ObjectKey: "obj_a",
		FigureKey: "fig_a",
		ClassName: "lesion",
		Name:      "lesion_1",
		MaskFile:  "fig_a.nrrd",
	})
	doc.SetTags([]annotation.TagRecord{
		{Key: "tag_k", Name: "Reviewed", SchemaType: annotation.ValueTypeNone, Value: annotation.NoValue()},
	})
	state.Annotations["CT001"] = doc
	state.KeyMap.Objects["obj_a"] = 10
	state.KeyMap.Figures["fig_a"] = 20
	state.KeyMap.Tags["tag_k"] = 30

	if err := backend.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, file := range []string{
		filepath.Join(dir, "key_id_map.json"),
		filepath.Join(dir, "ann", "CT001.json"),
	} {
		if _, err := os.Stat(file); err != nil {
			t.Fatalf("expected %s to exist: %v", file, err)
		}
	}

	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded == nil {
		t.Fatalf("expected state after save")
	}
	loadedDoc, ok := loaded.Annotations["CT001"]
	if !ok {
		t.Fatalf("expected CT001 snapshot, got %v", loaded.Annotations)
	}
	if len(loadedDoc.Objects) != 1 || loadedDoc.Objects[0].FigureKey != "fig_a" {
		t.Fatalf("object record lost in round trip: %+v", loadedDoc.Objects)
	}
	if len(loadedDoc.Tags) != 1 || !loadedDoc.Tags[0].Value.IsNone() {
		t.Fatalf("tag record lost in round trip: %+v", loadedDoc.Tags)
	}
	if loaded.KeyMap.Objects["obj_a"] != 10 || loaded.KeyMap.Figures["fig_a"] != 20 || loaded.KeyMap.Tags["tag_k"] != 30 {
		t.Fatalf("key map lost in round trip: %+v", loaded.KeyMap)
	}
}

func TestJSONFileBackendSaveRemovesDroppedVolumes(t *testing.T) {
	dir := t.TempDir()
	backend := NewJSONFileBackend(dir)

	state := NewWorkdirState()
	state.Annotations["CT001"] = annotation.VolumeDocument{VolumeName: "CT001"}
	state.Annotations["CT002"] = annotation.VolumeDocument{VolumeName: "CT002"}
	if err := backend.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	delete(state.Annotations, "CT002")
	if err := backend.Save(state); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ann", "CT002.json")); !os.IsNotExist(err) {
		t.Fatalf("expected CT002 snapshot to be removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "ann", "CT001.json")); err != nil {
		t.Fatalf("expected CT001 snapshot to remain: %v", err)
	}
}

func TestInMemoryBackendClonesState(t *testing.T) {
	backend := NewInMemoryStateBackend()
	state := NewWorkdirState()
	state.KeyMap.Objects["obj_a"] = 1
	if err := backend.Save(state); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	state.KeyMap.Objects["obj_a"] = 99
	loaded, err := backend.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.KeyMap.Objects["obj_a"] != 1 {
		t.Fatalf("backend leaked caller mutation: %+v", loaded.KeyMap.Objects)
	}
}
