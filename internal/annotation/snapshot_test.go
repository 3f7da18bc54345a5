package annotation

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotObjectRecordLifecycle(t *testing.T) {
	doc := VolumeDocument{VolumeName: "CT001", VolumeID: 1}
	doc.AddObject(ObjectRecord{ObjectKey: "obj_a", FigureKey: "fig_a", ClassName: "lesion", Name: "lesion_1", MaskFile: "fig_a.nrrd"})
	doc.AddObject(ObjectRecord{ObjectKey: "obj_b", FigureKey: "fig_b", ClassName: "lesion", Name: "lesion_2", MaskFile: "fig_b.nrrd"})

	record, ok := doc.ObjectByFigureKey("fig_b")
	require.True(t, ok)
	assert.Equal(t, "obj_b", record.ObjectKey)

	doc.RemoveObject("obj_a")
	require.Len(t, doc.Objects, 1)
	_, ok = doc.ObjectByFigureKey("fig_a")
	assert.False(t, ok)
}

func TestSnapshotTagSection(t *testing.T) {
	doc := VolumeDocument{VolumeName: "CT001"}
	doc.SetTags([]TagRecord{
		{Key: "k1", Name: "Reviewed", SchemaType: ValueTypeNone, Value: NoValue()},
		{Key: "k2", Name: "Comment", SchemaType: ValueTypeString, Value: StringValue("ok")},
	})

	record, ok := doc.TagByPair(Pair{Name: "Comment", Value: StringValue("ok")})
	require.True(t, ok)
	assert.Equal(t, "k2", record.Key)

	doc.RemoveTag("k1")
	assert.Len(t, doc.Tags, 1)

	tags := doc.SyncedTags()
	require.Len(t, tags, 1)
	assert.Equal(t, tagS("Comment", "ok"), tags[0])
}

func TestRestoreVolumeResolvesThroughKeyMap(t *testing.T) {
	doc := VolumeDocument{VolumeName: "CT001", VolumeID: 7}
	doc.AddObject(ObjectRecord{ObjectKey: "obj_a", FigureKey: "fig_a", ClassName: "lesion", Name: "lesion_1", MaskFile: "fig_a.nrrd"})
	doc.SetTags([]TagRecord{{Key: "k1", Name: "Reviewed", SchemaType: ValueTypeNone, Value: NoValue()}})

	ids := map[string]int64{"obj_a": 42}
	volume, err := RestoreVolume(doc, "/data/mask/CT001", func(objectKey string) (int64, bool) {
		id, ok := ids[objectKey]
		return id, ok
	})
	require.NoError(t, err)

	sg := volume.SegmentationByName("lesion")
	require.NotNil(t, sg)
	require.Len(t, sg.Segments, 1)
	segment := sg.Segments[0]
	assert.True(t, segment.Synced())
	assert.Equal(t, int64(42), segment.ObjectID)
	assert.Equal(t, filepath.Join("/data/mask/CT001", "fig_a.nrrd"), segment.LocalPath)
	assert.Len(t, volume.Tags, 1)
	assert.False(t, volume.TagsDirty())
}

func TestRestoreVolumeFailsOnUnresolvedObjectKey(t *testing.T) {
	doc := VolumeDocument{VolumeName: "CT001"}
	doc.AddObject(ObjectRecord{ObjectKey: "obj_missing", FigureKey: "fig_a", ClassName: "lesion", Name: "lesion_1"})

	_, err := RestoreVolume(doc, "", func(string) (int64, bool) { return 0, false })
	assert.ErrorIs(t, err, ErrValidation)
}
