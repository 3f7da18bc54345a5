package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignTagRejectsDuplicatePair(t *testing.T) {
	volume := NewVolume("CT001", 1, "")
	require.NoError(t, volume.AssignTag(tagS("Comment", "ok")))
	assert.ErrorIs(t, volume.AssignTag(tagS("Comment", "ok")), ErrConflict)

	// same name with a different value is a distinct pair
	require.NoError(t, volume.AssignTag(tagS("Comment", "redo")))
	assert.Len(t, volume.Tags, 2)
}

func TestTagToggleLeavesDirtyFlagSet(t *testing.T) {
	volume := NewVolume("CT001", 1, "")
	require.False(t, volume.TagsDirty())

	require.NoError(t, volume.AssignTag(tagN("Reviewed")))
	volume.RemoveTag("Reviewed", NoValue())

	assert.Empty(t, volume.Tags)
	assert.True(t, volume.TagsDirty(), "toggled tag must leave the dirty flag set")
	assert.True(t, DiffTags(volume.Tags, nil).Empty(), "diff against empty snapshot must be empty")
}

func TestRemoveTagAbsentPairStillMarksDirty(t *testing.T) {
	volume := NewVolume("CT001", 1, "")
	volume.RemoveTag("Reviewed", NoValue())
	assert.True(t, volume.TagsDirty())
}

func TestPopulateInstantiatesUnknownWorkingSegments(t *testing.T) {
	volume := NewVolume("CT001", 1, "/data/mask/CT001")
	require.NoError(t, volume.Populate([]WorkingSegment{
		{Segmentation: "lesion", Name: "lesion_1", LocalPath: "/data/mask/CT001/lesion_1.nrrd"},
	}))

	sg := volume.SegmentationByName("lesion")
	require.NotNil(t, sg)
	require.Len(t, sg.Segments, 1)
	assert.False(t, sg.Segments[0].Synced())
	assert.Equal(t, "lesion_1", sg.Segments[0].Name)
}

func TestPopulateMarksVanishedSyncedSegments(t *testing.T) {
	volume := NewVolume("CT001", 1, "/data/mask/CT001")
	synced := NewSyncedSegment("lesion_1", "lesion", "/data/mask/CT001/fig_a.nrrd", Color{}, "fig_a", "obj_a", 10)
	require.NoError(t, volume.AddSegment("lesion", synced))

	require.NoError(t, volume.Populate(nil))

	sg := volume.SegmentationByName("lesion")
	require.Len(t, sg.Segments, 1)
	assert.True(t, sg.Segments[0].MarkedForDeletion)
}

func TestPopulateDropsVanishedUnsyncedSegments(t *testing.T) {
	volume := NewVolume("CT001", 1, "")
	local := NewLocalSegment("draft", "lesion", "/tmp/draft.nrrd", Color{})
	require.NoError(t, volume.AddSegment("lesion", local))

	require.NoError(t, volume.Populate(nil))

	assert.Empty(t, volume.SegmentationByName("lesion").Segments)
}

func TestPopulateMatchesByFigureKeyThenPath(t *testing.T) {
	volume := NewVolume("CT001", 1, "")
	synced := NewSyncedSegment("lesion_1", "lesion", "/m/fig_a.nrrd", Color{}, "fig_a", "obj_a", 10)
	local := NewLocalSegment("draft", "lesion", "/m/draft.nrrd", Color{})
	require.NoError(t, volume.AddSegment("lesion", synced))
	require.NoError(t, volume.AddSegment("lesion", local))

	require.NoError(t, volume.Populate([]WorkingSegment{
		{Segmentation: "lesion", Name: "renamed", FigureKey: "fig_a"},
		{Segmentation: "lesion", Name: "draft", LocalPath: "/m/draft.nrrd"},
	}))

	sg := volume.SegmentationByName("lesion")
	require.Len(t, sg.Segments, 2)
	assert.False(t, sg.Segments[0].MarkedForDeletion)
	assert.False(t, sg.Segments[1].MarkedForDeletion)
}
