package annotation

import "fmt"

// Volume is the reviewable unit: a set of segmentations plus volume
// tags. Mutations are in-memory only; the sync executor owns every
// remote call and every durable write.
type Volume struct {
	Name    string
	ID      int64
	MaskDir string

	Segmentations []*Segmentation
	Tags          []Tag

	tagsDirty bool
}

func NewVolume(name string, id int64, maskDir string) *Volume {
	return &Volume{Name: name, ID: id, MaskDir: maskDir}
}

func (v *Volume) AddSegmentation(sg *Segmentation) {
	v.Segmentations = append(v.Segmentations, sg)
}

func (v *Volume) SegmentationByName(name string) *Segmentation {
	for _, sg := range v.Segmentations {
		if sg.Name == name {
			return sg
		}
	}
	return nil
}

// EnsureSegmentation returns the named segmentation, creating it when
// the volume does not have one yet.
func (v *Volume) EnsureSegmentation(name string) *Segmentation {
	if sg := v.SegmentationByName(name); sg != nil {
		return sg
	}
	sg := NewSegmentation(name)
	v.Segmentations = append(v.Segmentations, sg)
	return sg
}

// AddSegment places a new segment into the named segmentation.
func (v *Volume) AddSegment(segmentationName string, segment *Segment) error {
	return v.EnsureSegmentation(segmentationName).AppendSegment(segment)
}

// RemoveSegment discards an unsynced segment or marks a synced one for
// server-side deletion.
func (v *Volume) RemoveSegment(segment *Segment) error {
	for _, sg := range v.Segmentations {
		for _, existing := range sg.Segments {
			if existing == segment {
				return sg.RemoveSegment(segment)
			}
		}
	}
	return &ValidationError{Entity: segment.Name, Reason: "segment not in volume"}
}

// AssignTag appends a tag to the volume's tag set. Names may repeat;
// (name, value) pairs may not.
func (v *Volume) AssignTag(tag Tag) error {
	for _, existing := range v.Tags {
		if existing.Pair() == tag.Pair() {
			return &ConflictError{
				Entity: tag.Name,
				Reason: fmt.Sprintf("tag %s=%s already assigned", tag.Name, tag.Value),
			}
		}
	}
	v.Tags = append(v.Tags, tag)
	v.tagsDirty = true
	return nil
}

// RemoveTag drops the (name, value) pair from the tag set. Removing an
// absent pair still marks the tag set dirty; the diff against the
// last-synced snapshot decides whether any remote call is needed.
func (v *Volume) RemoveTag(name string, value TagValue) {
	pair := Pair{Name: name, Value: value}
	kept := v.Tags[:0]
	for _, tag := range v.Tags {
		if tag.Pair() != pair {
			kept = append(kept, tag)
		}
	}
	v.Tags = kept
	v.tagsDirty = true
}

func (v *Volume) TagsDirty() bool { return v.tagsDirty }

// ClearTagsDirty is called by the sync executor after a successful tag
// pass, never by edits.
func (v *Volume) ClearTagsDirty() { v.tagsDirty = false }

// WorkingSegment is one entry of the authoritative current working set,
// as reported by the editing collaborator. FigureKey is set when the
// entry corresponds to a previously synced segment.
type WorkingSegment struct {
	Segmentation string
	Name         string
	LocalPath    string
	FigureKey    string
	Color        Color
}

// Populate reconciles the in-memory segment set with the authoritative
// working listing: tracked segments that vanished from the listing are
// marked for deletion (or discarded when never synced), and listing
// entries with no tracked counterpart become fresh unsynced segments.
func (v *Volume) Populate(working []WorkingSegment) error {
	seen := map[*Segment]bool{}
	for _, entry := range working {
		sg := v.EnsureSegmentation(entry.Segmentation)
		segment := v.matchWorkingSegment(sg, entry)
		if segment == nil {
			segment = NewLocalSegment(entry.Name, sg.Name, entry.LocalPath, entry.Color)
			if err := sg.AppendSegment(segment); err != nil {
				return err
			}
		}
		seen[segment] = true
	}

	for _, sg := range v.Segmentations {
		kept := sg.Segments[:0]
		for _, segment := range sg.Segments {
			if seen[segment] || segment.MarkedForDeletion {
				kept = append(kept, segment)
				continue
			}
			if !segment.Synced() {
				continue // dropped: never existed remotely
			}
			if err := segment.MarkForDeletion(); err != nil {
				return err
			}
			kept = append(kept, segment)
		}
		sg.Segments = kept
	}
	return nil
}

func (v *Volume) matchWorkingSegment(sg *Segmentation, entry WorkingSegment) *Segment {
	if entry.FigureKey != "" {
		if segment := sg.SegmentByFigureKey(entry.FigureKey); segment != nil {
			return segment
		}
	}
	for _, segment := range sg.Segments {
		if entry.LocalPath != "" && segment.LocalPath == entry.LocalPath {
			return segment
		}
	}
	return nil
}
