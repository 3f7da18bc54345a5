package annotation

import "fmt"

// Color is a presentation attribute, not identity.
type Color [3]uint8

// SegmentState is the explicit sync lifecycle of a segment. A segment is
// either unsynced (exists only locally) or synced (its figure and object
// keys were minted by the remote store).
type SegmentState int

const (
	SegmentUnsynced SegmentState = iota
	SegmentSynced
)

// Segment is one mask object within a segmentation class. The mask
// payload itself lives on disk at LocalPath; the model tracks only
// identity and lifecycle.
type Segment struct {
	Name      string
	ClassName string
	Color     Color
	LocalPath string

	State     SegmentState
	FigureKey string
	ObjectKey string
	ObjectID  int64

	// MarkedForDeletion is set when the segment was removed from the
	// working set but still exists server-side. Only synced segments
	// can carry it: an unsynced segment is simply discarded.
	MarkedForDeletion bool
}

// NewLocalSegment creates a segment that exists only locally. It has no
// remote identity until SyncObjects uploads it.
func NewLocalSegment(name, className, localPath string, color Color) *Segment {
	return &Segment{
		Name:      name,
		ClassName: className,
		Color:     color,
		LocalPath: localPath,
		State:     SegmentUnsynced,
	}
}

// NewSyncedSegment restores a segment whose remote identity is already
// known, typically from a persisted snapshot.
func NewSyncedSegment(name, className, localPath string, color Color, figureKey, objectKey string, objectID int64) *Segment {
	return &Segment{
		Name:      name,
		ClassName: className,
		Color:     color,
		LocalPath: localPath,
		State:     SegmentSynced,
		FigureKey: figureKey,
		ObjectKey: objectKey,
		ObjectID:  objectID,
	}
}

func (s *Segment) Synced() bool { return s.State == SegmentSynced }

// MarkSynced records the identity minted by the remote store. It is an
// error to mint a second identity for an already-synced segment.
func (s *Segment) MarkSynced(figureKey, objectKey string, objectID int64) error {
	if s.Synced() {
		return &ConflictError{Entity: s.Name, Reason: "segment already has a remote identity"}
	}
	s.State = SegmentSynced
	s.FigureKey = figureKey
	s.ObjectKey = objectKey
	s.ObjectID = objectID
	return nil
}

// MarkForDeletion flags a synced segment for server-side removal.
// Unsynced segments have nothing to delete remotely.
func (s *Segment) MarkForDeletion() error {
	if !s.Synced() {
		return &ValidationError{Entity: s.Name, Reason: "segment was never created remotely"}
	}
	s.MarkedForDeletion = true
	return nil
}

// Segmentation is a named class of segments sharing one geometry
// reference. Segment order matters only for display.
type Segmentation struct {
	Name     string
	Segments []*Segment
}

func NewSegmentation(name string) *Segmentation {
	return &Segmentation{Name: name}
}

// AppendSegment adds a segment, enforcing identity uniqueness: synced
// segments by figure key, unsynced ones by object reference.
func (sg *Segmentation) AppendSegment(segment *Segment) error {
	for _, existing := range sg.Segments {
		if existing == segment {
			return &ConflictError{Entity: segment.Name, Reason: "segment already present"}
		}
		if segment.Synced() && existing.Synced() && existing.FigureKey == segment.FigureKey {
			return &ConflictError{
				Entity: segment.Name,
				Reason: fmt.Sprintf("figure key %s already present in segmentation %s", segment.FigureKey, sg.Name),
			}
		}
	}
	sg.Segments = append(sg.Segments, segment)
	return nil
}

// RemoveSegment takes a segment out of the working set. A synced segment
// is kept and marked for deletion so the sync executor can remove it
// server-side first; an unsynced one is discarded immediately.
func (sg *Segmentation) RemoveSegment(segment *Segment) error {
	for i, existing := range sg.Segments {
		if existing != segment {
			continue
		}
		if !segment.Synced() {
			sg.Segments = append(sg.Segments[:i], sg.Segments[i+1:]...)
			return nil
		}
		return segment.MarkForDeletion()
	}
	return &ValidationError{Entity: segment.Name, Reason: "segment not in segmentation"}
}

// DropSegment removes a segment outright, after a successful remote
// deletion.
func (sg *Segmentation) DropSegment(segment *Segment) {
	for i, existing := range sg.Segments {
		if existing == segment {
			sg.Segments = append(sg.Segments[:i], sg.Segments[i+1:]...)
			return
		}
	}
}

func (sg *Segmentation) SegmentByFigureKey(figureKey string) *Segment {
	for _, segment := range sg.Segments {
		if segment.Synced() && segment.FigureKey == figureKey {
			return segment
		}
	}
	return nil
}

func (sg *Segmentation) SegmentNames() []string {
	names := make([]string, 0, len(sg.Segments))
	for _, segment := range sg.Segments {
		names = append(names, segment.Name)
	}
	return names
}
