package volsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
	"github.com/supervisely-ecosystem/annosync/internal/keymap"
)

// SyncObjects pushes the open volume's segment set to the remote store:
// unsynced segments are created, synced ones get their geometry
// re-uploaded, and segments marked for deletion are removed in one
// batched call at the end. Each confirmed operation is persisted before
// the next one starts, so a crash leaves the durable state describing
// exactly the operations that completed.
//
// Segments the server rejects as invalid are skipped and reported
// together; IO and transport failures abort the pass.
func (s *Session) SyncObjects(ctx context.Context) error {
	if err := s.beginSync(); err != nil {
		return err
	}
	defer s.endSync()
	rejected, err := s.syncObjects(ctx)
	if err != nil {
		return err
	}
	return errors.Join(rejected...)
}

// SyncTags reconciles the volume's tag set with the last-synced
// snapshot: removals first, then additions. A volume whose tag set was
// never touched is a no-op without any remote call.
func (s *Session) SyncTags(ctx context.Context) error {
	if err := s.beginSync(); err != nil {
		return err
	}
	defer s.endSync()
	rejected, err := s.syncTags(ctx)
	if err != nil {
		return err
	}
	return errors.Join(rejected...)
}

// Sync runs the object pass followed by the tag pass.
func (s *Session) Sync(ctx context.Context) error {
	if err := s.beginSync(); err != nil {
		return err
	}
	defer s.endSync()
	rejected, err := s.syncObjects(ctx)
	if err != nil {
		return err
	}
	tagRejected, err := s.syncTags(ctx)
	if err != nil {
		return err
	}
	return errors.Join(append(rejected, tagRejected...)...)
}

func (s *Session) syncObjects(ctx context.Context) ([]error, error) {
	if s.volume == nil {
		return nil, fmt.Errorf("no volume open")
	}
	var rejected []error
	for _, sg := range s.volume.Segmentations {
		for _, segment := range sg.Segments {
			if segment.MarkedForDeletion {
				continue
			}
			var err error
			if segment.Synced() {
				err = s.pushGeometry(ctx, segment, &rejected)
			} else {
				err = s.createSegment(ctx, segment, &rejected)
			}
			if err != nil {
				return rejected, err
			}
		}
	}
	if err := s.removeMarkedSegments(ctx); err != nil {
		return rejected, err
	}
	return rejected, nil
}

// createSegment uploads one unsynced segment. On success the mask file
// is renamed to <figureKey>.nrrd so its on-disk name matches the minted
// identity, the identity map gains the object and figure bindings, and
// the snapshot records the object.
func (s *Session) createSegment(ctx context.Context, segment *annotation.Segment, rejected *[]error) error {
	payload, err := os.ReadFile(segment.LocalPath)
	if err != nil {
		return &IOError{Op: "read mask " + segment.LocalPath, Err: err}
	}
	if len(payload) == 0 {
		*rejected = append(*rejected, &annotation.ValidationError{Entity: segment.Name, Reason: "mask contains no voxels"})
		s.logger.Warn().Str("segment", segment.Name).Msg("skipping empty mask")
		return nil
	}
	class, err := s.meta.ObjectClass(segment.ClassName)
	if err != nil {
		*rejected = append(*rejected, err)
		return nil
	}

	created, err := s.store.CreateObject(ctx, s.volume.ID, class.ID, payload)
	if errors.Is(err, annotation.ErrValidation) {
		*rejected = append(*rejected, err)
		s.logger.Warn().Str("segment", segment.Name).Err(err).Msg("server rejected object")
		return nil
	}
	if err != nil {
		return err
	}

	if err := segment.MarkSynced(created.FigureKey, created.ObjectKey, created.ObjectID); err != nil {
		return err
	}
	if err := s.keys.Bind(keymap.Objects, created.ObjectKey, created.ObjectID); err != nil {
		return err
	}
	if err := s.keys.Bind(keymap.Figures, created.FigureKey, created.FigureID); err != nil {
		return err
	}

	maskFile := created.FigureKey + ".nrrd"
	renamed := filepath.Join(s.volume.MaskDir, maskFile)
	if segment.LocalPath != renamed {
		if err := os.Rename(segment.LocalPath, renamed); err != nil {
			return &IOError{Op: "rename mask to " + renamed, Err: err}
		}
		segment.LocalPath = renamed
	}

	s.doc.AddObject(annotation.ObjectRecord{
		ObjectKey: created.ObjectKey,
		FigureKey: created.FigureKey,
		ClassName: segment.ClassName,
		Name:      segment.Name,
		Color:     segment.Color,
		MaskFile:  maskFile,
	})
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.Info().
		Str("segment", segment.Name).
		Str("figureKey", created.FigureKey).
		Int64("objectId", created.ObjectID).
		Msg("created object")
	return nil
}

func (s *Session) pushGeometry(ctx context.Context, segment *annotation.Segment, rejected *[]error) error {
	payload, err := os.ReadFile(segment.LocalPath)
	if err != nil {
		return &IOError{Op: "read mask " + segment.LocalPath, Err: err}
	}
	if len(payload) == 0 {
		*rejected = append(*rejected, &annotation.ValidationError{Entity: segment.Name, Reason: "mask contains no voxels"})
		return nil
	}
	err = s.store.UpdateObjectGeometry(ctx, segment.FigureKey, payload)
	if errors.Is(err, annotation.ErrValidation) {
		*rejected = append(*rejected, err)
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Debug().Str("figureKey", segment.FigureKey).Msg("updated geometry")
	return nil
}

// removeMarkedSegments deletes every segment marked for deletion in one
// batched call, then unbinds their identities and drops them from the
// model and the snapshot.
func (s *Session) removeMarkedSegments(ctx context.Context) error {
	type marked struct {
		sg      *annotation.Segmentation
		segment *annotation.Segment
	}
	var toRemove []marked
	var ids []int64
	for _, sg := range s.volume.Segmentations {
		for _, segment := range sg.Segments {
			if segment.MarkedForDeletion {
				toRemove = append(toRemove, marked{sg: sg, segment: segment})
				ids = append(ids, segment.ObjectID)
			}
		}
	}
	if len(toRemove) == 0 {
		return nil
	}
	if err := s.store.RemoveObjects(ctx, ids); err != nil {
		return err
	}
	for _, entry := range toRemove {
		s.keys.Unbind(keymap.Objects, entry.segment.ObjectKey)
		s.keys.Unbind(keymap.Figures, entry.segment.FigureKey)
		s.doc.RemoveObject(entry.segment.ObjectKey)
		entry.sg.DropSegment(entry.segment)
	}
	if err := s.persist(); err != nil {
		return err
	}
	s.logger.Info().Ints64("objectIds", ids).Msg("removed objects")
	return nil
}

func (s *Session) syncTags(ctx context.Context) ([]error, error) {
	if s.volume == nil {
		return nil, fmt.Errorf("no volume open")
	}
	if !s.volume.TagsDirty() {
		return nil, nil
	}
	diff := annotation.DiffTags(s.volume.Tags, s.doc.SyncedTags())

	for _, tag := range diff.ToRemove {
		record, ok := s.doc.TagByPair(tag.Pair())
		if !ok {
			continue
		}
		tagID, ok := s.keys.Resolve(keymap.Tags, record.Key)
		if !ok {
			return nil, fmt.Errorf("tag key %s missing from identity map", record.Key)
		}
		if err := s.store.RemoveTag(ctx, tagID); err != nil {
			return nil, err
		}
		s.keys.Unbind(keymap.Tags, record.Key)
		s.doc.RemoveTag(record.Key)
		if err := s.persist(); err != nil {
			return nil, err
		}
		s.logger.Info().Str("tag", tag.Name).Int64("tagId", tagID).Msg("removed tag")
	}

	var rejected []error
	for _, tag := range diff.ToAdd {
		schema, err := s.meta.TagSchema(tag.Name)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		if err := schema.Validate(tag.Value); err != nil {
			rejected = append(rejected, err)
			continue
		}
		tagID, err := s.store.CreateTag(ctx, s.volume.ID, schema.RemoteID, tag.Value)
		if errors.Is(err, annotation.ErrValidation) {
			rejected = append(rejected, err)
			continue
		}
		if err != nil {
			return rejected, err
		}
		key := uuid.NewString()
		if err := s.keys.Bind(keymap.Tags, key, tagID); err != nil {
			return rejected, err
		}
		s.doc.AddTag(annotation.TagRecord{Key: key, Name: tag.Name, SchemaType: schema.ValueType, Value: tag.Value})
		if err := s.persist(); err != nil {
			return rejected, err
		}
		s.logger.Info().Str("tag", tag.Name).Int64("tagId", tagID).Msg("created tag")
	}

	// Rejected additions stay pending: the dirty flag survives so the
	// next pass retries them.
	if len(rejected) == 0 {
		s.volume.ClearTagsDirty()
	}
	return rejected, nil
}
