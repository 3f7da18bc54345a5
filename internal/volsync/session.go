package volsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/supervisely-ecosystem/annosync/internal/annotation"
	"github.com/supervisely-ecosystem/annosync/internal/keymap"
	"github.com/supervisely-ecosystem/annosync/internal/remote"
	"github.com/supervisely-ecosystem/annosync/internal/storage"
)

type SessionOptions struct {
	Workdir string
	// Backend overrides the default JSON file backend rooted at Workdir.
	Backend storage.StateBackend
	Store   remote.Store
	Meta    *remote.Meta
	// Logger is optional; nil disables logging.
	Logger *zerolog.Logger
}

// Session owns one working directory: the identity map, the persisted
// annotation snapshots, and the volume currently open for editing. All
// edits stay in memory until a sync pass confirms them remotely.
// Edits and sync are mutually exclusive: every mutation returns ErrBusy
// while a pass is running.
type Session struct {
	workdir string
	maskDir string
	backend storage.StateBackend
	store   remote.Store
	meta    *remote.Meta
	logger  zerolog.Logger

	mu   sync.Mutex
	busy bool

	keys   *keymap.Map
	state  *storage.WorkdirState
	volume *annotation.Volume
	doc    *annotation.VolumeDocument
}

func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("remote store is required")
	}
	if opts.Meta == nil {
		return nil, fmt.Errorf("project meta is required")
	}
	workdirRaw := strings.TrimSpace(opts.Workdir)
	if workdirRaw == "" {
		return nil, fmt.Errorf("workdir is required")
	}
	workdir := filepath.Clean(workdirRaw)
	maskDir := filepath.Join(workdir, "masks")
	for _, dir := range []string{workdir, maskDir, filepath.Join(workdir, "ann")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &IOError{Op: "create " + dir, Err: err}
		}
	}
	backend := opts.Backend
	if backend == nil {
		backend = storage.NewJSONFileBackend(workdir)
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	state, err := backend.Load()
	if err != nil {
		return nil, &IOError{Op: "load state", Err: err}
	}
	if state == nil {
		state = storage.NewWorkdirState()
	}

	return &Session{
		workdir: workdir,
		maskDir: maskDir,
		backend: backend,
		store:   opts.Store,
		meta:    opts.Meta,
		logger:  logger,
		keys:    keymap.Load(state.KeyMap),
		state:   state,
	}, nil
}

func (s *Session) Workdir() string { return s.workdir }
func (s *Session) MaskDir() string { return s.maskDir }

// OpenVolume loads the named volume for editing, restoring its synced
// segments and tag set from the persisted snapshot when one exists.
func (s *Session) OpenVolume(name string, volumeID int64) (*annotation.Volume, error) {
	if err := s.ensureIdle(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("volume name is required")
	}
	if doc, ok := s.state.Annotations[name]; ok {
		volume, err := annotation.RestoreVolume(doc, s.maskDir, func(objectKey string) (int64, bool) {
			return s.keys.Resolve(keymap.Objects, objectKey)
		})
		if err != nil {
			return nil, err
		}
		s.volume = volume
		s.doc = &doc
		return volume, nil
	}
	s.volume = annotation.NewVolume(name, volumeID, s.maskDir)
	s.doc = &annotation.VolumeDocument{VolumeName: name, VolumeID: volumeID}
	return s.volume, nil
}

func (s *Session) Volume() *annotation.Volume { return s.volume }

// AddSegment creates a fresh local segment under the named class. The
// class must be declared mask_3d in the project meta; the segment takes
// the class color.
func (s *Session) AddSegment(className, name, localPath string) (*annotation.Segment, error) {
	if err := s.ensureIdle(); err != nil {
		return nil, err
	}
	if s.volume == nil {
		return nil, fmt.Errorf("no volume open")
	}
	class, err := s.meta.ObjectClass(className)
	if err != nil {
		return nil, err
	}
	segment := annotation.NewLocalSegment(name, className, localPath, class.Color)
	if err := s.volume.AddSegment(className, segment); err != nil {
		return nil, err
	}
	return segment, nil
}

func (s *Session) RemoveSegment(segment *annotation.Segment) error {
	if err := s.ensureIdle(); err != nil {
		return err
	}
	if s.volume == nil {
		return fmt.Errorf("no volume open")
	}
	return s.volume.RemoveSegment(segment)
}

// PopulateWorkingSet reconciles the open volume against the editor's
// authoritative segment listing.
func (s *Session) PopulateWorkingSet(working []annotation.WorkingSegment) error {
	if err := s.ensureIdle(); err != nil {
		return err
	}
	if s.volume == nil {
		return fmt.Errorf("no volume open")
	}
	return s.volume.Populate(working)
}

// AssignTag validates the (name, value) pair against the project meta
// and appends it to the open volume's tag set.
func (s *Session) AssignTag(name string, value annotation.TagValue) error {
	if err := s.ensureIdle(); err != nil {
		return err
	}
	if s.volume == nil {
		return fmt.Errorf("no volume open")
	}
	schema, err := s.meta.TagSchema(name)
	if err != nil {
		return err
	}
	if err := schema.Validate(value); err != nil {
		return err
	}
	return s.volume.AssignTag(annotation.Tag{Name: name, SchemaType: schema.ValueType, Value: value})
}

func (s *Session) RemoveTag(name string, value annotation.TagValue) error {
	if err := s.ensureIdle(); err != nil {
		return err
	}
	if s.volume == nil {
		return fmt.Errorf("no volume open")
	}
	s.volume.RemoveTag(name, value)
	return nil
}

// ReviewCounts projects the review progress of a job from the remote
// entity listing.
func (s *Session) ReviewCounts(ctx context.Context, jobID int64) (annotation.Counts, error) {
	entities, err := s.store.ListEntities(ctx, jobID)
	if err != nil {
		return annotation.Counts{}, err
	}
	for _, entity := range entities {
		if _, known := annotation.StatusIcon(entity.ReviewStatus); !known {
			s.logger.Warn().
				Str("entity", entity.Name).
				Str("status", entity.ReviewStatus).
				Msg("unknown review status")
		}
	}
	return annotation.ComputeCounts(entities), nil
}

func (s *Session) SetReviewStatus(ctx context.Context, jobID, entityID int64, status annotation.ReviewStatus) error {
	return s.store.SetEntityReviewStatus(ctx, jobID, entityID, status)
}

// AdvanceJob moves a job to the next lifecycle state after checking the
// transition is a legal forward move.
func (s *Session) AdvanceJob(ctx context.Context, jobID int64, next annotation.JobStatus) error {
	current, err := s.store.JobStatus(ctx, jobID)
	if err != nil {
		return err
	}
	if !annotation.CanTransitionJob(current, next) {
		return &annotation.ValidationError{
			Entity: fmt.Sprintf("job %d", jobID),
			Reason: fmt.Sprintf("cannot move from %s to %s", current, next),
		}
	}
	return s.store.SetJobStatus(ctx, jobID, next)
}

// ensureIdle rejects edits while a sync pass holds the busy flag.
func (s *Session) ensureIdle() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	return nil
}

func (s *Session) beginSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

func (s *Session) endSync() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// persist writes the identity map and the open volume's snapshot
// through the state backend. Called after every confirmed remote
// operation, so the durable state never runs ahead of the server.
func (s *Session) persist() error {
	s.state.KeyMap = s.keys.Dump()
	if s.doc != nil {
		s.state.Annotations[s.doc.VolumeName] = *s.doc
	}
	if err := s.backend.Save(s.state); err != nil {
		return &IOError{Op: "save state", Err: err}
	}
	return nil
}
