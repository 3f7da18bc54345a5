package annotation

import "path/filepath"

// VolumeDocument is the persisted annotation snapshot for one volume:
// the last state known to match the remote store. The sync executor
// updates it right after each confirmed remote operation, so after a
// crash it describes exactly the operations that completed.
type VolumeDocument struct {
	VolumeName string         `json:"volumeName"`
	VolumeID   int64          `json:"volumeId"`
	Objects    []ObjectRecord `json:"objects"`
	Tags       []TagRecord    `json:"tags"`
}

// ObjectRecord is one synced mask object. Ids live in the key map, not
// here; records carry keys only.
type ObjectRecord struct {
	ObjectKey string `json:"objectKey"`
	FigureKey string `json:"figureKey"`
	ClassName string `json:"className"`
	Name      string `json:"name"`
	Color     Color  `json:"color"`
	MaskFile  string `json:"maskFile"`
}

// TagRecord is one synced volume tag.
type TagRecord struct {
	Key        string       `json:"key"`
	Name       string       `json:"name"`
	SchemaType TagValueType `json:"schemaType"`
	Value      TagValue     `json:"value"`
}

func (d *VolumeDocument) AddObject(record ObjectRecord) {
	d.Objects = append(d.Objects, record)
}

func (d *VolumeDocument) RemoveObject(objectKey string) {
	kept := d.Objects[:0]
	for _, record := range d.Objects {
		if record.ObjectKey != objectKey {
			kept = append(kept, record)
		}
	}
	d.Objects = kept
}

func (d *VolumeDocument) ObjectByFigureKey(figureKey string) (ObjectRecord, bool) {
	for _, record := range d.Objects {
		if record.FigureKey == figureKey {
			return record, true
		}
	}
	return ObjectRecord{}, false
}

// SetTags replaces the synced tag section with the net tag set after a
// tag pass.
func (d *VolumeDocument) SetTags(records []TagRecord) {
	d.Tags = append([]TagRecord(nil), records...)
}

func (d *VolumeDocument) AddTag(record TagRecord) {
	d.Tags = append(d.Tags, record)
}

func (d *VolumeDocument) RemoveTag(key string) {
	kept := d.Tags[:0]
	for _, record := range d.Tags {
		if record.Key != key {
			kept = append(kept, record)
		}
	}
	d.Tags = kept
}

func (d *VolumeDocument) TagByPair(pair Pair) (TagRecord, bool) {
	for _, record := range d.Tags {
		if (Pair{Name: record.Name, Value: record.Value}) == pair {
			return record, true
		}
	}
	return TagRecord{}, false
}

// SyncedTags converts the snapshot's tag section into model tags, the
// "last synced" side of the tag diff.
func (d *VolumeDocument) SyncedTags() []Tag {
	tags := make([]Tag, 0, len(d.Tags))
	for _, record := range d.Tags {
		tags = append(tags, Tag{Name: record.Name, SchemaType: record.SchemaType, Value: record.Value})
	}
	return tags
}

// RestoreVolume materializes a volume from its snapshot, with every
// recorded object as a synced segment and the synced tag set loaded.
// Server ids are resolved by the caller through the key map.
func RestoreVolume(doc VolumeDocument, maskDir string, resolveObjectID func(objectKey string) (int64, bool)) (*Volume, error) {
	volume := NewVolume(doc.VolumeName, doc.VolumeID, maskDir)
	for _, record := range doc.Objects {
		objectID, ok := resolveObjectID(record.ObjectKey)
		if !ok {
			return nil, &ValidationError{
				Entity: record.Name,
				Reason: "object key " + record.ObjectKey + " missing from identity map",
			}
		}
		segment := NewSyncedSegment(
			record.Name,
			record.ClassName,
			filepath.Join(maskDir, record.MaskFile),
			record.Color,
			record.FigureKey,
			record.ObjectKey,
			objectID,
		)
		if err := volume.AddSegment(record.ClassName, segment); err != nil {
			return nil, err
		}
	}
	volume.Tags = doc.SyncedTags()
	return volume, nil
}
