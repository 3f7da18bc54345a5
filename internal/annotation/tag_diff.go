package annotation

// TagDiff is the minimal set of remote operations that reconciles the
// last-synced tag set with the current one. ToAdd and ToRemove are
// disjoint by construction.
type TagDiff struct {
	ToAdd    []Tag
	ToRemove []Tag
}

func (d TagDiff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// DiffTags computes current − lastSynced and lastSynced − current over
// (name, value) pairs. Values compare structurally, including the
// presence-only case. Segments deliberately do not go through a set
// diff like this: mask payloads are too large to compare by value, so
// each segment carries its own deletion flag instead.
func DiffTags(current, lastSynced []Tag) TagDiff {
	currentSet := make(map[Pair]Tag, len(current))
	for _, tag := range current {
		currentSet[tag.Pair()] = tag
	}
	syncedSet := make(map[Pair]Tag, len(lastSynced))
	for _, tag := range lastSynced {
		syncedSet[tag.Pair()] = tag
	}

	var diff TagDiff
	for _, tag := range current {
		if _, ok := syncedSet[tag.Pair()]; !ok {
			diff.ToAdd = append(diff.ToAdd, tag)
		}
	}
	for _, tag := range lastSynced {
		if _, ok := currentSet[tag.Pair()]; !ok {
			diff.ToRemove = append(diff.ToRemove, tag)
		}
	}
	return diff
}
