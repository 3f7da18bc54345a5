// Package keymap maintains the bidirectional correlation between
// client-minted entity keys and server-assigned numeric ids. Objects,
// figures and tags live in independent namespaces so that removing an
// entity from one never disturbs the others.
package keymap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrKeyBound = errors.New("key already bound")

type Namespace string

const (
	Objects Namespace = "objects"
	Figures Namespace = "figures"
	Tags    Namespace = "tags"
)

// ConflictError reports an attempt to rebind a key whose id was already
// minted. Ids are immutable once assigned.
type ConflictError struct {
	Namespace Namespace
	Key       string
	BoundID   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s key %s already bound to id %d", e.Namespace, e.Key, e.BoundID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrKeyBound
}

// Map correlates keys with server ids across the three namespaces.
// The zero value is not usable; construct with New or Load.
type Map struct {
	byKey map[Namespace]map[string]int64
	byID  map[Namespace]map[int64]string
}

func New() *Map {
	m := &Map{
		byKey: map[Namespace]map[string]int64{},
		byID:  map[Namespace]map[int64]string{},
	}
	for _, ns := range []Namespace{Objects, Figures, Tags} {
		m.byKey[ns] = map[string]int64{}
		m.byID[ns] = map[int64]string{}
	}
	return m
}

// Resolve returns the server id bound to key, or ok=false when the key
// has never been bound.
func (m *Map) Resolve(ns Namespace, key string) (int64, bool) {
	id, ok := m.byKey[ns][key]
	return id, ok
}

// ResolveKey is the reverse lookup: server id to client key.
func (m *Map) ResolveKey(ns Namespace, id int64) (string, bool) {
	key, ok := m.byID[ns][id]
	return key, ok
}

// Bind records a freshly minted id for key. Binding an already-bound key
// returns a ConflictError even when the id matches: a duplicate binding
// means two sync paths claimed the same entity.
func (m *Map) Bind(ns Namespace, key string, id int64) error {
	if key == "" {
		return fmt.Errorf("empty %s key", ns)
	}
	if bound, ok := m.byKey[ns][key]; ok {
		return &ConflictError{Namespace: ns, Key: key, BoundID: bound}
	}
	m.byKey[ns][key] = id
	m.byID[ns][id] = key
	return nil
}

// Unbind removes the entry for key in both directions. Unbinding an
// unknown key is a no-op.
func (m *Map) Unbind(ns Namespace, key string) {
	id, ok := m.byKey[ns][key]
	if !ok {
		return
	}
	delete(m.byKey[ns], key)
	delete(m.byID[ns], id)
}

// Keys returns the bound keys of a namespace in sorted order.
func (m *Map) Keys(ns Namespace) []string {
	keys := make([]string, 0, len(m.byKey[ns]))
	for key := range m.byKey[ns] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Document is the persisted form, layout-compatible with a
// key_id_map.json file.
type Document struct {
	Objects map[string]int64 `json:"objects"`
	Figures map[string]int64 `json:"figures"`
	Tags    map[string]int64 `json:"tags"`
}

func (m *Map) Dump() Document {
	doc := Document{
		Objects: map[string]int64{},
		Figures: map[string]int64{},
		Tags:    map[string]int64{},
	}
	for key, id := range m.byKey[Objects] {
		doc.Objects[key] = id
	}
	for key, id := range m.byKey[Figures] {
		doc.Figures[key] = id
	}
	for key, id := range m.byKey[Tags] {
		doc.Tags[key] = id
	}
	return doc
}

func Load(doc Document) *Map {
	m := New()
	for key, id := range doc.Objects {
		m.byKey[Objects][key] = id
		m.byID[Objects][id] = key
	}
	for key, id := range doc.Figures {
		m.byKey[Figures][key] = id
		m.byID[Figures][id] = key
	}
	for key, id := range doc.Tags {
		m.byKey[Tags][key] = id
		m.byID[Tags][id] = key
	}
	return m
}

func (m *Map) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Dump())
}

func (m *Map) UnmarshalJSON(data []byte) error {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*m = *Load(doc)
	return nil
}
