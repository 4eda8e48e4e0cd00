package graph

import (
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Tag separates identifier namespaces so that an activity can never share
// an identifier with a pseudo-node of the same name.
type Tag byte

const (
	TagActivity Tag = 'a'
	TagPseudo   Tag = 'p'
)

// IDTable maps labels to stable node identifiers. Every label is hashed
// on its own with a fresh digest, so the identifier of a label does not
// depend on which labels were assigned before it. Hash collisions between
// distinct labels are resolved by probing and remembered.
//
// An IDTable is safe for concurrent use and may be shared between runs.
type IDTable struct {
	mu     sync.Mutex
	byKey  map[tableKey]uint64
	byHash map[uint64]tableKey
}

type tableKey struct {
	tag   Tag
	label string
}

// NewIDTable creates an empty table.
func NewIDTable() *IDTable {
	return &IDTable{
		byKey:  make(map[tableKey]uint64),
		byHash: make(map[uint64]tableKey),
	}
}

// Hash returns the raw content hash of a tagged label.
func Hash(tag Tag, label string) uint64 {
	var d xxhash.Digest
	d.Reset()
	d.Write([]byte{byte(tag), 0})
	d.WriteString(label)
	return d.Sum64()
}

// ID returns the identifier of label within tag's namespace.
func (t *IDTable) ID(tag Tag, label string) uint64 {
	key := tableKey{tag: tag, label: label}

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byKey[key]; ok {
		return id
	}
	id := Hash(tag, label)
	for {
		owner, taken := t.byHash[id]
		if !taken || owner == key {
			break
		}
		id++
	}
	t.byKey[key] = id
	t.byHash[id] = key
	return id
}

// Activity returns the identifier of an activity label.
func (t *IDTable) Activity(label string) uint64 {
	return t.ID(TagActivity, label)
}

// Pseudo returns the identifier of a synthetic node.
func (t *IDTable) Pseudo(name string) uint64 {
	return t.ID(TagPseudo, name)
}

// Len returns the number of assigned identifiers.
func (t *IDTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byKey)
}

// FormatID renders an identifier the way it appears in DOT output.
func FormatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}
