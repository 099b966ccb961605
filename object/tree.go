package object

import (
	"bytes"
	"strconv"

	"github.com/sparsevcs/mirror/githash"
)

// TreeObjectMode represents the mode of an entry inside a tree.
// Non-standard modes are not supported.
type TreeObjectMode int32

const (
	// ModeFile is the mode for a regular file
	ModeFile TreeObjectMode = 0o100644
	// ModeExecutable is the mode for an executable file
	ModeExecutable TreeObjectMode = 0o100755
	// ModeDirectory is the mode for a sub-tree
	ModeDirectory TreeObjectMode = 0o040000
	// ModeSymLink is the mode for a symbolic link
	ModeSymLink TreeObjectMode = 0o120000
	// ModeGitLink is the mode for a submodule reference
	ModeGitLink TreeObjectMode = 0o160000
)

// ObjectType returns the object type an entry with this mode points to
func (m TreeObjectMode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitLink:
		return TypeCommit
	default:
		return TypeBlob
	}
}

// IsDir returns whether the mode represents a sub-tree
func (m TreeObjectMode) IsDir() bool {
	return m == ModeDirectory
}

// Tree represents a git tree object: an ordered list of named entries,
// each pointing at a blob, a sub-tree, or a submodule commit.
type Tree struct {
	rawObject *Object
	entries   []TreeEntry
}

// TreeEntry represents one entry inside a tree
type TreeEntry struct {
	Path string
	ID   githash.Oid
	Mode TreeObjectMode
}

// NewTree builds a Tree from its entries and computes its Object form
func NewTree(h githash.Hash, entries []TreeEntry) *Tree {
	t := &Tree{entries: entries}
	t.rawObject = t.toObject(h)
	return t
}

// Entries returns a copy of the tree's entries
func (t *Tree) Entries() []TreeEntry {
	out := make([]TreeEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// ID returns the tree's object id
func (t *Tree) ID() githash.Oid {
	return t.rawObject.ID()
}

// Object returns the tree's underlying raw Object
func (t *Tree) Object() *Object {
	return t.rawObject
}

func (t *Tree) toObject(h githash.Hash) *Object {
	buf := new(bytes.Buffer)
	for _, e := range t.entries {
		buf.WriteString(strconv.FormatInt(int64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Path)
		buf.WriteByte(0)
		buf.Write(e.ID.Bytes())
	}
	return New(h, TypeTree, buf.Bytes())
}
