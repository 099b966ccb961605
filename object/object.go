// Package object contains methods and types to work with git objects:
// commits, trees, blobs and tags, plus an in-memory store keyed by Oid.
package object

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/internal/errutil"
	"github.com/sparsevcs/mirror/internal/readutil"
	"golang.org/x/xerrors"
)

var (
	// ErrObjectUnknown is returned when encountering an unknown object type
	ErrObjectUnknown = errors.New("invalid object type")
	// ErrObjectInvalid is returned when an object contains unexpected data
	ErrObjectInvalid = errors.New("invalid object")
	// ErrTreeInvalid is returned when parsing an invalid tree object
	ErrTreeInvalid = errors.New("invalid tree")
	// ErrCommitInvalid is returned when parsing an invalid commit object
	ErrCommitInvalid = errors.New("invalid commit")
)

// Type represents the type of an object as stored in a packfile.
// The delta pseudo-types (6, 7) only ever appear while reading a
// packfile; a resolved Object is never of type ObjectDeltaOFS or
// ObjectDeltaRef.
type Type int8

// List of all the possible object types
const (
	TypeCommit Type = 1
	TypeTree   Type = 2
	TypeBlob   Type = 3
	TypeTag    Type = 4
	// 5 is reserved by the wire format
	ObjectDeltaOFS Type = 6
	ObjectDeltaRef Type = 7
)

func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case ObjectDeltaOFS:
		return "ofs-delta"
	case ObjectDeltaRef:
		return "ref-delta"
	default:
		return fmt.Sprintf("unknown(%d)", int8(t))
	}
}

// IsValid returns whether t is one of the known object types
func (t Type) IsValid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeTag, ObjectDeltaOFS, ObjectDeltaRef:
		return true
	default:
		return false
	}
}

// NewTypeFromString returns a Type from its string representation
func NewTypeFromString(t string) (Type, error) {
	switch t {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, ErrObjectUnknown
	}
}

// Object represents a git object: a typed, content-addressed blob of
// bytes. New derives the id from the type+content at construction;
// an object made by NewWithID without an id derives it the first
// time it's needed, then caches it.
type Object struct {
	hash    githash.Hash
	id      githash.Oid
	typ     Type
	content []byte

	idOnce sync.Once
}

// New creates a new object of the given type, hashed with h
func New(h githash.Hash, typ Type, content []byte) *Object {
	o := &Object{hash: h, typ: typ, content: content}
	o.id, _ = o.build()
	return o
}

// NewWithID creates an object whose id is already known, skipping
// the hash computation until ID is next called (it's still
// recomputed lazily if never supplied)
func NewWithID(h githash.Hash, id githash.Oid, typ Type, content []byte) *Object {
	o := &Object{hash: h, id: id, typ: typ, content: content}
	if id != nil && !id.IsZero() {
		o.idOnce.Do(func() {})
	}
	return o
}

// ID returns the object's id, computing it on first use
func (o *Object) ID() githash.Oid {
	o.idOnce.Do(func() {
		if o.id == nil || o.id.IsZero() {
			o.id, _ = o.build()
		}
	})
	return o.id
}

// Size returns the size of the object's content
func (o *Object) Size() int {
	return len(o.content)
}

// Type returns the object's Type
func (o *Object) Type() Type {
	return o.typ
}

// Bytes returns the object's raw content
func (o *Object) Bytes() []byte {
	return o.content
}

// build computes "<type> <len>\0<content>" and hashes it, the
// canonical git object encoding
func (o *Object) build() (id githash.Oid, data []byte) {
	w := new(bytes.Buffer)
	w.WriteString(o.typ.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(o.Size()))
	w.WriteByte(0)
	w.Write(o.content)

	data = w.Bytes()
	return o.hash.Sum(data), data
}

// Compress returns the object zlib-compressed, in the same
// "<type> <len>\0<content>" layout its id is computed over
func (o *Object) Compress() (data []byte, err error) {
	_, raw := o.build()

	buf := new(bytes.Buffer)
	err = func() (err error) {
		zw := zlib.NewWriter(buf)
		defer errutil.Close(zw, &err)
		_, err = zw.Write(raw)
		return err
	}()
	if err != nil {
		return nil, xerrors.Errorf("could not zlib the object: %w", err)
	}
	return buf.Bytes(), nil
}

// AsTree parses the object as a Tree.
//
// A tree entry has the form:
//
//	{octal_mode} {path_name}\0{raw_oid_bytes}
func (o *Object) AsTree() (*Tree, error) {
	if o.typ != TypeTree {
		return nil, xerrors.Errorf("type %s is not a tree: %w", o.typ, ErrObjectInvalid)
	}

	oidSize := o.hash.OidSize()
	entries := []TreeEntry{}
	objData := o.content
	offset := 0
	for i := 1; offset < len(objData); i++ {
		data := readutil.ReadTo(objData[offset:], ' ')
		if len(data) == 0 {
			return nil, xerrors.Errorf("could not retrieve mode of entry %d: %w", i, ErrTreeInvalid)
		}
		offset += len(data) + 1
		mode, err := strconv.ParseInt(string(data), 8, 32)
		if err != nil {
			return nil, xerrors.Errorf("could not parse mode of entry %d: %w", i, err)
		}

		data = readutil.ReadTo(objData[offset:], 0)
		if len(data) == 0 {
			return nil, xerrors.Errorf("could not retrieve path of entry %d: %w", i, ErrTreeInvalid)
		}
		offset += len(data) + 1
		path := string(data)

		if offset+oidSize > len(objData) {
			return nil, xerrors.Errorf("not enough bytes for id of entry %d: %w", i, ErrTreeInvalid)
		}
		id, err := o.hash.ConvertFromBytes(objData[offset : offset+oidSize])
		if err != nil {
			return nil, xerrors.Errorf("invalid id for entry %d: %w", i, ErrTreeInvalid)
		}
		offset += oidSize

		entries = append(entries, TreeEntry{Path: path, ID: id, Mode: TreeObjectMode(mode)})
	}

	return &Tree{rawObject: o, entries: entries}, nil
}

// AsCommit parses the object as a Commit.
//
// Only the "tree <hex>" line is required; "parent" headers are parsed
// when present, while author/committer/gpgsig and any other headers
// are skipped, since a sparse mirror never needs more than the tree id.
func (o *Object) AsCommit() (*Commit, error) {
	if o.typ != TypeCommit {
		return nil, xerrors.Errorf("type %s is not a commit: %w", o.typ, ErrObjectInvalid)
	}
	c := &Commit{id: o.ID(), rawObject: o}
	objData := o.content
	offset := 0
	for offset < len(objData) {
		line := readutil.ReadTo(objData[offset:], '\n')
		if line == nil {
			// no trailing newline left: whatever remains is one final
			// header line with no message to follow
			line = objData[offset:]
			offset = len(objData)
		} else {
			offset += len(line) + 1 // +1 to count the \n
		}

		if len(line) == 0 {
			// blank line: headers end here, the rest is the message
			c.message = string(objData[offset:])
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		if len(kv) != 2 {
			continue
		}
		switch string(kv[0]) {
		case "tree":
			id, err := o.hash.ConvertFromChars(kv[1])
			if err != nil {
				return nil, xerrors.Errorf("could not parse tree id %q: %w", kv[1], ErrCommitInvalid)
			}
			c.treeID = id
		case "parent":
			id, err := o.hash.ConvertFromChars(kv[1])
			if err != nil {
				return nil, xerrors.Errorf("could not parse parent id %q: %w", kv[1], ErrCommitInvalid)
			}
			c.parentIDs = append(c.parentIDs, id)
		}
	}
	if c.treeID == nil {
		return nil, xerrors.Errorf("commit has no tree line: %w", ErrCommitInvalid)
	}
	return c, nil
}

// ErrTagInvalid is returned when parsing an invalid tag object
var ErrTagInvalid = errors.New("invalid tag")

// AsTag parses the object as an annotated Tag.
//
// "object"/"type"/"tag" are parsed to resolve what the tag points at;
// "tagger" is kept as an unparsed string and "gpgsig" is skipped, since
// a sparse mirror never needs more than the target.
func (o *Object) AsTag() (*Tag, error) {
	if o.typ != TypeTag {
		return nil, xerrors.Errorf("type %s is not a tag: %w", o.typ, ErrObjectInvalid)
	}
	t := &Tag{id: o.ID(), rawObject: o}
	objData := o.content
	offset := 0
	for offset < len(objData) {
		line := readutil.ReadTo(objData[offset:], '\n')
		if line == nil {
			line = objData[offset:]
			offset = len(objData)
		} else {
			offset += len(line) + 1
		}

		if len(line) == 0 {
			t.message = string(objData[offset:])
			break
		}

		kv := bytes.SplitN(line, []byte{' '}, 2)
		if len(kv) != 2 {
			continue
		}
		switch string(kv[0]) {
		case "object":
			id, err := o.hash.ConvertFromChars(kv[1])
			if err != nil {
				return nil, xerrors.Errorf("could not parse target id %q: %w", kv[1], ErrTagInvalid)
			}
			t.target = id
		case "type":
			typ, err := NewTypeFromString(string(kv[1]))
			if err != nil {
				return nil, xerrors.Errorf("invalid target type %q: %w", kv[1], ErrTagInvalid)
			}
			t.typ = typ
		case "tag":
			t.name = string(kv[1])
		case "tagger":
			t.tagger = string(kv[1])
		}
	}
	if t.target == nil {
		return nil, xerrors.Errorf("tag has no object line: %w", ErrTagInvalid)
	}
	return t, nil
}
