package object

import "github.com/sparsevcs/mirror/githash"

// Tag represents a git annotated tag object. Only the fields needed
// to follow a tag to its target are parsed in full; tagger is kept as
// a raw string and gpgsig is not kept (see Object.AsTag).
type Tag struct {
	id        githash.Oid
	rawObject *Object

	target  githash.Oid
	typ     Type
	name    string
	tagger  string
	message string
}

// ID returns the tag's object id
func (t *Tag) ID() githash.Oid {
	return t.id
}

// Target returns the id of the object this tag points at
func (t *Tag) Target() githash.Oid {
	return t.target
}

// Type returns the type of the targeted object
func (t *Tag) Type() Type {
	return t.typ
}

// Name returns the tag's name
func (t *Tag) Name() string {
	return t.name
}

// Message returns the tag's message
func (t *Tag) Message() string {
	return t.message
}

// Object returns the underlying raw object
func (t *Tag) Object() *Object {
	return t.rawObject
}
