package object

import "github.com/sparsevcs/mirror/githash"

// Blob represents a blob object: the raw content of a file
type Blob struct {
	rawObject *Object
}

// NewBlob wraps a raw Object as a Blob
func NewBlob(o *Object) *Blob {
	return &Blob{rawObject: o}
}

// ID returns the blob's id
func (b *Blob) ID() githash.Oid {
	return b.rawObject.ID()
}

// Bytes returns the blob's contents
func (b *Blob) Bytes() []byte {
	return b.rawObject.content
}

// Size returns the size of the blob
func (b *Blob) Size() int {
	return len(b.rawObject.content)
}

// ToObject returns the blob's underlying Object
func (b *Blob) ToObject() *Object {
	return b.rawObject
}
