package object

import "github.com/sparsevcs/mirror/githash"

// Commit represents a git commit object. Only the fields a sparse
// mirror needs to traverse history are parsed in full; author/
// committer/gpgsig lines are skipped (see Object.AsCommit).
type Commit struct {
	id        githash.Oid
	rawObject *Object

	treeID    githash.Oid
	parentIDs []githash.Oid
	message   string
}

// ID returns the commit's object id
func (c *Commit) ID() githash.Oid {
	return c.id
}

// TreeID returns the id of the tree this commit points at
func (c *Commit) TreeID() githash.Oid {
	return c.treeID
}

// ParentIDs returns the ids of this commit's parents, in order.
// The root commit of a repository has none.
func (c *Commit) ParentIDs() []githash.Oid {
	return c.parentIDs
}

// Message returns the commit message
func (c *Commit) Message() string {
	return c.message
}

// Object returns the underlying raw object
func (c *Commit) Object() *Object {
	return c.rawObject
}
