package object_test

import (
	"bytes"
	"testing"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectIDRoundTrip(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	o := object.New(h, object.TypeBlob, []byte("hello world"))
	require.False(t, o.ID().IsZero())
	assert.Equal(t, o.ID(), o.ID(), "ID should be stable across calls")
}

func TestAsCommitMinimal(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	treeID, err := h.ConvertFromString("f0b577644139c6e04216d82f1dd4a5a63addeeca")
	require.NoError(t, err)
	parentID, err := h.ConvertFromString("9785af758bcc96cd7237ba65eb2c9dd1ecaa3321")
	require.NoError(t, err)

	var b bytes.Buffer
	b.WriteString("tree ")
	b.WriteString(treeID.String())
	b.WriteString("\n")
	b.WriteString("parent ")
	b.WriteString(parentID.String())
	b.WriteString("\n")
	b.WriteString("\ninitial commit\n")

	o := object.New(h, object.TypeCommit, b.Bytes())
	c, err := o.AsCommit()
	require.NoError(t, err)
	assert.Equal(t, treeID.String(), c.TreeID().String())
	require.Len(t, c.ParentIDs(), 1)
	assert.Equal(t, parentID.String(), c.ParentIDs()[0].String())
	assert.Equal(t, "initial commit\n", c.Message())
}

func TestAsCommitMissingTree(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	o := object.New(h, object.TypeCommit, []byte("\nonly a message\n"))
	_, err := o.AsCommit()
	require.Error(t, err)
}

func TestAsTreeRoundTrip(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	blobID := h.Sum([]byte("file contents"))
	entries := []object.TreeEntry{
		{Path: "README.md", ID: blobID, Mode: object.ModeFile},
		{Path: "src", ID: blobID, Mode: object.ModeDirectory},
	}
	tr := object.NewTree(h, entries)
	require.False(t, tr.ID().IsZero())

	parsed, err := tr.Object().AsTree()
	require.NoError(t, err)
	got := parsed.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, "README.md", got[0].Path)
	assert.Equal(t, object.ModeFile, got[0].Mode)
	assert.Equal(t, "src", got[1].Path)
	assert.Equal(t, object.ModeDirectory, got[1].Mode)
	assert.Equal(t, blobID.String(), got[0].ID.String())
}
