package collection_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"net/url"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparsevcs/mirror/cache"
	"github.com/sparsevcs/mirror/collection"
	"github.com/sparsevcs/mirror/diag"
	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
	"github.com/sparsevcs/mirror/transport"
)

// fakeConn is a canned, sequential server response paired with a
// buffer that captures everything written to it.
type fakeConn struct {
	in  *bytes.Reader
	Out bytes.Buffer
}

func (f *fakeConn) Read(p []byte) (int, error)   { return f.in.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error)  { return f.Out.Write(p) }
func (f *fakeConn) Close() error                 { return nil }
func (f *fakeConn) SetDeadline(t time.Time) error { return nil }

// queueFactory hands out the next conn in conns for every Connect call.
type queueFactory struct {
	conns []*fakeConn
	next  int
}

func (q *queueFactory) WillHandleURL(u *url.URL) bool { return true }
func (q *queueFactory) Connect(u *url.URL) (transport.Conn, error) {
	c := q.conns[q.next]
	q.next++
	return c, nil
}

func writePktLine(buf *bytes.Buffer, s string) {
	b := []byte(s)
	fmt.Fprintf(buf, "%04x", len(b)+4)
	buf.Write(b)
}

func writeFlush(buf *bytes.Buffer) {
	buf.WriteString("0000")
}

func writeObjectHeader(buf *bytes.Buffer, typ object.Type, size int) {
	first := byte(typ) << 4
	rest := size >> 4
	if rest > 0 {
		first |= 0x80
	}
	first |= byte(size & 0x0F)
	buf.WriteByte(first)
	size = rest
	for size > 0 {
		b := byte(size & 0x7F)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
	}
}

func writeZlib(buf *bytes.Buffer, content []byte) {
	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(content); err != nil {
		panic(err)
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
}

func packHeader(count uint32) []byte {
	h := make([]byte, 12)
	copy(h[0:4], "PACK")
	binary.BigEndian.PutUint32(h[4:8], 2)
	binary.BigEndian.PutUint32(h[8:12], count)
	return h
}

func refAdvertisement(tip githash.Oid, branch string) []byte {
	var buf bytes.Buffer
	writePktLine(&buf, fmt.Sprintf("%s refs/heads/%s\x00multi_ack filter no-progress\n", tip.String(), branch))
	writeFlush(&buf)
	return buf.Bytes()
}

func TestRunColdCloneFetchesTreesThenBlobs(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	blobContent := []byte("hello\n")
	blobObj := object.New(h, object.TypeBlob, blobContent)
	treeObj := object.NewTree(h, []object.TreeEntry{
		{Path: "README.md", ID: blobObj.ID(), Mode: object.ModeFile},
	})
	commitObj := object.New(h, object.TypeCommit, []byte(fmt.Sprintf("tree %s\n", treeObj.ID().String())))

	// Phase A + B: ref ad, then NAK + preamble + a pack with commit+tree only.
	var connAB bytes.Buffer
	connAB.Write(refAdvertisement(commitObj.ID(), "master"))
	writePktLine(&connAB, "NAK\n")
	writePktLine(&connAB, "\x01")
	connAB.Write(packHeader(2))
	writeObjectHeader(&connAB, object.TypeCommit, commitObj.Size())
	writeZlib(&connAB, commitObj.Bytes())
	writeObjectHeader(&connAB, object.TypeTree, treeObj.Object().Size())
	writeZlib(&connAB, treeObj.Object().Bytes())

	// Phase C: ref re-discovery, then NAK + preamble + a pack with the blob.
	var connC bytes.Buffer
	connC.Write(refAdvertisement(commitObj.ID(), "master"))
	writePktLine(&connC, "NAK\n")
	writePktLine(&connC, "\x01")
	connC.Write(packHeader(1))
	writeObjectHeader(&connC, object.TypeBlob, blobObj.Size())
	writeZlib(&connC, blobObj.Bytes())

	factory := &queueFactory{conns: []*fakeConn{
		{in: bytes.NewReader(connAB.Bytes())},
		{in: bytes.NewReader(connC.Bytes())},
	}}

	fs := afero.NewMemMapFs()
	c, err := collection.Open(fs, h, "/cache", "git@example:u/r", "master")
	require.NoError(t, err)
	changed, written, err := collection.Run(fs, factory, c, "git@example:u/r", []string{"README.md"}, diag.New(ioutil.Discard, diag.LevelDebug))
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, written, 1)
	assert.Equal(t, "README.md", written[0].VirtualPath)

	got, err := afero.ReadFile(fs, written[0].FilesystemPath)
	require.NoError(t, err)
	assert.Equal(t, blobContent, got)
	assert.Equal(t, commitObj.ID().String(), c.LastCommit.String())
}

func TestRunWarmNoOpWhenTipUnchanged(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	commitObj := object.New(h, object.TypeCommit, []byte("tree 0000000000000000000000000000000000000000\n"))

	var connAB bytes.Buffer
	connAB.Write(refAdvertisement(commitObj.ID(), "master"))

	factory := &queueFactory{conns: []*fakeConn{
		{in: bytes.NewReader(connAB.Bytes())},
	}}

	fs := afero.NewMemMapFs()
	c, err := collection.Open(fs, h, "/cache", "git@example:u/r", "master")
	require.NoError(t, err)
	c.LastCommit = commitObj.ID()
	changed, written, err := collection.Run(fs, factory, c, "git@example:u/r", []string{"README.md"}, diag.New(ioutil.Discard, diag.LevelDebug))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, written)
}

func TestOpenRecreatesFromScratchOnCorruptCache(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	h := githash.NewSHA1()
	require.NoError(t, afero.WriteFile(fs, "/cache/"+collection.Slug("git@example:u/r")+".goc", []byte("short"), 0o644))

	c, err := collection.Open(fs, h, "/cache", "git@example:u/r", "master")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Store.Len())
	assert.Nil(t, c.LastCommit)

	exists, err := afero.Exists(fs, "/cache/"+collection.Slug("git@example:u/r")+".goc")
	require.NoError(t, err)
	assert.False(t, exists, "corrupt cache file should have been removed")
}

func TestOpenLoadsExistingCache(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	h := githash.NewSHA1()
	store := object.NewStore(h)
	blob := object.New(h, object.TypeBlob, []byte("x"))
	store.Put(blob)

	path := "/cache/" + collection.Slug("git@example:u/r") + ".goc"
	require.NoError(t, cache.Save(fs, path, &cache.Collection{
		LastCommit: blob.ID(),
		Branch:     "master",
		Store:      store,
	}))

	c, err := collection.Open(fs, h, "/cache", "git@example:u/r", "master")
	require.NoError(t, err)
	assert.Equal(t, blob.ID().String(), c.LastCommit.String())
	assert.Equal(t, 1, c.Store.Len())
}

var _ transport.Conn = (*fakeConn)(nil)
