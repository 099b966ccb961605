package packfile_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
	"github.com/sparsevcs/mirror/packfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeObjectHeader writes the MSB-continuation type+size header for
// one packfile entry.
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

func writeBase128(buf *bytes.Buffer, x uint64) {
	for {
		b := byte(x & 0x7F)
		x >>= 7
		if x != 0 {
			b |= 0x80
		}
		buf.WriteByte(b)
		if x == 0 {
			return
		}
	}
}

func packHeader(count uint32) []byte {
	h := make([]byte, 12)
	copy(h[0:4], "PACK")
	binary.BigEndian.PutUint32(h[4:8], 2)
	binary.BigEndian.PutUint32(h[8:12], count)
	return h
}

func TestReadSingleBlob(t *testing.T) {
	t.Parallel()

	content := []byte("hello sparse mirror")
	var buf bytes.Buffer
	buf.Write(packHeader(1))
	writeObjectHeader(&buf, object.TypeBlob, len(content))
	writeZlib(&buf, content)

	h := githash.NewSHA1()
	store := object.NewStore(h)
	r, err := packfile.NewReader(&buf, h, store)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), r.ObjectCount())

	o, err := r.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, content, o.Bytes())
	assert.Equal(t, object.TypeBlob, o.Type())
	assert.True(t, r.Done())

	got, ok := store.Get(o.ID())
	require.True(t, ok)
	assert.Equal(t, content, got.Bytes())
}

func TestInvalidMagic(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	store := object.NewStore(h)
	_, err := packfile.NewReader(bytes.NewReader([]byte("NOPE00000000")), h, store)
	require.Error(t, err)
}

func TestReadRefDeltaChain(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	base := []byte("the quick brown fox")
	baseObj := object.New(h, object.TypeBlob, base)

	appended := []byte(" jumps over the lazy dog")
	resultLen := len(base) + len(appended)

	var delta bytes.Buffer
	writeBase128(&delta, uint64(len(base)))
	writeBase128(&delta, uint64(resultLen))
	// copy: offset=0 (mask 0, no offset bytes), length=len(base)
	// (one length byte present -> mask bit 0x10 in the opcode)
	delta.WriteByte(0x80 | 0x10)
	delta.WriteByte(byte(len(base)))
	// insert: literal byte count followed by the literal bytes
	delta.WriteByte(byte(len(appended)))
	delta.Write(appended)

	var buf bytes.Buffer
	buf.Write(packHeader(2))
	writeObjectHeader(&buf, object.TypeBlob, len(base))
	writeZlib(&buf, base)
	writeObjectHeader(&buf, object.ObjectDeltaRef, delta.Len())
	buf.Write(baseObj.ID().Bytes())
	writeZlib(&buf, delta.Bytes())

	store := object.NewStore(h)
	r, err := packfile.NewReader(&buf, h, store)
	require.NoError(t, err)

	first, err := r.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, base, first.Bytes())

	second, err := r.ReadObject()
	require.NoError(t, err)
	assert.Equal(t, object.TypeBlob, second.Type())
	assert.Equal(t, append(append([]byte{}, base...), appended...), second.Bytes())
}

func TestReadRefDeltaUnknownBaseFails(t *testing.T) {
	t.Parallel()

	h := githash.NewSHA1()
	unknownID := h.Sum([]byte("never stored"))

	var delta bytes.Buffer
	writeBase128(&delta, 4)
	writeBase128(&delta, 4)
	delta.WriteByte(4)
	delta.Write([]byte("oops"))

	var buf bytes.Buffer
	buf.Write(packHeader(1))
	writeObjectHeader(&buf, object.ObjectDeltaRef, delta.Len())
	buf.Write(unknownID.Bytes())
	writeZlib(&buf, delta.Bytes())

	store := object.NewStore(h)
	r, err := packfile.NewReader(&buf, h, store)
	require.NoError(t, err)
	_, err = r.ReadObject()
	require.Error(t, err)
}
