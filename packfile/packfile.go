// Package packfile reads a git packfile as it streams in off a live
// connection: a 12-byte header followed by a run of zlib-compressed
// objects, each either whole or stored as a delta against an earlier
// object in the same stream. Unlike a packfile read from disk, there
// is no companion .idx file and no seeking — offsets are tracked as
// the stream is consumed and ref-deltas are resolved by looking the
// base object up in the in-memory object.Store being filled.
package packfile

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/inflate"
	"github.com/sparsevcs/mirror/object"
	"golang.org/x/xerrors"
)

const headerSize = 12

func magic() []byte   { return []byte{'P', 'A', 'C', 'K'} }
func version() []byte { return []byte{0, 0, 0, 2} }

var (
	// ErrIntOverflow is returned when a varint-encoded size or offset
	// can't fit in a uint64
	ErrIntOverflow = errors.New("packfile: int64 overflow")
	// ErrInvalidMagic is returned when the header doesn't start with "PACK"
	ErrInvalidMagic = errors.New("packfile: invalid magic")
	// ErrInvalidVersion is returned for any version other than 2
	ErrInvalidVersion = errors.New("packfile: unsupported version")
	// ErrSizeMismatch is returned when a decoded object's length
	// doesn't match its declared size
	ErrSizeMismatch = errors.New("packfile: object size mismatch")
)

// pendingObject is what the reader knows about an object immediately
// after decoding its header and body, before delta resolution
type pendingObject struct {
	startOffset int64
	typ         object.Type
	size        uint64
	body        []byte // raw (possibly delta-encoded) bytes
	baseOid     githash.Oid
	baseOffset  int64
}

// Reader reads the objects of a single packfile, in stream order,
// resolving deltas as they're encountered against the store it fills.
type Reader struct {
	buf     *inflate.Buffer
	hash    githash.Hash
	store   *object.Store
	header  [headerSize]byte
	count   uint32
	read    uint32
	offsets map[int64]githash.Oid // object start offset -> resolved id, for ofs-delta bases
}

// NewReader validates the packfile header read from r and returns a
// Reader ready to decode ObjectCount() objects. Resolved objects are
// inserted into store as they're read.
func NewReader(r io.Reader, h githash.Hash, store *object.Store) (*Reader, error) {
	pr := &Reader{
		buf:     inflate.NewBuffer(r),
		hash:    h,
		store:   store,
		offsets: make(map[int64]githash.Oid),
	}
	for i := range pr.header {
		b, err := pr.buf.GetByte()
		if err != nil {
			return nil, xerrors.Errorf("could not read packfile header: %w", err)
		}
		pr.header[i] = b
	}
	if string(pr.header[0:4]) != string(magic()) {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidMagic)
	}
	if string(pr.header[4:8]) != string(version()) {
		return nil, xerrors.Errorf("invalid header: %w", ErrInvalidVersion)
	}
	pr.count = binary.BigEndian.Uint32(pr.header[8:])
	return pr, nil
}

// ObjectCount returns the number of objects declared in the header
func (pr *Reader) ObjectCount() uint32 {
	return pr.count
}

// Done returns whether every declared object has been read
func (pr *Reader) Done() bool {
	return pr.read >= pr.count
}

// isMSBSet reports whether the most significant bit of b is set
func isMSBSet(b byte) bool { return b&0b_1000_0000 != 0 }
func unsetMSB(b byte) byte { return b & 0b_0111_1111 }

// ReadObject reads and fully resolves the next object in the stream,
// inserting it into the store and returning it.
func (pr *Reader) ReadObject() (*object.Object, error) {
	if pr.Done() {
		return nil, xerrors.Errorf("all %d objects already read", pr.count)
	}
	po, err := pr.readPendingObject()
	if err != nil {
		return nil, err
	}
	pr.read++

	if po.typ != object.ObjectDeltaRef && po.typ != object.ObjectDeltaOFS {
		o := object.New(pr.hash, po.typ, po.body)
		pr.store.Put(o)
		pr.offsets[po.startOffset] = o.ID()
		return o, nil
	}
	return pr.resolveDelta(po)
}

// readPendingObject decodes one object header (type + size, and the
// delta base reference if applicable) and its zlib body, without
// resolving any delta chain yet.
//
// The header is a variable number of bytes: the first byte carries a
// continuation bit (MSB), 3 bits of type, and 4 bits of size; each
// following byte carries a continuation bit and 7 more size bits,
// least-significant chunk first.
func (pr *Reader) readPendingObject() (*pendingObject, error) {
	startOffset := pr.buf.Pos()

	first, err := pr.buf.GetByte()
	if err != nil {
		return nil, xerrors.Errorf("could not read object header: %w", err)
	}
	typ := object.Type((first & 0b_0111_0000) >> 4)
	if !typ.IsValid() {
		return nil, xerrors.Errorf("unknown object type %d", typ)
	}
	size := uint64(first & 0b_0000_1111)
	shift := uint(4)
	b := first
	for isMSBSet(b) {
		b, err = pr.buf.GetByte()
		if err != nil {
			return nil, xerrors.Errorf("could not read object size: %w", err)
		}
		if shift > 64 {
			return nil, ErrIntOverflow
		}
		size |= uint64(unsetMSB(b)) << shift
		shift += 7
	}

	po := &pendingObject{startOffset: startOffset, typ: typ, size: size}

	switch typ { //nolint:exhaustive // only delta types need extra header bytes
	case object.ObjectDeltaRef:
		raw := make([]byte, pr.hash.OidSize())
		for i := range raw {
			raw[i], err = pr.buf.GetByte()
			if err != nil {
				return nil, xerrors.Errorf("could not read delta base id: %w", err)
			}
		}
		po.baseOid, err = pr.hash.ConvertFromBytes(raw)
		if err != nil {
			return nil, xerrors.Errorf("invalid delta base id: %w", err)
		}
	case object.ObjectDeltaOFS:
		relOffset, err := pr.readOffsetDeltaHeader()
		if err != nil {
			return nil, xerrors.Errorf("could not read delta base offset: %w", err)
		}
		po.baseOffset = startOffset - relOffset
	}

	body, err := pr.buf.InflateExact(int(size))
	if err != nil {
		return nil, xerrors.Errorf("could not inflate object body: %w", err)
	}
	if uint64(len(body)) != size {
		return nil, xerrors.Errorf("%w: expected %d, got %d", ErrSizeMismatch, size, len(body))
	}
	po.body = body
	return po, nil
}

// readOffsetDeltaHeader decodes the big-endian, "minus-one-chunked"
// varint git uses for offset-delta base references.
func (pr *Reader) readOffsetDeltaHeader() (int64, error) {
	var offset uint64
	for i := 0; ; i++ {
		b, err := pr.buf.GetByte()
		if err != nil {
			return 0, err
		}
		chunk := uint64(unsetMSB(b))
		if isMSBSet(b) {
			chunk++
		}
		offset = offset<<7 + chunk
		if !isMSBSet(b) {
			break
		}
		if i > 9 {
			return 0, ErrIntOverflow
		}
	}
	return int64(offset), nil
}

// resolveDelta walks the (possibly chained) base of a delta object
// and applies it, storing and returning the fully-resolved object.
func (pr *Reader) resolveDelta(po *pendingObject) (*object.Object, error) {
	base, err := pr.resolveBase(po)
	if err != nil {
		return nil, xerrors.Errorf("could not resolve delta base: %w", err)
	}

	result, err := applyDelta(base.Bytes(), po.body)
	if err != nil {
		return nil, xerrors.Errorf("could not apply delta: %w", err)
	}

	o := object.New(pr.hash, base.Type(), result)
	pr.store.Put(o)
	pr.offsets[po.startOffset] = o.ID()
	return o, nil
}

func (pr *Reader) resolveBase(po *pendingObject) (*object.Object, error) {
	if po.typ == object.ObjectDeltaRef {
		if base, ok := pr.store.Get(po.baseOid); ok {
			return base, nil
		}
		return nil, xerrors.Errorf("unknown delta base %s", po.baseOid.String())
	}

	// ObjectDeltaOFS: the base always precedes this object in the
	// stream, so it has already been read and resolved (or is itself
	// still a pending delta chain we resolve transitively via the
	// store, since every resolved object — delta or not — is put()
	// into the store under its real id).
	baseID, ok := pr.offsets[po.baseOffset]
	if !ok {
		return nil, xerrors.Errorf("no object recorded at offset %d", po.baseOffset)
	}
	base, ok := pr.store.Get(baseID)
	if !ok {
		return nil, xerrors.Errorf("delta base %s vanished from the store", baseID.String())
	}
	return base, nil
}
