// Package inflate provides a streaming read buffer over a live,
// non-seekable transport (an SSH pipe), able to pull raw bytes and to
// inflate a zlib-compressed run of exactly N output bytes while
// leaving the unconsumed compressed tail available for the next call.
//
// This is needed because a packfile arrives inline, object after
// object, on a connection we can't seek back into: packfile.Reader
// must read a variable-length header a few bytes at a time
// (internal/readutil-style peeking, per ginternals/packfile) and then
// hand the remaining compressed bytes to zlib, object by object,
// without knowing in advance where one compressed body ends and the
// next header begins.
package inflate

import (
	"bufio"
	"compress/zlib"
	"io"

	"golang.org/x/xerrors"
)

// Buffer wraps an io.Reader with a small lookahead so raw bytes and
// zlib-compressed runs can be interleaved on the same stream.
type Buffer struct {
	src *bufio.Reader
	pos int64
}

// NewBuffer wraps r. r is only ever read forward, never seeked.
func NewBuffer(r io.Reader) *Buffer {
	return &Buffer{src: bufio.NewReaderSize(r, 4096)}
}

// Pos returns the number of logical stream bytes consumed so far.
// Offset-delta base references are relative to this position, so the
// packfile reader records it at the start of every object.
func (b *Buffer) Pos() int64 {
	return b.pos
}

// GetByte reads a single raw (non-deflated) byte, the building block
// for the MSB-continuation object headers at the start of each
// packfile entry.
func (b *Buffer) GetByte() (byte, error) {
	c, err := b.src.ReadByte()
	if err == nil {
		b.pos++
	}
	return c, err
}

// countingSrc exposes both Read and ReadByte so compress/flate treats
// it as already buffered (see InflateExact) while tallying exactly
// how many stream bytes it handed out, so b.pos stays accurate across
// an inflate call.
type countingSrc struct {
	r   *bufio.Reader
	pos *int64
}

func (c *countingSrc) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	*c.pos += int64(n)
	return n, err
}

func (c *countingSrc) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		*c.pos++
	}
	return b, err
}

// InflateExact decompresses a zlib stream starting at the buffer's
// current position and returns exactly n bytes of inflated output.
// zlib streams carry their own length (there's no framing around
// them in a packfile), so the object's declared size is the only way
// to know when to stop; InflateExact reads past the last needed byte
// just far enough for the zlib reader to validate and flush its
// Adler-32 trailer, then leaves the buffered reader positioned
// immediately after the compressed body so the next call (raw or
// inflate) picks up cleanly at the next object's header.
func (b *Buffer) InflateExact(n int) ([]byte, error) {
	// countingSrc exposes Read+ReadByte so compress/flate treats it as
	// already buffered and reads directly from it instead of installing
	// its own internal bufio layer, so nothing past the compressed
	// stream is ever pulled out of b.src and lost between calls.
	cs := &countingSrc{r: b.src, pos: &b.pos}
	zr, err := zlib.NewReader(cs)
	if err != nil {
		return nil, xerrors.Errorf("could not open zlib stream: %w", err)
	}
	defer zr.Close() // nolint:errcheck // read-only stream, nothing to flush

	out := make([]byte, n)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, xerrors.Errorf("could not inflate %d bytes: %w", n, err)
	}

	// Read one more byte to force the zlib reader to reach and
	// validate the stream trailer; a well-formed object body ends
	// exactly here, so this should report io.EOF.
	var extra [1]byte
	if _, err := zr.Read(extra[:]); err != nil && err != io.EOF {
		return nil, xerrors.Errorf("zlib stream did not end cleanly: %w", err)
	}

	return out, nil
}
