// Package cache persists a repository collection's object store to a
// single ".goc" file between runs, so a later run can announce the
// trees it already owns and receive only what changed.
//
// The format is a flat, length-prefixed binary layout. Integers are
// always written little-endian, whatever the host's byte order. The
// file is never transmitted over the wire — only ever read back by
// the same binary that wrote it.
package cache

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
)

// hashHexLen is the on-disk width of a hex-encoded object id for the
// one hash algorithm this module supports (SHA-1, 20 raw bytes).
const hashHexLen = 40

// lastCommitFieldLen is the last-commit-hash field's fixed width: 40
// hex characters plus a terminating NUL, written even when no commit
// has ever been recorded (all zero bytes).
const lastCommitFieldLen = hashHexLen + 1

// ErrCorrupt is returned when the cache file is truncated or carries
// an implausible length; callers should discard it and recreate the
// collection from scratch rather than propagate the error.
var ErrCorrupt = xerrors.New("cache: corrupt cache file")

// maxPlausibleLength caps any length-prefixed field read from disk,
// so a corrupt file can't make Load try to allocate gigabytes.
const maxPlausibleLength = 1 << 30

// Collection is the persisted state of one repository collection.
type Collection struct {
	LastCommit        githash.Oid
	Domain            string
	Name              string
	Branch            string
	ControlSocketPath string
	Store             *object.Store
}

// Save serializes c to path on fs, writing to a temporary file first
// and renaming it into place so a crash mid-write never leaves a
// truncated cache file behind.
func Save(fs afero.Fs, path string, c *Collection) error {
	tmp := path + ".tmp"
	f, err := fs.Create(tmp)
	if err != nil {
		return xerrors.Errorf("could not create temp cache file: %w", err)
	}

	w := bufio.NewWriter(f)
	writeErr := writeCollection(w, c)
	flushErr := w.Flush()
	closeErr := f.Close()

	switch {
	case writeErr != nil:
		_ = fs.Remove(tmp)
		return xerrors.Errorf("could not write cache file: %w", writeErr)
	case flushErr != nil:
		_ = fs.Remove(tmp)
		return xerrors.Errorf("could not flush cache file: %w", flushErr)
	case closeErr != nil:
		_ = fs.Remove(tmp)
		return xerrors.Errorf("could not close cache file: %w", closeErr)
	}

	if err := fs.Rename(tmp, path); err != nil {
		return xerrors.Errorf("could not rename cache file into place: %w", err)
	}
	return nil
}

func writeCollection(w io.Writer, c *Collection) error {
	var lastCommit [lastCommitFieldLen]byte
	if c.LastCommit != nil && !c.LastCommit.IsZero() {
		copy(lastCommit[:], c.LastCommit.String())
	}
	if _, err := w.Write(lastCommit[:]); err != nil {
		return err
	}

	for _, s := range []string{c.Domain, c.Name, c.Branch, c.ControlSocketPath} {
		if err := writeLenPrefixed(w, []byte(s)); err != nil {
			return err
		}
	}

	objects := c.Store.All()
	if err := binary.Write(w, binary.LittleEndian, uint64(len(objects))); err != nil {
		return err
	}
	for _, o := range objects {
		if err := binary.Write(w, binary.LittleEndian, uint32(o.Type())); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint64(o.Size())); err != nil {
			return err
		}
		var hashField [hashHexLen]byte
		copy(hashField[:], o.ID().String())
		if _, err := w.Write(hashField[:]); err != nil {
			return err
		}
		if _, err := w.Write(o.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// Load deserializes the collection persisted at path on fs, using h
// to reconstruct object ids. A short read or an implausible embedded
// length wraps ErrCorrupt so the caller can discard the file and
// recreate the collection rather than fail the run outright.
func Load(fs afero.Fs, h githash.Hash, path string) (*Collection, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("could not open cache file: %w", err)
	}
	defer f.Close() // nolint:errcheck // read-only, nothing to flush

	c, err := readCollection(bufio.NewReader(f), h)
	if err != nil {
		return nil, xerrors.Errorf("%v: %w", err, ErrCorrupt)
	}
	return c, nil
}

func readCollection(r io.Reader, h githash.Hash) (*Collection, error) {
	var lastCommit [lastCommitFieldLen]byte
	if _, err := io.ReadFull(r, lastCommit[:]); err != nil {
		return nil, err
	}

	c := &Collection{Store: object.NewStore(h)}
	if hex := trimNUL(lastCommit[:]); len(hex) > 0 {
		oid, err := h.ConvertFromChars(hex)
		if err != nil {
			return nil, err
		}
		c.LastCommit = oid
	}

	var err error
	if c.Domain, err = readLenPrefixedString(r); err != nil {
		return nil, err
	}
	if c.Name, err = readLenPrefixedString(r); err != nil {
		return nil, err
	}
	if c.Branch, err = readLenPrefixedString(r); err != nil {
		return nil, err
	}
	if c.ControlSocketPath, err = readLenPrefixedString(r); err != nil {
		return nil, err
	}

	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, err
	}
	if count > maxPlausibleLength {
		return nil, xerrors.Errorf("implausible object count %d", count)
	}

	for i := uint64(0); i < count; i++ {
		var typ uint32
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, err
		}
		var payloadLen uint64
		if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
			return nil, err
		}
		if payloadLen > maxPlausibleLength {
			return nil, xerrors.Errorf("implausible payload length %d", payloadLen)
		}
		var hashField [hashHexLen]byte
		if _, err := io.ReadFull(r, hashField[:]); err != nil {
			return nil, err
		}
		payload := make([]byte, payloadLen)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}

		oid, err := h.ConvertFromChars(hashField[:])
		if err != nil {
			return nil, err
		}
		o := object.NewWithID(h, oid, object.Type(typ), payload)
		c.Store.Put(o)
	}

	return c, nil
}

func readLenPrefixedString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxPlausibleLength {
		return "", xerrors.Errorf("implausible field length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
