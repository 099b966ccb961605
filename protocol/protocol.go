// Package protocol drives the two phases of the git smart-transfer v1
// negotiation this module needs: reference discovery and a filtered,
// shallow fetch (trees only, then blobs on demand), all framed in
// pkt-lines over a caller-supplied byte channel.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
	"github.com/sparsevcs/mirror/packfile"
	"github.com/sparsevcs/mirror/pktline"
	"golang.org/x/xerrors"
)

// ErrNoNAK is returned when the peer's response to a fetch request
// never contains the expected NAK acknowledgment.
var ErrNoNAK = errors.New("protocol: peer never sent NAK")

// Session drives protocol exchanges against one hash algorithm and
// deposits every object it receives into store.
type Session struct {
	Hash  githash.Hash
	Store *object.Store
}

// NewSession creates a Session writing resolved objects into store.
func NewSession(h githash.Hash, store *object.Store) *Session {
	return &Session{Hash: h, Store: store}
}

// DiscoverRefs reads the peer's ref advertisement (Phase A) from r and
// returns the id the given branch name resolves to. branch is matched
// as a substring of each advertised ref name; if more than one ref
// matches, the last one read wins. If the peer closes the connection
// before advertising any matching ref, found is false and err is nil:
// an absent branch is not a protocol error.
func (s *Session) DiscoverRefs(r io.Reader, branch string) (tip githash.Oid, found bool, err error) {
	pktr := pktline.NewReader(r)
	if err := pktr.Next(); err != nil {
		if errors.Is(err, io.EOF) {
			return s.Hash.NullOid(), false, nil
		}
		return s.Hash.NullOid(), false, xerrors.Errorf("could not read ref advertisement: %w", err)
	}

	var tipHex string
	first := true
	for {
		line, rerr := pktr.ReadMsg()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return s.Hash.NullOid(), false, xerrors.Errorf("could not read ref advertisement: %w", rerr)
		}
		if len(line) == 0 {
			// no flush observed but nothing left to read either: the
			// peer closed the connection mid-advertisement
			break
		}
		if first {
			if idx := bytes.IndexByte(line, 0); idx >= 0 {
				line = line[:idx]
			}
			first = false
		}
		parts := bytes.SplitN(line, []byte{' '}, 2)
		if len(parts) != 2 {
			continue
		}
		if strings.Contains(string(parts[1]), branch) {
			tipHex = string(parts[0])
			found = true
		}
	}

	if !found {
		return s.Hash.NullOid(), false, nil
	}
	tip, err = s.Hash.ConvertFromChars([]byte(tipHex))
	if err != nil {
		return s.Hash.NullOid(), false, xerrors.Errorf("invalid ref tip %q: %w", tipHex, err)
	}
	return tip, true, nil
}

// readUntilNAK reads acknowledgment pkt-lines off r until the literal
// "NAK" line, then discards one further pkt-line — the band-framing
// preamble git sends in practice even without side-band negotiated —
// leaving r positioned at the start of the raw (unframed) pack bytes.
//
// The discard is done by reading raw bytes directly off r rather than
// through the pktline.Reader again, since pktline.Reader eagerly reads
// the next line's length header as soon as a line is fully consumed;
// calling it one more time here would misinterpret the pack's leading
// "PACK" magic as a line-length header and corrupt the stream.
func readUntilNAK(r io.Reader) error {
	pktr := pktline.NewReader(r)
	if err := pktr.Next(); err != nil {
		return xerrors.Errorf("could not read ack: %w", err)
	}
	for {
		line, err := pktr.ReadMsg()
		if err != nil {
			return xerrors.Errorf("could not read ack: %w", err)
		}
		if string(line) == "NAK" {
			break
		}
	}

	if n := pktr.Len(); n > 0 {
		if _, err := io.CopyN(ioutil.Discard, r, int64(n)); err != nil {
			return xerrors.Errorf("could not discard post-NAK preamble: %w", err)
		}
	}
	return nil
}

// FetchTrees runs Phase B: requests a depth-1, blob-less pack
// containing remoteTip's commit and tree closure, announcing the
// trees already present in haveTrees so the peer can omit them, then
// reads and fully resolves the resulting pack into the session store.
func (s *Session) FetchTrees(conn io.ReadWriter, remoteTip githash.Oid, haveTrees []githash.Oid) error {
	w := pktline.NewWriter(conn)
	if _, err := w.WriteString(fmt.Sprintf("want %s multi_ack filter no-progress\n", remoteTip.String())); err != nil {
		return xerrors.Errorf("could not send want: %w", err)
	}
	if _, err := w.WriteString("deepen 1\n"); err != nil {
		return xerrors.Errorf("could not send deepen: %w", err)
	}
	if _, err := w.WriteString("filter blob:none\n"); err != nil {
		return xerrors.Errorf("could not send filter: %w", err)
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush want section: %w", err)
	}
	for _, have := range haveTrees {
		if _, err := w.WriteString(fmt.Sprintf("have %s\n", have.String())); err != nil {
			return xerrors.Errorf("could not send have: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush have section: %w", err)
	}
	if _, err := w.WriteString("done\n"); err != nil {
		return xerrors.Errorf("could not send done: %w", err)
	}

	if err := readUntilNAK(conn); err != nil {
		return err
	}
	return s.drainPack(conn)
}

// FetchBlobs runs Phase C: requests the full content of every blob in
// wanted over a fresh channel and resolves the resulting pack.
func (s *Session) FetchBlobs(conn io.ReadWriter, wanted []githash.Oid) error {
	if len(wanted) == 0 {
		return nil
	}

	w := pktline.NewWriter(conn)
	for i, id := range wanted {
		line := fmt.Sprintf("want %s\n", id.String())
		if i == 0 {
			line = fmt.Sprintf("want %s no-progress\n", id.String())
		}
		if _, err := w.WriteString(line); err != nil {
			return xerrors.Errorf("could not send want: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return xerrors.Errorf("could not flush want section: %w", err)
	}
	if _, err := w.WriteString("done\n"); err != nil {
		return xerrors.Errorf("could not send done: %w", err)
	}

	if err := readUntilNAK(conn); err != nil {
		return err
	}
	return s.drainPack(conn)
}

// drainPack feeds the raw byte stream starting at r's current
// position to a fresh packfile.Reader and resolves every object it
// declares into s.Store.
func (s *Session) drainPack(r io.Reader) error {
	pr, err := packfile.NewReader(r, s.Hash, s.Store)
	if err != nil {
		return xerrors.Errorf("could not open pack stream: %w", err)
	}
	for !pr.Done() {
		if _, err := pr.ReadObject(); err != nil {
			return xerrors.Errorf("could not read pack object: %w", err)
		}
	}
	return nil
}
