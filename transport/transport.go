// Package transport opens the bidirectional byte channel the protocol
// driver speaks pkt-lines over: a secure-shell session invoking the
// peer's git-upload-pack, multiplexed across runs via an OpenSSH
// control socket.
package transport

import (
	"io"
	"net/url"
	"time"
)

// Conn is a bidirectional byte channel to a git-upload-pack peer.
type Conn interface {
	io.ReadWriteCloser
	// SetDeadline sets both read and write deadlines, matching net.Conn
	// so a direct socket connection could satisfy this interface too.
	SetDeadline(t time.Time) error
}

// ConnFactory knows how to open a Conn for urls it claims to handle.
type ConnFactory interface {
	WillHandleURL(u *url.URL) bool
	Connect(u *url.URL) (Conn, error)
}
