package transport

import (
	"fmt"
	"io"
	"io/ioutil"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// connectTimeout and keepAlive are enforced at the ssh client layer
// (ConnectTimeout / ServerAliveInterval); a stall past either is a
// transport failure, there is no separate application-level deadline
// around pkt-line reads.
const (
	connectTimeout  = 5 * time.Second
	keepAlive       = 5 * time.Second
	controlPersist  = 1 * time.Minute
	hostPortPattern = `^([^\:]+)(?:\:(\d+))?$`
)

var hostPortRegexp = regexp.MustCompile(hostPortPattern)

// SSHConn is a Conn backed by a running ssh child process, with
// stdout/stdin as the byte channel and stderr surfaced on Close error.
type SSHConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (c *SSHConn) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *SSHConn) Write(p []byte) (int, error) { return c.stdin.Write(p) }

// SetDeadline is a no-op: the underlying pipes to an exec.Cmd don't
// support per-call deadlines, so timing out a stalled peer is left to
// the ssh client's own ConnectTimeout/ServerAliveInterval/
// ServerAliveCountMax options.
func (c *SSHConn) SetDeadline(t time.Time) error { return nil }

// Close waits for the ssh process to exit, surfacing any stderr
// output alongside a non-zero exit status.
func (c *SSHConn) Close() error {
	_ = c.stdin.Close()
	err := c.cmd.Wait()
	if err != nil {
		errBytes, readErr := ioutil.ReadAll(c.stderr)
		if readErr != nil {
			return xerrors.Errorf("ssh exited with error: %w", err)
		}
		return xerrors.Errorf("ssh exited with error: %w (stderr: %s)", err, string(errBytes))
	}
	return nil
}

// SSHConnFactory connects to git-upload-pack over a persistent,
// control-socket-multiplexed ssh session.
type SSHConnFactory struct {
	// ControlPath is the per-host control socket path. Sequential runs
	// against the same host reuse the same live connection, amortizing
	// the handshake, as long as the socket passed here is stable
	// across runs (the core stores it in the collection, see cache).
	ControlPath string
}

// NormalizeURL rewrites a bare SCP-style "[user@]host:path" remote —
// spec's canonical remote form, e.g. "git@example.com:org/repo.git" —
// into an "ssh://" URL, so net/url.Parse can round-trip it.
//
// An unscheme'd string with a colon before its first "/" fails
// url.Parse outright: getScheme aborts on the "@", so the whole thing
// is treated as an opaque path, and the segment before the first "/"
// ("git@example.com:org") contains a colon, which url.Parse rejects
// (golang.org/issue/16822, "first path segment in URL cannot contain
// colon"). That means this rewrite MUST happen on the raw string
// before url.Parse is ever called — by the time a *url.URL exists,
// url.Parse has already either succeeded (nothing to normalize) or
// failed (too late).
//
// raw is returned unchanged if it already carries a scheme or has no
// colon ahead of its first path separator.
func NormalizeURL(raw string) string {
	if strings.Contains(raw, "://") {
		return raw
	}
	slash := strings.IndexByte(raw, '/')
	colon := strings.IndexByte(raw, ':')
	if colon < 0 || (slash >= 0 && colon > slash) {
		return raw
	}

	hostPart := raw[:colon]
	rest := raw[colon+1:]
	if parts := strings.SplitN(rest, ":", 2); len(parts) == 2 {
		if _, err := strconv.Atoi(parts[0]); err == nil {
			// custom-port form: user@host:2222:path/to/repo
			return "ssh://" + hostPart + ":" + parts[0] + "/" + parts[1]
		}
	}
	return "ssh://" + hostPart + "/" + rest
}

// cleanupBareURL normalizes the bare SCP-style user@host:path form
// into an ssh:// URL, preserving a custom port that appears before
// the path separator colon (user@host:2222:path/to/repo). Kept as a
// defensive second layer for any *url.URL built by a caller that
// skipped NormalizeURL (e.g. assembled directly with &url.URL{} rather
// than parsed from a raw string) — for a caller that already ran
// NormalizeURL before url.Parse, u.Scheme is "ssh" and this is a no-op.
func cleanupBareURL(u *url.URL) *url.URL {
	if u.Scheme != "" || u.Path == "" {
		return u
	}
	parts := strings.Split(u.Path, ":")
	var newPath string
	if len(parts) > 2 {
		newPath = fmt.Sprintf("%s:%s", parts[0], strings.Join(parts[1:], "/"))
	} else {
		newPath = strings.Join(parts, "/")
	}
	newU, err := url.Parse("ssh://" + newPath)
	if err != nil {
		return u
	}
	return newU
}

func getHostAndPort(cleaned *url.URL) (host, port string) {
	if match := hostPortRegexp.FindStringSubmatch(cleaned.Host); match != nil {
		host = match[1]
		if len(match) > 2 {
			port = match[2]
		}
	}
	return host, port
}

// WillHandleURL reports whether u is (or normalizes to) an ssh:// URL.
func (f *SSHConnFactory) WillHandleURL(u *url.URL) bool {
	if u.Scheme == "ssh" {
		return true
	}
	return cleanupBareURL(u).Scheme == "ssh"
}

// Connect shells out to ssh (or $GIT_SSH) with a persistent control
// socket and runs git-upload-pack for u.Path on the remote end,
// returning the child's stdio as the byte channel.
func (f *SSHConnFactory) Connect(u *url.URL) (Conn, error) {
	sshBin := os.Getenv("GIT_SSH")
	if sshBin == "" {
		sshBin = "ssh"
	}
	isPlink := strings.EqualFold(filepath.Base(sshBin), "plink")
	isTortoise := strings.EqualFold(filepath.Base(sshBin), "tortoiseplink")

	cleaned := cleanupBareURL(u)
	if cleaned.Scheme != "ssh" {
		return nil, xerrors.Errorf("%s is not an ssh url", u.String())
	}
	host, port := getHostAndPort(cleaned)
	if host == "" {
		return nil, xerrors.Errorf("no host found in url %s", u.String())
	}

	args := make([]string, 0, 16)
	if isTortoise {
		args = append(args, "-batch")
	}
	if !isPlink && !isTortoise {
		args = append(args,
			"-o", fmt.Sprintf("ConnectTimeout=%d", int(connectTimeout.Seconds())),
			"-o", fmt.Sprintf("ServerAliveInterval=%d", int(keepAlive.Seconds())),
			"-o", "ServerAliveCountMax=1",
		)
		if f.ControlPath != "" {
			args = append(args,
				"-o", "ControlMaster=auto",
				"-o", "ControlPath="+f.ControlPath,
				"-o", fmt.Sprintf("ControlPersist=%d", int(controlPersist.Seconds())),
			)
		}
	}
	if port != "" {
		if isPlink {
			args = append(args, "-P", port)
		} else {
			args = append(args, "-p", port)
		}
	}
	args = append(args, host, "git-upload-pack", "'"+strings.TrimPrefix(cleaned.Path, "/")+"'")

	cmd := exec.Command(sshBin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, xerrors.Errorf("could not attach ssh stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, xerrors.Errorf("could not attach ssh stderr: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, xerrors.Errorf("could not attach ssh stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, xerrors.Errorf("could not start ssh: %w", err)
	}

	return &SSHConn{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}
