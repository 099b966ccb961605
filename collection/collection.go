// Package collection owns the lifecycle of one repository collection
// — the persistent, per-remote-URL state a run loads, mutates, and
// conditionally persists — and sequences a full run across the
// transport, protocol, path resolver and cache packages.
package collection

import (
	"crypto/sha1" //nolint:gosec // identifies a local cache directory, not a security boundary
	"encoding/hex"
	"net/url"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/sparsevcs/mirror/cache"
	"github.com/sparsevcs/mirror/diag"
	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/object"
	"github.com/sparsevcs/mirror/pathresolver"
	"github.com/sparsevcs/mirror/protocol"
	"github.com/sparsevcs/mirror/transport"
)

// slugLen is the fixed width of the directory/cache-file name derived
// from a repository URL.
const slugLen = 20

// dirMode is the mode new working-tree directories are created with.
const dirMode = 0o755

// Slug derives the stable, filesystem-safe name a repository URL is
// cached and checked out under: the first slugLen hex characters of
// the SHA-1 of the URL's string form. Collisions within that prefix
// are not defended against; this mirrors how the teacher generation
// keys its own on-disk object names by hex hash prefix.
func Slug(repoURL string) string {
	sum := sha1.Sum([]byte(repoURL)) //nolint:gosec // non-cryptographic use
	return hex.EncodeToString(sum[:])[:slugLen]
}

// Collection is one repository's persistent state plus the transient
// bookkeeping a single Run rebuilds. It mirrors the split the
// teacher's Repository struct draws between fields that survive a
// process restart and fields that only make sense mid-operation.
type Collection struct {
	// Persistent fields, round-tripped through cache.Collection.
	LastCommit        githash.Oid
	Domain            string
	Name              string
	Branch            string
	ControlSocketPath string
	Store             *object.Store

	// Transient fields, rebuilt every Run and never persisted.
	cachePath string
	workDir   string
}

// WrittenFile is one wanted object materialized on disk during a run.
type WrittenFile struct {
	VirtualPath    string
	FilesystemPath string
}

// Open loads the collection cached at <cacheDir>/<slug(repoURL)>.goc,
// or returns a freshly initialized, empty collection if no cache file
// exists yet (cold start) or the existing one is corrupt (in which
// case it's deleted and recreated from scratch, per spec's corruption
// handling).
func Open(fs afero.Fs, h githash.Hash, cacheDir, repoURL, branch string) (*Collection, error) {
	u, err := url.Parse(transport.NormalizeURL(repoURL))
	if err != nil {
		return nil, xerrors.Errorf("invalid repository url %q: %w", repoURL, err)
	}
	slug := Slug(repoURL)
	cachePath := filepath.Join(cacheDir, slug+".goc")
	workDir := filepath.Join(cacheDir, slug)

	c := &Collection{
		Domain:    u.Hostname(),
		Name:      u.Path,
		Branch:    branch,
		Store:     object.NewStore(h),
		cachePath: cachePath,
		workDir:   workDir,
	}

	exists, err := afero.Exists(fs, cachePath)
	if err != nil {
		return nil, xerrors.Errorf("could not stat cache file: %w", err)
	}
	if !exists {
		return c, nil
	}

	loaded, err := cache.Load(fs, h, cachePath)
	if err != nil {
		if !xerrors.Is(err, cache.ErrCorrupt) {
			return nil, xerrors.Errorf("could not load cache: %w", err)
		}
		// corrupt cache: discard and proceed as a cold clone.
		_ = fs.Remove(cachePath)
		return c, nil
	}

	c.LastCommit = loaded.LastCommit
	c.Domain = loaded.Domain
	c.Name = loaded.Name
	c.Branch = loaded.Branch
	c.ControlSocketPath = loaded.ControlSocketPath
	c.Store = loaded.Store
	return c, nil
}

// Run drives one full sparse-mirror cycle for c against repoURL:
// reference discovery, a filtered tree-only fetch, sparse path
// resolution, an on-demand blob fetch, working-tree checkout, and —
// only if new content was actually observed — cache persistence.
// Ordering matches spec's guarantee: Phase A, then Phase B, then path
// resolution, then Phase C, then checkout, then persistence.
func Run(fs afero.Fs, factory transport.ConnFactory, c *Collection, repoURL string, patterns []string, logger *diag.Logger) (changed bool, written []WrittenFile, err error) {
	u, err := url.Parse(transport.NormalizeURL(repoURL))
	if err != nil {
		return false, nil, xerrors.Errorf("invalid repository url %q: %w", repoURL, err)
	}

	sess := protocol.NewSession(c.Store.Hash(), c.Store)

	connAB, err := factory.Connect(u)
	if err != nil {
		return false, nil, xerrors.Errorf("could not connect: %w", err)
	}

	remoteTip, found, err := sess.DiscoverRefs(connAB, c.Branch)
	if err != nil {
		_ = connAB.Close()
		return false, nil, xerrors.Errorf("phase A failed: %w", err)
	}
	if !found {
		_ = connAB.Close()
		logger.Warnf("branch %q not advertised by %s", c.Branch, repoURL)
		return false, nil, nil
	}
	if c.LastCommit != nil && remoteTip.String() == c.LastCommit.String() {
		_ = connAB.Close()
		return false, nil, nil
	}

	if err := sess.FetchTrees(connAB, remoteTip, knownTrees(c.Store)); err != nil {
		_ = connAB.Close()
		return false, nil, xerrors.Errorf("phase B failed: %w", err)
	}
	_ = connAB.Close()

	commitObj, ok := c.Store.Get(remoteTip)
	if !ok {
		return false, nil, xerrors.Errorf("advertised tip %s missing from store after phase B", remoteTip.String())
	}
	commit, err := commitObj.AsCommit()
	if err != nil {
		return false, nil, xerrors.Errorf("could not parse advertised tip: %w", err)
	}

	wanted, diags := pathresolver.Resolve(c.Store, commit.TreeID(), patterns)
	for _, d := range diags {
		logger.Warnf("%s", d.String())
	}

	var needed []githash.Oid
	for _, w := range wanted {
		if w.Needed {
			needed = append(needed, w.ID)
		}
	}

	if len(needed) > 0 {
		connC, err := factory.Connect(u)
		if err != nil {
			return false, nil, xerrors.Errorf("could not open phase C connection: %w", err)
		}

		tip2, found2, err := sess.DiscoverRefs(connC, c.Branch)
		if err != nil {
			_ = connC.Close()
			return false, nil, xerrors.Errorf("phase C ref re-discovery failed: %w", err)
		}
		if found2 && tip2.String() != remoteTip.String() {
			logger.Warnf("remote tip moved from %s to %s between phase B and phase C", remoteTip.String(), tip2.String())
		}

		if err := sess.FetchBlobs(connC, needed); err != nil {
			_ = connC.Close()
			return false, nil, xerrors.Errorf("phase C failed: %w", err)
		}
		_ = connC.Close()
	}

	written = checkout(fs, c.workDir, wanted, c.Store, logger)

	// Phase B always ran by this point, and it only runs when the
	// remote tip moved, so the run always observed new content here.
	c.LastCommit = remoteTip
	toSave := &cache.Collection{
		LastCommit:        c.LastCommit,
		Domain:            c.Domain,
		Name:              c.Name,
		Branch:            c.Branch,
		ControlSocketPath: c.ControlSocketPath,
		Store:             c.Store,
	}
	if err := cache.Save(fs, c.cachePath, toSave); err != nil {
		return false, nil, xerrors.Errorf("could not persist cache: %w", err)
	}

	return true, written, nil
}

// knownTrees returns the id of every tree object currently in store,
// the "have" list Phase B announces so the peer can omit them.
func knownTrees(store *object.Store) []githash.Oid {
	var out []githash.Oid
	for _, o := range store.All() {
		if o.Type() == object.TypeTree {
			out = append(out, o.ID())
		}
	}
	return out
}

// checkout writes every wanted object's bytes to its virtual path
// under workDir, creating parent directories on demand. A failure
// writing one file is logged and does not abort the remaining files,
// per spec's non-fatal filesystem-error handling.
func checkout(fs afero.Fs, workDir string, wanted []pathresolver.Wanted, store *object.Store, logger *diag.Logger) []WrittenFile {
	var out []WrittenFile
	for _, w := range wanted {
		fsPath := filepath.Join(workDir, filepath.FromSlash(w.Path))

		exists, err := afero.Exists(fs, fsPath)
		if err != nil {
			logger.Warnf("could not stat %s: %s", w.Path, err)
			continue
		}
		out = append(out, WrittenFile{VirtualPath: w.Path, FilesystemPath: fsPath})
		if exists && !w.Needed {
			continue
		}

		o, ok := store.Get(w.ID)
		if !ok {
			logger.Warnf("wanted object %s (%s) not in store after fetch", w.ID.String(), w.Path)
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(fsPath), dirMode); err != nil {
			logger.Warnf("could not create directory for %s: %s", w.Path, err)
			continue
		}
		if err := afero.WriteFile(fs, fsPath, o.Bytes(), 0o644); err != nil {
			logger.Warnf("could not write %s: %s", w.Path, err)
			continue
		}
	}
	return out
}
