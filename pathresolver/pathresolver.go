// Package pathresolver walks the tree closure of a commit against a
// set of slash-separated glob patterns, producing the sparse
// working-set of blobs a run actually needs.
package pathresolver

import (
	"fmt"
	"strings"

	"github.com/sparsevcs/mirror/githash"
	"github.com/sparsevcs/mirror/internal/cache"
	"github.com/sparsevcs/mirror/object"
	"github.com/sparsevcs/mirror/pathmatch"
)

// treeDecodeCacheSize bounds the in-process tree-decode cache: a
// pattern list with many top-level globs re-visits shared ancestor
// trees (e.g. the repo root) once per pattern, so caching the decoded
// form avoids re-parsing the same tree object repeatedly within a run.
const treeDecodeCacheSize = 4096

// Wanted is one blob the resolver decided must end up in the working
// tree, identified by its id and the slash-joined path it should be
// materialized at.
type Wanted struct {
	Path   string
	ID     githash.Oid
	Mode   object.TreeObjectMode
	Needed bool // true if ID is not yet present in the store
}

// Diagnostic is a non-fatal condition surfaced while resolving
// patterns: a pattern matched nothing, or a pattern stepped through a
// non-directory, or stopped on a directory.
type Diagnostic struct {
	Pattern string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.Pattern, d.Message)
}

// Resolve matches every pattern against the tree rooted at rootTree,
// using store both to look up tree/blob objects and to decide which
// matches are already satisfied.
func Resolve(store *object.Store, rootTree githash.Oid, patterns []string) ([]Wanted, []Diagnostic) {
	r := &resolver{store: store, trees: cache.NewLRU(treeDecodeCacheSize)}

	var wanted []Wanted
	var diags []Diagnostic

	for _, pattern := range patterns {
		segs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
		before := len(wanted)
		w, d := r.resolveSegments(rootTree, "", segs, pattern)
		wanted = append(wanted, w...)
		diags = append(diags, d...)
		if len(wanted) == before {
			diags = append(diags, Diagnostic{Pattern: pattern, Message: "matched nothing"})
		}
	}

	return wanted, diags
}

// resolver carries the per-run decoded-tree cache across every
// pattern in one Resolve call.
type resolver struct {
	store *object.Store
	trees *cache.LRU
}

// decodeTree returns the parsed Tree for treeID, decoding and caching
// it on first use.
func (r *resolver) decodeTree(treeID githash.Oid) (*object.Tree, error) {
	key := treeID.String()
	if v, ok := r.trees.Get(key); ok {
		return v.(*object.Tree), nil
	}

	treeObj, ok := r.store.Get(treeID)
	if !ok {
		return nil, fmt.Errorf("tree %s not in store", treeID.String())
	}
	tree, err := treeObj.AsTree()
	if err != nil {
		return nil, err
	}
	r.trees.Add(key, tree)
	return tree, nil
}

// resolveSegments matches segs[0] against every entry of the tree
// identified by treeID, recursing into directories for the remaining
// segments. prefix is the slash-joined path accumulated so far.
func (r *resolver) resolveSegments(treeID githash.Oid, prefix string, segs []string, pattern string) ([]Wanted, []Diagnostic) {
	tree, err := r.decodeTree(treeID)
	if err != nil {
		return nil, []Diagnostic{{Pattern: pattern, Message: err.Error()}}
	}

	seg, rest := segs[0], segs[1:]

	var wanted []Wanted
	var diags []Diagnostic

	for _, entry := range tree.Entries() {
		if !pathmatch.Match(seg, entry.Path) {
			continue
		}
		full := entry.Path
		if prefix != "" {
			full = prefix + "/" + entry.Path
		}

		if len(rest) > 0 {
			if !entry.Mode.IsDir() {
				diags = append(diags, Diagnostic{Pattern: pattern, Message: fmt.Sprintf("%s is not a directory", full)})
				continue
			}
			w, d := r.resolveSegments(entry.ID, full, rest, pattern)
			wanted = append(wanted, w...)
			diags = append(diags, d...)
			continue
		}

		if entry.Mode.IsDir() {
			diags = append(diags, Diagnostic{Pattern: pattern, Message: fmt.Sprintf("%s is a directory", full)})
			continue
		}

		wanted = append(wanted, Wanted{
			Path:   full,
			ID:     entry.ID,
			Mode:   entry.Mode,
			Needed: !r.store.Has(entry.ID),
		})
	}

	return wanted, diags
}
