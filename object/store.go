package object

import (
	"sync"

	"github.com/sparsevcs/mirror/githash"
)

// Store holds every object fetched during a run, keyed by its id.
// It's a plain in-memory map: this module never writes loose objects
// or pack files to disk, it only ever needs the current run's working
// set resolvable by id (spec data model's Object store).
//
// Inserting an id that's already present replaces the prior entry,
// same as a git object database would (content-addressing makes the
// replacement a no-op in practice, since equal ids imply equal
// content).
type Store struct {
	mu      sync.RWMutex
	hash    githash.Hash
	objects map[string]*Object
}

// NewStore creates an empty Store using h to derive object ids
func NewStore(h githash.Hash) *Store {
	return &Store{
		hash:    h,
		objects: make(map[string]*Object),
	}
}

// Hash returns the hash algorithm this store was created with
func (s *Store) Hash() githash.Hash {
	return s.hash
}

// Put inserts o into the store, keyed by its id
func (s *Store) Put(o *Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[o.ID().String()] = o
}

// Get returns the object for the given id, or false if it's not present
func (s *Store) Get(id githash.Oid) (*Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objects[id.String()]
	return o, ok
}

// Has returns whether id is present in the store
func (s *Store) Has(id githash.Oid) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of objects currently stored
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// All returns every object currently in the store, in no particular
// order.
func (s *Store) All() []*Object {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Object, 0, len(s.objects))
	for _, o := range s.objects {
		out = append(out, o)
	}
	return out
}
