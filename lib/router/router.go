// SPDX-License-Identifier: GPL-2.0-or-later

// Package router maps every chunk digest in a backup to the ChunkStore
// that holds it, so that VFS reads and the verifier need not know which
// chunkstore backs a given chunk.
package router

import (
	"fmt"

	"github.com/steamrec/tev/lib/chunkstore"
	"github.com/steamrec/tev/lib/tevfs"
)

// Router is a read-only digest -> *chunkstore.Store lookup, built once
// and shared for the lifetime of a mount or verify pass. It requires no
// locking once built.
type Router struct {
	stores map[[20]byte]*chunkstore.Store
}

// New builds a Router from the given chunkstores, indexing every digest
// each one's CSM records. If the same digest appears in more than one
// chunkstore, the last one supplied wins; this is safe because chunk
// identity is content-addressed, so any chunkstore holding a given digest
// holds identical bytes.
func New(stores []*chunkstore.Store) *Router {
	r := &Router{stores: map[[20]byte]*chunkstore.Store{}}
	for _, s := range stores {
		for _, c := range s.Chunks() {
			r.stores[c.SHA1] = s
		}
	}
	return r
}

// Lookup returns the ChunkStore backing digest, or nil, ok=false if no
// chunkstore known to this Router carries it.
func (r *Router) Lookup(digest [20]byte) (*chunkstore.Store, bool) {
	s, ok := r.stores[digest]
	return s, ok
}

// ChunkData fetches and decompresses the chunk identified by digest,
// routing to whichever chunkstore holds it.
func (r *Router) ChunkData(digest [20]byte) ([]byte, error) {
	s, ok := r.Lookup(digest)
	if !ok {
		return nil, fmt.Errorf("%w: digest %x not present in any known chunkstore", tevfs.ErrWrongDigest, digest)
	}
	return s.ChunkData(digest)
}

// Len reports how many distinct digests this Router knows about.
func (r *Router) Len() int {
	return len(r.stores)
}
