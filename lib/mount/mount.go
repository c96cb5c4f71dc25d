// SPDX-License-Identifier: GPL-2.0-or-later

// Package mount assembles a backup's VFS state once and translates kernel
// filesystem callbacks (FUSE on POSIX, Dokan on Windows) into reads
// against it. The shared preparation logic lives here; the platform
// callback surfaces live in posix.go and windows.go.
package mount

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/steamrec/tev/lib/chunkstore"
	"github.com/steamrec/tev/lib/manifest"
	"github.com/steamrec/tev/lib/readplan"
	"github.com/steamrec/tev/lib/router"
	"github.com/steamrec/tev/lib/sku"
	"github.com/steamrec/tev/lib/tevfs"
	"github.com/steamrec/tev/lib/vfs"
)

// RootInode is the VFS's synthetic root inode, re-exported here so
// platform back ends don't need to import lib/vfs directly for it.
const RootInode = vfs.RootInode

// BackupFs is the assembled, immutable state of one mounted backup: the
// SKU, the VFS tree built from its depot manifests, and the chunk router
// built from its chunkstores. All of it is built once by Prepare and
// never mutated afterward; platform back ends layer their own handle
// tables on top.
type BackupFs struct {
	SKU    *sku.SKU
	Tree   *vfs.Tree
	Router *router.Router

	stores []*chunkstore.Store
}

// Prepare loads sku.sis from baseDir, reads every depot's manifest from
// manifestDir, opens every chunkstore the SKU records, and assembles the
// VFS tree and chunk router from them. It refuses to prepare a backup
// whose depot manifest still reports encrypted filenames: unlike the
// verifier, a mount has no way to surface per-file decrypt failures to a
// kernel read, so it fails fast instead.
func Prepare(baseDir, manifestDir string) (*BackupFs, error) {
	s, err := sku.Read(filepath.Join(baseDir, "sku.sis"))
	if err != nil {
		return nil, err
	}

	manifests := make(map[uint32]*manifest.Manifest, len(s.Depots))
	for _, depot := range s.SortedDepots() {
		manifestID, ok := s.Manifests[depot]
		if !ok {
			return nil, fmt.Errorf("%w: sku has no manifest id for depot %d", tevfs.ErrMalformedSKU, depot)
		}
		manifestPath := filepath.Join(manifestDir, fmt.Sprintf("%d_%d.manifest", depot, manifestID))
		m, err := manifest.Read(manifestPath)
		if err != nil {
			return nil, err
		}
		if m.Metadata.DepotID != depot {
			return nil, fmt.Errorf("%w: %s belongs to depot %d, not %d", tevfs.ErrDepotMismatch, manifestPath, m.Metadata.DepotID, depot)
		}
		if m.Metadata.FilenamesEncrypted {
			return nil, fmt.Errorf("%w: %s", tevfs.ErrEncryptedFilenames, manifestPath)
		}
		manifests[depot] = m
	}

	var stores []*chunkstore.Store
	for _, depot := range s.SortedDepots() {
		for _, idx := range sortedChunkstoreIndices(s.Chunkstores[depot]) {
			store, err := chunkstore.Open(baseDir, depot, idx)
			if err != nil {
				closeAll(stores)
				return nil, err
			}
			stores = append(stores, store)
		}
	}

	tree, err := vfs.Assemble(s, manifests)
	if err != nil {
		closeAll(stores)
		return nil, err
	}

	return &BackupFs{
		SKU:    s,
		Tree:   tree,
		Router: router.New(stores),
		stores: stores,
	}, nil
}

// Close releases every chunkstore's underlying CSD file handle.
func (fs *BackupFs) Close() error {
	return closeAll(fs.stores)
}

func closeAll(stores []*chunkstore.Store) error {
	var first error
	for _, s := range stores {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func sortedChunkstoreIndices(m map[uint32]int64) []uint32 {
	out := make([]uint32, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// readErrorKind classifies an error from readplan.Read into the taxonomy
// platform back ends translate to their own numeric error codes.
type readErrorKind int

const (
	readOK readErrorKind = iota
	readInvalid
	readIO
)

func classifyReadError(err error) readErrorKind {
	switch {
	case err == nil:
		return readOK
	case errors.Is(err, tevfs.ErrInvalidParameter):
		return readInvalid
	default:
		return readIO
	}
}

// readData runs the read planner for inode within fs, translating its
// result into the three-way outcome platform back ends need.
func readData(fs *BackupFs, inode uint64, offset uint64, buf []byte) (int, readErrorKind) {
	node, ok := fs.Tree.Node(inode)
	if !ok {
		return 0, readInvalid
	}
	n, err := readplan.Read(fs.Router, node, offset, buf)
	return n, classifyReadError(err)
}
