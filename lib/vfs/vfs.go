// SPDX-License-Identifier: GPL-2.0-or-later

// Package vfs assembles the union of a backup's per-depot file mappings
// into a single inode-addressed directory tree: an inode table, a
// directory map, and (transiently) a path index.
package vfs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/steamrec/tev/lib/manifest"
	"github.com/steamrec/tev/lib/sku"
	"github.com/steamrec/tev/lib/tevfs"
)

// RootInode is the synthetic root directory's inode number. It is never
// present in the Tree's node table, only in its path index and directory
// map.
const RootInode = 1

// Kind distinguishes a Node backed by a real file mapping from one
// synthesized purely to materialise an intermediate directory.
type Kind int

const (
	KindReal Kind = iota
	KindSynthetic
)

// Node is one non-root entry of the assembled tree.
type Node struct {
	Inode uint64
	Kind  Kind

	// Path is the node's path split into components, relative to the
	// backup root.
	Path []string

	// DepotID and CreationTime are populated for every node (synthetic
	// directories borrow them from whichever real node triggered their
	// creation).
	DepotID      uint32
	CreationTime uint32

	// Mapping is populated only for KindReal nodes.
	Mapping manifest.FileMapping
}

// Name is the node's final path component.
func (n *Node) Name() string {
	if len(n.Path) == 0 {
		return ""
	}
	return n.Path[len(n.Path)-1]
}

// IsDir reports whether this node should present as a directory: always
// true for synthetic nodes, and true for real nodes whose mapping flags
// say so.
func (n *Node) IsDir() bool {
	if n.Kind == KindSynthetic {
		return true
	}
	return n.Mapping.IsDirectory()
}

// Tree is the fully assembled VFS: an inode table plus a directory map.
// Immutable once Assemble returns.
type Tree struct {
	nodes     []Node              // nodes[i] has inode i+2
	pathIndex map[string]uint64   // "" -> RootInode, else joined path -> inode
	children  map[uint64][]uint64 // directory inode -> ordered child inodes
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedManifest, fmt.Sprintf(format, args...))
}

// pathComponents splits a file mapping's filename into path components,
// splitting on "/" if any is present, otherwise on "\".
func pathComponents(filename string) []string {
	sep := "/"
	if !strings.Contains(filename, "/") && strings.Contains(filename, "\\") {
		sep = "\\"
	}
	var out []string
	for _, part := range strings.Split(filename, sep) {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

type realEntry struct {
	path    []string
	joined  string
	depotID uint32
	created uint32
	mapping manifest.FileMapping
}

// Assemble builds a Tree from a SKU and the depot manifests it
// references. manifests must contain an entry for every depot in
// s.Depots, each one validated to report the matching depot id in its
// metadata.
func Assemble(s *sku.SKU, manifests map[uint32]*manifest.Manifest) (*Tree, error) {
	var entries []realEntry

	for _, depot := range s.SortedDepots() {
		m, ok := manifests[depot]
		if !ok {
			return nil, malformed("no depot manifest supplied for depot %d", depot)
		}
		if m.Metadata.DepotID != depot {
			return nil, fmt.Errorf("%w: manifest for depot %d reports depot_id %d", tevfs.ErrDepotMismatch, depot, m.Metadata.DepotID)
		}
		for _, fm := range m.Payload.Mappings {
			comps := pathComponents(fm.Filename)
			if len(comps) == 0 {
				continue
			}
			entries = append(entries, realEntry{
				path:    comps,
				joined:  strings.Join(comps, "/"),
				depotID: depot,
				created: m.Metadata.CreationTime,
				mapping: fm,
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool { return entries[i].joined < entries[j].joined })

	deduped := entries[:0]
	for i, e := range entries {
		if i > 0 && e.joined == deduped[len(deduped)-1].joined {
			continue
		}
		deduped = append(deduped, e)
	}
	entries = deduped

	t := &Tree{
		pathIndex: map[string]uint64{"": RootInode},
		children:  map[uint64][]uint64{},
	}

	for i, e := range entries {
		inode := uint64(i) + 2
		t.nodes = append(t.nodes, Node{
			Inode:        inode,
			Kind:         KindReal,
			Path:         e.path,
			DepotID:      e.depotID,
			CreationTime: e.created,
			Mapping:      e.mapping,
		})
		t.pathIndex[e.joined] = inode
	}

	for _, e := range entries {
		node := &t.nodes[t.pathIndex[e.joined]-2]
		parentInode := t.ensureDir(e.path[:len(e.path)-1], e.depotID, e.created)
		t.children[parentInode] = append(t.children[parentInode], node.Inode)
	}

	return t, nil
}

// ensureDir returns the inode of the directory at path, creating
// synthetic ancestors (and registering them in the path index and
// directory map) for any prefix not already present. depotID and
// createdTime are borrowed onto any synthetic node this call creates.
func (t *Tree) ensureDir(path []string, depotID, createdTime uint32) uint64 {
	joined := strings.Join(path, "/")
	if inode, ok := t.pathIndex[joined]; ok {
		return inode
	}

	parentInode := t.ensureDir(path[:len(path)-1], depotID, createdTime)

	inode := uint64(len(t.nodes)) + 2
	t.nodes = append(t.nodes, Node{
		Inode:        inode,
		Kind:         KindSynthetic,
		Path:         append([]string(nil), path...),
		DepotID:      depotID,
		CreationTime: createdTime,
	})
	t.pathIndex[joined] = inode
	t.children[parentInode] = append(t.children[parentInode], inode)
	return inode
}

// Node returns the node at inode, or nil if inode is the root or out of
// range.
func (t *Tree) Node(inode uint64) (*Node, bool) {
	if inode < 2 {
		return nil, false
	}
	idx := inode - 2
	if idx >= uint64(len(t.nodes)) {
		return nil, false
	}
	return &t.nodes[idx], true
}

// Children returns dir's ordered list of child inodes. dir may be
// RootInode.
func (t *Tree) Children(dir uint64) []uint64 {
	return t.children[dir]
}

// Lookup finds the inode of the child of dir named name.
func (t *Tree) Lookup(dir uint64, name string) (uint64, bool) {
	for _, child := range t.children[dir] {
		n, ok := t.Node(child)
		if ok && n.Name() == name {
			return child, true
		}
	}
	return 0, false
}

// Len reports the number of non-root inodes in the table.
func (t *Tree) Len() int {
	return len(t.nodes)
}
