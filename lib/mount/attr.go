// SPDX-License-Identifier: GPL-2.0-or-later

package mount

import "github.com/steamrec/tev/lib/vfs"

// BlockSize is the filesystem's reported block size.
const BlockSize = 512

// AttrTTLSeconds is how long platform back ends may cache attributes
// for an inode before re-querying.
const AttrTTLSeconds = 10

// Mode is the POSIX permission bits every inode reports; the filesystem
// is read-only and has no notion of per-file permissions beyond
// directory-vs-regular.
const Mode = 0o755

// UID and GID are the fixed owner reported for every inode.
const (
	UID = 1000
	GID = 1000
)

// nodeSize returns node's file size, or 0 for a directory (root or
// synthetic).
func nodeSize(node *vfs.Node) uint64 {
	if node == nil || node.IsDir() {
		return 0
	}
	return node.Mapping.Size
}

// nodeBlocks returns ceil(size / BlockSize).
func nodeBlocks(node *vfs.Node) uint64 {
	size := nodeSize(node)
	return (size + BlockSize - 1) / BlockSize
}

// nodeIsDir reports whether node should present as a directory. A nil
// node (the root) is always a directory.
func nodeIsDir(node *vfs.Node) bool {
	return node == nil || node.IsDir()
}

// nodeCreationTime returns the Unix-seconds creation time to use for
// node's timestamps; the root keeps constant zeroed timestamps.
func nodeCreationTime(node *vfs.Node) uint32 {
	if node == nil {
		return 0
	}
	return node.CreationTime
}
