// SPDX-License-Identifier: GPL-2.0-or-later

// Package readplan slices a (file, offset, length) read request into the
// overlapping chunk reads needed to satisfy it and assembles the result
// into the caller's buffer.
package readplan

import (
	"fmt"

	"github.com/steamrec/tev/lib/router"
	"github.com/steamrec/tev/lib/tevfs"
	"github.com/steamrec/tev/lib/vfs"
)

// Read fills buf with up to len(buf) bytes of node's content starting at
// offset, fetching chunks through r. It returns the number of valid bytes
// written.
//
// Reading past end-of-file fails with tevfs.ErrInvalidParameter; reading
// a directory as a file fails the same way. A chunk fetch or verification
// failure is returned unwrapped from the router/chunkstore layer.
func Read(r *router.Router, node *vfs.Node, offset uint64, buf []byte) (int, error) {
	if node.IsDir() {
		return 0, invalidParameter("cannot read a directory as a file")
	}

	size := node.Mapping.Size
	if offset > size {
		return 0, invalidParameter("offset %d is past end-of-file (size %d)", offset, size)
	}

	toRead := uint64(len(buf))
	if remaining := size - offset; remaining < toRead {
		toRead = remaining
	}
	if toRead == 0 {
		return 0, nil
	}

	readStart := offset
	readEnd := offset + toRead

	for _, c := range node.Mapping.Chunks {
		chunkStart := c.Offset
		chunkEnd := c.Offset + uint64(c.CbOriginal)

		if !(chunkStart < readEnd && readStart < chunkEnd) {
			continue
		}

		data, err := r.ChunkData(c.SHA)
		if err != nil {
			return 0, err
		}

		var destStart, srcStart uint64
		if chunkStart > readStart {
			destStart = chunkStart - readStart
		}
		if readStart > chunkStart {
			srcStart = readStart - chunkStart
		}

		overlapLen := chunkEnd - chunkStart - srcStart
		if remaining := readEnd - (destStart + readStart); remaining < overlapLen {
			overlapLen = remaining
		}

		copy(buf[destStart:destStart+overlapLen], data[srcStart:srcStart+overlapLen])
	}

	return int(toRead), nil
}

func invalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrInvalidParameter, fmt.Sprintf(format, args...))
}
