// SPDX-License-Identifier: GPL-2.0-or-later

// Package csm parses the binary chunk-store manifest format
// (<depot>_depotcache_<index>.csm): the magic header, encryption flag,
// depot id, and the ordered sequence of chunk descriptors that is the
// on-disk layout of the paired .csd file.
package csm

import (
	"encoding/binary"
	"fmt"

	"github.com/steamrec/tev/lib/tevfs"
)

var magic = [8]byte{'S', 'C', 'F', 'S', 0x14, 0x00, 0x00, 0x00}

const (
	tagUnencrypted = 0x00000002
	tagEncrypted   = 0x00000003
)

// ChunkSize is the encoded size, in bytes, of one chunk descriptor record.
const ChunkSize = 20 + 8 + 4 + 4

// Chunk is one entry of a chunkstore's index: a content digest plus its
// location and lengths within the paired CSD file.
type Chunk struct {
	SHA1               [20]byte
	Offset             uint64
	UncompressedLength uint32
	CompressedLength   uint32
}

// Manifest is the parsed contents of one .csm file.
type Manifest struct {
	IsEncrypted bool
	Depot       uint32
	Chunks      []Chunk
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedCSM, fmt.Sprintf(format, args...))
}

// Parse decodes a .csm file's contents.
func Parse(data []byte) (*Manifest, error) {
	if len(data) < len(magic) {
		return nil, malformed("truncated before end of magic header")
	}
	for i := range magic {
		if data[i] != magic[i] {
			return nil, malformed("bad magic header")
		}
	}
	r := data[len(magic):]

	tag, r, err := takeU32(r)
	if err != nil {
		return nil, malformed("truncated reading encryption tag")
	}
	var isEncrypted bool
	switch tag {
	case tagUnencrypted:
		isEncrypted = false
	case tagEncrypted:
		isEncrypted = true
	default:
		return nil, malformed("unknown encryption tag 0x%08x", tag)
	}

	depot, r, err := takeU32(r)
	if err != nil {
		return nil, malformed("truncated reading depot id")
	}

	count, r, err := takeU32(r)
	if err != nil {
		return nil, malformed("truncated reading chunk count")
	}

	chunks := make([]Chunk, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(r) < ChunkSize {
			return nil, malformed("truncated reading chunk %d of %d", i, count)
		}
		var c Chunk
		copy(c.SHA1[:], r[:20])
		c.Offset = binary.LittleEndian.Uint64(r[20:28])
		c.UncompressedLength = binary.LittleEndian.Uint32(r[28:32])
		c.CompressedLength = binary.LittleEndian.Uint32(r[32:36])
		chunks = append(chunks, c)
		r = r[ChunkSize:]
	}

	return &Manifest{
		IsEncrypted: isEncrypted,
		Depot:       depot,
		Chunks:      chunks,
	}, nil
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("truncated")
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}
