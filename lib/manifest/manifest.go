// SPDX-License-Identifier: GPL-2.0-or-later

// Package manifest parses and serialises the depot manifest format: a
// tagged envelope of three length-prefixed protobuf records (payload,
// metadata, signature) closed by a bare end-marker tag, wrapping the
// ordered file-to-chunk mapping for one depot.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/steamrec/tev/lib/tevfs"
)

const (
	tagPayload   = 0x71F617D0
	tagMetadata  = 0x1F4812BE
	tagSignature = 0x1B81B817
	tagEndMarker = 0x32C415AB
)

// ChunkRef locates one chunk within a file's content: its digest, its
// offset within the reassembled (uncompressed) file, and its uncompressed
// length.
type ChunkRef struct {
	SHA        [20]byte
	Offset     uint64
	CbOriginal uint32
}

// File flag bits, as found in FileMapping.Flags.
const (
	FlagDirectory  = 0x40
	FlagExecutable = 0x100
)

// FileMapping is one file (or directory) entry of a depot's payload.
type FileMapping struct {
	Filename    string
	LinkTarget  string
	ShaFilename [20]byte
	Flags       uint32
	Size        uint64
	Chunks      []ChunkRef
}

// IsDirectory reports whether this entry is a directory rather than a
// regular file or symlink.
func (f *FileMapping) IsDirectory() bool { return f.Flags&FlagDirectory != 0 }

// IsExecutable reports whether this entry's POSIX executable bit is set.
func (f *FileMapping) IsExecutable() bool { return f.Flags&FlagExecutable != 0 }

// IsSymlink reports whether this entry is a symlink (has a link target).
func (f *FileMapping) IsSymlink() bool { return f.LinkTarget != "" }

// Payload is the ordered file list carried by the payload record.
type Payload struct {
	Mappings []FileMapping
}

// Metadata is the depot-identifying and integrity-summary record.
type Metadata struct {
	DepotID            uint32
	GIDManifest        uint64
	CreationTime       uint32
	FilenamesEncrypted bool
	CbDiskOriginal     uint64
	CbDiskCompressed   uint64
	UniqueChunks       uint32
	CrcEncrypted       uint32
	CrcClear           uint32
}

// Signature is the opaque signature record; this package neither verifies
// nor produces a real signature, only carries the bytes through.
type Signature struct {
	Bytes []byte
}

// Manifest is the fully parsed contents of one depot manifest file.
type Manifest struct {
	Payload   Payload
	Metadata  Metadata
	Signature Signature
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedManifest, fmt.Sprintf(format, args...))
}

// Parse decodes a depot manifest file's contents. Exactly one of each of
// the payload, metadata and signature records must appear before the end
// marker; a manifest missing or repeating any of them is malformed.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	var havePayload, haveMetadata, haveSignature bool

	for {
		if len(data) == 0 {
			return nil, malformed("truncated before end marker")
		}
		if len(data) < 4 {
			return nil, malformed("truncated reading record tag")
		}
		tag := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]

		if tag == tagEndMarker {
			break
		}

		if len(data) < 4 {
			return nil, malformed("truncated reading record length")
		}
		length := binary.LittleEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(length) {
			return nil, malformed("truncated reading record body (want %d bytes)", length)
		}
		body := data[:length]
		data = data[length:]

		switch tag {
		case tagPayload:
			if havePayload {
				return nil, malformed("duplicate payload record")
			}
			p, err := decodePayload(body)
			if err != nil {
				return nil, err
			}
			m.Payload = p
			havePayload = true
		case tagMetadata:
			if haveMetadata {
				return nil, malformed("duplicate metadata record")
			}
			md, err := decodeMetadata(body)
			if err != nil {
				return nil, err
			}
			m.Metadata = md
			haveMetadata = true
		case tagSignature:
			if haveSignature {
				return nil, malformed("duplicate signature record")
			}
			s, err := decodeSignature(body)
			if err != nil {
				return nil, err
			}
			m.Signature = s
			haveSignature = true
		default:
			return nil, malformed("unrecognised record tag 0x%08x", tag)
		}
	}

	if !havePayload {
		return nil, malformed("missing payload record")
	}
	if !haveMetadata {
		return nil, malformed("missing metadata record")
	}
	if !haveSignature {
		return nil, malformed("missing signature record")
	}

	return &m, nil
}

// Read loads and parses the depot manifest file at path.
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, tevfs.Wrap(path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, tevfs.Wrap(path, err)
	}
	return m, nil
}

// Write serialises m and writes it to path.
func Write(path string, m *Manifest) error {
	return tevfs.Wrap(path, os.WriteFile(path, Serialize(m), 0o644))
}

// Serialize re-encodes a Manifest to bytes, in the canonical
// payload/metadata/signature/end-marker record order. Serialize followed
// by Parse reproduces the original Payload, Metadata and Signature values
// field for field.
func Serialize(m *Manifest) []byte {
	var out []byte
	out = appendRecord(out, tagPayload, encodePayload(m.Payload))
	out = appendRecord(out, tagMetadata, encodeMetadata(m.Metadata))
	out = appendRecord(out, tagSignature, encodeSignature(m.Signature))
	out = append(out, u32le(tagEndMarker)...)
	return out
}

func appendRecord(out []byte, tag uint32, body []byte) []byte {
	out = append(out, u32le(tag)...)
	out = append(out, u32le(uint32(len(body)))...)
	return append(out, body...)
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}
