// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/steamrec/tev/lib/tevfs"
)

// Field numbers for the three depot-manifest protobuf messages. Only
// the subset of fields this package consumes or produces is listed;
// they are decoded directly from the protobuf wire format, and unknown
// field numbers pass through harmlessly.
const (
	fieldMetaDepotID            = 1
	fieldMetaGIDManifest        = 2
	fieldMetaCreationTime       = 3
	fieldMetaFilenamesEncrypted = 4
	fieldMetaCbDiskOriginal     = 5
	fieldMetaCbDiskCompressed   = 6
	fieldMetaUniqueChunks       = 7
	fieldMetaCrcEncrypted       = 8
	fieldMetaCrcClear           = 9

	fieldPayloadMappings = 1

	fieldMappingFilename    = 1
	fieldMappingChunks      = 2
	fieldMappingFlags       = 3
	fieldMappingSize        = 4
	fieldMappingShaFilename = 5
	fieldMappingLinkTarget  = 7

	fieldChunkSha        = 1
	fieldChunkOffset     = 3
	fieldChunkCbOriginal = 4

	fieldSignatureBytes = 1
)

func wireMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedManifest, fmt.Sprintf(format, args...))
}

// forEachField walks every (field number, wire type) pair in data, calling
// fn with the still-encoded field value. Unknown field numbers are passed
// through unfiltered; it is up to fn to ignore ones it doesn't recognise,
// mirroring how real generated protobuf code silently tolerates schema
// additions.
func forEachField(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return wireMalformed("invalid protobuf tag")
		}
		data = data[n:]

		var val []byte
		size := protowire.ConsumeFieldValue(num, typ, data)
		if size < 0 {
			return wireMalformed("invalid protobuf field value for field %d", num)
		}
		val = data[:size]
		data = data[size:]

		if err := fn(num, typ, val); err != nil {
			return err
		}
	}
	return nil
}

func decodeVarint(v []byte) (uint64, error) {
	n, sz := protowire.ConsumeVarint(v)
	if sz < 0 {
		return 0, wireMalformed("invalid varint")
	}
	return n, nil
}

func decodeBytes(v []byte) ([]byte, error) {
	b, sz := protowire.ConsumeBytes(v)
	if sz < 0 {
		return nil, wireMalformed("invalid length-delimited field")
	}
	return b, nil
}

func decodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldMetaDepotID:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.DepotID = uint32(n)
		case fieldMetaGIDManifest:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.GIDManifest = n
		case fieldMetaCreationTime:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.CreationTime = uint32(n)
		case fieldMetaFilenamesEncrypted:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.FilenamesEncrypted = n != 0
		case fieldMetaCbDiskOriginal:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.CbDiskOriginal = n
		case fieldMetaCbDiskCompressed:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.CbDiskCompressed = n
		case fieldMetaUniqueChunks:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.UniqueChunks = uint32(n)
		case fieldMetaCrcEncrypted:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.CrcEncrypted = uint32(n)
		case fieldMetaCrcClear:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			m.CrcClear = uint32(n)
		}
		return nil
	})
	return m, err
}

func encodeMetadata(m Metadata) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMetaDepotID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.DepotID))
	b = protowire.AppendTag(b, fieldMetaGIDManifest, protowire.VarintType)
	b = protowire.AppendVarint(b, m.GIDManifest)
	b = protowire.AppendTag(b, fieldMetaCreationTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CreationTime))
	b = protowire.AppendTag(b, fieldMetaFilenamesEncrypted, protowire.VarintType)
	if m.FilenamesEncrypted {
		b = protowire.AppendVarint(b, 1)
	} else {
		b = protowire.AppendVarint(b, 0)
	}
	b = protowire.AppendTag(b, fieldMetaCbDiskOriginal, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CbDiskOriginal)
	b = protowire.AppendTag(b, fieldMetaCbDiskCompressed, protowire.VarintType)
	b = protowire.AppendVarint(b, m.CbDiskCompressed)
	b = protowire.AppendTag(b, fieldMetaUniqueChunks, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.UniqueChunks))
	b = protowire.AppendTag(b, fieldMetaCrcEncrypted, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CrcEncrypted))
	b = protowire.AppendTag(b, fieldMetaCrcClear, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.CrcClear))
	return b
}

func decodeChunkRef(data []byte) (ChunkRef, error) {
	var c ChunkRef
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldChunkSha:
			b, err := decodeBytes(v)
			if err != nil {
				return err
			}
			if len(b) != 20 {
				return wireMalformed("chunk sha is %d bytes, want 20", len(b))
			}
			copy(c.SHA[:], b)
		case fieldChunkOffset:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			c.Offset = n
		case fieldChunkCbOriginal:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			c.CbOriginal = uint32(n)
		}
		return nil
	})
	return c, err
}

func encodeChunkRef(c ChunkRef) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldChunkSha, protowire.BytesType)
	b = protowire.AppendBytes(b, c.SHA[:])
	b = protowire.AppendTag(b, fieldChunkOffset, protowire.VarintType)
	b = protowire.AppendVarint(b, c.Offset)
	b = protowire.AppendTag(b, fieldChunkCbOriginal, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.CbOriginal))
	return b
}

func decodeFileMapping(data []byte) (FileMapping, error) {
	var fm FileMapping
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch num {
		case fieldMappingFilename:
			b, err := decodeBytes(v)
			if err != nil {
				return err
			}
			fm.Filename = string(b)
		case fieldMappingLinkTarget:
			b, err := decodeBytes(v)
			if err != nil {
				return err
			}
			fm.LinkTarget = string(b)
		case fieldMappingShaFilename:
			b, err := decodeBytes(v)
			if err != nil {
				return err
			}
			if len(b) != 20 {
				return wireMalformed("sha_filename is %d bytes, want 20", len(b))
			}
			copy(fm.ShaFilename[:], b)
		case fieldMappingFlags:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			fm.Flags = uint32(n)
		case fieldMappingSize:
			n, err := decodeVarint(v)
			if err != nil {
				return err
			}
			fm.Size = n
		case fieldMappingChunks:
			b, err := decodeBytes(v)
			if err != nil {
				return err
			}
			c, err := decodeChunkRef(b)
			if err != nil {
				return err
			}
			fm.Chunks = append(fm.Chunks, c)
		}
		return nil
	})
	return fm, err
}

func encodeFileMapping(fm FileMapping) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldMappingFilename, protowire.BytesType)
	b = protowire.AppendString(b, fm.Filename)
	for _, c := range fm.Chunks {
		b = protowire.AppendTag(b, fieldMappingChunks, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeChunkRef(c))
	}
	b = protowire.AppendTag(b, fieldMappingFlags, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(fm.Flags))
	b = protowire.AppendTag(b, fieldMappingSize, protowire.VarintType)
	b = protowire.AppendVarint(b, fm.Size)
	b = protowire.AppendTag(b, fieldMappingShaFilename, protowire.BytesType)
	b = protowire.AppendBytes(b, fm.ShaFilename[:])
	if fm.LinkTarget != "" {
		b = protowire.AppendTag(b, fieldMappingLinkTarget, protowire.BytesType)
		b = protowire.AppendString(b, fm.LinkTarget)
	}
	return b
}

func decodePayload(data []byte) (Payload, error) {
	var p Payload
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != fieldPayloadMappings {
			return nil
		}
		b, err := decodeBytes(v)
		if err != nil {
			return err
		}
		fm, err := decodeFileMapping(b)
		if err != nil {
			return err
		}
		p.Mappings = append(p.Mappings, fm)
		return nil
	})
	return p, err
}

func encodePayload(p Payload) []byte {
	var b []byte
	for _, fm := range p.Mappings {
		b = protowire.AppendTag(b, fieldPayloadMappings, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeFileMapping(fm))
	}
	return b
}

func decodeSignature(data []byte) (Signature, error) {
	var s Signature
	err := forEachField(data, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != fieldSignatureBytes {
			return nil
		}
		b, err := decodeBytes(v)
		if err != nil {
			return err
		}
		s.Bytes = b
		return nil
	})
	return s, err
}

func encodeSignature(s Signature) []byte {
	if len(s.Bytes) == 0 {
		return nil
	}
	var b []byte
	b = protowire.AppendTag(b, fieldSignatureBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Bytes)
	return b
}
