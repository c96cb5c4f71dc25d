// SPDX-License-Identifier: GPL-2.0-or-later

package csm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamrec/tev/lib/tevfs"
)

func buildValid(t *testing.T, encrypted bool, depot uint32, chunks []Chunk) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(magic[:])
	if encrypted {
		binary.Write(&buf, binary.LittleEndian, uint32(tagEncrypted))
	} else {
		binary.Write(&buf, binary.LittleEndian, uint32(tagUnencrypted))
	}
	binary.Write(&buf, binary.LittleEndian, depot)
	binary.Write(&buf, binary.LittleEndian, uint32(len(chunks)))
	for _, c := range chunks {
		buf.Write(c.SHA1[:])
		binary.Write(&buf, binary.LittleEndian, c.Offset)
		binary.Write(&buf, binary.LittleEndian, c.UncompressedLength)
		binary.Write(&buf, binary.LittleEndian, c.CompressedLength)
	}
	return buf.Bytes()
}

func TestParseValid(t *testing.T) {
	chunk := Chunk{Offset: 10, UncompressedLength: 6, CompressedLength: 20}
	chunk.SHA1[0] = 0xAB
	data := buildValid(t, false, 1234, []Chunk{chunk})

	m, err := Parse(data)
	require.NoError(t, err)
	assert.False(t, m.IsEncrypted)
	assert.Equal(t, uint32(1234), m.Depot)
	require.Len(t, m.Chunks, 1)
	assert.Equal(t, chunk, m.Chunks[0])
}

func TestParseEmptyChunks(t *testing.T) {
	data := buildValid(t, false, 1234, nil)
	m, err := Parse(data)
	require.NoError(t, err)
	assert.Empty(t, m.Chunks)
}

func TestParseEncrypted(t *testing.T) {
	data := buildValid(t, true, 1234, nil)
	m, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, m.IsEncrypted)
}

func TestParseBadMagic(t *testing.T) {
	data := buildValid(t, false, 1234, nil)
	data[0] = 'X'
	_, err := Parse(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedCSM))
}

func TestParseUnknownEncryptionTag(t *testing.T) {
	data := buildValid(t, false, 1234, nil)
	binary.LittleEndian.PutUint32(data[8:12], 0x99)
	_, err := Parse(data)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedCSM))
}

func TestParseTruncated(t *testing.T) {
	chunk := Chunk{Offset: 10, UncompressedLength: 6, CompressedLength: 20}
	data := buildValid(t, false, 1234, []Chunk{chunk})
	_, err := Parse(data[:len(data)-5])
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedCSM))
}
