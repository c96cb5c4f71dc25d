// SPDX-License-Identifier: GPL-2.0-or-later

package chunkstore

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamrec/tev/lib/tevfs"
)

var csmMagic = [8]byte{'S', 'C', 'F', 'S', 0x14, 0x00, 0x00, 0x00}

func zipOf(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("0")
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// writeFixture lays out a CSM+CSD pair under dir naming the given csmDepot
// (the depot id recorded inside the CSM itself), backing a single chunk
// containing content. The files are always named for requestDepot/idx so
// that a depot-mismatch can be fabricated by passing a different csmDepot.
func writeFixture(t *testing.T, dir string, requestDepot, csmDepot, idx uint32, content []byte) [20]byte {
	t.Helper()
	digest := sha1.Sum(content)
	payload := zipOf(t, content)

	var csmBuf bytes.Buffer
	csmBuf.Write(csmMagic[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint32(0x00000002))
	binary.Write(&csmBuf, binary.LittleEndian, csmDepot)
	binary.Write(&csmBuf, binary.LittleEndian, uint32(1))
	csmBuf.Write(digest[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint64(0))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(len(content)))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(len(payload)))

	base := filepath.Join(dir, fmt.Sprintf("%d_depotcache_%d", requestDepot, idx))
	require.NoError(t, os.WriteFile(base+".csm", csmBuf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(base+".csd", payload, 0o644))
	return digest
}

func TestOpenAndChunkData(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello\n")
	digest := writeFixture(t, dir, 1234, 1234, 1, content)

	s, err := Open(dir, 1234, 1)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ChunkData(digest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestOpenDepotMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, 1234, 9999, 1, []byte("x"))

	_, err := Open(dir, 1234, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrDepotMismatch))
}

func TestChunkDataWrongDigest(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, 1234, 1234, 1, []byte("hello\n"))

	s, err := Open(dir, 1234, 1)
	require.NoError(t, err)
	defer s.Close()

	var bogus [20]byte
	bogus[0] = 0xFF
	_, err = s.ChunkData(bogus)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrWrongDigest))
}

func TestChunkDataUnknownCompression(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello\n")
	digest := sha1.Sum(content)

	var csmBuf bytes.Buffer
	csmBuf.Write(csmMagic[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint32(0x00000002))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(1234))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(1))
	csmBuf.Write(digest[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint64(0))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(len(content)))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(4))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "1234_depotcache_1.csm"), csmBuf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1234_depotcache_1.csd"), []byte("ZZZZ"), 0o644))

	s, err := Open(dir, 1234, 1)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ChunkData(digest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrUnknownCompression))
}

func TestChunkDataSequentialThenSeek(t *testing.T) {
	dir := t.TempDir()
	content := []byte("world!")
	digest := writeFixture(t, dir, 1234, 1234, 2, content)

	s, err := Open(dir, 1234, 2)
	require.NoError(t, err)
	defer s.Close()

	// First read is sequential (position starts at 0, chunk offset 0).
	got, err := s.ChunkData(digest)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Reading the same digest again exercises the seek path, since the
	// position has advanced past the chunk's offset.
	got, err = s.ChunkData(digest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}
