// SPDX-License-Identifier: GPL-2.0-or-later

package router

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

	"github.com/steamrec/tev/lib/chunkstore"
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

func writeFixture(t *testing.T, dir string, depot, idx uint32, content []byte) [20]byte {
	t.Helper()
	digest := sha1.Sum(content)
	payload := zipOf(t, content)

	var csmBuf bytes.Buffer
	csmBuf.Write(csmMagic[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint32(0x00000002))
	binary.Write(&csmBuf, binary.LittleEndian, depot)
	binary.Write(&csmBuf, binary.LittleEndian, uint32(1))
	csmBuf.Write(digest[:])
	binary.Write(&csmBuf, binary.LittleEndian, uint64(0))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(len(content)))
	binary.Write(&csmBuf, binary.LittleEndian, uint32(len(payload)))

	base := filepath.Join(dir, fmt.Sprintf("%d_depotcache_%d", depot, idx))
	require.NoError(t, os.WriteFile(base+".csm", csmBuf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(base+".csd", payload, 0o644))
	return digest
}

func TestRouterLookupAndChunkData(t *testing.T) {
	dir := t.TempDir()
	d1 := writeFixture(t, dir, 1234, 1, []byte("aaa"))
	d2 := writeFixture(t, dir, 1234, 2, []byte("bbb"))

	s1, err := chunkstore.Open(dir, 1234, 1)
	require.NoError(t, err)
	defer s1.Close()
	s2, err := chunkstore.Open(dir, 1234, 2)
	require.NoError(t, err)
	defer s2.Close()

	r := New([]*chunkstore.Store{s1, s2})
	assert.Equal(t, 2, r.Len())

	got, err := r.ChunkData(d1)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaa"), got)

	got, err = r.ChunkData(d2)
	require.NoError(t, err)
	assert.Equal(t, []byte("bbb"), got)
}

func TestRouterUnknownDigest(t *testing.T) {
	r := New(nil)
	var bogus [20]byte
	_, err := r.ChunkData(bogus)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrWrongDigest))
}
