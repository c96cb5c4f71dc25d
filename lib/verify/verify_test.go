// SPDX-License-Identifier: GPL-2.0-or-later

package verify

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

// writeChunkstore lays out a single-chunk CSM+CSD pair for depot/idx,
// returning the payload's on-disk (compressed) length.
func writeChunkstore(t *testing.T, dir string, depot, idx uint32, content []byte) int {
	t.Helper()
	digest := sha1.Sum(content)
	payload := zipOf(t, content)

	var buf bytes.Buffer
	buf.Write(csmMagic[:])
	binary.Write(&buf, binary.LittleEndian, uint32(0x00000002))
	binary.Write(&buf, binary.LittleEndian, depot)
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	buf.Write(digest[:])
	binary.Write(&buf, binary.LittleEndian, uint64(0))
	binary.Write(&buf, binary.LittleEndian, uint32(len(content)))
	binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))

	base := filepath.Join(dir, fmt.Sprintf("%d_depotcache_%d", depot, idx))
	require.NoError(t, os.WriteFile(base+".csm", buf.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(base+".csd", payload, 0o644))
	return len(payload)
}

func writeSKU(t *testing.T, dir string, depot, idx uint32, chunkstoreLength int) {
	t.Helper()
	doc := fmt.Sprintf(`"SKU"
{
	"name"		"Half-Life 2"
	"disks"		"1"
	"disk"		"1"
	"backup"		"1"
	"contenttype"		"1"
	"apps"
	{
		"0"		"220"
	}
	"depots"
	{
		"0"		"%d"
	}
	"manifests"
	{
	}
	"chunkstores"
	{
		"%d"
		{
			"%d"		"%d"
		}
	}
}
`, depot, depot, idx, chunkstoreLength)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sku.sis"), []byte(doc), 0o644))
}

func TestRunCleanBackup(t *testing.T) {
	dir := t.TempDir()
	length := writeChunkstore(t, dir, 1234, 0, []byte("hello\n"))
	writeSKU(t, dir, 1234, 0, length)

	var out strings.Builder
	require.NoError(t, Run(context.Background(), dir, "", &out))

	got := out.String()
	assert.Contains(t, got, "Game: Half-Life 2\n")
	assert.Contains(t, got, "Verifying depot 1234\n")
	assert.Contains(t, got, "Depot files match SKU!\n")
	assert.NotContains(t, got, "- ")
}

func TestRunWrongRecordedLength(t *testing.T) {
	dir := t.TempDir()
	length := writeChunkstore(t, dir, 1234, 0, []byte("hello\n"))
	writeSKU(t, dir, 1234, 0, length+10)

	var out strings.Builder
	require.NoError(t, Run(context.Background(), dir, "", &out))

	got := out.String()
	assert.Contains(t, got, "should be")
	assert.NotContains(t, got, "Depot files match SKU!")
}

func TestRunMissingChunkstoreFile(t *testing.T) {
	dir := t.TempDir()
	writeSKU(t, dir, 1234, 0, 4096)

	var out strings.Builder
	require.NoError(t, Run(context.Background(), dir, "", &out))

	got := out.String()
	assert.Contains(t, got, "- ")
	assert.NotContains(t, got, "Depot files match SKU!")
}

func TestRunNegativeLengthClampsToZero(t *testing.T) {
	dir := t.TempDir()
	length := writeChunkstore(t, dir, 1234, 0, []byte("hello\n"))
	writeSKU(t, dir, 1234, 0, -1)

	var out strings.Builder
	require.NoError(t, Run(context.Background(), dir, "", &out))

	got := out.String()
	assert.Contains(t, got, fmt.Sprintf("should be 0 bytes according to the SKU, but is actually %d bytes", length))
}
