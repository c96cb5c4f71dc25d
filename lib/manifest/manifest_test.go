// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steamrec/tev/lib/tevfs"
)

func sampleManifest() *Manifest {
	var sha1, sha2 [20]byte
	sha1[0] = 0xAA
	sha2[0] = 0xBB

	return &Manifest{
		Payload: Payload{
			Mappings: []FileMapping{
				{
					Filename:    "bin/game.exe",
					ShaFilename: sha1,
					Flags:       FlagExecutable,
					Size:        4096,
					Chunks: []ChunkRef{
						{SHA: sha1, Offset: 0, CbOriginal: 2048},
						{SHA: sha2, Offset: 2048, CbOriginal: 2048},
					},
				},
				{
					Filename:    "data",
					ShaFilename: sha2,
					Flags:       FlagDirectory,
				},
			},
		},
		Metadata: Metadata{
			DepotID:          1234,
			GIDManifest:      9999999999999999999,
			CreationTime:     1700000000,
			CbDiskOriginal:   4096,
			CbDiskCompressed: 2048,
			UniqueChunks:     2,
			CrcEncrypted:     0xdeadbeef,
			CrcClear:         0xcafef00d,
		},
		Signature: Signature{Bytes: []byte{1, 2, 3, 4}},
	}
}

func TestSerializeParseRoundTrip(t *testing.T) {
	orig := sampleManifest()
	data := Serialize(orig)

	got, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, orig.Payload, got.Payload)
	assert.Equal(t, orig.Metadata, got.Metadata)
	assert.Equal(t, orig.Signature, got.Signature)
}

func TestParseMissingPayloadFails(t *testing.T) {
	m := sampleManifest()

	var out []byte
	out = appendRecord(out, tagMetadata, encodeMetadata(m.Metadata))
	out = append(out, u32le(tagEndMarker)...)

	_, err := Parse(out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedManifest))
}

func TestParseMissingMetadataFails(t *testing.T) {
	m := sampleManifest()
	var out []byte
	out = appendRecord(out, tagPayload, encodePayload(m.Payload))
	out = appendRecord(out, tagSignature, encodeSignature(m.Signature))
	out = append(out, u32le(tagEndMarker)...)

	_, err := Parse(out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedManifest))
}

func TestParseMissingSignatureFails(t *testing.T) {
	m := sampleManifest()
	var out []byte
	out = appendRecord(out, tagPayload, encodePayload(m.Payload))
	out = appendRecord(out, tagMetadata, encodeMetadata(m.Metadata))
	out = append(out, u32le(tagEndMarker)...)

	_, err := Parse(out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedManifest))
}

func TestSerializeParseRoundTripEmptySignature(t *testing.T) {
	orig := sampleManifest()
	orig.Signature = Signature{}
	data := Serialize(orig)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, orig.Signature, got.Signature)
}

func TestParseTruncatedFails(t *testing.T) {
	data := Serialize(sampleManifest())
	_, err := Parse(data[:len(data)-2])
	require.Error(t, err)
	assert.True(t, errors.Is(err, tevfs.ErrMalformedManifest))
}

func TestParseUnrecognisedTagFails(t *testing.T) {
	data := Serialize(sampleManifest())
	data[0] = 0x01
	_, err := Parse(data)
	require.Error(t, err)
}

func encryptField(t *testing.T, block cipher.Block, plaintext string) string {
	t.Helper()
	pt := []byte(plaintext)
	pad := aes.BlockSize - len(pt)%aes.BlockSize
	padded := append(append([]byte{}, pt...), make([]byte, pad)...)
	for i := len(padded) - pad; i < len(padded); i++ {
		padded[i] = byte(pad)
	}

	iv := make([]byte, aes.BlockSize)
	_, err := rand.Read(iv)
	require.NoError(t, err)

	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return base64.StdEncoding.EncodeToString(append(append([]byte{}, iv...), ct...))
}

func TestDecryptFilenames(t *testing.T) {
	var key [32]byte
	_, err := rand.Read(key[:])
	require.NoError(t, err)
	block, err := aes.NewCipher(key[:])
	require.NoError(t, err)

	m := sampleManifest()
	m.Metadata.FilenamesEncrypted = true
	m.Payload.Mappings[0].Filename = encryptField(t, block, "bin/game.exe")
	m.Payload.Mappings[1].Filename = encryptField(t, block, "data")
	m.Payload.Mappings[1].LinkTarget = encryptField(t, block, "bin/data")

	err = DecryptFilenames(m, key)
	require.NoError(t, err)

	assert.False(t, m.Metadata.FilenamesEncrypted)
	assert.Equal(t, "bin/game.exe", m.Payload.Mappings[0].Filename)
	assert.Equal(t, "data", m.Payload.Mappings[1].Filename)
	assert.Equal(t, "bin/data", m.Payload.Mappings[1].LinkTarget)
}

func TestDecryptFilenamesNoOpWhenNotEncrypted(t *testing.T) {
	m := sampleManifest()
	var key [32]byte
	err := DecryptFilenames(m, key)
	require.NoError(t, err)
	assert.Equal(t, "bin/game.exe", m.Payload.Mappings[0].Filename)
}
