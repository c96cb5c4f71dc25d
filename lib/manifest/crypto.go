// SPDX-License-Identifier: GPL-2.0-or-later

package manifest

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/steamrec/tev/lib/tevfs"
)

// DecryptFilenames decrypts every FileMapping.Filename and LinkTarget in
// place using depotKey, and clears Metadata.FilenamesEncrypted. Each
// encrypted field is base64 text (with embedded newlines stripped before
// decoding); the first 16 bytes of the decoded ciphertext are the AES-CBC
// IV, and the remainder is PKCS#7-padded ciphertext.
//
// It is a no-op, returning nil, if the manifest does not report encrypted
// filenames.
func DecryptFilenames(m *Manifest, depotKey [32]byte) error {
	if !m.Metadata.FilenamesEncrypted {
		return nil
	}

	block, err := aes.NewCipher(depotKey[:])
	if err != nil {
		return fmt.Errorf("%w: %s", tevfs.ErrMalformedManifest, err)
	}

	for i := range m.Payload.Mappings {
		fm := &m.Payload.Mappings[i]

		name, err := decryptField(block, fm.Filename)
		if err != nil {
			return fmt.Errorf("decrypting filename: %w", err)
		}
		fm.Filename = name

		if fm.LinkTarget != "" {
			target, err := decryptField(block, fm.LinkTarget)
			if err != nil {
				return fmt.Errorf("decrypting link target: %w", err)
			}
			fm.LinkTarget = target
		}
	}

	m.Metadata.FilenamesEncrypted = false
	return nil
}

func decryptField(block cipher.Block, encoded string) (string, error) {
	stripped := strings.ReplaceAll(strings.ReplaceAll(encoded, "\n", ""), "\r", "")
	raw, err := base64.StdEncoding.DecodeString(stripped)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64: %s", tevfs.ErrMalformedManifest, err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is %d bytes, not a multiple of the block size", tevfs.ErrMalformedManifest, len(raw))
	}

	iv := raw[:aes.BlockSize]
	ct := raw[aes.BlockSize:]
	if len(ct) == 0 {
		return "", nil
	}

	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	pt, err = pkcs7Unpad(pt)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext is not block-aligned", tevfs.ErrMalformedManifest)
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: invalid PKCS#7 padding", tevfs.ErrMalformedManifest)
	}
	if !bytes.Equal(data[len(data)-pad:], bytes.Repeat([]byte{byte(pad)}, pad)) {
		return nil, fmt.Errorf("%w: invalid PKCS#7 padding", tevfs.ErrMalformedManifest)
	}
	return data[:len(data)-pad], nil
}
