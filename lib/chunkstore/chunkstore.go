// SPDX-License-Identifier: GPL-2.0-or-later

// Package chunkstore opens a (CSM, CSD) pair and serves decompressed,
// verified chunk bytes by digest.
package chunkstore

import (
	"archive/zip"
	"bytes"
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/steamrec/tev/lib/csm"
	"github.com/steamrec/tev/lib/tevfs"
)

// Store is one opened (CSM, CSD) pair. A Store is shared by every digest
// it backs (see the router package); all access past Open is serialised
// by mu, since reads mutate the file position and the reusable scratch
// buffer.
type Store struct {
	Depot           uint32
	ChunkstoreIndex uint32

	csmFilename string
	csdFilename string

	mu       sync.Mutex
	f        *os.File
	size     int64
	pos      int64
	byDigest map[[20]byte]int
	chunks   []csm.Chunk
	scratch  []byte
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", tevfs.ErrMalformedCSM, fmt.Sprintf(format, args...))
}

// Open reads "<depot>_depotcache_<chunkstoreIndex>.csm" from baseDir,
// opens the paired ".csd" file for reading, and builds the digest lookup
// table. It fails if the CSM's recorded depot doesn't match depot, if the
// CSM reports encryption, or on any I/O error.
func Open(baseDir string, depot, chunkstoreIndex uint32) (*Store, error) {
	base := fmt.Sprintf("%d_depotcache_%d", depot, chunkstoreIndex)
	csmPath := base + ".csm"
	csdPath := base + ".csd"

	csmData, err := os.ReadFile(filepath.Join(baseDir, csmPath))
	if err != nil {
		return nil, tevfs.Wrap(csmPath, err)
	}
	man, err := csm.Parse(csmData)
	if err != nil {
		return nil, tevfs.Wrap(csmPath, err)
	}
	if man.IsEncrypted {
		return nil, tevfs.Wrap(csmPath, tevfs.ErrEncryptedChunkStore)
	}
	if man.Depot != depot {
		return nil, tevfs.Wrap(csmPath, fmt.Errorf("%w: csm reports depot %d, expected %d", tevfs.ErrDepotMismatch, man.Depot, depot))
	}

	f, err := os.Open(filepath.Join(baseDir, csdPath))
	if err != nil {
		return nil, tevfs.Wrap(csdPath, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, tevfs.Wrap(csdPath, err)
	}

	byDigest := make(map[[20]byte]int, len(man.Chunks))
	for i, c := range man.Chunks {
		byDigest[c.SHA1] = i
	}

	return &Store{
		Depot:           depot,
		ChunkstoreIndex: chunkstoreIndex,
		csmFilename:     csmPath,
		csdFilename:     csdPath,
		f:               f,
		size:            fi.Size(),
		byDigest:        byDigest,
		chunks:          man.Chunks,
	}, nil
}

// CSMFilename is the base name of the chunk manifest file this store was
// opened from, for use in diagnostics.
func (s *Store) CSMFilename() string {
	return s.csmFilename
}

// CSDFilename is the base name of the chunk data file this store was
// opened from, for use in diagnostics.
func (s *Store) CSDFilename() string {
	return s.csdFilename
}

// Close releases the underlying CSD file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// Chunks returns the chunk descriptors backed by this store, in CSM
// order. The slice must not be mutated.
func (s *Store) Chunks() []csm.Chunk {
	return s.chunks
}

// Size is the CSD file's size in bytes, as observed at Open time.
func (s *Store) Size() int64 {
	return s.size
}

// ChunkData locates digest among this store's chunks, reads its
// compressed bytes (sequentially if the file position is already there,
// otherwise via a seek), decompresses and verifies them, and returns the
// decompressed bytes.
func (s *Store) ChunkData(digest [20]byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byDigest[digest]
	if !ok {
		return nil, fmt.Errorf("%w: digest %x not present in this chunkstore", tevfs.ErrWrongDigest, digest)
	}
	c := s.chunks[idx]

	if int64(cap(s.scratch)) < int64(c.CompressedLength) {
		s.scratch = make([]byte, c.CompressedLength)
	}
	buf := s.scratch[:c.CompressedLength]

	if s.pos != int64(c.Offset) {
		if _, err := s.f.Seek(int64(c.Offset), io.SeekStart); err != nil {
			return nil, err
		}
		s.pos = int64(c.Offset)
	}
	if _, err := io.ReadFull(s.f, buf); err != nil {
		return nil, err
	}
	s.pos += int64(len(buf))

	out, err := decompress(buf)
	if err != nil {
		return nil, err
	}

	if uint32(len(out)) != c.UncompressedLength {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", tevfs.ErrWrongLength, len(out), c.UncompressedLength)
	}
	if sha1.Sum(out) != digest {
		return nil, tevfs.ErrWrongDigest
	}

	return out, nil
}

func decompress(buf []byte) ([]byte, error) {
	if len(buf) < 2 {
		return nil, fmt.Errorf("%w: chunk payload too short to carry a format prefix", tevfs.ErrUnknownCompression)
	}
	switch {
	case buf[0] == 'P' && buf[1] == 'K':
		return decompressZip(buf)
	case buf[0] == 'V' && buf[1] == 'Z':
		return nil, tevfs.ErrUnsupportedCompression
	default:
		return nil, fmt.Errorf("%w: unrecognised prefix %q", tevfs.ErrUnknownCompression, buf[:2])
	}
}

func decompressZip(buf []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("%w: zip payload has no entries", tevfs.ErrUnknownCompression)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
