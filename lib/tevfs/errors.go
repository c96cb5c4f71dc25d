// SPDX-License-Identifier: GPL-2.0-or-later

// Package tevfs holds the error taxonomy shared by every package in this
// module, so that callers can use errors.Is against a stable set of
// sentinels regardless of which parser or subsystem produced the error.
package tevfs

import "errors"

// Sentinel error kinds. Use errors.Is against these; use PathError to
// recover the file name that produced one.
var (
	ErrMalformedSKU      = errors.New("malformed SKU")
	ErrMalformedCSM      = errors.New("malformed chunk-store manifest")
	ErrMalformedManifest = errors.New("malformed depot manifest")

	ErrDepotMismatch = errors.New("depot mismatch")

	ErrEncryptedChunkStore = errors.New("chunkstore is encrypted")
	ErrEncryptedFilenames  = errors.New("manifest reports encrypted filenames")

	ErrUnsupportedCompression = errors.New("unsupported chunk compression")
	ErrUnknownCompression     = errors.New("unknown chunk compression")

	ErrWrongLength = errors.New("chunk decompressed to the wrong length")
	ErrWrongDigest = errors.New("chunk digest does not match")

	ErrInvalidParameter = errors.New("invalid parameter")
)

// PathError pairs one of the sentinels above with the file it was found in,
// so diagnostics can name the file without every call site building its own
// wrapper.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return e.Path + ": " + e.Err.Error()
}

func (e *PathError) Unwrap() error { return e.Err }

// Wrap returns a *PathError naming path, or nil if err is nil.
func Wrap(path string, err error) error {
	if err == nil {
		return nil
	}
	return &PathError{Path: path, Err: err}
}
