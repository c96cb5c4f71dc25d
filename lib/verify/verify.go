// SPDX-License-Identifier: GPL-2.0-or-later

// Package verify checks a Steam backup's on-disk chunkstores against the
// lengths and chunk digests its SKU and (optionally) its depot manifests
// record, reporting human-readable diagnostics rather than failing fast.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/steamrec/tev/lib/chunkstore"
	"github.com/steamrec/tev/lib/csm"
	"github.com/steamrec/tev/lib/manifest"
	"github.com/steamrec/tev/lib/sku"
	"github.com/steamrec/tev/lib/tevfs"
	"github.com/steamrec/tev/lib/textui"
)

// Run verifies the backup rooted at baseDir (the directory containing
// sku.sis), writing its diagnostics to w: a "Game: <name>" banner, a
// "Verifying depot <id>" line per depot, "- <problem>" lines for
// problems and warnings, an unprefixed line when a depot manifest's
// unique-chunk count differs from the chunks found on disk, and a final
// "Depot files match SKU!" line only if every depot manifest loaded and
// every chunkstore verified cleanly. An encrypted-filenames warning and a
// unique-chunk count mismatch are reported but do not suppress that
// final line. manifestDir may be empty, in which case
// depot manifests are not cross-checked; the chunkstores themselves are
// always checked.
func Run(ctx context.Context, baseDir, manifestDir string, w io.Writer) error {
	s, err := sku.Read(filepath.Join(baseDir, "sku.sis"))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Game: %s\n", s.Name)

	valid := true
	for _, depot := range s.SortedDepots() {
		fmt.Fprintf(w, "Verifying depot %d\n", depot)

		m, err := loadDepotManifest(manifestDir, depot, s.Manifests[depot])
		if err != nil {
			fmt.Fprintf(w, "- %s\n", err)
			valid = false
		} else if m != nil && m.Metadata.FilenamesEncrypted {
			fmt.Fprintf(w, "- depot %d's manifest has encrypted filenames\n", depot)
		}

		chunkstores, ok := s.Chunkstores[depot]
		if !ok {
			fmt.Fprintf(w, "- missing chunkstore for depot %d\n", depot)
			valid = false
			continue
		}

		depotChunks, depotOK := verifyDepotChunkstores(ctx, w, baseDir, depot, chunkstores)
		if !depotOK {
			valid = false
		}

		if m != nil {
			uniqueChunks := m.Metadata.UniqueChunks
			if uint64(uniqueChunks) != depotChunks {
				fmt.Fprintf(w, "Depot %d has %d chunks in manifest but %d chunks on disk\n",
					depot, uniqueChunks, depotChunks)
			}
		}
	}

	if valid {
		fmt.Fprintln(w, "Depot files match SKU!")
	}
	return nil
}

// loadDepotManifest loads depot's manifest from manifestDir, if one was
// given. A nil, nil result (manifestDir empty) means there is nothing to
// cross-check against.
func loadDepotManifest(manifestDir string, depot uint32, manifestID uint64) (*manifest.Manifest, error) {
	if manifestDir == "" {
		return nil, nil
	}
	manifestPath := filepath.Join(manifestDir, fmt.Sprintf("%d_%d.manifest", depot, manifestID))
	m, err := manifest.Read(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("cannot find manifest %d for depot %d in %s", manifestID, depot, manifestDir)
	}
	if m.Metadata.DepotID != depot {
		return nil, fmt.Errorf("%s does not belong to depot %d", manifestPath, depot)
	}
	return m, nil
}

// verifyDepotChunkstores verifies every chunkstore belonging to depot in
// parallel, one goroutine per chunkstore, joined here at the depot
// boundary. It returns the total number of chunks found
// across chunkstores that verified cleanly, and whether every chunkstore
// in depot verified cleanly.
func verifyDepotChunkstores(ctx context.Context, w io.Writer, baseDir string, depot uint32, chunkstores map[uint32]int64) (uint64, bool) {
	indices := sortedChunkstoreIndices(chunkstores)

	type result struct {
		lines  []string
		chunks uint32
		ok     bool
	}
	results := make([]result, len(indices))

	var mu sync.Mutex
	grp := dgroup.NewGroup(ctx, dgroup.GroupConfig{})
	for i, idx := range indices {
		i, idx := i, idx
		length := chunkstores[idx]
		grp.Go(fmt.Sprintf("depot-%d-chunkstore-%d", depot, idx), func(ctx context.Context) error {
			lines, chunks, ok := verifyOneChunkstore(ctx, baseDir, depot, idx, length)
			mu.Lock()
			results[i] = result{lines: lines, chunks: chunks, ok: ok}
			mu.Unlock()
			return nil
		})
	}
	_ = grp.Wait()

	var total uint64
	allOK := true
	for _, r := range results {
		for _, line := range r.lines {
			fmt.Fprintf(w, "- %s\n", line)
		}
		if r.ok {
			total += uint64(r.chunks)
		} else {
			allOK = false
		}
	}
	return total, allOK
}

// verifyOneChunkstore opens depot's chunkstore at idx, confirms its CSD
// file size matches the SKU-recorded length, reads every chunk the CSM
// describes (surfacing any read/decompress/digest failure), and confirms
// the total compressed bytes read against the recorded length. It returns
// diagnostic lines (without the leading "- "), the number of chunks the
// chunkstore describes, and whether it verified with no problems. While
// it runs it logs progress through the chunk list (one line per tick,
// not one per chunk).
func verifyOneChunkstore(ctx context.Context, baseDir string, depot uint32, idx uint32, length int64) ([]string, uint32, bool) {
	// A negative recorded length means "unknown"; it is not a size this
	// chunkstore could ever match, so clamp it rather than let the
	// uint64 comparisons below wrap.
	want := uint64(0)
	if length > 0 {
		want = uint64(length)
	}

	store, err := chunkstore.Open(baseDir, depot, idx)
	if err != nil {
		return []string{err.Error()}, 0, false
	}
	defer store.Close()

	var lines []string
	ok := true

	if uint64(store.Size()) != want {
		ok = false
		lines = append(lines, fmt.Sprintf(
			"%s should be %d bytes according to the SKU, but is actually %d bytes",
			store.CSDFilename(), want, store.Size()))
	}

	chunks := store.Chunks()
	progress := textui.NewProgress(ctx, dlog.LogLevelInfo, textui.Tunable(1*time.Second))
	defer progress.Done()

	var bytesRead uint64
	for i, c := range chunks {
		progress.Set(i, len(chunks))
		if _, err := store.ChunkData(c.SHA1); err != nil {
			ok = false
			lines = append(lines, chunkDiagnostic(store, c, err))
		}
		bytesRead += uint64(c.CompressedLength)
	}
	progress.Set(len(chunks), len(chunks))

	if bytesRead != want {
		ok = false
		switch {
		case want > bytesRead:
			lines = append(lines, fmt.Sprintf(
				"%s contains %d bytes that do not correspond to chunks in %s",
				store.CSDFilename(), want-bytesRead, store.CSMFilename()))
		default:
			lines = append(lines, fmt.Sprintf("%s was read duplicatively", store.CSDFilename()))
		}
	}

	return lines, uint32(len(chunks)), ok
}

// chunkDiagnostic formats a per-chunk verification failure: a digest
// mismatch or a length mismatch names the offending chunk's position,
// anything else (I/O, unsupported compression) is reported as-is.
func chunkDiagnostic(store *chunkstore.Store, c csm.Chunk, err error) string {
	switch {
	case errors.Is(err, tevfs.ErrWrongDigest):
		return fmt.Sprintf("Chunk in %s at offset %d does not match digest in %s",
			store.CSDFilename(), c.Offset, store.CSMFilename())
	case errors.Is(err, tevfs.ErrWrongLength):
		return fmt.Sprintf("Chunk in %s at offset %d decompressed to the wrong length (expected by %s)",
			store.CSDFilename(), c.Offset, store.CSMFilename())
	default:
		return err.Error()
	}
}

func sortedChunkstoreIndices(m map[uint32]int64) []uint32 {
	out := make([]uint32, 0, len(m))
	for idx := range m {
		out = append(out, idx)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
