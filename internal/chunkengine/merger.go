package chunkengine

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Merger appends chunks in start-offset order into the destination
// file. Chunks tile the resource contiguously, so strict append
// suffices; no seeking is required.
type Merger struct{}

// Merge opens destPath in append mode (it must not already exist,
// per the caller's pre-flight stale-file removal) and writes each
// chunk's bytes in order.
func (Merger) Merge(destPath string, chunks []*Chunk) error {
	ordered := make([]*Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	dest, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("chunkengine: opening destination: %w", err)
	}
	defer dest.Close()

	var written int64
	for _, c := range ordered {
		if c.Data != nil {
			n, werr := dest.Write(c.Data)
			if werr != nil {
				return fmt.Errorf("chunkengine: writing chunk %d: %w", c.ID, werr)
			}
			written += int64(n)
			continue
		}
		if c.TempFile == "" {
			return fmt.Errorf("chunkengine: chunk %d has neither buffer nor temp file", c.ID)
		}
		n, cerr := copyTempFile(dest, c.TempFile)
		if cerr != nil {
			return fmt.Errorf("chunkengine: copying chunk %d: %w", c.ID, cerr)
		}
		written += n
	}
	return nil
}

func copyTempFile(dest io.Writer, tempPath string) (int64, error) {
	src, err := os.Open(tempPath)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(dest, src)
}

// CleanTemp removes every chunk's on-disk temp file. Safe to call on
// in-memory chunks (no-op per chunk).
func (Merger) CleanTemp(chunks []*Chunk) {
	for _, c := range chunks {
		if c.TempFile != "" {
			os.Remove(c.TempFile)
		}
	}
}
