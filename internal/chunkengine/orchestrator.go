package chunkengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Package is the aggregate state of one in-flight or completed
// download: the address, destination, total size, chunk plan, running
// byte count, and the option set it was started with. It lives only
// in memory for the duration of one download; nothing here is
// persisted across process restarts.
type Package struct {
	Address       string
	DestPath      string
	TotalSize     int64
	Chunks        []*Chunk
	BytesReceived int64
	Options       Options
}

// DiskSpaceChecker reports bytes free on the filesystem holding path.
// Implementations live in internal/diskspace; the orchestrator treats
// it as an optional pre-flight collaborator — a nil checker skips the
// disk-space precondition entirely.
type DiskSpaceChecker interface {
	FreeSpace(path string) (int64, error)
}

// DownloadOrchestrator runs the full pipeline: pre-flight, chunk plan,
// fan-out fetch, merge, completion event.
type DownloadOrchestrator struct {
	Adapter   RequestAdapter
	Options   Options
	Observer  Observer
	DiskSpace DiskSpaceChecker
	Logger    zerolog.Logger

	fetcher ChunkFetcher
	merger  Merger
}

// Download drives one resource to completion at destPath. If
// destIsFolder is true, destPath is treated as a directory and the
// final file name is derived from Content-Disposition, falling back
// to the URL's last path segment.
func (o *DownloadOrchestrator) Download(ctx context.Context, destPath string, destIsFolder bool) (*Package, error) {
	o.fetcher.Logger = o.Logger

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Step 1-2: query total size.
	totalSize, err := o.Adapter.GetFileSize(ctx)
	if err != nil {
		return nil, fmt.Errorf("chunkengine: %w: %v", ErrInvalidResource, err)
	}
	if totalSize <= 0 {
		return nil, ErrInvalidResource
	}

	if destIsFolder {
		name, nerr := o.Adapter.GetContentDispositionFilename(ctx)
		if nerr != nil || name == "" {
			name = o.Adapter.GetFileName()
		}
		if err := os.MkdirAll(destPath, 0755); err != nil {
			return nil, fmt.Errorf("chunkengine: creating destination folder: %w", err)
		}
		destPath = filepath.Join(destPath, name)
	}

	// Step 3: validate/clamp options.
	opts := o.Options
	if opts.ChunkCount < 1 {
		opts.ChunkCount = 1
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.BufferBlockSize <= 0 {
		opts.BufferBlockSize = DefaultOptions().BufferBlockSize
	}
	if opts.MaxTryAgainOnFailover < 0 {
		opts.MaxTryAgainOnFailover = 0
	}
	if !opts.OnTheFlyDownload && opts.TempDirectory == "" {
		opts.TempDirectory = filepath.Join(filepath.Dir(destPath), ".danzoengine-temp")
	}

	// Step 4: disk space.
	if o.DiskSpace != nil {
		if err := o.checkDiskSpace(destPath, totalSize, opts); err != nil {
			return nil, err
		}
	}

	// Step 5: remove stale destination file.
	if _, statErr := os.Stat(destPath); statErr == nil {
		if err := os.Remove(destPath); err != nil {
			return nil, fmt.Errorf("chunkengine: removing stale destination: %w", err)
		}
	}

	// Step 6: plan chunks.
	chunks := PlanChunks(totalSize, opts.ChunkCount, opts.MaxTryAgainOnFailover)
	pkg := &Package{
		Address:   o.Adapter.Address(),
		DestPath:  destPath,
		TotalSize: totalSize,
		Chunks:    chunks,
		Options:   opts,
	}

	agg := NewProgressAggregator(totalSize, o.Observer)

	// Step 7: fetch, parallel or sequential.
	cancelled, fatal := o.runFetchers(ctx, chunks, opts, agg)

	pkg.BytesReceived = agg.BytesReceived()

	switch {
	case cancelled:
		// Step 8: skip merge; preserve temps only if configured to.
		if !opts.KeepTempOnCancel {
			o.merger.CleanTemp(chunks)
		}
		agg.EmitCompleted(Completed{Cancelled: true})
		return pkg, ErrCancelled
	case fatal != nil:
		// Step 10: fatal error fails the whole download.
		agg.EmitCompleted(Completed{Cancelled: false, Error: fatal})
		return pkg, fatal
	}

	// Step 9: merge on success.
	if err := o.merger.Merge(destPath, chunks); err != nil {
		agg.EmitCompleted(Completed{Cancelled: false, Error: err})
		return pkg, err
	}
	agg.EmitCompleted(Completed{Cancelled: false})

	// Step 11: clear temps unless configured to keep them.
	if opts.ClearPackageAfterDownloadCompleted {
		o.merger.CleanTemp(chunks)
		for _, c := range chunks {
			c.Data = nil
		}
	}
	return pkg, nil
}

// runFetchers drives every chunk's fetch, parallel or sequential. It
// reports whether the run was cancelled and, failing that, the first
// fatal error encountered.
func (o *DownloadOrchestrator) runFetchers(ctx context.Context, chunks []*Chunk, opts Options, agg *ProgressAggregator) (cancelled bool, fatal error) {
	if !opts.ParallelDownload {
		for _, c := range chunks {
			result, err := o.fetcher.Fetch(ctx, c, o.Adapter, opts, agg)
			switch result {
			case ResultCancelled:
				return true, nil
			case ResultFatal:
				return false, err
			}
		}
		return false, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, c := range chunks {
		wg.Add(1)
		go func(chunk *Chunk) {
			defer wg.Done()
			result, err := o.fetcher.Fetch(ctx, chunk, o.Adapter, opts, agg)
			mu.Lock()
			defer mu.Unlock()
			switch result {
			case ResultCancelled:
				cancelled = true
			case ResultFatal:
				if fatal == nil {
					fatal = err
				}
			}
		}(c)
	}
	wg.Wait()
	return cancelled, fatal
}

func (o *DownloadOrchestrator) checkDiskSpace(destPath string, totalSize int64, opts Options) error {
	destDrive := rootOf(filepath.Dir(destPath))
	free, err := o.DiskSpace.FreeSpace(destDrive)
	if err != nil {
		return fmt.Errorf("chunkengine: checking disk space on %q: %w", destDrive, err)
	}
	if free < totalSize {
		return &InsufficientDiskSpaceError{Drive: destDrive, Required: totalSize, Available: free}
	}
	if opts.OnTheFlyDownload {
		return nil
	}
	tempDrive := rootOf(opts.TempDirectory)
	required := totalSize
	if tempDrive == destDrive {
		required *= 2 // temp + final simultaneously in the same directory
	}
	tempFree, err := o.DiskSpace.FreeSpace(tempDrive)
	if err != nil {
		return fmt.Errorf("chunkengine: checking disk space on %q: %w", tempDrive, err)
	}
	if tempFree < required {
		return &InsufficientDiskSpaceError{Drive: tempDrive, Required: required, Available: tempFree}
	}
	return nil
}

// rootOf returns the nearest existing directory at or above p, used
// for disk-space lookups (statfs works on any path under the mount,
// not just the mount point itself). It does not resolve the volume or
// mount root, so two different directories on one filesystem compare
// as different drives in checkDiskSpace and the doubled requirement
// applies only when both resolve to the same directory.
func rootOf(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	for {
		if info, err := os.Stat(abs); err == nil && info.IsDir() {
			return abs
		}
		parent := filepath.Dir(abs)
		if parent == abs || parent == "." || strings.TrimSuffix(parent, string(filepath.Separator)) == "" {
			return abs
		}
		abs = parent
	}
}
