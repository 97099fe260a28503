package chunkengine

import (
	"sync"
	"time"
)

// Chunk represents one byte window [Start, End] (both inclusive) of
// the resource being downloaded. A chunk is owned
// exclusively by one fetcher goroutine for the lifetime of a fetch
// attempt; no other goroutine may mutate Position, Data, or TempFile
// while a fetch is in flight.
type Chunk struct {
	ID    int
	Start int64
	End   int64

	// Position is the number of bytes already written into this
	// chunk, 0 <= Position <= Length().
	Position int64

	// Data holds the in-memory backend's buffer, lazily allocated to
	// exactly Length() bytes. Nil when the on-disk backend is used.
	Data []byte

	// TempFile is the on-disk backend's private file path, holding
	// exactly Position bytes appended in order. Empty when the
	// in-memory backend is used.
	TempFile string

	FailoverCount      int
	MaxFailover        int
	PositionCheckpoint int64

	// readTimeout is the per-chunk local copy of the read deadline.
	// It escalates by 200ms when a retry makes no forward progress,
	// instead of mutating the shared Options in place.
	readTimeout time.Duration

	StartTime  time.Time
	FinishTime time.Time

	mu sync.Mutex
}

// Length returns the number of bytes in this chunk's range.
func (c *Chunk) Length() int64 {
	return c.End - c.Start + 1
}

// Complete reports whether the chunk has received every byte in its
// range.
func (c *Chunk) Complete() bool {
	return c.Position >= c.Length()
}

// Options enumerates every knob a download may be configured with.
// Zero values are not valid defaults for every field; DefaultOptions
// returns a sane baseline.
type Options struct {
	// ChunkCount is the desired number of chunks (>= 1). Clamped
	// upward so no single chunk exceeds 2^31-1 bytes.
	ChunkCount int

	// ParallelDownload: true runs fetchers concurrently, false runs
	// them sequentially in plan order.
	ParallelDownload bool

	// OnTheFlyDownload: true uses the in-memory backend, false uses
	// on-disk temp files.
	OnTheFlyDownload bool

	// MaximumSpeedPerChunk in bytes/second, 0 = unlimited.
	MaximumSpeedPerChunk int64

	// BufferBlockSize is the number of bytes read per syscall.
	BufferBlockSize int

	// Timeout is the per-read deadline and the retry backoff base.
	Timeout time.Duration

	// MaxTryAgainOnFailover is the per-chunk retry ceiling.
	MaxTryAgainOnFailover int

	// TempDirectory holds on-disk backend chunk files.
	TempDirectory string

	// TempFilesExtension is appended to each temp file's UUID name.
	TempFilesExtension string

	// ClearPackageAfterDownloadCompleted releases chunk storage after
	// a successful merge.
	ClearPackageAfterDownloadCompleted bool

	// KeepTempOnCancel preserves temp files when a download is
	// cancelled, leaving room for a future resume.
	KeepTempOnCancel bool
}

// DefaultOptions mirrors the defaults a bare CLI invocation would use.
func DefaultOptions() Options {
	return Options{
		ChunkCount:                         8,
		ParallelDownload:                   true,
		OnTheFlyDownload:                   false,
		MaximumSpeedPerChunk:               0,
		BufferBlockSize:                    64 * 1024,
		Timeout:                            30 * time.Second,
		MaxTryAgainOnFailover:              5,
		TempDirectory:                      "",
		TempFilesExtension:                 ".part",
		ClearPackageAfterDownloadCompleted: true,
		KeepTempOnCancel:                   true,
	}
}

const maxChunkBytes = 1<<31 - 1 // 2 GiB - 1
