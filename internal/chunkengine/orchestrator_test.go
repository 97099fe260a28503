package chunkengine_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danzoengine/danzoengine/internal/chunkengine"
)

// fakeAdapter is an in-memory chunkengine.RequestAdapter used to drive
// the orchestrator/fetcher without a real network stack. faults, keyed
// by a chunk's End byte (stable across retries, unlike Start which
// advances with Position), injects N forced connection resets after a
// fixed number of bytes before letting that chunk's range succeed.
type fakeAdapter struct {
	data []byte

	mu     sync.Mutex
	faults map[int64]*faultSpec
}

type faultSpec struct {
	remaining       int
	bytesBeforeFail int64
}

func (f *fakeAdapter) Address() string { return "https://example.test/fixture.bin" }

func (f *fakeAdapter) GetFileSize(ctx context.Context) (int64, error) {
	return int64(len(f.data)), nil
}

func (f *fakeAdapter) GetContentDispositionFilename(ctx context.Context) (string, error) {
	return "", nil
}

func (f *fakeAdapter) GetFileName() string { return "fixture.bin" }

func (f *fakeAdapter) OpenRange(ctx context.Context, start, end int64) (io.ReadCloser, error) {
	f.mu.Lock()
	var spec *faultSpec
	if f.faults != nil {
		spec = f.faults[end]
	}
	if spec != nil && spec.remaining > 0 {
		spec.remaining--
		n := spec.bytesBeforeFail
		f.mu.Unlock()
		if start+n > end+1 {
			n = end + 1 - start
		}
		payload := append([]byte(nil), f.data[start:start+n]...)
		return &faultyReader{data: payload}, nil
	}
	f.mu.Unlock()
	payload := append([]byte(nil), f.data[start:end+1]...)
	return io.NopCloser(bytes.NewReader(payload)), nil
}

// faultyReader yields a fixed prefix of bytes, then a non-EOF error to
// simulate a mid-stream connection reset.
type faultyReader struct {
	data []byte
	pos  int
}

func (r *faultyReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, errors.New("simulated connection reset")
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

func (r *faultyReader) Close() error { return nil }

func sequentialBytes(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i % 256)
	}
	return buf
}

func baseOptions() chunkengine.Options {
	opts := chunkengine.DefaultOptions()
	opts.Timeout = 2 * time.Second
	opts.BufferBlockSize = 4096
	return opts
}

// S1: 1024-byte resource, chunkCount=1, in-memory.
func TestDownloadS1SmallSingleChunk(t *testing.T) {
	data := sequentialBytes(1024)
	adapter := &fakeAdapter{data: data}
	dest := filepath.Join(t.TempDir(), "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 1
	opts.OnTheFlyDownload = true

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts}
	pkg, err := orch.Download(context.Background(), dest, false)
	require.NoError(t, err)
	require.NotNil(t, pkg)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, got, 1024)
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(got))
}

// S2: 1 MiB resource, chunkCount=8, parallel, on-disk. Exactly 8
// equal-length chunks; destination byte-identical to the source.
func TestDownloadS2ParallelEvenSplit(t *testing.T) {
	data := sequentialBytes(1 << 20)
	adapter := &fakeAdapter{data: data}
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 8
	opts.ParallelDownload = true
	opts.OnTheFlyDownload = false
	opts.TempDirectory = filepath.Join(dir, "temp")
	opts.ClearPackageAfterDownloadCompleted = false // keep temps to inspect post-hoc

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts}
	pkg, err := orch.Download(context.Background(), dest, false)
	require.NoError(t, err)
	require.Len(t, pkg.Chunks, 8)
	for _, c := range pkg.Chunks {
		assert.EqualValues(t, 131072, c.Length())
		info, statErr := os.Stat(c.TempFile)
		require.NoError(t, statErr)
		assert.EqualValues(t, 131072, info.Size())
	}

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(got))
}

// S5: chunk 2's first two OpenRange calls fail with a simulated reset
// after 100 bytes; maxFailover=3. Final file is byte-identical and
// chunk 2's FailoverCount == 2.
func TestDownloadS5TransientRecovery(t *testing.T) {
	data := sequentialBytes(4000)
	planned := chunkengine.PlanChunks(4000, 4, 3)
	require.Len(t, planned, 4)
	targetEnd := planned[2].End

	adapter := &fakeAdapter{
		data: data,
		faults: map[int64]*faultSpec{
			targetEnd: {remaining: 2, bytesBeforeFail: 100},
		},
	}
	dest := filepath.Join(t.TempDir(), "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 4
	opts.ParallelDownload = true
	opts.OnTheFlyDownload = true
	opts.MaxTryAgainOnFailover = 3
	opts.Timeout = 20 * time.Millisecond // keeps the two failover backoff sleeps short

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts}
	pkg, err := orch.Download(context.Background(), dest, false)
	require.NoError(t, err)

	var chunk2 *chunkengine.Chunk
	for _, c := range pkg.Chunks {
		if c.ID == 2 {
			chunk2 = c
		}
	}
	require.NotNil(t, chunk2)
	assert.Equal(t, 2, chunk2.FailoverCount)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, sha256.Sum256(data), sha256.Sum256(got))
}

// S6: on-disk backend, 4 chunks, cancel partway through. Completed
// fires with Cancelled=true, each chunk's temp file (for every chunk
// that has one) matches its Position, and no destination file exists.
func TestDownloadS6CancellationPreservesTemps(t *testing.T) {
	data := sequentialBytes(4000)
	adapter := &fakeAdapter{data: data}
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 4
	opts.ParallelDownload = true
	opts.OnTheFlyDownload = false
	opts.TempDirectory = filepath.Join(dir, "temp")
	opts.BufferBlockSize = 16
	opts.MaximumSpeedPerChunk = 400 // bytes/sec per chunk, slow enough to cancel mid-flight

	ctx, cancel := context.WithCancel(context.Background())
	var completedEvent chunkengine.Completed
	var gotCompleted bool
	observer := chunkengine.Observer{
		OnOverallProgress: func(p chunkengine.OverallProgress) {
			if p.BytesReceived >= p.TotalSize/2 {
				cancel()
			}
		},
		OnCompleted: func(c chunkengine.Completed) {
			completedEvent = c
			gotCompleted = true
		},
	}

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts, Observer: observer}
	pkg, err := orch.Download(ctx, dest, false)
	require.Error(t, err)
	require.True(t, gotCompleted)
	assert.True(t, completedEvent.Cancelled)

	for _, c := range pkg.Chunks {
		if c.TempFile == "" {
			continue
		}
		info, statErr := os.Stat(c.TempFile)
		require.NoError(t, statErr, "temp file must be preserved on cancel")
		assert.EqualValues(t, c.Position, info.Size())
	}
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr), "destination must not exist after a cancelled download")
}

// KeepTempOnCancel=false must actually remove on-disk temp files when
// a download is cancelled, not just preserve them unconditionally.
func TestDownloadS6bCancellationDiscardsTempsWhenNotKept(t *testing.T) {
	data := sequentialBytes(4000)
	adapter := &fakeAdapter{data: data}
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 4
	opts.ParallelDownload = true
	opts.OnTheFlyDownload = false
	opts.TempDirectory = filepath.Join(dir, "temp")
	opts.BufferBlockSize = 16
	opts.MaximumSpeedPerChunk = 400
	opts.KeepTempOnCancel = false

	ctx, cancel := context.WithCancel(context.Background())
	observer := chunkengine.Observer{
		OnOverallProgress: func(p chunkengine.OverallProgress) {
			if p.BytesReceived >= p.TotalSize/2 {
				cancel()
			}
		},
	}

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts, Observer: observer}
	pkg, err := orch.Download(ctx, dest, false)
	require.Error(t, err)

	for _, c := range pkg.Chunks {
		if c.TempFile == "" {
			continue
		}
		_, statErr := os.Stat(c.TempFile)
		assert.True(t, os.IsNotExist(statErr), "temp file must be removed when KeepTempOnCancel is false")
	}
}

// Round-trip invariant across backend/parallelism/buffer-size
// combinations.
func TestDownloadRoundTrip(t *testing.T) {
	data := sequentialBytes(200_000)
	bufferSizes := []int{1024, 8192, 65536}

	for _, onTheFly := range []bool{true, false} {
		for _, parallel := range []bool{true, false} {
			for _, bufSize := range bufferSizes {
				adapter := &fakeAdapter{data: data}
				dir := t.TempDir()
				dest := filepath.Join(dir, "out.bin")

				opts := baseOptions()
				opts.ChunkCount = 5
				opts.ParallelDownload = parallel
				opts.OnTheFlyDownload = onTheFly
				opts.BufferBlockSize = bufSize
				opts.TempDirectory = filepath.Join(dir, "temp")

				orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts}
				_, err := orch.Download(context.Background(), dest, false)
				require.NoError(t, err)

				got, err := os.ReadFile(dest)
				require.NoError(t, err)
				assert.Equal(t, sha256.Sum256(data), sha256.Sum256(got))
			}
		}
	}
}

// Retry-budget invariant: a chunk subjected to K consecutive transient
// errors exits Fatal iff K > maxFailover.
func TestFetchRetryBudget(t *testing.T) {
	data := sequentialBytes(1000)

	for _, tc := range []struct {
		name        string
		failures    int
		maxFailover int
		wantFatal   bool
	}{
		{"within budget", 2, 3, false},
		{"exceeds budget", 4, 3, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			adapter := &fakeAdapter{
				data: data,
				faults: map[int64]*faultSpec{
					999: {remaining: tc.failures, bytesBeforeFail: 10},
				},
			}
			opts := baseOptions()
			opts.ChunkCount = 1
			opts.OnTheFlyDownload = true
			opts.MaxTryAgainOnFailover = tc.maxFailover
			opts.Timeout = 20 * time.Millisecond

			chunk := chunkengine.PlanChunks(1000, 1, tc.maxFailover)[0]
			agg := chunkengine.NewProgressAggregator(1000, chunkengine.Observer{})
			fetcher := &chunkengine.ChunkFetcher{}
			result, err := fetcher.Fetch(context.Background(), chunk, adapter, opts, agg)

			if tc.wantFatal {
				assert.Equal(t, chunkengine.ResultFatal, result)
				var fatal *chunkengine.FatalError
				assert.ErrorAs(t, err, &fatal)
			} else {
				assert.Equal(t, chunkengine.ResultCompleted, result)
				assert.NoError(t, err)
			}
		})
	}
}

// Monotonic progress invariant: BytesReceived never decreases across
// observed events.
func TestProgressAggregatorMonotonic(t *testing.T) {
	data := sequentialBytes(500_000)
	adapter := &fakeAdapter{data: data}
	dest := filepath.Join(t.TempDir(), "out.bin")

	opts := baseOptions()
	opts.ChunkCount = 6
	opts.ParallelDownload = true
	opts.OnTheFlyDownload = true

	var mu sync.Mutex
	var last int64
	monotonic := true
	observer := chunkengine.Observer{
		OnOverallProgress: func(p chunkengine.OverallProgress) {
			mu.Lock()
			defer mu.Unlock()
			if p.BytesReceived < last {
				monotonic = false
			}
			last = p.BytesReceived
		},
	}

	orch := &chunkengine.DownloadOrchestrator{Adapter: adapter, Options: opts, Observer: observer}
	_, err := orch.Download(context.Background(), dest, false)
	require.NoError(t, err)
	assert.True(t, monotonic)
	assert.EqualValues(t, len(data), last)
}
