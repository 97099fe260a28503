package chunkengine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FetchResult is the terminal outcome of one chunk fetch.
type FetchResult int

const (
	ResultCompleted FetchResult = iota
	ResultCancelled
	ResultFatal
)

type attemptOutcome int

const (
	outcomeCompleted attemptOutcome = iota
	outcomeCancelled
	outcomeTimeout   // per-read deadline hit, not cancelled: continuation, same retry counter
	outcomeTransient // transport/connection error: consumes failover budget
	outcomeFatal
)

// ChunkFetcher drives one chunk to completion: issues the ranged
// request, streams bytes through a ThrottledReader, checkpoints on
// error, and retries with backoff up to Chunk.MaxFailover.
type ChunkFetcher struct {
	Logger zerolog.Logger
}

// Fetch drives chunk to Completed, Cancelled, or a permanent
// FatalError. Retries are expressed as a loop rather than recursion to
// avoid stack growth under pathological retry storms; the retry
// counter only advances on outcomeTransient, never on outcomeTimeout.
func (f *ChunkFetcher) Fetch(ctx context.Context, chunk *Chunk, adapter RequestAdapter, opts Options, agg *ProgressAggregator) (FetchResult, error) {
	chunk.mu.Lock()
	defer chunk.mu.Unlock()

	if chunk.readTimeout == 0 {
		chunk.readTimeout = opts.Timeout
	}
	if ctx.Err() != nil {
		return ResultCancelled, nil
	}
	if chunk.Complete() {
		return ResultCompleted, nil
	}
	if chunk.Position > 0 && !backingStorePresent(chunk, opts) {
		f.Logger.Debug().Int("chunk", chunk.ID).Msg("resetting position: backing store missing")
		chunk.Position = 0
	}

	chunk.StartTime = time.Now()
	for {
		outcome, err := f.attempt(ctx, chunk, adapter, opts, agg)
		switch outcome {
		case outcomeCompleted:
			chunk.FinishTime = time.Now()
			return ResultCompleted, nil
		case outcomeCancelled:
			return ResultCancelled, nil
		case outcomeTimeout:
			f.Logger.Debug().Int("chunk", chunk.ID).Msg("read deadline hit, continuing without consuming failover budget")
			continue
		case outcomeTransient:
			if chunk.FailoverCount >= chunk.MaxFailover {
				return ResultFatal, &FatalError{ChunkID: chunk.ID, Cause: err}
			}
			madeProgress := chunk.Position > chunk.PositionCheckpoint
			chunk.PositionCheckpoint = chunk.Position
			chunk.FailoverCount++
			if !madeProgress {
				chunk.readTimeout += 200 * time.Millisecond
			}
			f.Logger.Warn().Int("chunk", chunk.ID).Int("failover", chunk.FailoverCount).Err(err).Msg("transient transport error, retrying")
			sleepTimer := time.NewTimer(chunk.readTimeout)
			select {
			case <-ctx.Done():
				sleepTimer.Stop()
				return ResultCancelled, nil
			case <-sleepTimer.C:
			}
			continue
		case outcomeFatal:
			return ResultFatal, &FatalError{ChunkID: chunk.ID, Cause: err}
		}
	}
}

func (f *ChunkFetcher) attempt(ctx context.Context, chunk *Chunk, adapter RequestAdapter, opts Options, agg *ProgressAggregator) (attemptOutcome, error) {
	if ctx.Err() != nil {
		return outcomeCancelled, nil
	}

	startByte := chunk.Start + chunk.Position
	body, err := adapter.OpenRange(ctx, startByte, chunk.End)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeCancelled, nil
		}
		if errors.Is(err, ErrRangeNotSupported) {
			return outcomeFatal, err
		}
		return outcomeTransient, err
	}
	defer body.Close()

	var dst io.Writer
	if opts.OnTheFlyDownload {
		if chunk.Data == nil {
			chunk.Data = make([]byte, chunk.Length())
		}
		dst = &memoryWriter{chunk: chunk}
	} else {
		if chunk.TempFile == "" {
			if opts.TempDirectory != "" {
				if err := os.MkdirAll(opts.TempDirectory, 0755); err != nil {
					return outcomeFatal, err
				}
			}
			chunk.TempFile = filepath.Join(opts.TempDirectory, strings.ReplaceAll(uuid.New().String(), "-", "")+opts.TempFilesExtension)
		}
		file, ferr := openChunkFile(chunk.TempFile, chunk.Position > 0)
		if ferr != nil {
			return outcomeFatal, ferr
		}
		defer file.Close()
		dst = file
	}

	throttled := NewThrottledReader(ctx, body, opts.MaximumSpeedPerChunk)
	buf := make([]byte, opts.BufferBlockSize)
	remaining := chunk.Length() - chunk.Position
	var newBytes int64
	lastReport := time.Now()

	for chunk.Position < chunk.Length() {
		if ctx.Err() != nil {
			return outcomeCancelled, nil
		}
		readCtx, cancel := context.WithTimeout(ctx, chunk.readTimeout)
		n, rerr := readWithDeadline(readCtx, throttled, buf)
		cancel()

		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return outcomeFatal, werr
			}
			chunk.Position += int64(n)
			newBytes += int64(n)
			elapsed := time.Since(lastReport).Seconds()
			var chunkSpeed float64
			if elapsed > 0 {
				chunkSpeed = float64(n) / elapsed
			}
			lastReport = time.Now()
			agg.ReportChunk(chunk.ID, chunk.Length(), chunk.Position, chunkSpeed, int64(n))
		}

		if rerr != nil {
			if errors.Is(rerr, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return outcomeCancelled, nil
				}
				return outcomeTimeout, nil
			}
			if ctx.Err() != nil {
				// The throttle sleep or the underlying read unblocked
				// because ctx was cancelled, not because of a
				// transport error; don't spend failover budget on it.
				return outcomeCancelled, nil
			}
			if errors.Is(rerr, io.EOF) {
				break
			}
			return outcomeTransient, rerr
		}
	}

	if chunk.Position != chunk.Length() {
		// Server stopped sending before the requested range was
		// satisfied (it ignored Range, or truncated the stream).
		// Spinning here would never converge, so it's fatal.
		return outcomeFatal, ErrShortRead
	}
	_ = remaining
	_ = newBytes
	return outcomeCompleted, nil
}

func backingStorePresent(chunk *Chunk, opts Options) bool {
	if opts.OnTheFlyDownload {
		return chunk.Data != nil
	}
	if chunk.TempFile == "" {
		return false
	}
	info, err := os.Stat(chunk.TempFile)
	return err == nil && info.Size() >= chunk.Position
}

func openChunkFile(path string, resume bool) (*os.File, error) {
	flag := os.O_WRONLY | os.O_CREATE
	if resume {
		flag |= os.O_APPEND
	} else {
		flag |= os.O_TRUNC
	}
	return os.OpenFile(path, flag, 0644)
}

type memoryWriter struct {
	chunk *Chunk
}

func (m *memoryWriter) Write(p []byte) (int, error) {
	n := copy(m.chunk.Data[m.chunk.Position:], p)
	return n, nil
}

// readWithDeadline runs one Read in a goroutine so it can be
// abandoned when ctx's deadline elapses; the underlying reader isn't
// interrupted, but the caller stops waiting on it.
func readWithDeadline(ctx context.Context, r io.Reader, buf []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
