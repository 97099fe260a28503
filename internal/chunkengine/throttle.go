package chunkengine

import (
	"context"
	"io"
	"time"
)

// ThrottledReader wraps a byte stream and enforces a per-chunk maximum
// throughput by sleeping between reads. A target of 0 bypasses
// throttling entirely (Read is a plain passthrough).
type ThrottledReader struct {
	r      io.Reader
	limit  int64 // bytes/second, 0 = unlimited
	ctx    context.Context
	start  time.Time
	total  int64
}

// NewThrottledReader wraps r with a target of limit bytes/second.
// ctx is watched during the throttle sleep so cancellation during a
// sleep is honoured promptly.
func NewThrottledReader(ctx context.Context, r io.Reader, limit int64) *ThrottledReader {
	return &ThrottledReader{r: r, limit: limit, ctx: ctx, start: time.Now()}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if t.limit <= 0 {
		return t.r.Read(p)
	}
	if t.total > 0 {
		elapsed := time.Since(t.start)
		expected := time.Duration(float64(t.total) / float64(t.limit) * float64(time.Second))
		if shortfall := expected - elapsed; shortfall > 0 {
			timer := time.NewTimer(shortfall)
			select {
			case <-t.ctx.Done():
				timer.Stop()
				return 0, t.ctx.Err()
			case <-timer.C:
			}
		}
	}
	n, err := t.r.Read(p)
	t.total += int64(n)
	return n, err
}
