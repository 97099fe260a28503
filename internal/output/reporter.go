package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danzoengine/danzoengine/internal/chunkengine"
)

// Reporter renders one download's live progress to the terminal and
// prints a final summary line on completion. It implements the
// chunkengine.Observer hooks.
type Reporter struct {
	mu         sync.Mutex
	chunks     map[int]chunkengine.ChunkProgress
	overall    chunkengine.OverallProgress
	start      time.Time
	linesDrawn int
	quiet      bool
}

// NewReporter builds a Reporter. quiet suppresses the live redraw
// (only the final summary line is printed) — useful when stdout isn't
// a terminal.
func NewReporter(quiet bool) *Reporter {
	return &Reporter{
		chunks: make(map[int]chunkengine.ChunkProgress),
		start:  time.Now(),
		quiet:  quiet,
	}
}

// Observer returns the chunkengine.Observer bound to this reporter.
func (r *Reporter) Observer() chunkengine.Observer {
	return chunkengine.Observer{
		OnChunkProgress:   r.onChunk,
		OnOverallProgress: r.onOverall,
		OnCompleted:       r.onCompleted,
	}
}

func (r *Reporter) onChunk(p chunkengine.ChunkProgress) {
	r.mu.Lock()
	r.chunks[p.ChunkID] = p
	r.mu.Unlock()
}

func (r *Reporter) onOverall(p chunkengine.OverallProgress) {
	r.mu.Lock()
	r.overall = p
	r.mu.Unlock()
	if !r.quiet {
		r.redraw()
	}
}

func (r *Reporter) onCompleted(c chunkengine.Completed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linesDrawn > 0 {
		fmt.Printf("\033[%dA\033[J", r.linesDrawn)
		r.linesDrawn = 0
	}
	elapsed := time.Since(r.start)
	switch {
	case c.Cancelled:
		PrintWarning(fmt.Sprintf("%s cancelled after %s, %s transferred", symbols["bullet"], elapsed.Round(time.Second), FormatBytes(uint64(r.overall.BytesReceived))))
	case c.Error != nil:
		PrintError(fmt.Sprintf("%s failed after %s: %v", symbols["fail"], elapsed.Round(time.Second), c.Error))
	default:
		speed := 0.0
		if elapsed.Seconds() > 0 {
			speed = float64(r.overall.BytesReceived) / elapsed.Seconds()
		}
		PrintSuccess(fmt.Sprintf("%s done in %s (%s, avg %s)", symbols["pass"], elapsed.Round(time.Second), FormatBytes(uint64(r.overall.BytesReceived)), FormatSpeed(speed)))
	}
}

// redraw repaints the overall bar plus one line per chunk, in chunk-ID
// order, in place — same escape-sequence trick the teacher's manager
// uses to avoid scrolling the terminal.
func (r *Reporter) redraw() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.linesDrawn > 0 {
		fmt.Printf("\033[%dA\033[J", r.linesDrawn)
	}

	lines := 0
	fmt.Printf("%s %s / %s (%s)\n",
		ProgressBar(r.overall.BytesReceived, r.overall.TotalSize, min(40, terminalWidth()-40)),
		FormatBytes(uint64(r.overall.BytesReceived)),
		FormatBytes(uint64(r.overall.TotalSize)),
		FormatSpeed(r.overall.Speed))
	lines++

	ids := make([]int, 0, len(r.chunks))
	for id := range r.chunks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		p := r.chunks[id]
		fmt.Printf("  chunk %d %s\n", id, ProgressBar(p.Position, p.Length, 20))
		lines++
	}
	r.linesDrawn = lines
}

// SummaryLine renders a one-line, non-interactive summary (bytes,
// elapsed, average speed, per-chunk retry counts); the get command
// logs it at debug level after every download.
func SummaryLine(pkg *chunkengine.Package, elapsed time.Duration) string {
	var retries []string
	for _, c := range pkg.Chunks {
		if c.FailoverCount > 0 {
			retries = append(retries, fmt.Sprintf("#%d:%d", c.ID, c.FailoverCount))
		}
	}
	retryPart := "no retries"
	if len(retries) > 0 {
		retryPart = "retries " + strings.Join(retries, ",")
	}
	speed := 0.0
	if elapsed.Seconds() > 0 {
		speed = float64(pkg.BytesReceived) / elapsed.Seconds()
	}
	return fmt.Sprintf("%s in %s at %s (%s)", FormatBytes(uint64(pkg.BytesReceived)), elapsed.Round(time.Second), FormatSpeed(speed), retryPart)
}
