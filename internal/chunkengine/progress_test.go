package chunkengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressAggregatorReportChunkAccumulatesBytes(t *testing.T) {
	var mu sync.Mutex
	var chunkEvents []ChunkProgress
	agg := NewProgressAggregator(100, Observer{
		OnChunkProgress: func(p ChunkProgress) {
			mu.Lock()
			defer mu.Unlock()
			chunkEvents = append(chunkEvents, p)
		},
	})

	agg.ReportChunk(0, 50, 10, 5.0, 10)
	agg.ReportChunk(1, 50, 20, 10.0, 20)

	assert.EqualValues(t, 30, agg.BytesReceived())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, chunkEvents, 2)
	assert.Equal(t, 0, chunkEvents[0].ChunkID)
	assert.EqualValues(t, 10, chunkEvents[0].Position)
	assert.Equal(t, 1, chunkEvents[1].ChunkID)
	assert.EqualValues(t, 20, chunkEvents[1].Position)
}

func TestProgressAggregatorSamplesOverallAtOneSecondCadence(t *testing.T) {
	var events []OverallProgress
	var mu sync.Mutex
	agg := NewProgressAggregator(1000, Observer{
		OnOverallProgress: func(p OverallProgress) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, p)
		},
	})

	agg.ReportChunk(0, 1000, 100, 0, 100)
	time.Sleep(5 * time.Millisecond)
	agg.ReportChunk(0, 1000, 200, 0, 100)

	mu.Lock()
	defer mu.Unlock()
	require := assert.New(t)
	require.Len(events, 2, "every ReportChunk fires an overall event")
	require.EqualValues(100, events[0].BytesReceived)
	require.EqualValues(200, events[1].BytesReceived)
	// Both events land inside the same <1s sampling window, so the
	// reported speed should not have been recomputed between them.
	require.Equal(events[0].Speed, events[1].Speed)
}

func TestProgressAggregatorEmitCompletedFiresExactlyOnce(t *testing.T) {
	var count int
	var last Completed
	agg := NewProgressAggregator(10, Observer{
		OnCompleted: func(c Completed) {
			count++
			last = c
		},
	})

	agg.EmitCompleted(Completed{Cancelled: true})
	assert.Equal(t, 1, count)
	assert.True(t, last.Cancelled)
}
