package chunker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/chunker"
)

func TestChunker_FirstChunkIsOneMiB(t *testing.T) {
	c := chunker.New()
	assert.Equal(t, int64(1*1024*1024), c.Size())
}

func TestChunker_GrowsOnSustainedImprovement(t *testing.T) {
	c := chunker.New()
	c.Feedback(10_000_000) // seeds rateAtLast, no resize yet
	require.Equal(t, int64(1*1024*1024), c.Size())

	c.Feedback(12_500_000) // +25% > 20% threshold -> double
	assert.Equal(t, int64(2*1024*1024), c.Size())
}

func TestChunker_ShrinksOnSustainedRegression(t *testing.T) {
	c := chunker.New()
	c.Feedback(10_000_000)
	c.Feedback(7_000_000) // -30% < -20% threshold -> halve
	assert.Equal(t, int64(512*1024), c.Size())
}

func TestChunker_HoldsWithinThreshold(t *testing.T) {
	c := chunker.New()
	c.Feedback(10_000_000)
	c.Feedback(10_500_000) // +5%, inside the +/-20% band
	assert.Equal(t, int64(1*1024*1024), c.Size())
}

func TestChunker_NeverExceedsBounds(t *testing.T) {
	c := chunker.New(chunker.WithBounds(256*1024, 2*1024*1024))
	rate := 1.0
	for i := 0; i < 10; i++ {
		rate *= 2
		c.Feedback(rate)
		assert.GreaterOrEqual(t, c.Size(), int64(256*1024))
		assert.LessOrEqual(t, c.Size(), int64(2*1024*1024))
		assert.Zero(t, c.Size()&(c.Size()-1), "size must remain a power of two")
	}
}

func TestChunker_PlanCoversRangeWithoutGapOrOverlap(t *testing.T) {
	c := chunker.New(chunker.WithBounds(256*1024, 256*1024))
	chunks := c.Plan(0, 700*1024)

	require.Len(t, chunks, 3)
	var cursor int64
	for _, ch := range chunks {
		assert.Equal(t, cursor, ch.Offset)
		cursor = ch.End()
	}
	assert.Equal(t, int64(700*1024), cursor)
}

func TestChunker_PlanEmptyWhenOffsetAtOrPastTotal(t *testing.T) {
	c := chunker.New()
	assert.Nil(t, c.Plan(100, 100))
	assert.Nil(t, c.Plan(200, 100))
}
