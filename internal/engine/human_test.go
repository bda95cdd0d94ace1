package engine

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func seeded(seed int64) *Humanizer {
	return NewHumanizer(rand.New(rand.NewSource(seed)), nil)
}

func TestPathEndsOnTarget(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := seeded(rapid.Int64().Draw(rt, "seed"))
		start := proto.Point{X: rapid.Float64Range(0, 1920).Draw(rt, "sx"), Y: rapid.Float64Range(0, 1080).Draw(rt, "sy")}
		end := proto.Point{X: rapid.Float64Range(0, 1920).Draw(rt, "ex"), Y: rapid.Float64Range(0, 1080).Draw(rt, "ey")}

		pts := h.Path(start, end)
		require.GreaterOrEqual(rt, len(pts), minWaypoints)
		require.LessOrEqual(rt, len(pts), maxWaypoints)
		assert.Equal(rt, end, pts[len(pts)-1])
	})
}

func TestTargetStaysInsideBox(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := seeded(rapid.Int64().Draw(rt, "seed"))
		box := &proto.DOMRect{
			X:      rapid.Float64Range(0, 1000).Draw(rt, "x"),
			Y:      rapid.Float64Range(0, 1000).Draw(rt, "y"),
			Width:  rapid.Float64Range(1, 400).Draw(rt, "w"),
			Height: rapid.Float64Range(1, 400).Draw(rt, "h"),
		}
		pt := h.Target(box)
		assert.GreaterOrEqual(rt, pt.X, box.X)
		assert.LessOrEqual(rt, pt.X, box.X+box.Width)
		assert.GreaterOrEqual(rt, pt.Y, box.Y)
		assert.LessOrEqual(rt, pt.Y, box.Y+box.Height)
		assert.LessOrEqual(rt, math.Abs(pt.X-(box.X+box.Width/2)), 3.0)
	})
}

func TestKeyDelaysInRange(t *testing.T) {
	h := seeded(7)
	delays := h.KeyDelays(500)
	require.Len(t, delays, 500)
	for _, d := range delays {
		assert.GreaterOrEqual(t, d, keyDelayMin)
		assert.LessOrEqual(t, d, keyDelayMax+thinkDelayMax)
	}
}

func TestScrollBurstsSumToOne(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := seeded(rapid.Int64().Draw(rt, "seed"))
		bursts := h.ScrollBursts()
		require.GreaterOrEqual(rt, len(bursts), minScrollBursts)
		require.LessOrEqual(rt, len(bursts), maxScrollBursts)
		total := 0.0
		for _, b := range bursts {
			assert.Greater(rt, b, 0.0)
			total += b
		}
		assert.InDelta(rt, 1.0, total, 1e-9)
	})
}

func TestSameSeedSameDecisions(t *testing.T) {
	a, b := seeded(42), seeded(42)
	assert.Equal(t, a.KeyDelays(20), b.KeyDelays(20))
	assert.Equal(t, a.Path(proto.Point{}, proto.Point{X: 300, Y: 200}), b.Path(proto.Point{}, proto.Point{X: 300, Y: 200}))
}

func TestPauseUsesSleeper(t *testing.T) {
	var slept []time.Duration
	h := NewHumanizer(rand.New(rand.NewSource(1)), func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})
	require.NoError(t, h.Pause(context.Background(), preClickMin, preClickMax))
	require.Len(t, slept, 1)
	assert.GreaterOrEqual(t, slept[0], preClickMin)
	assert.LessOrEqual(t, slept[0], preClickMax)
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
}

func TestEaseInOutQuad(t *testing.T) {
	assert.Equal(t, 0.0, easeInOutQuad(0))
	assert.Equal(t, 0.5, easeInOutQuad(0.5))
	assert.Equal(t, 1.0, easeInOutQuad(1))
}
