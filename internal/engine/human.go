package engine

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Human timing ranges.
const (
	minWaypoints = 10
	maxWaypoints = 25

	waypointDelayMin = 5 * time.Millisecond
	waypointDelayMax = 15 * time.Millisecond

	preClickMin  = 100 * time.Millisecond
	preClickMax  = 300 * time.Millisecond
	postClickMin = 150 * time.Millisecond
	postClickMax = 400 * time.Millisecond

	keyDelayMin   = 50 * time.Millisecond
	keyDelayMax   = 200 * time.Millisecond
	thinkChance   = 0.05
	thinkDelayMin = 200 * time.Millisecond
	thinkDelayMax = 800 * time.Millisecond

	minScrollBursts = 3
	maxScrollBursts = 8
	burstDelayMin   = 300 * time.Millisecond
	burstDelayMax   = 800 * time.Millisecond
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Humanizer draws every random timing and pointer decision the engine
// makes. Seeding it (and swapping the sleeper) makes a session replayable.
type Humanizer struct {
	mu    sync.Mutex
	rng   *rand.Rand
	sleep Sleeper
}

// NewHumanizer returns a Humanizer. Nil arguments fall back to a
// clock-seeded rng and SleepContext.
func NewHumanizer(rng *rand.Rand, sleep Sleeper) *Humanizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if sleep == nil {
		sleep = SleepContext
	}
	return &Humanizer{rng: rng, sleep: sleep}
}

func (h *Humanizer) float() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64()
}

// Intn returns a uniform int in [min, max].
func (h *Humanizer) Intn(min, max int) int {
	if max <= min {
		return min
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return min + h.rng.Intn(max-min+1)
}

// Between returns a uniform duration in [min, max].
func (h *Humanizer) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(h.float()*float64(max-min))
}

// Pause sleeps for a random duration in [min, max].
func (h *Humanizer) Pause(ctx context.Context, min, max time.Duration) error {
	return h.sleep(ctx, h.Between(min, max))
}

// Sleep waits exactly d through the configured sleeper.
func (h *Humanizer) Sleep(ctx context.Context, d time.Duration) error {
	return h.sleep(ctx, d)
}

// StartPoint picks an arbitrary pointer position inside a w×h viewport.
func (h *Humanizer) StartPoint(w, hgt int) proto.Point {
	return proto.Point{
		X: float64(w) * (0.2 + 0.6*h.float()),
		Y: float64(hgt) * (0.2 + 0.6*h.float()),
	}
}

// Target returns the centre of box offset by a small jitter that stays
// inside the box.
func (h *Humanizer) Target(box *proto.DOMRect) proto.Point {
	cx := box.X + box.Width/2
	cy := box.Y + box.Height/2
	jx := math.Min(3, box.Width/4)
	jy := math.Min(3, box.Height/4)
	return proto.Point{
		X: cx + (h.float()*2-1)*jx,
		Y: cy + (h.float()*2-1)*jy,
	}
}

// Path interpolates 10–25 waypoints from start to end along an eased,
// slightly bowed curve. The last waypoint is end.
func (h *Humanizer) Path(start, end proto.Point) []proto.Point {
	n := h.Intn(minWaypoints, maxWaypoints)

	// control point pushed off the straight line for a curved stroke
	dx, dy := end.X-start.X, end.Y-start.Y
	bow := (h.float()*2 - 1) * 0.25
	ctrl := proto.Point{
		X: start.X + dx/2 - dy*bow,
		Y: start.Y + dy/2 + dx*bow,
	}

	pts := make([]proto.Point, n)
	for i := 1; i <= n; i++ {
		t := easeInOutQuad(float64(i) / float64(n))
		u := 1 - t
		pts[i-1] = proto.Point{
			X: u*u*start.X + 2*u*t*ctrl.X + t*t*end.X,
			Y: u*u*start.Y + 2*u*t*ctrl.Y + t*t*end.Y,
		}
	}
	pts[n-1] = end
	return pts
}

// KeyDelays returns the wait before each of n keystrokes, with the odd
// longer pause mixed in.
func (h *Humanizer) KeyDelays(n int) []time.Duration {
	out := make([]time.Duration, n)
	for i := range out {
		d := h.Between(keyDelayMin, keyDelayMax)
		if h.float() < thinkChance {
			d += h.Between(thinkDelayMin, thinkDelayMax)
		}
		out[i] = d
	}
	return out
}

// ScrollBursts splits a scroll into 3–8 uneven fractions summing to 1.
func (h *Humanizer) ScrollBursts() []float64 {
	n := h.Intn(minScrollBursts, maxScrollBursts)
	weights := make([]float64, n)
	total := 0.0
	for i := range weights {
		weights[i] = 0.5 + h.float()
		total += weights[i]
	}
	for i := range weights {
		weights[i] /= total
	}
	return weights
}

// easeInOutQuad provides smooth acceleration/deceleration
func easeInOutQuad(t float64) float64 {
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - (-2*t+2)*(-2*t+2)/2
}
