package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestImmediateNeverWaits(t *testing.T) {
	for i := 1; i < 10; i++ {
		assert.Zero(t, Immediate{}.Delay(i, errors.New("boom")))
	}
}

func TestExponentialIsNonDecreasingAndCapped(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := time.Duration(rapid.IntRange(1, 2000).Draw(rt, "baseMs")) * time.Millisecond
		max := time.Duration(rapid.IntRange(1, 60).Draw(rt, "maxS")) * time.Second
		s := Exponential{Base: base, Max: max, Multiplier: rapid.Float64Range(1, 4).Draw(rt, "mult")}

		prev := time.Duration(0)
		for attempt := 1; attempt <= 40; attempt++ {
			d := s.Delay(attempt, nil)
			assert.GreaterOrEqual(rt, d, time.Duration(0))
			assert.GreaterOrEqual(rt, d, prev)
			assert.LessOrEqual(rt, d, max)
			prev = d
		}
	})
}

func TestExponentialDoubles(t *testing.T) {
	s := Exponential{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, d := range want {
		assert.Equal(t, d, s.Delay(i+1, nil), "attempt %d", i+1)
	}
	assert.Zero(t, s.Delay(0, nil))
	assert.Equal(t, 50*time.Millisecond, Exponential{Base: time.Second, Max: 50 * time.Millisecond}.Delay(1, nil))
}

func TestLinearGrowsByStep(t *testing.T) {
	s := Linear{Base: 100 * time.Millisecond, Step: 50 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, s.Delay(1, nil))
	assert.Equal(t, 150*time.Millisecond, s.Delay(2, nil))
	assert.Equal(t, 200*time.Millisecond, s.Delay(3, nil))
	assert.Equal(t, time.Second, s.Delay(100, nil))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "timed out" }
func (timeoutErr) Timeout() bool { return true }

func TestAdaptiveStaysWithinBounds(t *testing.T) {
	s := &Adaptive{Base: 100 * time.Millisecond, Max: 5 * time.Second}
	errs := []error{
		errors.New("element missing"),
		timeoutErr{},
		fmt.Errorf("wrapped: %w", context.DeadlineExceeded),
		nil,
	}
	for attempt := 1; attempt <= 20; attempt++ {
		d := s.Delay(attempt, errs[attempt%len(errs)])
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 5*time.Second)
	}
}

func TestAdaptiveStretchesForTimeouts(t *testing.T) {
	plain := &Adaptive{Base: 100 * time.Millisecond, Max: time.Minute}
	slow := &Adaptive{Base: 100 * time.Millisecond, Max: time.Minute}

	assert.Greater(t, slow.Delay(1, timeoutErr{}), plain.Delay(1, errors.New("x")))
}

func TestParse(t *testing.T) {
	for _, name := range []string{"immediate", "exponential", "linear", "adaptive", ""} {
		s, err := Parse(name, 0, 0)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	_, err := Parse("fibonacci", 0, 0)
	assert.Error(t, err)
}
