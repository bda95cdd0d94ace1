// Package retry provides the pacing curves used between step attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// Strategy returns how long to wait before retry number attempt (1-based),
// given the error of the attempt that just failed.
type Strategy interface {
	Delay(attempt int, err error) time.Duration
}

// Immediate retries without waiting.
type Immediate struct{}

func (Immediate) Delay(int, error) time.Duration { return 0 }

// Exponential waits Base * Multiplier^(attempt-1), capped at Max. The
// curve is an unjittered backoff.ExponentialBackOff replayed from the start
// on every call.
type Exponential struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

func (e Exponential) Delay(attempt int, _ error) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := e.backOff()
	d := b.NextBackOff()
	for i := 1; i < attempt && d != backoff.Stop; i++ {
		d = b.NextBackOff()
	}
	if d == backoff.Stop {
		return e.Max
	}
	return clamp(float64(d), e.Max)
}

func (e Exponential) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.Base
	b.RandomizationFactor = 0
	b.Multiplier = e.Multiplier
	if b.Multiplier < 1 {
		b.Multiplier = 2
	}
	b.MaxInterval = e.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Linear waits Base + Step*(attempt-1), capped at Max. A zero Step uses Base.
type Linear struct {
	Base time.Duration
	Step time.Duration
	Max  time.Duration
}

func (l Linear) Delay(attempt int, _ error) time.Duration {
	if attempt < 1 {
		return 0
	}
	step := l.Step
	if step == 0 {
		step = l.Base
	}
	d := float64(l.Base) + float64(step)*float64(attempt-1)
	return clamp(d, l.Max)
}

// Adaptive grows linearly with the attempt number and stretches further the
// larger the share of timeout failures it has seen. The curve is a
// heuristic, not a contract.
type Adaptive struct {
	Base time.Duration
	Max  time.Duration

	mu       sync.Mutex
	failures int
	timeouts int
}

func (a *Adaptive) Delay(attempt int, err error) time.Duration {
	if attempt < 1 {
		return 0
	}
	a.mu.Lock()
	a.failures++
	if isTimeout(err) {
		a.timeouts++
	}
	share := float64(a.timeouts) / float64(a.failures)
	a.mu.Unlock()

	d := float64(a.Base) * float64(attempt) * (1 + 2*share)
	return clamp(d, a.Max)
}

// Parse builds a strategy by name: immediate, exponential, linear, adaptive.
func Parse(name string, base, max time.Duration) (Strategy, error) {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "immediate", "none":
		return Immediate{}, nil
	case "", "exponential", "exp":
		return Exponential{Base: base, Max: max, Multiplier: 2}, nil
	case "linear":
		return Linear{Base: base, Max: max}, nil
	case "adaptive":
		return &Adaptive{Base: base, Max: max}, nil
	default:
		return nil, fmt.Errorf("unknown retry strategy: %s (supported: immediate, exponential, linear, adaptive)", name)
	}
}

func clamp(d float64, max time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if max > 0 && d > float64(max) {
		return max
	}
	return time.Duration(d)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
