// Package monitor runs compiled steps against a browser driver, applying
// retry and fallback policy and tracking every state transition in an
// ExecutionSession.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/profile"
	"github.com/v0xg/stealthrun/internal/recording"
	"github.com/v0xg/stealthrun/internal/retry"
)

var (
	// ErrStopped is returned by Run when Stop ended the session.
	ErrStopped = errors.New("session stopped")
	// ErrAborted wraps the step failure that ended an AbortOnFailure run.
	ErrAborted = errors.New("session aborted")
)

const (
	defaultCloseGrace = 5 * time.Second
	notExecuted       = "not executed"
)

// Options configures a Monitor.
type Options struct {
	Profile profile.Profile
	// Retry spaces attempts of a failing step. Defaults to exponential.
	Retry retry.Strategy
	// AbortOnFailure ends the session at the first step that fails after
	// retries. Otherwise later steps still run.
	AbortOnFailure bool
	// Record attaches a before/after GIF with the pointer to every step.
	Record        bool
	RecordOptions recording.Options
	// CloseGrace bounds how long Stop waits for in-flight work.
	CloseGrace time.Duration
	// OnStep observes every step as it reaches a terminal status.
	OnStep  func(StepStatus)
	Metrics *Metrics
	Logger  *zap.Logger
	// Sleep and Now are swapped in tests.
	Sleep engine.Sleeper
	Now   func() time.Time
}

// Monitor runs one session. It is single use.
type Monitor struct {
	driver Driver
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	session *ExecutionSession
	started bool
	paused  bool
	stopped bool
	resume  chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a Monitor driving d.
func New(d Driver, opts Options) *Monitor {
	if opts.Retry == nil {
		opts.Retry, _ = retry.Parse("", 0, 0)
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = engine.SleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		driver: d,
		opts:   opts,
		logger: opts.Logger.Named("monitor"),
		done:   make(chan struct{}),
	}
}

// Run launches the driver, executes steps in ordinal order and closes the
// driver. It returns the terminal session. The error is ErrStopped after
// Stop, wraps ErrAborted when a failure ended the run early, and is the
// launch failure when the driver never started.
func (m *Monitor) Run(ctx context.Context, task string, steps []action.Step) (*ExecutionSession, error) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil, errors.New("monitor already used")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.session = newSession(uuid.NewString(), task, m.opts.Profile, steps, m.opts.Now())
	m.mu.Unlock()

	defer close(m.done)
	defer cancel()

	logger := m.logger.With(zap.String("session", m.session.ID), zap.String("task", task))
	logger.Info("session started", zap.Int("steps", len(steps)))
	m.opts.Metrics.sessionStarted()

	var runErr error
	if m.isStopped() {
		logger.Info("stopped before launch")
		m.failRemaining(0, notExecuted)
		runErr = ErrStopped
	} else if err := m.driver.Launch(runCtx, m.opts.Profile); err != nil {
		if !engine.IsFatal(err) {
			err = &engine.SessionInitError{Err: err}
		}
		logger.Error("launch failed", zap.Error(err))
		m.failRemaining(0, err.Error())
		runErr = err
	} else {
		runErr = m.loop(runCtx, steps, logger)
	}

	if err := m.driver.Close(); err != nil {
		logger.Warn("driver close", zap.Error(err))
	}

	m.mu.Lock()
	if m.stopped && runErr == nil {
		runErr = ErrStopped
	}
	status := SessionCompleted
	if m.stopped {
		status = SessionFailed
	}
	for _, st := range m.session.Steps {
		if st.Status != StatusSuccess && st.Status != StatusSkipped {
			status = SessionFailed
			break
		}
	}
	m.session.Status = status
	end := m.opts.Now()
	m.session.EndTime = &end
	snap := m.session.clone()
	m.mu.Unlock()

	m.opts.Metrics.sessionFinished(status)
	logger.Info("session finished",
		zap.String("status", string(status)),
		zap.Int("completed", snap.CompletedSteps),
		zap.Int("failed", snap.FailedSteps))
	return snap, runErr
}

func (m *Monitor) loop(ctx context.Context, steps []action.Step, logger *zap.Logger) error {
	for i, step := range steps {
		if err := m.boundary(ctx); err != nil {
			m.failRemaining(i, notExecuted)
			if m.isStopped() {
				return ErrStopped
			}
			return err
		}

		err := m.execStep(ctx, i, step, logger)
		if err == nil {
			continue
		}
		if m.isStopped() {
			m.failRemaining(i+1, notExecuted)
			return ErrStopped
		}
		if engine.IsFatal(err) {
			m.failRemaining(i+1, notExecuted)
			return err
		}
		if ctx.Err() != nil {
			m.failRemaining(i+1, notExecuted)
			return ctx.Err()
		}
		if m.opts.AbortOnFailure {
			m.failRemaining(i+1, notExecuted)
			return fmt.Errorf("%w at %s: %w", ErrAborted, step.ID, err)
		}
	}
	return nil
}

// boundary blocks while the session is paused. It fails once the run
// context is done.
func (m *Monitor) boundary(ctx context.Context) error {
	for {
		m.mu.Lock()
		paused, resume := m.paused, m.resume
		m.mu.Unlock()
		if !paused {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resume:
		}
	}
}

// execStep runs one step to a terminal status. It returns the last error
// when the step ends failed.
func (m *Monitor) execStep(ctx context.Context, i int, step action.Step, logger *zap.Logger) error {
	start := m.opts.Now()
	m.update(i, func(s *StepStatus) {
		s.Status = StatusRunning
		s.StartTime = &start
		s.Logs = append(s.Logs, "started: "+action.Describe(step.Params))
	})
	logger = logger.With(zap.String("step", step.ID), zap.String("type", string(step.Type())))
	logger.Debug("step started")

	var rec *recording.Recorder
	if m.opts.Record {
		rec = recording.New(m.opts.RecordOptions)
		m.frame(ctx, i, rec, false)
	}

	attempts := step.ErrorPolicy.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var (
		final   Status
		lastErr error
		out     result
	)
	for attempt := 0; attempt < attempts; attempt++ {
		params, fallback := step.AttemptParams(attempt)
		if attempt > 0 {
			delay := m.opts.Retry.Delay(attempt, lastErr)
			m.update(i, func(s *StepStatus) {
				s.Status = StatusRunning
				s.RetryCount = attempt
				s.Logs = append(s.Logs, fmt.Sprintf("retry %d/%d after %s: %s", attempt, attempts-1, delay, action.Describe(params)))
			})
			m.opts.Metrics.stepRetried(step.Type())
			if err := m.opts.Sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		res, err := dispatch(ctx, m.driver, params)
		if err == nil {
			final, out, lastErr = StatusSuccess, res, nil
			if fallback >= 0 {
				fb := fallback
				m.update(i, func(s *StepStatus) {
					s.FallbackUsed = &fb
					s.Logs = append(s.Logs, fmt.Sprintf("fallback %d succeeded", fb))
				})
			}
			break
		}

		lastErr = err
		logger.Debug("attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		m.update(i, func(s *StepStatus) {
			s.Logs = append(s.Logs, fmt.Sprintf("attempt %d failed: %v", attempt+1, err))
		})

		if engine.IsFatal(err) || ctx.Err() != nil {
			break
		}
		if step.ErrorPolicy.IgnoreErrors {
			final = StatusSkipped
			break
		}
		if attempt+1 < attempts {
			m.update(i, func(s *StepStatus) { s.Status = StatusFailed })
		}
	}
	if final == "" {
		final = StatusFailed
	}

	if rec != nil {
		m.frame(ctx, i, rec, step.Type() == action.Click)
		if video, err := rec.Bytes(); err == nil {
			m.update(i, func(s *StepStatus) { s.Video = video })
		} else {
			m.update(i, func(s *StepStatus) { s.Logs = append(s.Logs, "recording: "+err.Error()) })
		}
	}

	end := m.opts.Now()
	d := end.Sub(start)
	var snap StepStatus
	m.mu.Lock()
	s := &m.session.Steps[i]
	s.Status = final
	s.EndTime = &end
	ms := d.Milliseconds()
	s.DurationMs = &ms
	switch final {
	case StatusSuccess:
		s.Output = out.records
		s.Screenshot = out.screenshot
		s.Logs = append(s.Logs, "succeeded")
		m.session.CompletedSteps++
	case StatusSkipped:
		s.Error = lastErr.Error()
		s.Logs = append(s.Logs, "skipped: errors ignored")
		m.session.CompletedSteps++
	default:
		s.Error = lastErr.Error()
		m.session.FailedSteps++
	}
	snap = s.clone()
	m.mu.Unlock()

	m.opts.Metrics.stepFinished(step.Type(), final, d)
	switch final {
	case StatusFailed:
		logger.Warn("step failed", zap.Int("retries", snap.RetryCount), zap.Error(lastErr))
	default:
		logger.Info("step finished", zap.String("status", string(final)), zap.Int("retries", snap.RetryCount))
	}
	if m.opts.OnStep != nil {
		m.opts.OnStep(snap)
	}

	if final == StatusFailed {
		return lastErr
	}
	return nil
}

// frame adds a screenshot with the current pointer to rec. Failures only
// land in the step log.
func (m *Monitor) frame(ctx context.Context, i int, rec *recording.Recorder, click bool) {
	if ctx.Err() != nil {
		return
	}
	img, err := m.driver.Screenshot(ctx, pageID)
	if err == nil {
		var c recording.Cursor
		if p, ok := m.driver.(Pointer); ok {
			x, y := p.Cursor(pageID)
			c = recording.Cursor{X: int(x), Y: int(y), Click: click}
		}
		err = rec.Add(img, c)
	}
	if err != nil {
		m.update(i, func(s *StepStatus) { s.Logs = append(s.Logs, "recording: "+err.Error()) })
	}
}

func (m *Monitor) update(i int, fn func(*StepStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.session.Steps[i])
}

// failRemaining marks every non-terminal step from index from as failed.
func (m *Monitor) failRemaining(from int, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := from; i < len(m.session.Steps); i++ {
		s := &m.session.Steps[i]
		if s.Status.Terminal() {
			continue
		}
		s.Status = StatusFailed
		s.Error = reason
		s.Logs = append(s.Logs, reason)
		m.session.FailedSteps++
		m.opts.Metrics.stepFinished(s.Type, StatusFailed, 0)
	}
}

func (m *Monitor) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Pause holds the run at the next step boundary. The step in flight
// finishes first.
func (m *Monitor) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status != SessionRunning {
		return fmt.Errorf("cannot pause session in state %s", m.state())
	}
	m.paused = true
	m.resume = make(chan struct{})
	m.session.Status = SessionPaused
	m.logger.Info("session paused", zap.String("session", m.session.ID))
	return nil
}

// Resume continues a paused run at the first step not yet terminal.
func (m *Monitor) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || m.session.Status != SessionPaused {
		return fmt.Errorf("cannot resume session in state %s", m.state())
	}
	m.paused = false
	close(m.resume)
	m.session.Status = SessionRunning
	m.logger.Info("session resumed", zap.String("session", m.session.ID))
	return nil
}

// Stop cancels in-flight work and fails the session. It waits up to the
// close grace for Run to wind down, then closes the driver itself. Before
// Run it makes the coming Run fail every step without launching.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if m.session == nil {
		// Run has not started; it will end at once
		m.stopped = true
		m.mu.Unlock()
		return nil
	}
	if m.session.Status.Terminal() || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.session.Status = SessionFailed
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("session stopping")
	cancel()

	select {
	case <-m.done:
		return nil
	case <-time.After(m.opts.CloseGrace):
		m.logger.Warn("run did not stop within grace, closing driver", zap.Duration("grace", m.opts.CloseGrace))
		return m.driver.Close()
	}
}

// Snapshot returns a deep copy of the session, or nil before Run.
func (m *Monitor) Snapshot() *ExecutionSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	return m.session.clone()
}

func (m *Monitor) state() string {
	if m.session == nil {
		return "not started"
	}
	return string(m.session.Status)
}
