package monitor

import (
	"time"

	"github.com/v0xg/stealthrun/internal/action"
	"github.com/v0xg/stealthrun/internal/engine"
	"github.com/v0xg/stealthrun/internal/profile"
)

// Status is the lifecycle state of one step.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// SessionStatus is the lifecycle state of a whole run.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the session is frozen.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// StepStatus is the execution record of one step.
type StepStatus struct {
	StepID     string      `json:"stepId"`
	Ordinal    int         `json:"ordinal"`
	Type       action.Type `json:"type"`
	Status     Status      `json:"status"`
	StartTime  *time.Time  `json:"startTime,omitempty"`
	EndTime    *time.Time  `json:"endTime,omitempty"`
	DurationMs *int64      `json:"durationMs,omitempty"`
	Error      string      `json:"error,omitempty"`
	// RetryCount is the number of attempts after the first.
	RetryCount int `json:"retryCount"`
	// FallbackUsed indexes the step's fallbacks when one succeeded.
	FallbackUsed *int            `json:"fallbackUsed,omitempty"`
	Logs         []string        `json:"logs"`
	Output       []engine.Record `json:"output,omitempty"`
	Screenshot   []byte          `json:"screenshot,omitempty"`
	Video        []byte          `json:"video,omitempty"`
}

// ExecutionSession is the full trace of one run. It is the artifact handed
// to reporting and persistence.
type ExecutionSession struct {
	ID             string          `json:"id"`
	TaskName       string          `json:"taskName"`
	Profile        profile.Profile `json:"profile"`
	StartTime      time.Time       `json:"startTime"`
	EndTime        *time.Time      `json:"endTime,omitempty"`
	Status         SessionStatus   `json:"status"`
	Steps          []StepStatus    `json:"steps"`
	TotalSteps     int             `json:"totalSteps"`
	CompletedSteps int             `json:"completedSteps"`
	FailedSteps    int             `json:"failedSteps"`
}

func newSession(id, task string, p profile.Profile, steps []action.Step, now time.Time) *ExecutionSession {
	s := &ExecutionSession{
		ID:         id,
		TaskName:   task,
		Profile:    p,
		StartTime:  now,
		Status:     SessionRunning,
		Steps:      make([]StepStatus, len(steps)),
		TotalSteps: len(steps),
	}
	for i, st := range steps {
		s.Steps[i] = StepStatus{
			StepID:  st.ID,
			Ordinal: st.Ordinal,
			Type:    st.Type(),
			Status:  StatusPending,
			Logs:    []string{},
		}
	}
	return s
}

// clone deep-copies the session.
func (s *ExecutionSession) clone() *ExecutionSession {
	out := *s
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	out.Steps = make([]StepStatus, len(s.Steps))
	for i := range s.Steps {
		out.Steps[i] = s.Steps[i].clone()
	}
	return &out
}

func (s StepStatus) clone() StepStatus {
	out := s
	if s.StartTime != nil {
		t := *s.StartTime
		out.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		out.EndTime = &t
	}
	if s.DurationMs != nil {
		d := *s.DurationMs
		out.DurationMs = &d
	}
	if s.FallbackUsed != nil {
		f := *s.FallbackUsed
		out.FallbackUsed = &f
	}
	out.Logs = append([]string(nil), s.Logs...)
	if s.Output != nil {
		out.Output = make([]engine.Record, len(s.Output))
		for i, r := range s.Output {
			attrs := make(map[string]string, len(r.Attributes))
			for k, v := range r.Attributes {
				attrs[k] = v
			}
			r.Attributes = attrs
			out.Output[i] = r
		}
	}
	out.Screenshot = append([]byte(nil), s.Screenshot...)
	out.Video = append([]byte(nil), s.Video...)
	return out
}
