package metrics

import (
	"fmt"
	"time"
)

// Summary describes one finished exchange. TokenCount is the number of streamed deltas,
// not characters.
type Summary struct {
	Elapsed    time.Duration `json:"elapsed"`
	TokenCount int           `json:"token_count"`
	Stopped    bool          `json:"stopped,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (s Summary) String() string {
	line := fmt.Sprintf("%s • ⏱ %.1fs • tkn %d", s.FinishedAt.Format("15:04"), s.Elapsed.Seconds(), s.TokenCount)
	if s.Stopped {
		line += " • stopped"
	}
	return line
}

type Recorder struct {
	now func() time.Time
}

type Option func(*Recorder)

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

func NewRecorder(options ...Option) *Recorder {
	r := &Recorder{now: time.Now}
	for _, o := range options {
		o(r)
	}
	return r
}

// Record derives the summary of an exchange that started at startedAt. A clock that
// went backwards yields zero elapsed time.
func (r *Recorder) Record(startedAt time.Time, tokenCount int, stopped bool) Summary {
	now := r.now()
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if tokenCount < 0 {
		tokenCount = 0
	}
	return Summary{
		Elapsed:    elapsed,
		TokenCount: tokenCount,
		Stopped:    stopped,
		FinishedAt: now,
	}
}
