package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecord(t *testing.T) {
	start := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	r := NewRecorder(WithClock(fixedClock(start.Add(1200 * time.Millisecond))))

	s := r.Record(start, 7, false)
	assert.Equal(t, 1200*time.Millisecond, s.Elapsed)
	assert.Equal(t, 7, s.TokenCount)
	assert.False(t, s.Stopped)
	assert.Equal(t, "14:30 • ⏱ 1.2s • tkn 7", s.String())
}

func TestRecordClampsClockSkew(t *testing.T) {
	start := time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	r := NewRecorder(WithClock(fixedClock(start.Add(-time.Minute))))

	s := r.Record(start, -3, true)
	assert.Equal(t, time.Duration(0), s.Elapsed)
	assert.Equal(t, 0, s.TokenCount)
	assert.Contains(t, s.String(), "stopped")
}

func TestDefaultClock(t *testing.T) {
	s := NewRecorder().Record(time.Now(), 1, false)
	assert.GreaterOrEqual(t, s.Elapsed, time.Duration(0))
}
