package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWorker_Backoff(t *testing.T) {
	w := &Worker{conf: WorkerConfig{RetryBase: time.Minute, RetryMax: 10 * time.Minute}}

	tests := []struct {
		attempt  int
		jitter   float64
		expected time.Duration
	}{
		{1, 0, time.Minute},
		{1, 0.5, time.Minute + 15*time.Second},
		{2, 0, 2 * time.Minute},
		{3, 0, 4 * time.Minute},
		{4, 0.5, 10 * time.Minute},
		{5, 0, 10 * time.Minute}, // capped: 16m > 10m
		{12, 0.75, 13*time.Minute + 45*time.Second},
	}
	for _, tc := range tests {
		jitter := tc.jitter
		w.jitter = func() float64 { return jitter }
		assert.Equal(t, tc.expected, w.Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestIsPermanent(t *testing.T) {
	err := errors.New("no chat")
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(err)))
	assert.Nil(t, Permanent(nil))
	assert.Equal(t, "no chat", Permanent(err).Error())
}
