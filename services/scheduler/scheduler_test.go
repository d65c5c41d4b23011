package schedulersvc

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/services/logger"
)

func TestNew(t *testing.T) {
	logger := logsvc.NewNopLogger()

	_, err := New(logger, "Mars/Olympus")
	assert.Error(t, err)

	_, err = New(logger, "UTC", Job{Name: "bad", Spec: "every now and then", Run: func(context.Context) error { return nil }})
	assert.Error(t, err)

	s, err := New(logger, "Africa/Nairobi",
		Job{Name: "a", Spec: FireDueSpec, Run: func(context.Context) error { return nil }},
		Job{Name: "b", Spec: DrainSpec, Run: func(context.Context) error { return nil }},
		Job{Name: "c", Spec: ExtendHorizonSpec, Run: func(context.Context) error { return nil }},
	)
	require.NoError(t, err)
	assert.Len(t, s.Jobs(), 3)
}

func TestScheduler_StartStop(t *testing.T) {
	var calls int32
	done := make(chan struct{}, 1)
	s, err := New(logsvc.NewNopLogger(), "UTC", Job{
		Name: "tick",
		Spec: "* * * * * *",
		Run: func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				done <- struct{}{}
			}
			return nil
		},
	})
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background()) // no-op

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx)) // no-op

	n := atomic.LoadInt32(&calls)
	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&calls), "no run after Stop")
}

func TestScheduler_runSkipsWhenStopped(t *testing.T) {
	var ran bool
	s, err := New(logsvc.NewNopLogger(), "")
	require.NoError(t, err)
	s.run(Job{Name: "x", Run: func(context.Context) error { ran = true; return nil }})
	assert.False(t, ran)
}
