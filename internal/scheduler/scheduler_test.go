package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextRun_FundingBoundaries(t *testing.T) {
	tests := []struct {
		now  string
		want string
	}{
		{"2024-03-01T00:00:00Z", "2024-03-01T08:00:00Z"},
		{"2024-03-01T07:59:59Z", "2024-03-01T08:00:00Z"},
		{"2024-03-01T08:00:01Z", "2024-03-01T16:00:00Z"},
		{"2024-03-01T23:10:00Z", "2024-03-02T00:00:00Z"},
	}
	for _, tt := range tests {
		now, err := time.Parse(time.RFC3339, tt.now)
		require.NoError(t, err)
		want, err := time.Parse(time.RFC3339, tt.want)
		require.NoError(t, err)
		assert.True(t, want.Equal(NextRun(now, 8*time.Hour)), "now=%s got=%s", tt.now, NextRun(now, 8*time.Hour))
	}
}

func TestScheduler_RunsTaskAndStops(t *testing.T) {
	var runs atomic.Int32
	task := TaskFunc{TaskName: "count", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}

	s := NewScheduler(20*time.Millisecond, task)
	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(time.Hour, TaskFunc{TaskName: "noop", Fn: func(context.Context) error { return nil }})
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler ignored cancellation")
	}
}
