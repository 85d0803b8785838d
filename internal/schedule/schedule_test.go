package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := New("not a cron line", time.UTC, func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestNextIsInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	s, err := New("5 0 * * *", ny, func(context.Context) error { return nil })
	require.NoError(t, err)

	next := s.Next().In(ny)
	assert.Equal(t, 0, next.Hour())
	assert.Equal(t, 5, next.Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRunsUntilCancelled(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", time.UTC, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("logged, not fatal")
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	s.Stop()
	after := runs.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no runs after stop")
}
