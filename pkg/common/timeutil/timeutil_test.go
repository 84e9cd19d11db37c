package timeutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Default().Sleep(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDefault_SleepZeroReturnsImmediately(t *testing.T) {
	require.NoError(t, Default().Sleep(context.Background(), 0))
}

func TestMock_RecordsSleeps(t *testing.T) {
	start := time.Date(2023, 6, 15, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	require.NoError(t, m.Sleep(context.Background(), time.Second))
	require.NoError(t, m.Sleep(context.Background(), 2*time.Second))
	m.Advance(time.Minute)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, m.Sleeps())
	assert.Equal(t, start.Add(time.Minute+3*time.Second), m.Now())
}
