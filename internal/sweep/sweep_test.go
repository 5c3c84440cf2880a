package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("@every 1h"))
	assert.NoError(t, Validate("*/5 * * * *"))
	assert.Error(t, Validate("every hour"))
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New("nope", func(context.Context) (int, error) { return 0, nil }, nil)
	assert.Error(t, err)
}

func TestRunReportsJobResult(t *testing.T) {
	s, err := New("", func(context.Context) (int, error) { return 3, nil }, nil)
	require.NoError(t, err)
	n, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	boom := errors.New("db gone")
	s, err = New("", func(context.Context) (int, error) { return 0, boom }, nil)
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSchedulerFires(t *testing.T) {
	var runs atomic.Int32
	s, err := New("@every 1s", func(context.Context) (int, error) {
		runs.Add(1)
		return 0, nil
	}, nil)
	require.NoError(t, err)
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	}()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
