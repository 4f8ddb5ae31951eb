package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Compulink-Dev/fiscal-api/internal/model"
)

func TestComputeRetryBackoff(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{50, time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, computeRetryBackoff(tc.retryCount), "retryCount=%d", tc.retryCount)
	}
}

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, func(attempt int) error {
		attempts++
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryReturnsLastError(t *testing.T) {
	boom := errors.New("still down")
	err := withRetry(context.Background(), 2, func(int) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := withRetry(ctx, 5, func(int) error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetryDescription(t *testing.T) {
	msg := "connection refused"
	rec := &model.Receipt{LastError: &msg}
	assert.Contains(t, retryDescription(rec), "connection refused")
	assert.Contains(t, retryDescription(&model.Receipt{}), "unknown")
}
