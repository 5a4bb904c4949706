package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_WithRetry(t *testing.T) {
	t.Run("Should retry until success", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), 3, time.Millisecond, func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})
	t.Run("Should return the last error after exhausting retries", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
			attempts++
			return errors.New("always")
		})
		assert.EqualError(t, err, "always")
		assert.Equal(t, 3, attempts)
	})
	t.Run("Should stop on a permanent error", func(t *testing.T) {
		attempts := 0
		cause := errors.New("reverted")
		err := WithRetry(context.Background(), 5, time.Millisecond, func(ctx context.Context) error {
			attempts++
			return Permanent(cause)
		})
		assert.Same(t, cause, err)
		assert.Equal(t, 1, attempts)
	})
	t.Run("Should stop when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithRetry(ctx, 5, time.Hour, func(ctx context.Context) error {
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
