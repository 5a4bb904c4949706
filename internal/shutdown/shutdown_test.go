package shutdown

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/Layr-Labs/unichain-indexer/internal/tests"
	"github.com/stretchr/testify/assert"
)

func Test_ListenForShutdown(t *testing.T) {
	l := tests.GetLogger()

	t.Run("Should run the handler and return once done closes", func(t *testing.T) {
		signals := make(chan os.Signal, 1)
		done := make(chan struct{})
		called := false
		signals <- syscall.SIGTERM

		start := time.Now()
		ListenForShutdown(context.Background(), signals, done, func() {
			called = true
			close(done)
		}, 5*time.Second, l)

		assert.True(t, called)
		assert.Less(t, time.Since(start), time.Second)
	})
	t.Run("Should give up after the timeout", func(t *testing.T) {
		signals := make(chan os.Signal, 1)
		signals <- syscall.SIGINT

		start := time.Now()
		ListenForShutdown(context.Background(), signals, make(chan struct{}), func() {}, 20*time.Millisecond, l)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})
	t.Run("Should return without a signal when the work finished", func(t *testing.T) {
		done := make(chan struct{})
		close(done)
		called := false
		ListenForShutdown(context.Background(), make(chan os.Signal, 1), done, func() { called = true }, time.Second, l)
		assert.False(t, called)
	})
}
