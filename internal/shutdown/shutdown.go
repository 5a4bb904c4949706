package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)

	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives or ctx is done. On a signal it runs
// signalHandler and then waits up to timeToWait for done to close.
func ListenForShutdown(
	ctx context.Context,
	signalChan chan os.Signal,
	done <-chan struct{},
	signalHandler func(),
	timeToWait time.Duration,
	l *zap.Logger,
) {
	select {
	case <-ctx.Done():
		return
	case <-done:
		return
	case sig := <-signalChan:
		l.Sugar().Infof("caught signal %v", sig)
		signalHandler()
	}

	l.Sugar().Infof("Waiting up to %v seconds to exit...", timeToWait.Seconds())
	select {
	case <-done:
		l.Sugar().Infof("Exiting")
	case <-time.After(timeToWait):
		l.Sugar().Warnw("Shutdown timed out", zap.Duration("waited", timeToWait))
	}
}
