package lifecycle

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
)

// DefaultPollInterval is how often Wait checks the running flag.
const DefaultPollInterval = time.Second

// Stopper is anything Wait shuts down once the process is asked to stop.
type Stopper interface {
	Stop()
}

// StopFunc adapts a plain function to Stopper.
type StopFunc func()

func (f StopFunc) Stop() { f() }

// Controller turns SIGINT/SIGTERM into a cooperative stop. The signal
// handler only clears the running flag; Wait notices it on its next poll
// and stops the registered components in order.
type Controller struct {
	running      atomic.Bool
	pollInterval time.Duration
	logger       *logger.Logger

	sigCh    chan os.Signal
	done     chan struct{}
	stopOnce sync.Once
}

// New registers the signal handlers and starts in the running state.
func New(pollInterval time.Duration, log *logger.Logger) *Controller {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return newController(pollInterval, log, sigCh)
}

func newController(pollInterval time.Duration, log *logger.Logger, sigCh chan os.Signal) *Controller {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	c := &Controller{
		pollInterval: pollInterval,
		logger:       log.WithComponent("lifecycle"),
		sigCh:        sigCh,
		done:         make(chan struct{}),
	}
	c.running.Store(true)
	go c.watch()
	return c
}

func (c *Controller) watch() {
	select {
	case sig := <-c.sigCh:
		c.logger.Logger.Info().Str("signal", sig.String()).Msg("Received termination signal. Shutting down...")
		c.running.Store(false)
	case <-c.done:
	}
}

// Running reports whether no stop has been requested yet.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// RequestStop clears the running flag as if a signal had arrived.
func (c *Controller) RequestStop() {
	c.running.Store(false)
}

// Wait blocks until a stop is requested or ctx ends, then calls Stop on each
// stopper in the order given. It returns once they have all returned.
func (c *Controller) Wait(ctx context.Context, stoppers ...Stopper) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for c.Running() {
		select {
		case <-ctx.Done():
			c.logger.Debug("Context cancelled, shutting down")
			c.running.Store(false)
		case <-ticker.C:
		}
	}

	c.release()
	for _, s := range stoppers {
		s.Stop()
	}
	c.logger.Info("Shutdown complete")
}

func (c *Controller) release() {
	c.stopOnce.Do(func() {
		signal.Stop(c.sigCh)
		close(c.done)
	})
}
