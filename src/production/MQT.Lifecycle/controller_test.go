package lifecycle

import (
	"bytes"
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
)

type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) stopper(name string) Stopper {
	return StopFunc(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.order = append(r.order, name)
	})
}

func waitAsync(c *Controller, ctx context.Context, stoppers ...Stopper) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c.Wait(ctx, stoppers...)
		close(done)
	}()
	return done
}

func TestWait_SignalStopsInOrder(t *testing.T) {
	var buf bytes.Buffer
	sigCh := make(chan os.Signal, 1)
	c := newController(5*time.Millisecond, logger.NewWriterLogger(&buf), sigCh)
	rec := &recorder{}

	done := waitAsync(c, context.Background(), rec.stopper("broker"), rec.stopper("ingestor"))
	assert.True(t, c.Running())

	sigCh <- syscall.SIGTERM

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after SIGTERM")
	}

	assert.False(t, c.Running())
	assert.Equal(t, []string{"broker", "ingestor"}, rec.order)
	assert.Contains(t, buf.String(), "Received termination signal")
}

func TestWait_NotStoppedWhileRunning(t *testing.T) {
	c := newController(5*time.Millisecond, logger.NewNopLogger(), make(chan os.Signal, 1))
	rec := &recorder{}

	done := waitAsync(c, context.Background(), rec.stopper("broker"))

	select {
	case <-done:
		t.Fatal("Wait returned without a stop request")
	case <-time.After(50 * time.Millisecond):
	}

	rec.mu.Lock()
	assert.Empty(t, rec.order)
	rec.mu.Unlock()

	c.RequestStop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after RequestStop")
	}
}

func TestWait_ContextCancel(t *testing.T) {
	c := newController(time.Hour, logger.NewNopLogger(), make(chan os.Signal, 1))
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}

	done := waitAsync(c, ctx, rec.stopper("broker"))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait ignored context cancellation")
	}
	assert.False(t, c.Running())
	assert.Equal(t, []string{"broker"}, rec.order)
}

func TestNew_DefaultPollInterval(t *testing.T) {
	c := newController(0, logger.NewNopLogger(), make(chan os.Signal, 1))
	require.Equal(t, DefaultPollInterval, c.pollInterval)
	c.RequestStop()
	c.Wait(context.Background())
}
