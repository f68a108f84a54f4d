package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	lifecycle "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Lifecycle"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
	implementation "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Repository/Implementation"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type inbound struct {
	topic   string
	payload []byte
}

func (m inbound) Duplicate() bool   { return false }
func (m inbound) Qos() byte         { return 0 }
func (m inbound) Retained() bool    { return false }
func (m inbound) Topic() string     { return m.topic }
func (m inbound) MessageID() uint16 { return 0 }
func (m inbound) Payload() []byte   { return m.payload }
func (m inbound) Ack()              {}

type stubClient struct {
	mu         sync.Mutex
	connectErr error
	connected  bool
	handler    mqtt.MessageHandler
}

func (s *stubClient) Connect() mqtt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = s.connectErr == nil
	return doneToken{err: s.connectErr}
}

func (s *stubClient) Disconnect(uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *stubClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubClient) Subscribe(_ string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = cb
	return doneToken{}
}

func (s *stubClient) send(payload string) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(nil, inbound{topic: "test/custom/topic", payload: []byte(payload)})
	return true
}

func testRecorderConfig(t *testing.T) *config.RecorderConfig {
	return &config.RecorderConfig{
		MQTT: config.MQTTConfig{
			BrokerHost: "localhost",
			BrokerPort: 1883,
			Topic:      "test/custom/topic",
			ClientID:   "recorder-test",
		},
		Reconnect:            config.ReconnectConfig{Attempts: 1},
		Store:                config.StoreConfig{Path: filepath.Join(t.TempDir(), "db", "mqtt_data.db"), BusyTimeout: 5 * time.Second},
		CommitInterval:       5,
		MessageBuffer:        16,
		ShutdownPollInterval: 5 * time.Millisecond,
	}
}

func newTestContainer(t *testing.T, client *stubClient) *RecorderContainer {
	t.Helper()
	c := newRecorderContainer(testRecorderConfig(t), logger.NewNopLogger())
	c.brokerOpts = []broker.Option{
		broker.WithConnectTimeout(time.Second),
		broker.WithClientFactory(func(*mqtt.ClientOptions) broker.Client { return client }),
	}
	c.controller = lifecycle.New(5*time.Millisecond, logger.NewNopLogger())
	t.Cleanup(func() { c.Shutdown(context.Background()) })
	return c
}

func TestRecorderRun_StoresUntilShutdown(t *testing.T) {
	client := &stubClient{}
	c := newTestContainer(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return client.send(`{"device":"sensor1","status":"active","value":23.5}`) },
		2*time.Second, 5*time.Millisecond)
	client.send(`not valid json`)

	require.Eventually(t, func() bool {
		n, err := c.GetRepository().Count(context.Background())
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)

	c.controller.RequestStop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after stop request")
	}

	rows, err := c.GetRepository().Readings(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "raw", rows[0].Device)
	assert.Equal(t, "sensor1", rows[1].Device)
	assert.False(t, client.IsConnected())
}

func TestRecorderRun_ConnectFailureAborts(t *testing.T) {
	client := &stubClient{connectErr: errors.New("connection refused")}
	c := newTestContainer(t, client)

	err := c.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, broker.ErrConnectionFailure)
	assert.FileExists(t, c.GetConfig().Store.Path, "store is bootstrapped before connecting")
}

func TestRecorderRun_BootstrapFailureAborts(t *testing.T) {
	client := &stubClient{}
	c := newTestContainer(t, client)

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	c.config.Store.Path = filepath.Join(blocker, "data.db")
	c.repo = implementation.NewSQLiteReadingRepository(c.config.Store, logger.NewNopLogger())

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, implementation.ErrStorageUnavailable)
	assert.False(t, client.IsConnected(), "no broker connection without a store")
}

func TestMaintenance_BackupRestoreHealth(t *testing.T) {
	c := newTestContainer(t, &stubClient{})
	ctx := context.Background()
	store := c.Maintenance()

	assert.False(t, store.HealthCheck(ctx), "store not bootstrapped yet")
	require.NoError(t, store.Bootstrap(ctx))
	assert.True(t, store.HealthCheck(ctx))

	require.NoError(t, store.Backup())
	assert.FileExists(t, c.GetConfig().Store.BackupPath())

	sess, err := c.GetRepository().Acquire(ctx)
	require.NoError(t, err)
	_, err = sess.Insert(ctx, mqtmodels.DeviceReading{Device: "after-backup", Status: "s", Timestamp: "t"})
	require.NoError(t, err)
	require.NoError(t, sess.Release())

	require.NoError(t, store.Restore())
	n, err := c.GetRepository().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
