package broker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Metrics"
)

var (
	// ErrConnectionFailure means the broker was unreachable or refused the connection.
	ErrConnectionFailure = errors.New("broker connection failure")
	// ErrUnexpectedDisconnect marks a drop the session did not ask for.
	ErrUnexpectedDisconnect = errors.New("unexpected disconnect from broker")
	// ErrSessionStopped is returned by Connect after Stop.
	ErrSessionStopped = errors.New("broker session stopped")
)

const (
	defaultConnectTimeout = 30 * time.Second
	disconnectQuiesceMs   = 500
)

// Message is one inbound publish as handed to the ingestor.
type Message struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

// Client is the part of mqtt.Client the session drives.
type Client interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// ClientFactory builds the transport client from the prepared options.
type ClientFactory func(opts *mqtt.ClientOptions) Client

func newPahoClient(opts *mqtt.ClientOptions) Client {
	return mqtt.NewClient(opts)
}

// Option customises a Session.
type Option func(*Session)

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(s *Session) { s.newClient = f }
}

// WithConnectTimeout bounds how long a connect or subscribe may take.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) { s.connectTimeout = d }
}

// Session owns the subscribe-side broker connection. Inbound messages are
// delivered on the channel returned by Messages, which is closed by Stop.
type Session struct {
	cfg            config.MQTTConfig
	reconnect      config.ReconnectConfig
	logger         *logger.Logger
	newClient      ClientFactory
	connectTimeout time.Duration

	client Client
	state  atomic.Int32

	// stopping is the explicit stop intent; a drop seen while it is set is
	// never treated as unexpected.
	stopping    atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	reconnectMu sync.Mutex
	stopOnce    sync.Once

	msgs      chan Message
	done      chan struct{}
	deliverMu sync.RWMutex
	closed    bool
}

// NewSession prepares a session; nothing touches the network until Connect.
func NewSession(cfg config.MQTTConfig, rc config.ReconnectConfig, buffer int, log *logger.Logger, opts ...Option) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:            cfg,
		reconnect:      rc,
		logger:         log.WithComponent("broker").WithField("broker", cfg.BrokerURL()),
		newClient:      newPahoClient,
		connectTimeout: defaultConnectTimeout,
		ctx:            ctx,
		cancel:         cancel,
		msgs:           make(chan Message, buffer),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setState(StateDisconnected)
	return s
}

// Messages returns the inbound message stream.
func (s *Session) Messages() <-chan Message {
	return s.msgs
}

// State reports the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsConnected reports whether the session is connected and the transport
// agrees.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected && s.client != nil && s.client.IsConnected()
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	metrics.BrokerState.Set(float64(st))
}

// Connect establishes the transport connection and subscribes to the
// configured topic. A failure leaves the session Disconnected and is not
// retried; the caller decides whether to abort.
func (s *Session) Connect(ctx context.Context) error {
	if s.stopping.Load() {
		return ErrSessionStopped
	}

	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	if s.client == nil {
		opts, err := s.clientOptions()
		if err != nil {
			s.setState(StateDisconnected)
			err = fmt.Errorf("%w: %w", ErrConnectionFailure, err)
			s.logger.ErrorWithError(err, "Failed to configure MQTT client")
			return err
		}
		s.client = s.newClient(opts)
	}

	s.setState(StateConnecting)
	if err := s.connectAndSubscribe(ctx); err != nil {
		s.setState(StateDisconnected)
		s.logger.ErrorWithError(err, "Failed to connect to MQTT broker")
		return err
	}

	s.setState(StateConnected)
	s.logger.Logger.Info().Str("topic", s.cfg.SubscriptionTopic()).Msg("Connected to MQTT broker and subscribed")
	return nil
}

func (s *Session) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.BrokerURL()).
		SetClientID(s.cfg.ClientID).
		SetProtocolVersion(4).
		SetOrderMatters(true).
		SetKeepAlive(s.cfg.KeepAlive).
		SetPingTimeout(s.cfg.PingTimeout).
		SetConnectTimeout(s.connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetCleanSession(true)

	if s.cfg.BrokerUser != "" {
		opts.SetUsername(s.cfg.BrokerUser)
		opts.SetPassword(s.cfg.BrokerPass)
	}

	if s.cfg.UseTLS {
		tlsCfg, err := TLSConfig(s.cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.handleConnectionLost(err)
	})

	return opts, nil
}

func (s *Session) connectAndSubscribe(ctx context.Context) error {
	tk := s.client.Connect()
	if err := s.wait(ctx, tk); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailure, s.cfg.BrokerURL(), err)
	}
	if ct, ok := tk.(*mqtt.ConnectToken); ok && ct.ReturnCode() != packets.Accepted {
		return fmt.Errorf("%w: %s: reason code %d (%s)", ErrConnectionFailure,
			s.cfg.BrokerURL(), ct.ReturnCode(), packets.ConnackReturnCodes[ct.ReturnCode()])
	}

	topic := s.cfg.SubscriptionTopic()
	if err := s.wait(ctx, s.client.Subscribe(topic, s.cfg.QoS, s.onMessage)); err != nil {
		s.client.Disconnect(0)
		return fmt.Errorf("%w: subscribe %s: %w", ErrConnectionFailure, topic, err)
	}
	return nil
}

func (s *Session) wait(ctx context.Context, tk mqtt.Token) error {
	timer := time.NewTimer(s.connectTimeout)
	defer timer.Stop()

	select {
	case <-tk.Done():
		return tk.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", s.connectTimeout)
	}
}

// handleConnectionLost runs on paho's connection-lost goroutine.
func (s *Session) handleConnectionLost(cause error) {
	if s.stopping.Load() {
		s.logger.Info("Disconnected from MQTT broker")
		return
	}

	err := fmt.Errorf("%w: %w", ErrUnexpectedDisconnect, cause)
	s.logger.Logger.Warn().Err(err).Msg("Unexpected disconnection from MQTT broker")
	s.reconnectAfterDrop()
}

// reconnectAfterDrop makes the configured number of attempts, one by
// default, and then gives up for good.
func (s *Session) reconnectAfterDrop() {
	s.reconnectMu.Lock()
	defer s.reconnectMu.Unlock()

	if s.stopping.Load() {
		return
	}

	attempts := s.reconnect.Attempts
	if attempts <= 0 {
		s.setState(StateDisconnected)
		s.logger.Error("Automatic reconnect disabled, session stays disconnected")
		return
	}

	s.setState(StateReconnecting)
	s.logger.Logger.Info().Int("attempts", attempts).Msg("Attempting to reconnect")

	b := backoff.NewExponentialBackOff()
	if s.reconnect.InitialBackoff > 0 {
		b.InitialInterval = s.reconnect.InitialBackoff
	}
	if s.reconnect.MaxBackoff > 0 {
		b.MaxInterval = s.reconnect.MaxBackoff
	}

	_, err := backoff.Retry(s.ctx, func() (struct{}, error) {
		if s.stopping.Load() {
			return struct{}{}, backoff.Permanent(ErrSessionStopped)
		}
		if err := s.connectAndSubscribe(s.ctx); err != nil {
			metrics.ReconnectAttempts.WithLabelValues("failure").Inc()
			return struct{}{}, err
		}
		metrics.ReconnectAttempts.WithLabelValues("success").Inc()
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Logger.Warn().Err(err).Dur("retry_in", next).Msg("Reconnect attempt failed")
		}),
	)

	if err != nil {
		s.setState(StateDisconnected)
		if s.stopping.Load() {
			return
		}
		s.logger.ErrorWithError(err, "Failed to reconnect to MQTT broker, giving up")
		return
	}

	s.setState(StateConnected)
	s.logger.Info("Reconnected to MQTT broker")
}

// onMessage runs on paho's router goroutine, one message at a time. While
// the stream is full it blocks, which stalls paho's inbound processing
// instead of spawning a goroutine per message.
func (s *Session) onMessage(_ mqtt.Client, m mqtt.Message) {
	payload := make([]byte, len(m.Payload()))
	copy(payload, m.Payload())

	s.deliver(Message{
		Topic:      m.Topic(),
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	})
}

func (s *Session) deliver(msg Message) {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()

	if s.closed {
		metrics.MessagesDropped.Inc()
		return
	}

	select {
	case s.msgs <- msg:
		metrics.MessagesReceived.Inc()
	case <-s.done:
		metrics.MessagesDropped.Inc()
		s.logger.Logger.Debug().Str("topic", msg.Topic).Msg("Dropping message, session is stopping")
	}
}

// Stop halts delivery and closes the transport connection. Messages already
// queued stay readable until the stream is drained. Safe to call more than
// once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.cancel()
		close(s.done)

		// Wait for any reconnect in flight so it cannot reopen the connection
		// behind us.
		s.reconnectMu.Lock()
		if s.client != nil && s.client.IsConnected() {
			s.client.Disconnect(disconnectQuiesceMs)
		}
		s.reconnectMu.Unlock()

		s.deliverMu.Lock()
		s.closed = true
		close(s.msgs)
		s.deliverMu.Unlock()

		s.setState(StateStopped)
		s.logger.Info("MQTT session stopped")
	})
}

// TLSConfig builds the client TLS configuration. When caFile is set it
// becomes the only trusted root.
func TLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	ca, err := os.ReadFile(caFile)
	if err != nil {
		return nil, err
	}
	cp := x509.NewCertPool()
	if !cp.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("bad CA file %s", caFile)
	}
	cfg.RootCAs = cp
	return cfg, nil
}
