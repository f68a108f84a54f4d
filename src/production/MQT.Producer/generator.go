package producer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	codec "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Codec"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
)

// TimestampLayout matches the local ISO-8601 form the devices send.
const TimestampLayout = "2006-01-02T15:04:05.000000"

const (
	fixedDevice      = "test_device"
	fixedStatus      = "active"
	errorPause       = time.Second
	operationTimeout = 10 * time.Second
	quiesceMs        = 250
)

type sensorSpec struct {
	kind     string
	unit     string
	min, max float64
	decimals int
}

var sensorSpecs = []sensorSpec{
	{kind: "temperature", unit: "°C", min: 18, max: 30, decimals: 1},
	{kind: "humidity", unit: "%", min: 30, max: 70, decimals: 1},
	{kind: "pressure", unit: "hPa", min: 990, max: 1030, decimals: 1},
	{kind: "light", unit: "lux", min: 0, max: 1000, decimals: 0},
}

var locations = []string{"living_room", "kitchen", "bedroom", "garage", "outside"}

// Publisher is the part of mqtt.Client the producer drives.
type Publisher interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type Option func(*Producer)

// WithPublisher replaces the paho client.
func WithPublisher(p Publisher) Option {
	return func(pr *Producer) { pr.client = p }
}

// WithRandSource makes the generated values reproducible.
func WithRandSource(src rand.Source) Option {
	return func(pr *Producer) { pr.rnd = rand.New(src) }
}

// WithClock replaces time.Now for payload timestamps.
func WithClock(now func() time.Time) Option {
	return func(pr *Producer) { pr.now = now }
}

// Producer publishes synthetic telemetry at a fixed interval.
type Producer struct {
	cfg    config.ProducerConfig
	client Publisher
	rnd    *rand.Rand
	now    func() time.Time
	logger *logger.Logger

	errorPause time.Duration
	published  atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg config.ProducerConfig, log *logger.Logger, opts ...Option) *Producer {
	p := &Producer{
		cfg:        cfg,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		logger:     log.WithComponent("producer").WithField("mode", cfg.Mode),
		errorPause: errorPause,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect opens the publishing connection. Unlike the recorder there is no
// subscription and paho's own reconnect is left on.
func (p *Producer) Connect(ctx context.Context) error {
	if p.client == nil {
		opts, err := p.clientOptions()
		if err != nil {
			return fmt.Errorf("%w: %w", broker.ErrConnectionFailure, err)
		}
		p.client = mqtt.NewClient(opts)
	}

	if err := p.wait(ctx, p.client.Connect()); err != nil {
		p.logger.ErrorWithError(err, "Failed to connect to broker")
		p.logger.Warn("Is your MQTT broker running?")
		return fmt.Errorf("%w: %s: %w", broker.ErrConnectionFailure, p.cfg.MQTT.BrokerURL(), err)
	}
	p.logger.Logger.Info().Str("broker", p.cfg.MQTT.BrokerURL()).Msg("Connected to MQTT broker")
	return nil
}

func (p *Producer) clientOptions() (*mqtt.ClientOptions, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(p.cfg.MQTT.BrokerURL()).
		SetClientID(p.cfg.MQTT.ClientID).
		SetProtocolVersion(4).
		SetKeepAlive(p.cfg.MQTT.KeepAlive).
		SetPingTimeout(p.cfg.MQTT.PingTimeout).
		SetConnectTimeout(operationTimeout).
		SetAutoReconnect(true)

	if p.cfg.MQTT.BrokerUser != "" {
		opts.SetUsername(p.cfg.MQTT.BrokerUser)
		opts.SetPassword(p.cfg.MQTT.BrokerPass)
	}
	if p.cfg.MQTT.UseTLS {
		tlsCfg, err := broker.TLSConfig(p.cfg.MQTT.CACertPath)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Logger.Warn().Err(err).Msg("Unexpected disconnection from MQTT broker")
	})
	return opts, nil
}

// Run publishes until ctx ends or Stop is called. A failed publish is logged
// and retried after a short pause.
func (p *Producer) Run(ctx context.Context) {
	p.logger.Logger.Info().Dur("interval", p.cfg.PublishInterval).Msg("MQTT producer started")

	for {
		pause := p.cfg.PublishInterval
		if err := p.PublishOne(ctx); err != nil {
			p.logger.ErrorWithError(err, "Error publishing message")
			pause = p.errorPause
		}

		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-time.After(pause):
		}
	}
}

// PublishOne generates and publishes a single message.
func (p *Producer) PublishOne(ctx context.Context) error {
	topic, payload, err := p.Next()
	if err != nil {
		metrics.MessagesPublished.WithLabelValues("failure").Inc()
		return err
	}
	if p.client == nil {
		metrics.MessagesPublished.WithLabelValues("failure").Inc()
		return errors.New("producer is not connected")
	}

	if err := p.wait(ctx, p.client.Publish(topic, 0, false, payload)); err != nil {
		metrics.MessagesPublished.WithLabelValues("failure").Inc()
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	metrics.MessagesPublished.WithLabelValues("success").Inc()

	n := p.published.Add(1)
	p.logger.Logger.Info().Int64("count", n).Str("topic", topic).Msg("Published message")
	p.logger.Logger.Debug().RawJSON("payload", payload).Msg("Payload")
	return nil
}

// Next builds the next topic and payload for the configured mode.
func (p *Producer) Next() (string, []byte, error) {
	if p.cfg.Mode == config.ProducerModeSimulated {
		topic, msg := p.sensorReading()
		payload, err := codec.Marshal(msg)
		return topic, payload, err
	}

	payload, err := codec.Marshal(mqtmodels.DevicePayload{
		Device:    fixedDevice,
		Status:    fixedStatus,
		Value:     round(p.uniform(20, 30), 2),
		Timestamp: p.now().Format(TimestampLayout),
	})
	return p.cfg.MQTT.Topic, payload, err
}

func (p *Producer) sensorReading() (string, mqtmodels.SensorPayload) {
	spec := sensorSpecs[p.rnd.Intn(len(sensorSpecs))]
	location := locations[p.rnd.Intn(len(locations))]

	return fmt.Sprintf("sensors/%s/%s", location, spec.kind), mqtmodels.SensorPayload{
		SensorID:  fmt.Sprintf("%s_%s_1", location, spec.kind),
		Type:      spec.kind,
		Location:  location,
		Value:     round(p.uniform(spec.min, spec.max), spec.decimals),
		Unit:      spec.unit,
		Timestamp: p.now().Format(TimestampLayout),
	}
}

func (p *Producer) uniform(min, max float64) float64 {
	return min + p.rnd.Float64()*(max-min)
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

func (p *Producer) wait(ctx context.Context, tk mqtt.Token) error {
	timer := time.NewTimer(operationTimeout)
	defer timer.Stop()

	select {
	case <-tk.Done():
		return tk.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timed out after %s", operationTimeout)
	}
}

// Stop ends Run and disconnects. Safe to call more than once.
func (p *Producer) Stop() {
	p.stopOnce.Do(func() {
		close(p.stop)
		if p.client != nil {
			p.client.Disconnect(quiesceMs)
		}
		p.logger.Logger.Info().Int64("published", p.published.Load()).Msg("MQTT producer stopped")
	})
}
