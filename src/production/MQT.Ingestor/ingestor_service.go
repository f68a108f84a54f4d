package mqtingestor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	codec "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Codec"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
	interfaces "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Repository/Interfaces"
)

// ErrDecodeFailure marks a payload that is not a UTF-8 JSON object.
var ErrDecodeFailure = errors.New("payload decode failure")

// TimestampLayout is used for readings stamped with the ingestion time.
const TimestampLayout = time.RFC3339

type Ingestor struct {
	repo           interfaces.ReadingRepository
	commitInterval int
	logger         *logger.Logger
	now            func() time.Time

	mu        sync.Mutex
	processed int
}

func New(repo interfaces.ReadingRepository, commitInterval int, log *logger.Logger) *Ingestor {
	if commitInterval < 1 {
		commitInterval = 1
	}
	return &Ingestor{
		repo:           repo,
		commitInterval: commitInterval,
		logger:         log.WithComponent("ingestor"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Run handles messages until the stream is closed or ctx is done. Closing
// the stream is the normal shutdown path: everything already queued is
// still handled.
func (i *Ingestor) Run(ctx context.Context, msgs <-chan broker.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				i.logger.Debug("Message stream closed")
				return
			}
			i.Handle(ctx, m.Topic, m.Payload)
		}
	}
}

// Handle decodes and stores one message. Nothing escapes: decode failures
// are recorded as a sentinel row, store failures and panics are logged and
// the message is dropped.
func (i *Ingestor) Handle(ctx context.Context, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeError).Inc()
			i.logger.Logger.Error().Str("topic", topic).Interface("panic", rec).Msg("Error processing message")
		}
	}()

	ingestedAt := i.now().Format(TimestampLayout)

	reading, err := i.decode(payload, ingestedAt)
	if err != nil {
		i.logger.Logger.Warn().Err(err).Str("topic", topic).Msg("Received non-JSON message")
		if err := i.persist(ctx, mqtmodels.NewSentinelReading(ingestedAt)); err != nil {
			metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeWriteFailed).Inc()
			return
		}
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeSentinel).Inc()
		return
	}

	if err := i.persist(ctx, reading); err != nil {
		metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeWriteFailed).Inc()
		i.logger.Logger.Error().Err(err).Str("topic", topic).Str("device", reading.Device).Msg("Message lost")
		i.count()
		return
	}
	metrics.MessagesProcessed.WithLabelValues(metrics.OutcomeStored).Inc()

	i.logger.Logger.Info().
		Str("topic", topic).
		Str("device", reading.Device).
		Str("status", reading.Status).
		Float64("value", reading.Value).
		Str("timestamp", reading.Timestamp).
		Msg("Received message")

	i.count()
}

// Pending returns how many messages have been counted since the last
// batch notice.
func (i *Ingestor) Pending() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.processed
}

// count advances the rolling counter for every decoded message, stored or
// lost. It only drives the batch notice; every insert has already committed
// on its own.
func (i *Ingestor) count() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.processed++
	if i.processed >= i.commitInterval {
		i.logger.Logger.Info().Int("count", i.processed).Msg("Committed messages to database")
		i.processed = 0
	}
}

// persist uses a session scoped to this one call.
func (i *Ingestor) persist(ctx context.Context, reading mqtmodels.DeviceReading) error {
	start := time.Now()
	defer func() { metrics.InsertDuration.Observe(time.Since(start).Seconds()) }()

	sess, err := i.repo.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := sess.Release(); err != nil {
			i.logger.ErrorWithError(err, "Error closing the connection")
		}
	}()

	_, err = sess.Insert(ctx, reading)
	return err
}

func (i *Ingestor) decode(payload []byte, ingestedAt string) (mqtmodels.DeviceReading, error) {
	if !utf8.Valid(payload) {
		return mqtmodels.DeviceReading{}, fmt.Errorf("%w: invalid UTF-8", ErrDecodeFailure)
	}
	obj, err := codec.DecodeObject(payload)
	if err != nil {
		return mqtmodels.DeviceReading{}, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	return mqtmodels.DeviceReading{
		Device:    textField(obj, "device", mqtmodels.DefaultDevice),
		Status:    textField(obj, "status", mqtmodels.DefaultStatus),
		Value:     i.valueField(obj),
		Timestamp: textField(obj, "timestamp", ingestedAt),
	}, nil
}

// textField treats a missing key and JSON null alike. Non-string values
// are kept in their JSON spelling.
func textField(obj map[string]any, key, def string) string {
	switch v := obj[key].(type) {
	case nil:
		return def
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		if b, err := codec.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprint(v)
	}
}

func (i *Ingestor) valueField(obj map[string]any) float64 {
	raw, ok := obj["value"]
	if !ok || raw == nil {
		return mqtmodels.DefaultValue
	}

	var value float64
	switch v := raw.(type) {
	case float64:
		value = v
	case bool:
		if v {
			value = 1
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			i.logger.Logger.Warn().Str("value", v).Msg("Non-numeric value, storing default")
			return mqtmodels.DefaultValue
		}
		value = parsed
	default:
		i.logger.Logger.Warn().Interface("value", v).Msg("Non-numeric value, storing default")
		return mqtmodels.DefaultValue
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		i.logger.Logger.Warn().Float64("value", value).Msg("Non-finite value, storing default")
		return mqtmodels.DefaultValue
	}
	return value
}
