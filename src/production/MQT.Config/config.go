package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"-"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	Topic       string        `json:"topic"`
	ClientID    string        `json:"client_id"`
	SharedGroup string        `json:"shared_group"`
	QoS         byte          `json:"qos"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// BrokerURL returns the MQTT broker URL
func (c MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

// SubscriptionTopic returns the topic filter to subscribe with, taking the
// shared subscription group into account.
func (c MQTTConfig) SubscriptionTopic() string {
	if c.SharedGroup == "" {
		return c.Topic
	}
	return fmt.Sprintf("$share/%s/%s", c.SharedGroup, c.Topic)
}

// ReconnectConfig controls what happens after an unexpected broker drop.
type ReconnectConfig struct {
	Attempts       int           `json:"attempts"`
	InitialBackoff time.Duration `json:"initial_backoff"`
	MaxBackoff     time.Duration `json:"max_backoff"`
}

// StoreConfig holds SQLite store configuration
type StoreConfig struct {
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"busy_timeout"`
}

// BackupPath returns the location Backup writes to and Restore reads from.
func (c StoreConfig) BackupPath() string {
	return c.Path + ".backup"
}

// ServerConfig holds the health server configuration. An empty Port
// disables the server.
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// RecorderConfig holds configuration for the MQTT recorder service
type RecorderConfig struct {
	MQTT                 MQTTConfig      `json:"mqtt"`
	Reconnect            ReconnectConfig `json:"reconnect"`
	Store                StoreConfig     `json:"store"`
	Server               ServerConfig    `json:"server"`
	Logging              LoggingConfig   `json:"logging"`
	CommitInterval       int             `json:"commit_interval"`
	MessageBuffer        int             `json:"message_buffer"`
	ShutdownPollInterval time.Duration   `json:"shutdown_poll_interval"`
}

// Producer modes
const (
	ProducerModeFixed     = "fixed"
	ProducerModeSimulated = "simulated"
)

// ProducerConfig holds configuration for the synthetic telemetry producer
type ProducerConfig struct {
	MQTT                 MQTTConfig    `json:"mqtt"`
	Logging              LoggingConfig `json:"logging"`
	Mode                 string        `json:"mode"`
	PublishInterval      time.Duration `json:"publish_interval"`
	ShutdownPollInterval time.Duration `json:"shutdown_poll_interval"`
}

const defaultTopic = "test/custom/topic"

// LoadRecorderConfig loads configuration for the recorder service
func LoadRecorderConfig() (*RecorderConfig, error) {
	loadDotEnv()

	env := &envReader{}
	config := &RecorderConfig{
		MQTT: loadMQTT(env, "mqt-recorder"),
		Reconnect: ReconnectConfig{
			Attempts:       env.getInt("RECONNECT_ATTEMPTS", 1),
			InitialBackoff: env.getDuration("RECONNECT_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     env.getDuration("RECONNECT_MAX_BACKOFF", 30*time.Second),
		},
		Store: StoreConfig{
			Path:        env.getEnv("STORE_PATH", "db/mqtt_data.db"),
			BusyTimeout: env.getDuration("STORE_BUSY_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			Port:         env.getEnv("HEALTH_PORT", ""),
			ReadTimeout:  env.getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: env.getDuration("WRITE_TIMEOUT", 10*time.Second),
		},
		Logging:              loadLogging(env),
		CommitInterval:       env.getInt("COMMIT_INTERVAL", 5),
		MessageBuffer:        env.getInt("MESSAGE_BUFFER", 1024),
		ShutdownPollInterval: env.getDuration("SHUTDOWN_POLL_INTERVAL", time.Second),
	}
	if env.err != nil {
		return nil, env.err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadProducerConfig loads configuration for the producer service
func LoadProducerConfig() (*ProducerConfig, error) {
	loadDotEnv()

	env := &envReader{}
	config := &ProducerConfig{
		MQTT:                 loadMQTT(env, "mqt-producer"),
		Logging:              loadLogging(env),
		Mode:                 strings.ToLower(env.getEnv("PRODUCER_MODE", ProducerModeFixed)),
		PublishInterval:      env.getDuration("PUBLISH_INTERVAL", 2*time.Second),
		ShutdownPollInterval: env.getDuration("SHUTDOWN_POLL_INTERVAL", time.Second),
	}
	if env.err != nil {
		return nil, env.err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the recorder configuration
func (c *RecorderConfig) Validate() error {
	if err := c.MQTT.validate(); err != nil {
		return err
	}
	if c.Store.Path == "" {
		return fmt.Errorf("STORE_PATH is required")
	}
	if c.CommitInterval < 1 {
		return fmt.Errorf("COMMIT_INTERVAL must be at least 1, got %d", c.CommitInterval)
	}
	if c.MessageBuffer < 0 {
		return fmt.Errorf("MESSAGE_BUFFER must not be negative, got %d", c.MessageBuffer)
	}
	if c.Reconnect.Attempts < 0 {
		return fmt.Errorf("RECONNECT_ATTEMPTS must not be negative, got %d", c.Reconnect.Attempts)
	}
	if c.ShutdownPollInterval <= 0 {
		return fmt.Errorf("SHUTDOWN_POLL_INTERVAL must be positive")
	}
	return nil
}

// Validate validates the producer configuration
func (c *ProducerConfig) Validate() error {
	if err := c.MQTT.validate(); err != nil {
		return err
	}
	if c.Mode != ProducerModeFixed && c.Mode != ProducerModeSimulated {
		return fmt.Errorf("PRODUCER_MODE must be %q or %q, got %q", ProducerModeFixed, ProducerModeSimulated, c.Mode)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PUBLISH_INTERVAL must be positive")
	}
	if c.ShutdownPollInterval <= 0 {
		return fmt.Errorf("SHUTDOWN_POLL_INTERVAL must be positive")
	}
	return nil
}

func (c MQTTConfig) validate() error {
	if c.BrokerHost == "" {
		return fmt.Errorf("BROKER_HOST is required")
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		return fmt.Errorf("BROKER_PORT out of range: %d", c.BrokerPort)
	}
	if c.Topic == "" {
		return fmt.Errorf("TOPIC is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.BrokerPass != "" && c.BrokerUser == "" {
		return fmt.Errorf("PASSWORD is set without USERNAME")
	}
	return nil
}

func loadDotEnv() {
	// A missing .env is normal; variables may be set directly.
	_ = godotenv.Load()
}

func loadMQTT(env *envReader, clientPrefix string) MQTTConfig {
	return MQTTConfig{
		BrokerHost:  env.getEnv("BROKER_HOST", "localhost"),
		BrokerPort:  env.getInt("BROKER_PORT", 1883),
		BrokerUser:  env.getEnv("USERNAME", ""),
		BrokerPass:  env.getEnv("PASSWORD", ""),
		UseTLS:      env.getBool("BROKER_TLS", false),
		CACertPath:  env.getEnv("BROKER_CA_FILE", ""),
		Topic:       env.getEnv("TOPIC", defaultTopic),
		ClientID:    env.getEnv("MQTT_CLIENT_ID", defaultClientID(clientPrefix)),
		SharedGroup: env.getEnv("MQTT_SHARED_GROUP", ""),
		QoS:         byte(env.getInt("MQTT_QOS", 0)),
		KeepAlive:   env.getDuration("MQTT_KEEP_ALIVE", 60*time.Second),
		PingTimeout: env.getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
	}
}

func loadLogging(env *envReader) LoggingConfig {
	return LoggingConfig{
		Level:        env.getEnv("LOG_LEVEL", "info"),
		Format:       env.getEnv("LOG_FORMAT", "text"),
		Output:       env.getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: env.getBool("LOG_ENABLE_CALLER", false),
	}
}

// defaultClientID keeps concurrently running instances from kicking each
// other off the broker.
func defaultClientID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}

// envReader reads typed environment variables and keeps the first parse
// error so a load reports it once instead of exiting mid-way.
type envReader struct {
	err error
}

func (r *envReader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *envReader) getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) getInt(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		r.fail(fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func (r *envReader) getBool(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	r.fail(fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (r *envReader) getDuration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		// Bare integers are read as seconds, e.g. PUBLISH_INTERVAL=2.
		if seconds, convErr := strconv.Atoi(value); convErr == nil {
			return time.Duration(seconds) * time.Second
		}
		r.fail(fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return duration
}
