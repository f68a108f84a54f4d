package container

import (
	"context"
	"fmt"
	"time"

	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	mqtingestor "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Ingestor"
	lifecycle "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Lifecycle"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	producer "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Producer"
	implementation "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Repository/Interfaces"
	"gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Startup/controllers"
	"gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Startup/health"
	"golang.org/x/sync/errgroup"
)

const serverShutdownTimeout = 5 * time.Second

// RecorderContainer manages dependencies for the MQTT recorder service
type RecorderContainer struct {
	config *config.RecorderConfig
	logger *logger.Logger
	repo   *implementation.SQLiteReadingRepository

	brokerOpts []broker.Option
	controller *lifecycle.Controller
}

// ProducerContainer manages dependencies for the producer service
type ProducerContainer struct {
	config   *config.ProducerConfig
	logger   *logger.Logger
	producer *producer.Producer

	controller *lifecycle.Controller
}

// NewRecorderContainer creates a new container for the MQTT recorder service
func NewRecorderContainer() (*RecorderContainer, error) {
	cfg, err := config.LoadRecorderConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load recorder configuration: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.RoutePahoLogs(log)

	return newRecorderContainer(cfg, log.WithService("mqt-recorder")), nil
}

func newRecorderContainer(cfg *config.RecorderConfig, log *logger.Logger) *RecorderContainer {
	return &RecorderContainer{
		config: cfg,
		logger: log,
		repo:   implementation.NewSQLiteReadingRepository(cfg.Store, log),
	}
}

// NewProducerContainer creates a new container for the producer service
func NewProducerContainer() (*ProducerContainer, error) {
	cfg, err := config.LoadProducerConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load producer configuration: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.RoutePahoLogs(log)
	log = log.WithService("mqt-producer")

	return &ProducerContainer{
		config:   cfg,
		logger:   log,
		producer: producer.New(*cfg, log),
	}, nil
}

// GetConfig returns the recorder configuration
func (c *RecorderContainer) GetConfig() *config.RecorderConfig {
	return c.config
}

// GetLogger returns the logger
func (c *RecorderContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetRepository returns the reading store
func (c *RecorderContainer) GetRepository() *implementation.SQLiteReadingRepository {
	return c.repo
}

// Maintenance returns the whole-store operations used by the operator
// commands.
func (c *RecorderContainer) Maintenance() interfaces.StoreMaintenance {
	return c.repo
}

// Run bootstraps the store, connects to the broker and records messages
// until a termination signal arrives or ctx ends. Bootstrap and the initial
// connect are fatal; everything after that is per-message.
func (c *RecorderContainer) Run(ctx context.Context) error {
	cfg := c.config

	if err := c.Maintenance().Bootstrap(ctx); err != nil {
		return err
	}

	session := broker.NewSession(cfg.MQTT, cfg.Reconnect, cfg.MessageBuffer, c.logger, c.brokerOpts...)
	if err := session.Connect(ctx); err != nil {
		session.Stop()
		return err
	}

	ing := mqtingestor.New(c.repo, cfg.CommitInterval, c.logger)
	ctrl := c.controller
	if ctrl == nil {
		ctrl = lifecycle.New(cfg.ShutdownPollInterval, c.logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The ingestor ends when the session closes the stream, so it keeps
	// draining after ctx is cancelled.
	g.Go(func() error {
		ing.Run(context.WithoutCancel(gctx), session.Messages())
		return nil
	})

	stoppers := []lifecycle.Stopper{session}
	if cfg.Server.Port != "" {
		router := health.NewRouter(session, c.repo, c.logger.WithComponent("health"))
		controllers.NewReadingsController(c.repo, c.logger).RegisterRoutes(router)
		srv := health.NewServer(cfg.Server, router, c.logger.WithComponent("health"))

		g.Go(func() error {
			if err := srv.Start(); err != nil {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		stoppers = append(stoppers, lifecycle.StopFunc(func() {
			sctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				c.logger.ErrorWithError(err, "Error shutting down health server")
			}
		}))
	}

	c.logger.Info("MQTT recorder running... press Ctrl+C to stop")
	ctrl.Wait(gctx, stoppers...)

	return g.Wait()
}

// Shutdown releases the store
func (c *RecorderContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down recorder container...")
	if err := c.repo.Close(); err != nil {
		c.logger.ErrorWithError(err, "Error closing database connection")
		return err
	}
	c.logger.Info("Recorder container shutdown complete")
	return nil
}

// GetConfig returns the producer configuration
func (c *ProducerContainer) GetConfig() *config.ProducerConfig {
	return c.config
}

// GetLogger returns the logger
func (c *ProducerContainer) GetLogger() *logger.Logger {
	return c.logger
}

// Run connects and publishes until a termination signal arrives or ctx ends.
func (c *ProducerContainer) Run(ctx context.Context) error {
	if err := c.producer.Connect(ctx); err != nil {
		return err
	}

	ctrl := c.controller
	if ctrl == nil {
		ctrl = lifecycle.New(c.config.ShutdownPollInterval, c.logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.producer.Run(gctx)
		return nil
	})

	c.logger.Info("Press Ctrl+C to stop")
	ctrl.Wait(gctx, c.producer)

	return g.Wait()
}
