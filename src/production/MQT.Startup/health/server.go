package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	config "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Config"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	metrics "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Metrics"
)

const checkTimeout = 5 * time.Second

// BrokerStatus is the read side of the broker session.
type BrokerStatus interface {
	State() broker.State
	IsConnected() bool
}

// StoreChecker checks that the store can be reached.
type StoreChecker interface {
	HealthCheck(ctx context.Context) bool
}

// NewRouter builds the read-only health router. It reports on the pipeline
// but never changes it.
func NewRouter(b BrokerStatus, store StoreChecker, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
		defer cancel()

		mqttStatus := b.State().String()
		storeStatus := "unavailable"
		if store.HealthCheck(ctx) {
			storeStatus = "ok"
		}

		status, code := "healthy", http.StatusOK
		if !b.IsConnected() || storeStatus != "ok" {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}

		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"services": gin.H{
				"mqtt":  mqttStatus,
				"store": storeStatus,
			},
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Health request")
	}
}

// Server serves the health router on the configured port.
type Server struct {
	srv    *http.Server
	logger *logger.Logger
}

func NewServer(cfg config.ServerConfig, router http.Handler, log *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: log,
	}
}

// Start blocks until the server stops. A normal Shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("Health server starting on " + s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
