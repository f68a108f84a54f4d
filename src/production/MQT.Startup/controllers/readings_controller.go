package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

// ReadingReader is the read-only side of the reading store.
type ReadingReader interface {
	Readings(ctx context.Context, limit int) ([]mqtmodels.DeviceReading, error)
	Count(ctx context.Context) (int64, error)
}

// ReadingsController exposes recent readings for inspection.
type ReadingsController struct {
	repo   ReadingReader
	logger *logger.Logger
}

func NewReadingsController(repo ReadingReader, log *logger.Logger) *ReadingsController {
	return &ReadingsController{repo: repo, logger: log}
}

// RegisterRoutes registers the readings routes with Gin
func (c *ReadingsController) RegisterRoutes(router gin.IRoutes) {
	router.GET("/readings", c.ListReadings)
	router.GET("/readings/count", c.CountReadings)
}

func (c *ReadingsController) ListReadings(ctx *gin.Context) {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	readings, err := c.repo.Readings(ctx.Request.Context(), limit)
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to list readings")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if readings == nil {
		readings = []mqtmodels.DeviceReading{}
	}

	ctx.JSON(http.StatusOK, gin.H{
		"readings": readings,
		"limit":    limit,
	})
}

func (c *ReadingsController) CountReadings(ctx *gin.Context) {
	n, err := c.repo.Count(ctx.Request.Context())
	if err != nil {
		c.logger.ErrorWithError(err, "Failed to count readings")
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"count": n})
}
