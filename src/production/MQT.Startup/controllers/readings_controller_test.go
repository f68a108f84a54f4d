package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	codec "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Codec"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
	mqtmodels "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Models"
)

type stubReader struct {
	rows      []mqtmodels.DeviceReading
	err       error
	lastLimit int
}

func (s *stubReader) Readings(_ context.Context, limit int) ([]mqtmodels.DeviceReading, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *stubReader) Count(context.Context) (int64, error) {
	return int64(len(s.rows)), s.err
}

func setupRouter(r ReadingReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewReadingsController(r, logger.NewNopLogger()).RegisterRoutes(router)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestListReadings(t *testing.T) {
	stub := &stubReader{rows: []mqtmodels.DeviceReading{
		{ID: 2, Device: "sensor2", Status: "active", Value: 1.5, Timestamp: "t2"},
		{ID: 1, Device: "sensor1", Status: "active", Value: 23.5, Timestamp: "t1"},
	}}
	router := setupRouter(stub)

	w := get(router, "/readings?limit=1")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Readings []mqtmodels.DeviceReading `json:"readings"`
		Limit    int                       `json:"limit"`
	}
	require.NoError(t, codec.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Limit)
	require.Len(t, body.Readings, 1)
	assert.Equal(t, "sensor2", body.Readings[0].Device)
}

func TestListReadings_Limits(t *testing.T) {
	stub := &stubReader{}
	router := setupRouter(stub)

	assert.Equal(t, http.StatusOK, get(router, "/readings").Code)
	assert.Equal(t, defaultLimit, stub.lastLimit)

	assert.Equal(t, http.StatusOK, get(router, "/readings?limit=99999").Code)
	assert.Equal(t, maxLimit, stub.lastLimit)

	assert.Equal(t, http.StatusBadRequest, get(router, "/readings?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(router, "/readings?limit=abc").Code)
}

func TestReadings_StoreError(t *testing.T) {
	router := setupRouter(&stubReader{err: errors.New("database is locked")})

	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/readings").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/readings/count").Code)
}

func TestCountReadings(t *testing.T) {
	router := setupRouter(&stubReader{rows: make([]mqtmodels.DeviceReading, 3)})

	w := get(router, "/readings/count")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count":3}`, w.Body.String())
}
