package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	broker "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Broker"
	codec "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Codec"
	logger "gitlab.com/maplesense1/mpt.mqtt_recorder/src/production/MQT.Logger"
)

type stubBroker struct{ state broker.State }

func (s stubBroker) State() broker.State { return s.state }
func (s stubBroker) IsConnected() bool   { return s.state == broker.StateConnected }

type stubStore struct{ ok bool }

func (s stubStore) HealthCheck(context.Context) bool { return s.ok }

type healthBody struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		state      broker.State
		storeOK    bool
		wantCode   int
		wantStatus string
		wantMQTT   string
		wantStore  string
	}{
		{"all up", broker.StateConnected, true, http.StatusOK, "healthy", "connected", "ok"},
		{"broker reconnecting", broker.StateReconnecting, true, http.StatusServiceUnavailable, "unhealthy", "reconnecting", "ok"},
		{"store down", broker.StateConnected, false, http.StatusServiceUnavailable, "unhealthy", "connected", "unavailable"},
		{"stopped", broker.StateStopped, false, http.StatusServiceUnavailable, "unhealthy", "stopped", "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(stubBroker{state: tt.state}, stubStore{ok: tt.storeOK}, logger.NewNopLogger())

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var body healthBody
			require.NoError(t, codec.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantMQTT, body.Services["mqtt"])
			assert.Equal(t, tt.wantStore, body.Services["store"])
			assert.NotEmpty(t, body.Timestamp)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(stubBroker{state: broker.StateConnected}, stubStore{ok: true}, logger.NewNopLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mqt_broker_session_state")
}

func TestReadOnly(t *testing.T) {
	router := NewRouter(stubBroker{state: broker.StateConnected}, stubStore{ok: true}, logger.NewNopLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
