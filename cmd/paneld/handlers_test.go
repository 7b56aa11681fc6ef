package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/radiopanel/pkg/config"
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/protocol"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(backend string) *config.Config {
	cfg := config.Default()
	cfg.Hardware.Backend = backend
	cfg.API.UnixSocket = ""
	cfg.Web.Enabled = false
	cfg.Panel.PollInterval = 5 * time.Millisecond
	cfg.Panel.Tuning.Timeout = time.Millisecond
	cfg.Panel.Tuning.ParasiticMicros = 0
	return cfg
}

func newTestDaemon(t *testing.T, backend string) *PanelDaemon {
	t.Helper()
	d, err := NewPanelDaemon(testConfig(backend))
	require.NoError(t, err)
	t.Cleanup(func() { d.Stop() })
	return d
}

func doRequest(d *PanelDaemon, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	d.router.ServeHTTP(w, req)
	return w
}

func TestGetState(t *testing.T) {
	d := newTestDaemon(t, config.BackendMock)

	w := doRequest(d, http.MethodGet, "/api/v1/state", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status protocol.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, -1, status.ButtonIndex)
	assert.Equal(t, -1, status.Frequency)
	assert.Equal(t, config.BackendMock, status.Backend)
	assert.False(t, status.Running)
}

func TestSnapshotEndpoint(t *testing.T) {
	d := newTestDaemon(t, config.BackendMock)

	w := doRequest(d, http.MethodPost, "/api/v1/snapshot", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "engine not started")

	require.NoError(t, d.hardwareManager.Initialize())
	d.hardwareManager.Mock().ADC.SetDefault(1, 4095)
	require.NoError(t, d.Start())

	w = doRequest(d, http.MethodPost, "/api/v1/snapshot", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	tx := d.hardwareManager.Transmitter().(*hardware.MockTransmitter)
	require.Eventually(t, func() bool {
		return len(tx.Messages()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, `{"buttonIndex":-1,"isPause":1,"frequency":105}`, tx.Messages()[0])

	require.Eventually(t, func() bool {
		w := doRequest(d, http.MethodGet, "/api/v1/events?limit=5", "")
		var body struct {
			Events []protocol.Event `json:"events"`
			Count  int              `json:"count"`
		}
		return w.Code == http.StatusOK &&
			json.Unmarshal(w.Body.Bytes(), &body) == nil &&
			body.Count == 1 && body.Events[0].Kind == protocol.KindState
	}, time.Second, 5*time.Millisecond)
}

func TestGetEventsBadLimit(t *testing.T) {
	d := newTestDaemon(t, config.BackendMock)

	w := doRequest(d, http.MethodGet, "/api/v1/events?limit=-3", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(d, http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[],"count":0}`, w.Body.String())
}

func TestGetStations(t *testing.T) {
	d := newTestDaemon(t, config.BackendMock)

	w := doRequest(d, http.MethodGet, "/api/v1/stations", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stations []protocol.StationInfo `json:"stations"`
		Fallback int                    `json:"fallback"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Stations, 18)
	assert.Equal(t, protocol.StationInfo{MaxChargeMicros: 690, Code: 88}, body.Stations[17])
	assert.Equal(t, 87, body.Fallback)
}

func TestSimEndpoints(t *testing.T) {
	t.Run("Not Available On Mock", func(t *testing.T) {
		d := newTestDaemon(t, config.BackendMock)
		require.NoError(t, d.hardwareManager.Initialize())

		w := doRequest(d, http.MethodPut, "/api/v1/sim/ladder", `{"voltage":2.0}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	d := newTestDaemon(t, config.BackendSim)
	require.NoError(t, d.hardwareManager.Initialize())

	tests := []struct {
		name   string
		path   string
		body   string
		code   int
		verify func(t *testing.T, state hardware.SimState)
	}{
		{"Ladder", "/api/v1/sim/ladder", `{"voltage":2.2}`, http.StatusOK, func(t *testing.T, s hardware.SimState) {
			assert.InDelta(t, 2.2, s.LadderVoltage, 1e-6)
		}},
		{"Ladder Out Of Range", "/api/v1/sim/ladder", `{"voltage":5}`, http.StatusBadRequest, nil},
		{"Ladder Missing Field", "/api/v1/sim/ladder", `{}`, http.StatusBadRequest, nil},
		{"Capacitance", "/api/v1/sim/capacitance", `{"picofarads":330}`, http.StatusOK, func(t *testing.T, s hardware.SimState) {
			assert.Equal(t, float32(330), s.CapacitancePF)
		}},
		{"Negative Capacitance", "/api/v1/sim/capacitance", `{"picofarads":-1}`, http.StatusBadRequest, nil},
		{"Play", "/api/v1/sim/play", `{"playing":true}`, http.StatusOK, func(t *testing.T, s hardware.SimState) {
			assert.True(t, s.Playing)
		}},
		{"Request", "/api/v1/sim/request", `{"level":false}`, http.StatusOK, func(t *testing.T, s hardware.SimState) {
			assert.False(t, s.RequestLevel)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(d, http.MethodPut, tt.path, tt.body)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.verify == nil {
				return
			}
			var state hardware.SimState
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
			tt.verify(t, state)
		})
	}

	w := doRequest(d, http.MethodGet, "/api/v1/sim", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"capacitance_pf":330`)
}

func TestEventsWebSocket(t *testing.T) {
	d := newTestDaemon(t, config.BackendMock)
	require.NoError(t, d.hardwareManager.Initialize())
	board := d.hardwareManager.Mock()
	board.ADC.SetDefault(1, 4095)
	require.NoError(t, d.Start())

	server := httptest.NewServer(d.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// 1.8 V sits on the farthest rung
	board.ADC.SetDefault(0, 2234)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event protocol.Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, protocol.KindButtonPressed, event.Kind)
	assert.Equal(t, 4, event.Value)
	assert.Equal(t, `{"command":"ButtonPressed","buttonIndex":4}`, event.Payload)
	assert.True(t, event.Delivered)
}
