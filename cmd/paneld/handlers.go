package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dougsko/radiopanel/pkg/engine"
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
)

const defaultEventLimit = 50

// handleGetState returns the published panel state
func (d *PanelDaemon) handleGetState(c *gin.Context) {
	c.JSON(http.StatusOK, d.coreEngine.State())
}

// handleSnapshot queues a snapshot for the host
func (d *PanelDaemon) handleSnapshot(c *gin.Context) {
	if err := d.coreEngine.RequestSnapshot(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrEngineStopped) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// handleGetEvents returns recent journal entries
func (d *PanelDaemon) handleGetEvents(c *gin.Context) {
	limit := defaultEventLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	events, err := d.coreEngine.Events(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"count":  len(events),
	})
}

// handleGetStations returns the station table
func (d *PanelDaemon) handleGetStations(c *gin.Context) {
	stations, fallback := d.coreEngine.Stations()
	c.JSON(http.StatusOK, gin.H{
		"stations": stations,
		"fallback": fallback,
	})
}

// handleGetConfig returns the running configuration
func (d *PanelDaemon) handleGetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, d.config)
}

// handleGetSerialDevices lists serial ports the host link could use
func (d *PanelDaemon) handleGetSerialDevices(c *gin.Context) {
	devices, err := hardware.SerialPorts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if devices == nil {
		devices = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"serial_devices": devices,
		"configured":     d.config.Serial.Device,
	})
}

// requireSim rejects simulator requests unless the sim backend is running.
func (d *PanelDaemon) requireSim(c *gin.Context) {
	sim := d.hardwareManager.Sim()
	if sim == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "simulator backend not active"})
		return
	}
	c.Set("sim", sim)
	c.Next()
}

func simBoard(c *gin.Context) *hardware.SimBoard {
	return c.MustGet("sim").(*hardware.SimBoard)
}

func (d *PanelDaemon) handleGetSim(c *gin.Context) {
	c.JSON(http.StatusOK, simBoard(c).State())
}

func (d *PanelDaemon) handleSetLadder(c *gin.Context) {
	var req struct {
		Voltage *float32 `json:"voltage" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sim := simBoard(c)
	if err := sim.SetLadderVoltage(*req.Voltage); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.Debugf("daemon", "Sim ladder voltage set to %.3f V", *req.Voltage)
	c.JSON(http.StatusOK, sim.State())
}

func (d *PanelDaemon) handleSetCapacitance(c *gin.Context) {
	var req struct {
		Picofarads *float32 `json:"picofarads" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sim := simBoard(c)
	if err := sim.SetCapacitance(*req.Picofarads); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	logging.Debugf("daemon", "Sim capacitance set to %.1f pF", *req.Picofarads)
	c.JSON(http.StatusOK, sim.State())
}

func (d *PanelDaemon) handleSetPlay(c *gin.Context) {
	var req struct {
		Playing *bool `json:"playing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sim := simBoard(c)
	sim.SetPlaying(*req.Playing)
	c.JSON(http.StatusOK, sim.State())
}

func (d *PanelDaemon) handleSetRequest(c *gin.Context) {
	var req struct {
		Level *bool `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sim := simBoard(c)
	sim.SetRequestLine(*req.Level)
	c.JSON(http.StatusOK, sim.State())
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleEventsWebSocket streams every transmitted message as JSON.
func (d *PanelDaemon) handleEventsWebSocket(c *gin.Context) {
	// Subscribe before the handshake completes so no event is missed.
	events := d.coreEngine.Subscribe()
	defer d.coreEngine.Unsubscribe(events)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warnf("daemon", "WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	logging.Debug("daemon", "Event WebSocket client connected")

	// The client sends nothing; reading detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				logging.Debugf("daemon", "WebSocket write error: %v", err)
				return
			}

		case <-closed:
			logging.Debug("daemon", "Event WebSocket client disconnected")
			return

		case <-d.ctx.Done():
			return
		}
	}
}
