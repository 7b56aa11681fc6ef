package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dougsko/radiopanel/pkg/config"
	"github.com/dougsko/radiopanel/pkg/engine"
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
	"github.com/dougsko/radiopanel/pkg/storage"
)

// PanelDaemon wires the engine, the journal and the web API together.
type PanelDaemon struct {
	config *config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	hardwareManager *hardware.HardwareManager
	journal         *storage.Journal
	coreEngine      *engine.CoreEngine
	router          *gin.Engine
	webServer       *http.Server
}

// NewPanelDaemon creates a new daemon instance
func NewPanelDaemon(cfg *config.Config) (*PanelDaemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	journal, err := storage.NewJournal(cfg.Storage.DatabasePath, cfg.Storage.MaxEvents)
	if err != nil {
		cancel()
		return nil, err
	}

	hw := hardware.NewHardwareManager(engine.HardwareConfig(cfg))

	d := &PanelDaemon{
		config:          cfg,
		ctx:             ctx,
		cancel:          cancel,
		hardwareManager: hw,
		journal:         journal,
		coreEngine:      engine.NewCoreEngine(cfg, hw, journal),
	}
	d.setupWebServer()

	return d, nil
}

// Start starts the engine and, when enabled, the web server
func (d *PanelDaemon) Start() error {
	logging.Info("daemon", "Starting paneld daemon...")

	if err := d.coreEngine.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start core engine: %w", err)
	}

	if !d.config.Web.Enabled {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		logging.Infof("daemon", "Starting web server on %s", d.webServer.Addr)
		if err := d.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("daemon", "Web server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the daemon gracefully
func (d *PanelDaemon) Stop() error {
	logging.Info("daemon", "Stopping daemon...")

	d.cancel()

	if d.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.webServer.Shutdown(ctx); err != nil {
			logging.Warnf("daemon", "Web server shutdown error: %v", err)
		}
	}

	if err := d.coreEngine.Stop(); err != nil {
		logging.Warnf("daemon", "Core engine shutdown error: %v", err)
	}

	d.wg.Wait()

	if err := d.journal.Close(); err != nil {
		logging.Warnf("daemon", "Journal close error: %v", err)
	}

	logging.Info("daemon", "Daemon stopped")
	return nil
}

// setupWebServer initializes the router and routes
func (d *PanelDaemon) setupWebServer() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	api := router.Group("/api/v1")
	{
		api.GET("/state", d.handleGetState)
		api.POST("/snapshot", d.handleSnapshot)
		api.GET("/events", d.handleGetEvents)
		api.GET("/stations", d.handleGetStations)
		api.GET("/config", d.handleGetConfig)
		api.GET("/serial/devices", d.handleGetSerialDevices)

		sim := api.Group("/sim", d.requireSim)
		{
			sim.GET("", d.handleGetSim)
			sim.PUT("/ladder", d.handleSetLadder)
			sim.PUT("/capacitance", d.handleSetCapacitance)
			sim.PUT("/play", d.handleSetPlay)
			sim.PUT("/request", d.handleSetRequest)
		}
	}

	router.GET("/ws/events", d.handleEventsWebSocket)

	d.router = router
	d.webServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", d.config.Web.BindAddress, d.config.Web.Port),
		Handler: router,
	}
}
