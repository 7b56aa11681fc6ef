package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dougsko/radiopanel/pkg/config"
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
	"github.com/dougsko/radiopanel/pkg/panel"
	"github.com/dougsko/radiopanel/pkg/protocol"
	"github.com/dougsko/radiopanel/pkg/storage"
)

// Version is reported in the daemon status.
const Version = "0.1.0-dev"

const defaultEventLimit = 20

var (
	// ErrEngineStopped is returned for requests made while the poll loop is not running.
	ErrEngineStopped = errors.New("engine not running")
	// ErrAlreadyRunning is returned by Start on a running engine.
	ErrAlreadyRunning = errors.New("engine already running")
)

// HardwareConfig derives the hardware manager settings from the daemon config.
func HardwareConfig(cfg *config.Config) hardware.HardwareConfig {
	return hardware.HardwareConfig{
		Backend:           cfg.Hardware.Backend,
		Vref:              cfg.Hardware.Vref,
		ADCBits:           cfg.Hardware.ADCBits,
		I2CBus:            cfg.Hardware.I2CBus,
		ADCAddress:        cfg.Hardware.ADCAddress,
		PinPrefix:         cfg.Hardware.PinPrefix,
		CapacitorSensePin: cfg.Hardware.CapacitorSensePin,
		LadderChannel:     cfg.Panel.Ladder.Channel,
		CapacitorChannel:  cfg.Panel.Tuning.Channel,
		ChargePin:         cfg.Panel.Tuning.ChargePin,
		DischargePin:      cfg.Panel.Tuning.DischargePin,
		AttentionPin:      cfg.Panel.AttentionPin,
		RequestPin:        cfg.Panel.RequestPin,
		PlayPin:           cfg.Panel.PlayPin,
		SerialDevice:      cfg.Serial.Device,
		SerialBaud:        cfg.Serial.BaudRate,
		Sim:               hardware.SimConfig(cfg.Hardware.Sim),
	}
}

// CoreEngine runs the panel poll loop and the control socket. The poll
// goroutine is the only user of the hardware; everything else reads the
// published status or queues snapshot requests.
type CoreEngine struct {
	config     *config.Config
	socketPath string
	listener   net.Listener
	running    bool
	mutex      sync.RWMutex
	startTime  time.Time

	hardwareManager *hardware.HardwareManager
	journal         *storage.Journal

	// Owned by the poll goroutine
	ladder       *panel.LadderDecoder
	play         *panel.PlayButton
	tuning       *panel.TuningState
	stations     *panel.StationTable
	reporter     *panel.Reporter
	requestLevel bool

	snapshotRequests chan struct{}

	// Published view, guarded by mutex
	snapshot   protocol.Snapshot
	playing    bool
	counters   protocol.Counters
	lastUpdate time.Time

	subMutex    sync.Mutex
	subscribers map[chan protocol.Event]struct{}

	connMutex sync.Mutex
	conns     map[net.Conn]struct{}
	closing   bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCoreEngine creates an engine over an already configured hardware
// manager. The journal may be nil.
func NewCoreEngine(cfg *config.Config, hw *hardware.HardwareManager, journal *storage.Journal) *CoreEngine {
	return &CoreEngine{
		config:           cfg,
		socketPath:       cfg.API.UnixSocket,
		hardwareManager:  hw,
		journal:          journal,
		snapshotRequests: make(chan struct{}, 8),
		subscribers:      make(map[chan protocol.Event]struct{}),
		conns:            make(map[net.Conn]struct{}),
		snapshot: protocol.Snapshot{
			ButtonIndex: panel.NoButton,
			IsPause:     true,
			Frequency:   panel.FrequencyUnset,
		},
	}
}

// Start initializes the hardware, takes the initial readings and starts
// the poll loop and control socket.
func (e *CoreEngine) Start(ctx context.Context) error {
	if e.isRunning() {
		return ErrAlreadyRunning
	}

	if !e.hardwareManager.IsInitialized() {
		if err := e.hardwareManager.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize hardware: %w", err)
		}
	}

	if err := e.setup(); err != nil {
		e.hardwareManager.Close()
		return err
	}

	if e.socketPath != "" {
		if err := e.listen(); err != nil {
			e.hardwareManager.Close()
			return err
		}
	}

	e.connMutex.Lock()
	e.closing = false
	e.connMutex.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.mutex.Lock()
	e.running = true
	e.startTime = time.Now()
	e.cancel = cancel
	e.mutex.Unlock()

	e.wg.Add(1)
	go e.pollLoop(ctx)

	if e.listener != nil {
		e.wg.Add(1)
		go e.acceptConnections()
	}

	logging.Infof("engine", "Panel engine started (poll interval %v)", e.config.Panel.PollInterval)
	return nil
}

// Stop ends the poll loop after the current cycle, closes the control
// socket and releases the hardware.
func (e *CoreEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mutex.Unlock()

	cancel()
	if e.listener != nil {
		e.listener.Close()
	}
	e.closeConnections()
	e.wg.Wait()

	if e.socketPath != "" {
		os.Remove(e.socketPath)
	}

	e.subMutex.Lock()
	for ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, ch)
	}
	e.subMutex.Unlock()

	logging.Infof("engine", "Panel engine stopped")
	return e.hardwareManager.Close()
}

// setup builds the decoders. Each constructor takes an initial reading;
// none of those readings is transmitted.
func (e *CoreEngine) setup() error {
	hw := e.hardwareManager
	hwCfg := hw.GetConfig()
	pins := hw.Pins()
	sampler := hw.Sampler()

	ladder, err := panel.NewLadderDecoder(sampler, panel.LadderConfig{
		Channel:   e.config.Panel.Ladder.Channel,
		Floor:     e.config.Panel.Ladder.Floor,
		Gates:     e.config.Panel.Ladder.Gates,
		Threshold: e.config.Panel.Ladder.Threshold,
		Vref:      hwCfg.Vref,
		Bits:      hwCfg.ADCBits,
	})
	if err != nil {
		return fmt.Errorf("failed to create ladder decoder: %w", err)
	}

	stations, err := panel.NewStationTable(e.config.Stations.Thresholds, e.config.Stations.Codes, e.config.Stations.Fallback)
	if err != nil {
		return fmt.Errorf("failed to create station table: %w", err)
	}

	tc := e.config.Panel.Tuning
	meter, err := panel.NewCapacitanceMeter(sampler, pins, hw.Clock(), hw.Sleeper(), panel.MeterConfig{
		Channel:         tc.Channel,
		ChargePin:       tc.ChargePin,
		DischargePin:    tc.DischargePin,
		TriggerLevel:    tc.TriggerLevel,
		ParasiticMicros: tc.ParasiticMicros,
		Timeout:         tc.Timeout,
		Settle:          tc.Settle,
	})
	if err != nil {
		return fmt.Errorf("failed to create capacitance meter: %w", err)
	}
	if err := meter.Reset(); err != nil {
		return fmt.Errorf("failed to reset RC network: %w", err)
	}

	e.ladder = ladder
	e.stations = stations
	e.play = panel.NewPlayButton(pins, e.config.Panel.PlayPin)
	e.tuning = panel.NewTuningState(meter, stations)
	e.reporter = panel.NewReporter(hw.Transmitter(), pins, hw.Sleeper(), panel.ReporterConfig{
		AttentionPin:   e.config.Panel.AttentionPin,
		Settle:         e.config.Protocol.Settle,
		TaggedSnapshot: e.config.Protocol.TaggedSnapshot,
	})
	// The request line idles high; a line already low at boot counts as a request.
	e.requestLevel = true

	e.publish()
	logging.Infof("engine", "Initial state: button %d, playing %t, frequency %d",
		e.ladder.CurrentIndex(), e.play.IsPlaying(), e.tuning.CurrentFrequency())
	return nil
}

func (e *CoreEngine) pollLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Panel.PollInterval)
	defer ticker.Stop()

	for {
		e.runCycle()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runCycle samples every input once and reports what changed.
func (e *CoreEngine) runCycle() {
	if e.ladder.UpdateState() {
		index := e.ladder.CurrentIndex()
		e.transmit(protocol.KindButtonPressed, index, func() ([]byte, error) {
			return e.reporter.ButtonPressed(index)
		})
	}

	if e.play.UpdateState() {
		playing := e.play.IsPlaying()
		value := 0
		if !playing {
			value = 1
		}
		e.transmit(protocol.KindPlayPause, value, func() ([]byte, error) {
			return e.reporter.PlayPause(playing)
		})
	}

	if e.tuning.UpdateState() {
		frequency := e.tuning.CurrentFrequency()
		e.transmit(protocol.KindNewFrequency, frequency, func() ([]byte, error) {
			return e.reporter.NewFrequency(frequency)
		})
	}

	requested := e.pollRequestLine()
	for pending := true; pending; {
		select {
		case <-e.snapshotRequests:
			requested = true
		default:
			pending = false
		}
	}
	if requested {
		snapshot := e.currentSnapshot()
		e.transmit(protocol.KindState, snapshot.Frequency, func() ([]byte, error) {
			return e.reporter.Snapshot(snapshot)
		})
	}

	e.mutex.Lock()
	e.counters.Cycles++
	e.mutex.Unlock()
	e.publish()
}

// pollRequestLine reports a high to low transition of the request line.
func (e *CoreEngine) pollRequestLine() bool {
	level, err := e.hardwareManager.Pins().GetPin(e.config.Panel.RequestPin)
	if err != nil {
		logging.Warnf("engine", "Failed to read request pin %d: %v", e.config.Panel.RequestPin, err)
		return false
	}
	edge := e.requestLevel && !level
	e.requestLevel = level
	if edge {
		e.mutex.Lock()
		e.counters.SnapshotRequests++
		e.mutex.Unlock()
		logging.Debug("engine", "Snapshot requested by host")
	}
	return edge
}

func (e *CoreEngine) currentSnapshot() protocol.Snapshot {
	return protocol.Snapshot{
		ButtonIndex: e.ladder.CurrentIndex(),
		IsPause:     protocol.Flag(!e.play.IsPlaying()),
		Frequency:   e.tuning.CurrentFrequency(),
	}
}

// transmit sends one message, journals it and notifies subscribers.
// Transport errors are logged and not retried.
func (e *CoreEngine) transmit(kind string, value int, send func() ([]byte, error)) {
	msg, err := send()
	event := protocol.Event{
		Timestamp: time.Now(),
		Kind:      kind,
		Value:     value,
		Payload:   string(msg),
		Delivered: err == nil,
	}

	entry := logging.WithFields(logging.Fields{"kind": kind, "value": value})
	e.mutex.Lock()
	if err != nil {
		e.counters.TransmitErrors++
		event.Error = err.Error()
	} else {
		e.counters.Transmitted++
	}
	e.mutex.Unlock()

	if err != nil {
		entry.Warn("engine", "Transmit failed", logging.Fields{"error": err.Error()})
	} else {
		entry.Info("engine", "Transmitted "+event.Payload)
	}

	if e.journal != nil {
		stored, jerr := e.journal.Record(event)
		if jerr != nil {
			logging.Errorf("engine", "Failed to journal %s: %v", kind, jerr)
		} else {
			event = stored
		}
	}

	e.broadcast(event)
}

func (e *CoreEngine) publish() {
	snapshot := e.currentSnapshot()
	playing := e.play.IsPlaying()
	failures := e.tuning.Failures()

	e.mutex.Lock()
	e.snapshot = snapshot
	e.playing = playing
	e.counters.FailedMeasurements = failures
	e.lastUpdate = time.Now()
	e.mutex.Unlock()
}

// State returns the last published panel state and counters.
func (e *CoreEngine) State() protocol.Status {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	status := protocol.Status{
		Snapshot:   e.snapshot,
		Playing:    e.playing,
		Counters:   e.counters,
		Backend:    e.hardwareManager.GetConfig().Backend,
		Running:    e.running,
		LastUpdate: e.lastUpdate,
		StartTime:  e.startTime,
		Version:    Version,
	}
	if e.running {
		status.Uptime = time.Since(e.startTime).Round(time.Second).String()
	}
	return status
}

// RequestSnapshot asks the poll loop to send a snapshot on its next
// cycle. Requests made before that cycle are merged.
func (e *CoreEngine) RequestSnapshot() error {
	if !e.isRunning() {
		return ErrEngineStopped
	}
	e.mutex.Lock()
	e.counters.SnapshotRequests++
	e.mutex.Unlock()

	select {
	case e.snapshotRequests <- struct{}{}:
	default:
	}
	return nil
}

// Events returns the most recent journal entries, newest first.
func (e *CoreEngine) Events(limit int) ([]protocol.Event, error) {
	if e.journal == nil {
		return []protocol.Event{}, nil
	}
	return e.journal.Recent(limit)
}

// Stations returns the configured charge time to station table.
func (e *CoreEngine) Stations() ([]protocol.StationInfo, int) {
	cfg := e.config.Stations
	stations := make([]protocol.StationInfo, len(cfg.Thresholds))
	for i := range cfg.Thresholds {
		stations[i] = protocol.StationInfo{MaxChargeMicros: cfg.Thresholds[i], Code: cfg.Codes[i]}
	}
	return stations, cfg.Fallback
}

// Hardware returns the hardware manager, for backend specific controls.
func (e *CoreEngine) Hardware() *hardware.HardwareManager {
	return e.hardwareManager
}

// Subscribe returns a channel receiving every transmitted event. Slow
// subscribers miss events rather than stall the poll loop.
func (e *CoreEngine) Subscribe() chan protocol.Event {
	ch := make(chan protocol.Event, 32)
	e.subMutex.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMutex.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription.
func (e *CoreEngine) Unsubscribe(ch chan protocol.Event) {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()
	if _, ok := e.subscribers[ch]; ok {
		delete(e.subscribers, ch)
		close(ch)
	}
}

func (e *CoreEngine) broadcast(event protocol.Event) {
	e.subMutex.Lock()
	defer e.subMutex.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- event:
		default:
			logging.Debugf("engine", "Dropping %s event for slow subscriber", event.Kind)
		}
	}
}

func (e *CoreEngine) isRunning() bool {
	e.mutex.RLock()
	defer e.mutex.RUnlock()
	return e.running
}

func (e *CoreEngine) listen() error {
	// Remove a stale socket from an earlier run
	os.Remove(e.socketPath)

	listener, err := net.Listen("unix", e.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create Unix socket: %w", err)
	}
	if err := os.Chmod(e.socketPath, 0660); err != nil {
		logging.Warnf("engine", "Failed to set socket permissions: %v", err)
	}
	e.listener = listener
	logging.Infof("engine", "Control socket listening on %s", e.socketPath)
	return nil
}

func (e *CoreEngine) acceptConnections() {
	defer e.wg.Done()
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			if !e.isRunning() {
				return
			}
			logging.Warnf("engine", "Socket accept error: %v", err)
			continue
		}
		if !e.trackConnection(conn) {
			conn.Close()
			return
		}
		go e.handleConnection(conn)
	}
}

// trackConnection registers conn so Stop can close it and wait for its
// handler. It fails once Stop has begun.
func (e *CoreEngine) trackConnection(conn net.Conn) bool {
	e.connMutex.Lock()
	defer e.connMutex.Unlock()
	if e.closing {
		return false
	}
	e.conns[conn] = struct{}{}
	e.wg.Add(1)
	return true
}

func (e *CoreEngine) closeConnections() {
	e.connMutex.Lock()
	defer e.connMutex.Unlock()
	e.closing = true
	for conn := range e.conns {
		conn.Close()
	}
}

func (e *CoreEngine) handleConnection(conn net.Conn) {
	defer e.wg.Done()
	defer func() {
		e.connMutex.Lock()
		delete(e.conns, conn)
		e.connMutex.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		cmd, err := protocol.ParseCommand(line)
		if err != nil {
			conn.Write([]byte(protocol.NewErrorResponse(fmt.Sprintf("parse error: %v", err)).String() + "\n"))
			continue
		}

		response := e.handleCommand(cmd)
		conn.Write([]byte(response.String() + "\n"))

		if cmd.Type == protocol.CmdQuit {
			break
		}
	}
}

func (e *CoreEngine) handleCommand(cmd *protocol.Command) *protocol.Response {
	switch cmd.Type {
	case protocol.CmdStatus:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": e.State(),
		})

	case protocol.CmdSnapshot:
		if err := e.RequestSnapshot(); err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"status": "queued",
		})

	case protocol.CmdEvents:
		limit := defaultEventLimit
		if n, ok := cmd.Args["limit"].(int); ok {
			limit = n
		}
		events, err := e.Events(limit)
		if err != nil {
			return protocol.NewErrorResponse(err.Error())
		}
		return protocol.NewSuccessResponse(map[string]interface{}{
			"events": events,
			"count":  len(events),
		})

	case protocol.CmdStations:
		stations, fallback := e.Stations()
		return protocol.NewSuccessResponse(map[string]interface{}{
			"stations": stations,
			"fallback": fallback,
		})

	case protocol.CmdPing:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"pong": time.Now().Unix(),
		})

	case protocol.CmdQuit:
		return protocol.NewSuccessResponse(map[string]interface{}{
			"message": "goodbye",
		})

	default:
		return protocol.NewErrorResponse(fmt.Sprintf("unknown command: %s", cmd.Type))
	}
}
