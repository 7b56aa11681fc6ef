package hardware

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dougsko/radiopanel/pkg/logging"
)

// ErrNotInitialized is returned when the manager is used before Initialize.
var ErrNotInitialized = errors.New("hardware not initialized")

// Backend names
const (
	BackendMock   = "mock"
	BackendSim    = "sim"
	BackendPeriph = "periph"
)

// Pull selects the bias of an input pin.
type Pull int

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

func (p Pull) String() string {
	switch p {
	case PullUp:
		return "up"
	case PullDown:
		return "down"
	default:
		return "none"
	}
}

// AnalogSampler returns the raw ADC count for a channel.
type AnalogSampler interface {
	ReadRaw(channel int) (uint16, error)
}

// PinDriver sets direction and level of digital pins.
type PinDriver interface {
	ConfigureOutput(pin int, level bool) error
	ConfigureInput(pin int, pull Pull) error
	SetPin(pin int, level bool) error
	GetPin(pin int) (bool, error)
}

// Clock is a monotonic microsecond counter.
type Clock interface {
	Micros() int64
}

// Sleeper blocks for a duration.
type Sleeper interface {
	Sleep(d time.Duration)
}

// Transmitter is the byte link to the host unit.
type Transmitter interface {
	io.Writer
	Close() error
}

// Board is a hardware backend providing pins and analog channels.
type Board interface {
	Initialize() error
	Close() error
	Sampler() AnalogSampler
	Pins() PinDriver
}

// SystemClock counts microseconds from its creation using the monotonic clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock creates a clock starting at zero.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Micros returns elapsed microseconds.
func (c *SystemClock) Micros() int64 {
	return time.Since(c.start).Microseconds()
}

// SystemSleeper sleeps on the wall clock.
type SystemSleeper struct{}

// Sleep blocks for d.
func (SystemSleeper) Sleep(d time.Duration) {
	time.Sleep(d)
}

// HardwareConfig represents hardware configuration
type HardwareConfig struct {
	Backend string
	Vref    float32
	ADCBits int

	// periph backend
	I2CBus            string
	ADCAddress        uint16
	PinPrefix         string
	CapacitorSensePin int // digital stand-in for the capacitor channel, -1 to use the ADC

	LadderChannel    int
	CapacitorChannel int
	ChargePin        int
	DischargePin     int

	// Lines owned by the manager
	AttentionPin int
	RequestPin   int
	PlayPin      int

	// Empty device means no serial link; writes go to a MockTransmitter
	SerialDevice string
	SerialBaud   int

	Sim SimConfig
}

// FullScale returns the largest raw count for the configured resolution.
func (c HardwareConfig) FullScale() uint16 {
	bits := c.ADCBits
	if bits <= 0 || bits > 16 {
		bits = 12
	}
	return uint16(1<<bits - 1)
}

// HardwareManager builds the configured backend and hands out the
// collaborator seams used by the panel decoders.
type HardwareManager struct {
	config HardwareConfig
	mutex  sync.RWMutex

	board       Board
	clock       Clock
	sleeper     Sleeper
	transmitter Transmitter

	initialized bool
}

// NewHardwareManager creates a new hardware manager
func NewHardwareManager(config HardwareConfig) *HardwareManager {
	return &HardwareManager{
		config: config,
	}
}

// Initialize creates the backend, opens the serial link and puts the
// manager-owned lines into their idle state.
func (h *HardwareManager) Initialize() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.initialized {
		return nil
	}

	logging.Infof("hardware", "Initializing %s backend", h.config.Backend)

	switch h.config.Backend {
	case BackendMock:
		mc := NewMockClock(0, 1)
		h.board = NewMockBoard()
		h.clock = mc
		h.sleeper = mc
	case BackendSim:
		clock := NewSystemClock()
		h.board = NewSimBoard(h.config, clock)
		h.clock = clock
		h.sleeper = SystemSleeper{}
	case BackendPeriph:
		h.board = NewPeriphBoard(h.config)
		h.clock = NewSystemClock()
		h.sleeper = SystemSleeper{}
	default:
		return fmt.Errorf("unknown hardware backend %q", h.config.Backend)
	}

	if err := h.board.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize %s backend: %w", h.config.Backend, err)
	}

	if h.config.SerialDevice != "" {
		tx, err := OpenSerialTransmitter(h.config.SerialDevice, h.config.SerialBaud)
		if err != nil {
			h.board.Close()
			return err
		}
		h.transmitter = tx
		logging.Infof("hardware", "Serial link open on %s at %d baud", h.config.SerialDevice, h.config.SerialBaud)
	} else {
		h.transmitter = NewMockTransmitter()
		logging.Infof("hardware", "No serial device configured, messages are logged only")
	}

	pins := h.board.Pins()
	// Attention is active low; idle high until the first message.
	if err := pins.ConfigureOutput(h.config.AttentionPin, true); err != nil {
		h.closeLocked()
		return fmt.Errorf("failed to configure attention pin %d: %w", h.config.AttentionPin, err)
	}
	if err := pins.ConfigureInput(h.config.RequestPin, PullUp); err != nil {
		h.closeLocked()
		return fmt.Errorf("failed to configure request pin %d: %w", h.config.RequestPin, err)
	}
	if err := pins.ConfigureInput(h.config.PlayPin, PullNone); err != nil {
		h.closeLocked()
		return fmt.Errorf("failed to configure play pin %d: %w", h.config.PlayPin, err)
	}

	h.initialized = true
	logging.Infof("hardware", "Hardware initialized (attention pin %d, request pin %d, play pin %d)",
		h.config.AttentionPin, h.config.RequestPin, h.config.PlayPin)
	return nil
}

// Close shuts down the serial link and the backend
func (h *HardwareManager) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if !h.initialized {
		return nil
	}

	h.closeLocked()
	h.initialized = false
	logging.Infof("hardware", "Hardware shut down")
	return nil
}

func (h *HardwareManager) closeLocked() {
	if h.transmitter != nil {
		if err := h.transmitter.Close(); err != nil {
			logging.Warnf("hardware", "Error closing transmitter: %v", err)
		}
	}
	if h.board != nil {
		if err := h.board.Close(); err != nil {
			logging.Warnf("hardware", "Error closing board: %v", err)
		}
	}
}

// IsInitialized returns whether hardware is initialized
func (h *HardwareManager) IsInitialized() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.initialized
}

// GetConfig returns the hardware configuration
func (h *HardwareManager) GetConfig() HardwareConfig {
	return h.config
}

// Sampler returns the analog sampler of the active backend.
func (h *HardwareManager) Sampler() AnalogSampler {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.board == nil {
		return nil
	}
	return h.board.Sampler()
}

// Pins returns the pin driver of the active backend.
func (h *HardwareManager) Pins() PinDriver {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.board == nil {
		return nil
	}
	return h.board.Pins()
}

// Clock returns the microsecond clock of the active backend.
func (h *HardwareManager) Clock() Clock {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.clock
}

// Sleeper returns the delay source of the active backend.
func (h *HardwareManager) Sleeper() Sleeper {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sleeper
}

// Transmitter returns the host link, or a recording stand-in when no
// serial device is configured.
func (h *HardwareManager) Transmitter() Transmitter {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.transmitter
}

// Sim returns the simulated board, or nil for other backends.
func (h *HardwareManager) Sim() *SimBoard {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	sim, _ := h.board.(*SimBoard)
	return sim
}

// Mock returns the mock board, or nil for other backends.
func (h *HardwareManager) Mock() *MockBoard {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	mock, _ := h.board.(*MockBoard)
	return mock
}

// MockClock returns the mock clock, or nil for other backends.
func (h *HardwareManager) MockClock() *MockClock {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	mc, _ := h.clock.(*MockClock)
	return mc
}
