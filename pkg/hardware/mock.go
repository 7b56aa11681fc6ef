package hardware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dougsko/radiopanel/pkg/logging"
)

// PinMode is the direction a mock pin was last configured with.
type PinMode int

const (
	ModeUnset PinMode = iota
	ModeInput
	ModeOutput
)

func (m PinMode) String() string {
	switch m {
	case ModeInput:
		return "input"
	case ModeOutput:
		return "output"
	default:
		return "unset"
	}
}

// PinEvent records a level driven onto an output pin.
type PinEvent struct {
	Pin   int
	Level bool
}

// MockGPIO implements PinDriver for testing
type MockGPIO struct {
	mu       sync.RWMutex
	levels   map[int]bool
	external map[int]bool
	modes    map[int]PinMode
	pulls    map[int]Pull
	failures map[int]error
	history  []PinEvent
}

// NewMockGPIO creates a new mock GPIO interface
func NewMockGPIO() *MockGPIO {
	return &MockGPIO{
		levels:   make(map[int]bool),
		external: make(map[int]bool),
		modes:    make(map[int]PinMode),
		pulls:    make(map[int]Pull),
		failures: make(map[int]error),
	}
}

// ConfigureOutput makes pin an output driving level.
func (g *MockGPIO) ConfigureOutput(pin int, level bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failures[pin]; err != nil {
		return err
	}
	g.modes[pin] = ModeOutput
	g.levels[pin] = level
	g.history = append(g.history, PinEvent{Pin: pin, Level: level})
	return nil
}

// ConfigureInput makes pin a floating or biased input.
func (g *MockGPIO) ConfigureInput(pin int, pull Pull) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failures[pin]; err != nil {
		return err
	}
	g.modes[pin] = ModeInput
	g.pulls[pin] = pull
	return nil
}

// SetPin sets a GPIO pin value
func (g *MockGPIO) SetPin(pin int, level bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.failures[pin]; err != nil {
		return err
	}
	if g.modes[pin] != ModeOutput {
		return fmt.Errorf("pin %d is not an output", pin)
	}
	g.levels[pin] = level
	g.history = append(g.history, PinEvent{Pin: pin, Level: level})
	return nil
}

// GetPin reads a pin. Inputs return the externally driven level, or the
// pull-up level when nothing drives them.
func (g *MockGPIO) GetPin(pin int) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.failures[pin]; err != nil {
		return false, err
	}
	if g.modes[pin] == ModeInput {
		if level, ok := g.external[pin]; ok {
			return level, nil
		}
		return g.pulls[pin] == PullUp, nil
	}
	return g.levels[pin], nil
}

// Drive sets the level an external circuit applies to an input pin.
func (g *MockGPIO) Drive(pin int, level bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.external[pin] = level
}

// Fail makes every operation on pin return err. A nil err clears it.
func (g *MockGPIO) Fail(pin int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failures, pin)
		return
	}
	g.failures[pin] = err
}

// Mode returns the configured direction of pin.
func (g *MockGPIO) Mode(pin int) PinMode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.modes[pin]
}

// Level returns the last level driven onto pin.
func (g *MockGPIO) Level(pin int) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.levels[pin]
}

// PullOf returns the bias of an input pin.
func (g *MockGPIO) PullOf(pin int) Pull {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.pulls[pin]
}

// History returns every level driven onto an output, oldest first.
func (g *MockGPIO) History() []PinEvent {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]PinEvent, len(g.history))
	copy(out, g.history)
	return out
}

// HistoryOf returns the levels driven onto one pin, oldest first.
func (g *MockGPIO) HistoryOf(pin int) []bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []bool
	for _, e := range g.history {
		if e.Pin == pin {
			out = append(out, e.Level)
		}
	}
	return out
}

// MockADC implements AnalogSampler with per-channel value queues.
// When a queue runs dry the channel's default value is returned.
type MockADC struct {
	mu       sync.Mutex
	queues   map[int][]uint16
	defaults map[int]uint16
	failures map[int]error
	reads    map[int]int
	hook     func(channel int)
}

// NewMockADC creates an ADC where every channel reads zero.
func NewMockADC() *MockADC {
	return &MockADC{
		queues:   make(map[int][]uint16),
		defaults: make(map[int]uint16),
		failures: make(map[int]error),
		reads:    make(map[int]int),
	}
}

// ReadRaw pops the next queued value for channel.
func (a *MockADC) ReadRaw(channel int) (uint16, error) {
	a.mu.Lock()
	hook := a.hook
	a.reads[channel]++
	if err := a.failures[channel]; err != nil {
		a.mu.Unlock()
		return 0, err
	}
	var value uint16
	if q := a.queues[channel]; len(q) > 0 {
		value = q[0]
		a.queues[channel] = q[1:]
	} else {
		value = a.defaults[channel]
	}
	a.mu.Unlock()

	if hook != nil {
		hook(channel)
	}
	return value, nil
}

// Push queues values for channel.
func (a *MockADC) Push(channel int, values ...uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queues[channel] = append(a.queues[channel], values...)
}

// SetDefault sets the value read once the channel queue is empty.
func (a *MockADC) SetDefault(channel int, value uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.defaults[channel] = value
}

// Fail makes reads of channel return err. A nil err clears it.
func (a *MockADC) Fail(channel int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, channel)
		return
	}
	a.failures[channel] = err
}

// OnRead installs a hook called after every read.
func (a *MockADC) OnRead(hook func(channel int)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hook = hook
}

// Reads returns how many times channel was sampled.
func (a *MockADC) Reads(channel int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads[channel]
}

// MockClock is a manual clock. Every Micros call advances it by step,
// Sleep advances it by the requested duration without blocking.
type MockClock struct {
	mu     sync.Mutex
	now    int64
	step   int64
	sleeps []time.Duration
}

// NewMockClock creates a clock at start that advances step µs per read.
func NewMockClock(start, step int64) *MockClock {
	return &MockClock{now: start, step: step}
}

// Micros advances the clock by one step and returns the new time.
func (c *MockClock) Micros() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Now returns the current time without advancing.
func (c *MockClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by us microseconds.
func (c *MockClock) Advance(us int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += us
}

// SetStep changes the per-read increment.
func (c *MockClock) SetStep(step int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = step
}

// Sleep records d and advances the clock.
func (c *MockClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now += d.Microseconds()
}

// Sleeps returns every requested sleep, oldest first.
func (c *MockClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

// ErrTransmitterClosed is returned by writes after Close.
var ErrTransmitterClosed = errors.New("transmitter closed")

// MockTransmitter records every write.
type MockTransmitter struct {
	mu      sync.Mutex
	writes  [][]byte
	closed  bool
	Err     error
	onWrite func(p []byte)
}

// NewMockTransmitter creates an empty recording transmitter.
func NewMockTransmitter() *MockTransmitter {
	return &MockTransmitter{}
}

// Write records p, or fails with Err when set.
func (t *MockTransmitter) Write(p []byte) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, ErrTransmitterClosed
	}
	if t.Err != nil {
		err := t.Err
		t.mu.Unlock()
		return 0, err
	}
	buf := make([]byte, len(p))
	copy(buf, p)
	t.writes = append(t.writes, buf)
	hook := t.onWrite
	t.mu.Unlock()

	logging.Debugf("hardware", "MockTransmitter: %s", buf)
	if hook != nil {
		hook(buf)
	}
	return len(p), nil
}

// SetError makes subsequent writes fail with err.
func (t *MockTransmitter) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Err = err
}

// OnWrite installs a hook called with every successful write.
func (t *MockTransmitter) OnWrite(hook func(p []byte)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onWrite = hook
}

// Messages returns every write as a string, oldest first.
func (t *MockTransmitter) Messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.writes))
	for i, w := range t.writes {
		out[i] = string(w)
	}
	return out
}

// Reset forgets recorded writes.
func (t *MockTransmitter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
}

// Close marks the transmitter closed.
func (t *MockTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// MockBoard pairs a MockGPIO with a MockADC.
type MockBoard struct {
	GPIO *MockGPIO
	ADC  *MockADC
}

// NewMockBoard creates a board with fresh mocks.
func NewMockBoard() *MockBoard {
	return &MockBoard{
		GPIO: NewMockGPIO(),
		ADC:  NewMockADC(),
	}
}

func (b *MockBoard) Initialize() error {
	logging.Debugf("hardware", "MockBoard: Initialized")
	return nil
}

func (b *MockBoard) Close() error {
	logging.Debugf("hardware", "MockBoard: Closed")
	return nil
}

func (b *MockBoard) Sampler() AnalogSampler { return b.ADC }

func (b *MockBoard) Pins() PinDriver { return b.GPIO }
