package hardware

import (
	"fmt"
	"sync"

	"github.com/chewxy/math32"
	"github.com/dougsko/radiopanel/pkg/logging"
)

// SimConfig holds the initial state of the simulated panel.
type SimConfig struct {
	LadderVoltage  float32
	CapacitancePF  float32
	ResistanceMOhm float32
	Playing        bool
}

// SimState is a point-in-time view of the simulated panel.
type SimState struct {
	LadderVoltage  float32 `json:"ladder_voltage"`
	CapacitancePF  float32 `json:"capacitance_pf"`
	ResistanceMOhm float32 `json:"resistance_mohm"`
	Playing        bool    `json:"playing"`
	RequestLevel   bool    `json:"request_level"`
	Charging       bool    `json:"charging"`
}

// SimBoard models the front panel harness: a resistor ladder with a
// settable voltage, an RC network charged through the charge pin and the
// play and request lines.
type SimBoard struct {
	mu     sync.Mutex
	config HardwareConfig
	clock  Clock
	gpio   *MockGPIO

	ladderVoltage  float32
	capacitancePF  float32
	resistanceMOhm float32

	charging    bool
	chargeStart int64
}

// NewSimBoard creates a simulated board timed by clock.
func NewSimBoard(config HardwareConfig, clock Clock) *SimBoard {
	b := &SimBoard{
		config:         config,
		clock:          clock,
		gpio:           NewMockGPIO(),
		ladderVoltage:  config.Sim.LadderVoltage,
		capacitancePF:  config.Sim.CapacitancePF,
		resistanceMOhm: config.Sim.ResistanceMOhm,
	}
	if b.resistanceMOhm <= 0 {
		b.resistanceMOhm = 1
	}
	b.gpio.Drive(config.PlayPin, config.Sim.Playing)
	return b
}

func (b *SimBoard) Initialize() error {
	logging.Infof("hardware", "SimBoard: ladder %.2f V, %.0f pF through %.1f MOhm",
		b.ladderVoltage, b.capacitancePF, b.resistanceMOhm)
	return nil
}

func (b *SimBoard) Close() error {
	return nil
}

func (b *SimBoard) Sampler() AnalogSampler { return b }

func (b *SimBoard) Pins() PinDriver { return simPins{b} }

// ReadRaw returns the ladder voltage or the capacitor charge curve as a
// raw count.
func (b *SimBoard) ReadRaw(channel int) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fullScale := float32(b.config.FullScale())
	switch channel {
	case b.config.LadderChannel:
		return b.countFromVolts(b.ladderVoltage), nil
	case b.config.CapacitorChannel:
		if !b.charging {
			return 0, nil
		}
		tau := b.capacitancePF * b.resistanceMOhm
		if tau <= 0 {
			return uint16(fullScale), nil
		}
		t := float32(b.clock.Micros() - b.chargeStart)
		return uint16(fullScale * (1 - math32.Exp(-t/tau))), nil
	default:
		return 0, fmt.Errorf("sim: no signal on channel %d", channel)
	}
}

func (b *SimBoard) countFromVolts(v float32) uint16 {
	vref := b.config.Vref
	if vref <= 0 {
		vref = 3.3
	}
	fullScale := float32(b.config.FullScale())
	raw := math32.Floor(v/vref*(fullScale+1) + 0.5)
	return uint16(math32.Max(0, math32.Min(raw, fullScale)))
}

// update follows the charge and discharge lines. Must be called with mu held.
func (b *SimBoard) update() {
	sinking := b.gpio.Mode(b.config.DischargePin) == ModeOutput && !b.gpio.Level(b.config.DischargePin)
	driving := b.gpio.Mode(b.config.ChargePin) == ModeOutput && b.gpio.Level(b.config.ChargePin)

	switch {
	case sinking || !driving:
		b.charging = false
	case !b.charging:
		b.charging = true
		b.chargeStart = b.clock.Micros()
	}
}

// SetLadderVoltage sets the voltage presented by the button ladder.
func (b *SimBoard) SetLadderVoltage(v float32) error {
	if v < 0 || v > b.config.Vref {
		return fmt.Errorf("ladder voltage %.3f V outside 0..%.1f V", v, b.config.Vref)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ladderVoltage = v
	return nil
}

// SetCapacitance sets the tuning capacitor value in picofarads.
func (b *SimBoard) SetCapacitance(pf float32) error {
	if pf < 0 {
		return fmt.Errorf("capacitance must not be negative, got %.1f pF", pf)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacitancePF = pf
	return nil
}

// SetPlaying sets the level of the play switch.
func (b *SimBoard) SetPlaying(playing bool) {
	b.gpio.Drive(b.config.PlayPin, playing)
}

// SetRequestLine sets the level the host drives onto the snapshot request line.
func (b *SimBoard) SetRequestLine(level bool) {
	b.gpio.Drive(b.config.RequestPin, level)
}

// AttentionLevel returns the current level of the attention line.
func (b *SimBoard) AttentionLevel() bool {
	return b.gpio.Level(b.config.AttentionPin)
}

// State returns the simulated inputs.
func (b *SimBoard) State() SimState {
	playing, _ := b.gpio.GetPin(b.config.PlayPin)
	request, _ := b.gpio.GetPin(b.config.RequestPin)

	b.mu.Lock()
	defer b.mu.Unlock()
	return SimState{
		LadderVoltage:  b.ladderVoltage,
		CapacitancePF:  b.capacitancePF,
		ResistanceMOhm: b.resistanceMOhm,
		Playing:        playing,
		RequestLevel:   request,
		Charging:       b.charging,
	}
}

// simPins tracks pin state in a MockGPIO and feeds the RC model.
type simPins struct {
	b *SimBoard
}

func (p simPins) ConfigureOutput(pin int, level bool) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if err := p.b.gpio.ConfigureOutput(pin, level); err != nil {
		return err
	}
	p.b.update()
	return nil
}

func (p simPins) ConfigureInput(pin int, pull Pull) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if err := p.b.gpio.ConfigureInput(pin, pull); err != nil {
		return err
	}
	p.b.update()
	return nil
}

func (p simPins) SetPin(pin int, level bool) error {
	p.b.mu.Lock()
	defer p.b.mu.Unlock()
	if err := p.b.gpio.SetPin(pin, level); err != nil {
		return err
	}
	p.b.update()
	return nil
}

func (p simPins) GetPin(pin int) (bool, error) {
	return p.b.gpio.GetPin(pin)
}
