package panel

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
)

// NoButton is the ladder index when nothing is pressed.
const NoButton = -1

// ErrInvalidGates is returned for a ladder gate table that cannot be classified against.
var ErrInvalidGates = errors.New("invalid ladder gates")

// LadderConfig describes the resistor ladder: voltages are in volts.
type LadderConfig struct {
	Channel   int
	Floor     float32   // below this nothing is pressed
	Gates     []float32 // ascending upper bounds; the first gate is the farthest rung
	Threshold float32   // voltage delta that counts as a change
	Vref      float32
	Bits      int
}

// VoltsFromRaw converts a raw ADC count to volts.
func VoltsFromRaw(raw uint16, vref float32, bits int) float32 {
	return float32(raw) * vref / float32(uint32(1)<<uint(bits))
}

// LadderDecoder turns the ladder voltage into a button index.
// Index 0 is the rung nearest the supply (highest voltage); the highest
// index is the farthest rung.
type LadderDecoder struct {
	sampler hardware.AnalogSampler
	config  LadderConfig

	lastActed float32
	index     int
}

// NewLadderDecoder validates the gates and takes the initial reading.
func NewLadderDecoder(sampler hardware.AnalogSampler, config LadderConfig) (*LadderDecoder, error) {
	if len(config.Gates) == 0 {
		return nil, fmt.Errorf("%w: no gates", ErrInvalidGates)
	}
	prev := config.Floor
	for i, g := range config.Gates {
		if g <= prev {
			return nil, fmt.Errorf("%w: gate %d (%.3f V) not above %.3f V", ErrInvalidGates, i, g, prev)
		}
		prev = g
	}
	if config.Threshold <= 0 {
		return nil, fmt.Errorf("%w: threshold must be positive", ErrInvalidGates)
	}
	if config.Vref <= 0 || config.Bits <= 0 || config.Bits > 16 {
		return nil, fmt.Errorf("%w: bad ADC scale (vref %.2f, %d bits)", ErrInvalidGates, config.Vref, config.Bits)
	}

	d := &LadderDecoder{
		sampler: sampler,
		config:  config,
		index:   NoButton,
	}
	d.UpdateState()
	return d, nil
}

// Classify maps a voltage to a button index. A voltage equal to a gate
// belongs to the farther rung.
func (d *LadderDecoder) Classify(v float32) int {
	if v < d.config.Floor {
		return NoButton
	}
	n := len(d.config.Gates)
	for i, gate := range d.config.Gates {
		if v <= gate {
			return n - i
		}
	}
	return 0
}

// UpdateState samples the ladder and reports whether the voltage moved
// more than the threshold since the last accepted reading. Only then is
// the index recomputed, so two readings in the same band can both count
// as changes.
func (d *LadderDecoder) UpdateState() bool {
	raw, err := d.sampler.ReadRaw(d.config.Channel)
	if err != nil {
		logging.Warnf("ladder", "read of channel %d failed, using 0 V: %v", d.config.Channel, err)
		raw = 0
	}
	v := VoltsFromRaw(raw, d.config.Vref, d.config.Bits)

	if math32.Abs(v-d.lastActed) <= d.config.Threshold {
		return false
	}

	d.lastActed = v
	d.index = d.Classify(v)
	logging.Debugf("ladder", "%.3f V -> button %d", v, d.index)
	return true
}

// CurrentIndex returns the last committed button index.
func (d *LadderDecoder) CurrentIndex() int {
	return d.index
}

// LastVoltage returns the voltage the current index was computed from.
func (d *LadderDecoder) LastVoltage() float32 {
	return d.lastActed
}
