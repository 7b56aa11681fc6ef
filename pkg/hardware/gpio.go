package hardware

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/dougsko/radiopanel/pkg/logging"
)

// adcChannels maps single-ended channel numbers to ADS1115 inputs.
var adcChannels = map[int]ads1x15.Channel{
	0: ads1x15.Channel0,
	1: ads1x15.Channel1,
	2: ads1x15.Channel2,
	3: ads1x15.Channel3,
}

// PeriphBoard drives a Linux single board computer through periph.io:
// GPIO lines by name and an ADS1115 on I2C for the analog channels.
type PeriphBoard struct {
	config HardwareConfig
	mutex  sync.Mutex

	bus  i2c.BusCloser
	adc  *ads1x15.Dev
	adcs map[int]analog.PinADC
	pins map[int]gpio.PinIO
}

// NewPeriphBoard creates an uninitialized periph backend
func NewPeriphBoard(config HardwareConfig) *PeriphBoard {
	return &PeriphBoard{
		config: config,
		adcs:   make(map[int]analog.PinADC),
		pins:   make(map[int]gpio.PinIO),
	}
}

// Initialize loads the host drivers and opens the ADC
func (b *PeriphBoard) Initialize() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to load host drivers: %w", err)
	}

	bus, err := i2creg.Open(b.config.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus %q: %w", b.config.I2CBus, err)
	}

	adc, err := ads1x15.NewADS1115(bus, &ads1x15.Opts{I2cAddress: b.config.ADCAddress})
	if err != nil {
		bus.Close()
		return fmt.Errorf("failed to open ADS1115 at 0x%02x: %w", b.config.ADCAddress, err)
	}

	b.bus = bus
	b.adc = adc
	logging.Infof("hardware", "PeriphBoard: ADS1115 at 0x%02x on %s", b.config.ADCAddress, bus)

	if err := b.configureSense(); err != nil {
		b.Close()
		return err
	}
	return nil
}

// configureSense makes the capacitor sense pin a floating input. Its
// logic-high threshold then stands in for the trigger level.
func (b *PeriphBoard) configureSense() error {
	if b.config.CapacitorSensePin < 0 {
		return nil
	}
	if err := b.ConfigureInput(b.config.CapacitorSensePin, PullNone); err != nil {
		return fmt.Errorf("failed to configure capacitor sense pin %d: %w", b.config.CapacitorSensePin, err)
	}
	logging.Infof("hardware", "PeriphBoard: capacitor sensed on pin %d", b.config.CapacitorSensePin)
	return nil
}

// Close halts the ADC pins and releases the bus
func (b *PeriphBoard) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for ch, p := range b.adcs {
		if err := p.Halt(); err != nil {
			logging.Warnf("hardware", "PeriphBoard: halting channel %d: %v", ch, err)
		}
	}
	b.adcs = make(map[int]analog.PinADC)

	if b.adc != nil {
		if err := b.adc.Halt(); err != nil {
			logging.Warnf("hardware", "PeriphBoard: halting ADC: %v", err)
		}
	}
	if b.bus != nil {
		return b.bus.Close()
	}
	return nil
}

// Sampler returns the board's analog channels.
func (b *PeriphBoard) Sampler() AnalogSampler { return b }

// Pins returns the board's GPIO lines.
func (b *PeriphBoard) Pins() PinDriver { return b }

// ReadRaw samples a channel scaled to the configured ADC resolution.
// The capacitor channel may be wired to a digital sense pin instead, since
// the ADS1115 converts too slowly to time a microsecond charge curve.
func (b *PeriphBoard) ReadRaw(channel int) (uint16, error) {
	if channel == b.config.CapacitorChannel && b.config.CapacitorSensePin >= 0 {
		high, err := b.GetPin(b.config.CapacitorSensePin)
		if err != nil {
			return 0, err
		}
		if high {
			return b.config.FullScale(), nil
		}
		return 0, nil
	}

	p, err := b.adcPin(channel)
	if err != nil {
		return 0, err
	}
	sample, err := p.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read channel %d: %w", channel, err)
	}

	volts := float64(sample.V) / float64(physic.Volt)
	if volts < 0 {
		volts = 0
	}
	raw := volts / float64(b.config.Vref) * float64(b.config.FullScale()+1)
	if raw > float64(b.config.FullScale()) {
		raw = float64(b.config.FullScale())
	}
	return uint16(raw), nil
}

func (b *PeriphBoard) adcPin(channel int) (analog.PinADC, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if p, ok := b.adcs[channel]; ok {
		return p, nil
	}
	if b.adc == nil {
		return nil, ErrNotInitialized
	}
	c, ok := adcChannels[channel]
	if !ok {
		return nil, fmt.Errorf("no ADC channel %d", channel)
	}

	maxV := physic.ElectricPotential(float64(b.config.Vref) * float64(physic.Volt))
	p, err := b.adc.PinForChannel(c, maxV, 860*physic.Hertz, ads1x15.BestQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel %d: %w", channel, err)
	}
	b.adcs[channel] = p
	return p, nil
}

func (b *PeriphBoard) pin(n int) (gpio.PinIO, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if p, ok := b.pins[n]; ok {
		return p, nil
	}
	name := fmt.Sprintf("%s%d", b.config.PinPrefix, n)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no GPIO pin named %s", name)
	}
	b.pins[n] = p
	return p, nil
}

// ConfigureOutput makes pin an output driving level.
func (b *PeriphBoard) ConfigureOutput(pin int, level bool) error {
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

// ConfigureInput makes pin an input with the requested bias.
func (b *PeriphBoard) ConfigureInput(pin int, pull Pull) error {
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	bias := gpio.Float
	switch pull {
	case PullUp:
		bias = gpio.PullUp
	case PullDown:
		bias = gpio.PullDown
	}
	return p.In(bias, gpio.NoEdge)
}

// SetPin sets a GPIO pin value
func (b *PeriphBoard) SetPin(pin int, level bool) error {
	p, err := b.pin(pin)
	if err != nil {
		return err
	}
	return p.Out(gpio.Level(level))
}

// GetPin gets a GPIO pin value
func (b *PeriphBoard) GetPin(pin int) (bool, error) {
	p, err := b.pin(pin)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}
