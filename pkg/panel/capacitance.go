package panel

import (
	"errors"
	"fmt"
	"time"

	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
)

// FailedSample is the charge time reported for a failed measurement.
const FailedSample int64 = -1

// CapacitanceSample is one charge time measurement in microseconds.
// With a 1 MOhm charge resistor the value equals the capacitance in pF.
type CapacitanceSample struct {
	ChargeTimeMicros int64
}

// Failed reports whether the measurement produced no usable time.
func (s CapacitanceSample) Failed() bool {
	return s.ChargeTimeMicros < 0
}

// Measurer produces capacitance samples.
type Measurer interface {
	Measure() CapacitanceSample
}

// MeterConfig holds the RC timing parameters.
type MeterConfig struct {
	Channel         int
	ChargePin       int
	DischargePin    int
	TriggerLevel    uint16 // raw count at ~63% of full scale
	ParasiticMicros int64  // charge time of the wiring alone
	Timeout         time.Duration
	Settle          time.Duration
}

// CapacitanceMeter times the charge of the tuning capacitor through a
// fixed resistor.
type CapacitanceMeter struct {
	sampler hardware.AnalogSampler
	pins    hardware.PinDriver
	clock   hardware.Clock
	sleeper hardware.Sleeper
	config  MeterConfig
}

// NewCapacitanceMeter creates a meter. Call Reset before the first
// measurement to put the RC network into its discharged state.
func NewCapacitanceMeter(sampler hardware.AnalogSampler, pins hardware.PinDriver, clock hardware.Clock,
	sleeper hardware.Sleeper, config MeterConfig) (*CapacitanceMeter, error) {
	if config.TriggerLevel == 0 {
		return nil, fmt.Errorf("trigger level must be positive")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("measurement timeout must be positive")
	}
	if config.ChargePin == config.DischargePin {
		return nil, fmt.Errorf("charge and discharge pins must differ (both %d)", config.ChargePin)
	}

	return &CapacitanceMeter{
		sampler: sampler,
		pins:    pins,
		clock:   clock,
		sleeper: sleeper,
		config:  config,
	}, nil
}

// Reset sinks the discharge line and floats the charge line.
func (m *CapacitanceMeter) Reset() error {
	return errors.Join(
		m.pins.ConfigureOutput(m.config.DischargePin, false),
		m.pins.ConfigureInput(m.config.ChargePin, hardware.PullNone),
	)
}

func (m *CapacitanceMeter) charge() error {
	if err := m.pins.ConfigureInput(m.config.DischargePin, hardware.PullNone); err != nil {
		return fmt.Errorf("release discharge pin %d: %w", m.config.DischargePin, err)
	}
	if err := m.pins.ConfigureOutput(m.config.ChargePin, true); err != nil {
		return fmt.Errorf("drive charge pin %d: %w", m.config.ChargePin, err)
	}
	return nil
}

// Measure runs one discharge, charge and trigger wait cycle. The RC
// network is always left discharged and the settle delay always runs,
// whatever the outcome.
func (m *CapacitanceMeter) Measure() CapacitanceSample {
	defer func() {
		if err := m.Reset(); err != nil {
			logging.Warnf("meter", "reset after measurement failed: %v", err)
		}
		m.sleeper.Sleep(m.config.Settle)
	}()

	if err := m.Reset(); err != nil {
		logging.Warnf("meter", "discharge failed: %v", err)
		return CapacitanceSample{ChargeTimeMicros: FailedSample}
	}
	if err := m.charge(); err != nil {
		logging.Warnf("meter", "charge failed: %v", err)
		return CapacitanceSample{ChargeTimeMicros: FailedSample}
	}

	start := m.clock.Micros()
	timeout := m.config.Timeout.Microseconds()

	var (
		raw        uint16
		stop       int64
		crossed    bool
		iterations int
		readErr    error
	)
	for {
		iterations++
		value, err := m.sampler.ReadRaw(m.config.Channel)
		now := m.clock.Micros()
		if err != nil {
			readErr = err
		} else {
			raw = value
			if value >= m.config.TriggerLevel {
				stop = now
				crossed = true
				break
			}
		}
		if now-start >= timeout {
			stop = now
			break
		}
	}

	if !crossed {
		logging.Warnf("meter", "charge timeout after %d us: start %d, stop %d, raw %d, iterations %d, last error %v",
			stop-start, start, stop, raw, iterations, readErr)
		return CapacitanceSample{ChargeTimeMicros: FailedSample}
	}

	duration := stop - start - m.config.ParasiticMicros
	if duration < 0 {
		logging.Warnf("meter", "unable to measure capacitance: start %d, stop %d, charge time %d us, raw %d, iterations %d",
			start, stop, duration, raw, iterations)
		return CapacitanceSample{ChargeTimeMicros: FailedSample}
	}

	return CapacitanceSample{ChargeTimeMicros: duration}
}
