package panel

import (
	"errors"
	"testing"
	"time"

	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	capChannel   = 1
	chargePin    = 16
	dischargePin = 17
	clockStep    = 10 // us per clock read
)

type meterRig struct {
	adc   *hardware.MockADC
	gpio  *hardware.MockGPIO
	clock *hardware.MockClock
	meter *CapacitanceMeter
}

func newMeterRig(t *testing.T) *meterRig {
	t.Helper()
	rig := &meterRig{
		adc:   hardware.NewMockADC(),
		gpio:  hardware.NewMockGPIO(),
		clock: hardware.NewMockClock(0, clockStep),
	}
	meter, err := NewCapacitanceMeter(rig.adc, rig.gpio, rig.clock, rig.clock, MeterConfig{
		Channel:         capChannel,
		ChargePin:       chargePin,
		DischargePin:    dischargePin,
		TriggerLevel:    2500,
		ParasiticMicros: 50,
		Timeout:         time.Millisecond,
		Settle:          300 * time.Millisecond,
	})
	require.NoError(t, err)
	rig.meter = meter
	return rig
}

// crossAfter makes the capacitor reach the trigger on the n-th sample,
// which with the mock clock is n*clockStep microseconds after charge start.
func (r *meterRig) crossAfter(n int) {
	for i := 1; i < n; i++ {
		r.adc.Push(capChannel, uint16(i*2500/n))
	}
	r.adc.Push(capChannel, 2500)
}

func (r *meterRig) assertDischarged(t *testing.T) {
	t.Helper()
	assert.Equal(t, hardware.ModeOutput, r.gpio.Mode(dischargePin), "discharge line sinks")
	assert.False(t, r.gpio.Level(dischargePin))
	assert.Equal(t, hardware.ModeInput, r.gpio.Mode(chargePin), "charge line idles")
	assert.Equal(t, hardware.PullNone, r.gpio.PullOf(chargePin))
}

func TestMeasure(t *testing.T) {
	rig := newMeterRig(t)
	rig.crossAfter(7) // 70 us elapsed

	sample := rig.meter.Measure()
	assert.False(t, sample.Failed())
	assert.Equal(t, int64(20), sample.ChargeTimeMicros)
	assert.Equal(t, 7, rig.adc.Reads(capChannel))

	rig.assertDischarged(t)
	assert.Equal(t, []bool{true}, rig.gpio.HistoryOf(chargePin), "charge line driven high once")
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, rig.clock.Sleeps())
}

func TestMeasureChargesAfterDischarge(t *testing.T) {
	rig := newMeterRig(t)
	rig.crossAfter(10)

	var modeAtFirstRead hardware.PinMode
	var chargeAtFirstRead bool
	rig.adc.OnRead(func(ch int) {
		if rig.adc.Reads(ch) == 1 {
			modeAtFirstRead = rig.gpio.Mode(dischargePin)
			chargeAtFirstRead = rig.gpio.Level(chargePin)
		}
	})

	rig.meter.Measure()
	assert.Equal(t, hardware.ModeInput, modeAtFirstRead, "discharge line released while charging")
	assert.True(t, chargeAtFirstRead, "charge line driven while sampling")
}

func TestMeasureTriggerIsInclusive(t *testing.T) {
	rig := newMeterRig(t)
	rig.adc.Push(capChannel, 2499, 2499, 2499, 2499, 2499, 2499, 2499, 2499, 2500)

	assert.Equal(t, int64(40), rig.meter.Measure().ChargeTimeMicros)
}

func TestMeasureTimeout(t *testing.T) {
	rig := newMeterRig(t)
	rig.adc.SetDefault(capChannel, 100)

	sample := rig.meter.Measure()
	assert.True(t, sample.Failed())
	assert.Equal(t, FailedSample, sample.ChargeTimeMicros)
	// 1 ms timeout at 10 us per sample
	assert.Equal(t, 100, rig.adc.Reads(capChannel))
	rig.assertDischarged(t)
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, rig.clock.Sleeps())
}

func TestMeasureNegativeDuration(t *testing.T) {
	rig := newMeterRig(t)
	rig.crossAfter(3) // 30 us, below the 50 us offset

	sample := rig.meter.Measure()
	assert.True(t, sample.Failed())
	rig.assertDischarged(t)
}

func TestMeasureExactlyParasitic(t *testing.T) {
	rig := newMeterRig(t)
	rig.crossAfter(5)

	sample := rig.meter.Measure()
	assert.False(t, sample.Failed())
	assert.Equal(t, int64(0), sample.ChargeTimeMicros)
}

func TestMeasureReadErrorsUntilTimeout(t *testing.T) {
	rig := newMeterRig(t)
	rig.adc.Fail(capChannel, errors.New("adc busy"))

	assert.True(t, rig.meter.Measure().Failed())
	rig.assertDischarged(t)
}

func TestMeasurePinFailure(t *testing.T) {
	rig := newMeterRig(t)
	rig.crossAfter(7)
	rig.gpio.Fail(dischargePin, errors.New("pin claimed"))

	assert.True(t, rig.meter.Measure().Failed())
	assert.Zero(t, rig.adc.Reads(capChannel), "no sampling without a discharged start")
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, rig.clock.Sleeps(), "settle still runs")

	rig.gpio.Fail(dischargePin, nil)
	assert.Equal(t, int64(20), rig.meter.Measure().ChargeTimeMicros)
	rig.assertDischarged(t)
}

func TestMeasureRepeated(t *testing.T) {
	rig := newMeterRig(t)
	for _, n := range []int{7, 10, 100} {
		rig.crossAfter(n)
		assert.Equal(t, int64(n*clockStep-50), rig.meter.Measure().ChargeTimeMicros)
		rig.assertDischarged(t)
	}
}

func TestNewCapacitanceMeterValidation(t *testing.T) {
	adc := hardware.NewMockADC()
	gpio := hardware.NewMockGPIO()
	clock := hardware.NewMockClock(0, 1)

	_, err := NewCapacitanceMeter(adc, gpio, clock, clock, MeterConfig{Timeout: time.Millisecond, ChargePin: 1, DischargePin: 2})
	assert.ErrorContains(t, err, "trigger level")

	_, err = NewCapacitanceMeter(adc, gpio, clock, clock, MeterConfig{TriggerLevel: 2500, ChargePin: 1, DischargePin: 2})
	assert.ErrorContains(t, err, "timeout")

	_, err = NewCapacitanceMeter(adc, gpio, clock, clock, MeterConfig{TriggerLevel: 2500, Timeout: time.Millisecond, ChargePin: 3, DischargePin: 3})
	assert.ErrorContains(t, err, "must differ")
}

func TestMeasureAgainstSimulatedRC(t *testing.T) {
	clock := hardware.NewMockClock(0, 1)
	board := hardware.NewSimBoard(hardware.HardwareConfig{
		Vref:             3.3,
		ADCBits:          12,
		LadderChannel:    0,
		CapacitorChannel: capChannel,
		ChargePin:        chargePin,
		DischargePin:     dischargePin,
		Sim:              hardware.SimConfig{CapacitancePF: 200, ResistanceMOhm: 1},
	}, clock)

	meter, err := NewCapacitanceMeter(board.Sampler(), board.Pins(), clock, clock, MeterConfig{
		Channel:         capChannel,
		ChargePin:       chargePin,
		DischargePin:    dischargePin,
		TriggerLevel:    2500,
		ParasiticMicros: 50,
		Timeout:         50 * time.Millisecond,
		Settle:          300 * time.Millisecond,
	})
	require.NoError(t, err)

	// 2500/4095 of full scale is reached after ~0.943 tau = ~189 us
	sample := meter.Measure()
	require.False(t, sample.Failed())
	assert.InDelta(t, 140, sample.ChargeTimeMicros, 3)
	assert.Equal(t, 99, DefaultStationTable().Map(sample.ChargeTimeMicros))
	assert.False(t, board.State().Charging)
}
