package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func registerTestPin(t *testing.T, name string, p *gpiotest.Pin) {
	t.Helper()
	require.NoError(t, gpioreg.Register(p))
	t.Cleanup(func() { gpioreg.Unregister(name) })
}

func TestPeriphBoardSensePin(t *testing.T) {
	// Pull up until configured so the switch to a floating input shows.
	sense := &gpiotest.Pin{N: "SENSETEST27", Num: 27, L: gpio.Low, P: gpio.PullUp}
	registerTestPin(t, sense.N, sense)

	config := testConfig(BackendPeriph)
	config.PinPrefix = "SENSETEST"
	config.CapacitorSensePin = 27
	board := NewPeriphBoard(config)

	require.NoError(t, board.configureSense())
	sense.Lock()
	assert.Equal(t, gpio.Float, sense.P)
	sense.Unlock()

	raw, err := board.ReadRaw(config.CapacitorChannel)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), raw)

	require.NoError(t, sense.Out(gpio.High))
	raw, err = board.ReadRaw(config.CapacitorChannel)
	require.NoError(t, err)
	assert.Equal(t, config.FullScale(), raw)
}

func TestPeriphBoardSensePinErrors(t *testing.T) {
	config := testConfig(BackendPeriph)
	config.PinPrefix = "MISSINGTEST"

	config.CapacitorSensePin = -1
	assert.NoError(t, NewPeriphBoard(config).configureSense(), "ADC sensing needs no pin")

	config.CapacitorSensePin = 5
	assert.ErrorContains(t, NewPeriphBoard(config).configureSense(), "capacitor sense pin 5")
}

func TestPeriphBoardPins(t *testing.T) {
	p := &gpiotest.Pin{N: "PINTEST16", Num: 16}
	registerTestPin(t, p.N, p)

	config := testConfig(BackendPeriph)
	config.PinPrefix = "PINTEST"
	board := NewPeriphBoard(config)

	require.NoError(t, board.ConfigureOutput(16, true))
	level, err := board.GetPin(16)
	require.NoError(t, err)
	assert.True(t, level)

	require.NoError(t, board.SetPin(16, false))
	level, err = board.GetPin(16)
	require.NoError(t, err)
	assert.False(t, level)

	require.NoError(t, board.ConfigureInput(16, PullUp))
	p.Lock()
	assert.Equal(t, gpio.PullUp, p.P)
	p.Unlock()

	_, err = board.ReadRaw(0)
	assert.ErrorIs(t, err, ErrNotInitialized, "ADC opens in Initialize")
}
