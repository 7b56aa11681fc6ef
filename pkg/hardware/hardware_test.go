package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backend string) HardwareConfig {
	return HardwareConfig{
		Backend:           backend,
		Vref:              3.3,
		ADCBits:           12,
		CapacitorSensePin: -1,
		LadderChannel:     0,
		CapacitorChannel:  1,
		ChargePin:         16,
		DischargePin:      17,
		AttentionPin:      14,
		RequestPin:        13,
		PlayPin:           15,
		Sim: SimConfig{
			CapacitancePF:  100,
			ResistanceMOhm: 1,
		},
	}
}

func TestNewHardwareManager(t *testing.T) {
	manager := NewHardwareManager(testConfig(BackendMock))
	require.NotNil(t, manager)

	assert.False(t, manager.IsInitialized())
	assert.Nil(t, manager.Sampler())
	assert.Nil(t, manager.Pins())
	assert.Equal(t, BackendMock, manager.GetConfig().Backend)
}

func TestHardwareManagerMockBackend(t *testing.T) {
	manager := NewHardwareManager(testConfig(BackendMock))
	require.NoError(t, manager.Initialize())
	defer manager.Close()

	assert.True(t, manager.IsInitialized())
	require.NoError(t, manager.Initialize(), "second Initialize is a no-op")

	mock := manager.Mock()
	require.NotNil(t, mock)
	assert.Nil(t, manager.Sim())
	assert.NotNil(t, manager.MockClock())

	// Attention idles high, request is a pulled-up input, play floats
	assert.Equal(t, ModeOutput, mock.GPIO.Mode(14))
	assert.True(t, mock.GPIO.Level(14))
	assert.Equal(t, ModeInput, mock.GPIO.Mode(13))
	assert.Equal(t, PullUp, mock.GPIO.PullOf(13))
	assert.Equal(t, ModeInput, mock.GPIO.Mode(15))
	assert.Equal(t, PullNone, mock.GPIO.PullOf(15))

	_, isMock := manager.Transmitter().(*MockTransmitter)
	assert.True(t, isMock, "no serial device falls back to the recording transmitter")
	assert.Same(t, mock.ADC, manager.Sampler())
}

func TestHardwareManagerSimBackend(t *testing.T) {
	manager := NewHardwareManager(testConfig(BackendSim))
	require.NoError(t, manager.Initialize())

	sim := manager.Sim()
	require.NotNil(t, sim)
	assert.Nil(t, manager.Mock())
	assert.Nil(t, manager.MockClock())
	assert.True(t, sim.AttentionLevel())

	require.NoError(t, manager.Close())
	assert.False(t, manager.IsInitialized())
	require.NoError(t, manager.Close(), "second Close is a no-op")
}

func TestHardwareManagerErrors(t *testing.T) {
	t.Run("Unknown Backend", func(t *testing.T) {
		manager := NewHardwareManager(testConfig("arduino"))
		err := manager.Initialize()
		assert.ErrorContains(t, err, `unknown hardware backend "arduino"`)
		assert.False(t, manager.IsInitialized())
	})

	t.Run("Missing Serial Device", func(t *testing.T) {
		cfg := testConfig(BackendMock)
		cfg.SerialDevice = "/dev/radiopanel-does-not-exist"
		manager := NewHardwareManager(cfg)
		err := manager.Initialize()
		assert.ErrorContains(t, err, "failed to open serial port")
		assert.False(t, manager.IsInitialized())
	})
}

func TestFullScale(t *testing.T) {
	assert.Equal(t, uint16(4095), HardwareConfig{ADCBits: 12}.FullScale())
	assert.Equal(t, uint16(65535), HardwareConfig{ADCBits: 16}.FullScale())
	assert.Equal(t, uint16(4095), HardwareConfig{}.FullScale())
}

func TestPullString(t *testing.T) {
	assert.Equal(t, "up", PullUp.String())
	assert.Equal(t, "down", PullDown.String())
	assert.Equal(t, "none", PullNone.String())
	assert.Equal(t, "output", ModeOutput.String())
}
