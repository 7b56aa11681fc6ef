package hardware

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockGPIO(t *testing.T) {
	gpio := NewMockGPIO()

	t.Run("Output Levels", func(t *testing.T) {
		require.NoError(t, gpio.ConfigureOutput(14, true))
		assert.Equal(t, ModeOutput, gpio.Mode(14))

		value, err := gpio.GetPin(14)
		require.NoError(t, err)
		assert.True(t, value)

		require.NoError(t, gpio.SetPin(14, false))
		value, err = gpio.GetPin(14)
		require.NoError(t, err)
		assert.False(t, value)

		assert.Equal(t, []bool{true, false}, gpio.HistoryOf(14))
	})

	t.Run("SetPin Requires Output", func(t *testing.T) {
		require.NoError(t, gpio.ConfigureInput(20, PullNone))
		assert.Error(t, gpio.SetPin(20, true))
	})

	t.Run("Input Pulls And Drive", func(t *testing.T) {
		require.NoError(t, gpio.ConfigureInput(13, PullUp))
		assert.Equal(t, PullUp, gpio.PullOf(13))

		value, err := gpio.GetPin(13)
		require.NoError(t, err)
		assert.True(t, value, "pull-up input idles high")

		gpio.Drive(13, false)
		value, err = gpio.GetPin(13)
		require.NoError(t, err)
		assert.False(t, value)

		require.NoError(t, gpio.ConfigureInput(15, PullNone))
		value, err = gpio.GetPin(15)
		require.NoError(t, err)
		assert.False(t, value, "floating input reads low")
	})

	t.Run("Injected Failure", func(t *testing.T) {
		boom := errors.New("line busy")
		gpio.Fail(16, boom)
		assert.ErrorIs(t, gpio.ConfigureOutput(16, true), boom)
		_, err := gpio.GetPin(16)
		assert.ErrorIs(t, err, boom)

		gpio.Fail(16, nil)
		assert.NoError(t, gpio.ConfigureOutput(16, true))
	})

	t.Run("Unset Pin Default", func(t *testing.T) {
		value, err := gpio.GetPin(99)
		require.NoError(t, err)
		assert.False(t, value)
		assert.Equal(t, ModeUnset, gpio.Mode(99))
	})
}

func TestMockADC(t *testing.T) {
	adc := NewMockADC()

	adc.Push(1, 10, 20)
	adc.SetDefault(1, 99)

	for _, want := range []uint16{10, 20, 99, 99} {
		got, err := adc.ReadRaw(1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 4, adc.Reads(1))

	got, err := adc.ReadRaw(0)
	require.NoError(t, err)
	assert.Zero(t, got)

	var hooked []int
	adc.OnRead(func(ch int) { hooked = append(hooked, ch) })
	adc.ReadRaw(2)
	adc.ReadRaw(3)
	assert.Equal(t, []int{2, 3}, hooked)

	adc.Fail(0, errors.New("conversion timeout"))
	_, err = adc.ReadRaw(0)
	assert.EqualError(t, err, "conversion timeout")
}

func TestMockClock(t *testing.T) {
	clock := NewMockClock(100, 5)

	assert.Equal(t, int64(105), clock.Micros())
	assert.Equal(t, int64(110), clock.Micros())
	assert.Equal(t, int64(110), clock.Now())

	clock.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(10110), clock.Now())

	clock.Advance(-110)
	clock.SetStep(0)
	assert.Equal(t, int64(10000), clock.Micros())
	assert.Equal(t, []time.Duration{10 * time.Millisecond}, clock.Sleeps())
}

func TestMockTransmitter(t *testing.T) {
	tx := NewMockTransmitter()

	var seen []string
	tx.OnWrite(func(p []byte) { seen = append(seen, string(p)) })

	n, err := tx.Write([]byte(`{"command":"PlayPause","isPause":1}`))
	require.NoError(t, err)
	assert.Equal(t, 35, n)
	assert.Equal(t, []string{`{"command":"PlayPause","isPause":1}`}, tx.Messages())
	assert.Equal(t, tx.Messages(), seen)

	tx.SetError(errors.New("uart overrun"))
	_, err = tx.Write([]byte("x"))
	assert.EqualError(t, err, "uart overrun")
	assert.Len(t, tx.Messages(), 1)

	tx.Reset()
	assert.Empty(t, tx.Messages())

	tx.SetError(nil)
	require.NoError(t, tx.Close())
	_, err = tx.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrTransmitterClosed)
}
