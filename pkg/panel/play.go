package panel

import (
	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/logging"
)

// PlayButton follows the play/pause switch. A high line means playing.
type PlayButton struct {
	pins    hardware.PinDriver
	pin     int
	playing bool
}

// NewPlayButton reads the switch once.
func NewPlayButton(pins hardware.PinDriver, pin int) *PlayButton {
	b := &PlayButton{pins: pins, pin: pin}
	b.UpdateState()
	return b
}

// UpdateState reads the switch and reports whether it moved. A failed
// read keeps the previous state.
func (b *PlayButton) UpdateState() bool {
	level, err := b.pins.GetPin(b.pin)
	if err != nil {
		logging.Warnf("play", "read of pin %d failed: %v", b.pin, err)
		return false
	}
	if level == b.playing {
		return false
	}
	b.playing = level
	return true
}

// IsPlaying reports the last sampled play state.
func (b *PlayButton) IsPlaying() bool {
	return b.playing
}
