package panel

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dougsko/radiopanel/pkg/hardware"
	"github.com/dougsko/radiopanel/pkg/protocol"
)

// ReporterConfig configures message framing.
type ReporterConfig struct {
	AttentionPin   int
	Settle         time.Duration
	TaggedSnapshot bool
}

// Reporter sends transition messages to the host. Each message is a
// single write framed by pulling the attention line low.
type Reporter struct {
	tx      io.Writer
	pins    hardware.PinDriver
	sleeper hardware.Sleeper
	config  ReporterConfig
}

// NewReporter creates a reporter writing to tx.
func NewReporter(tx io.Writer, pins hardware.PinDriver, sleeper hardware.Sleeper, config ReporterConfig) *Reporter {
	return &Reporter{
		tx:      tx,
		pins:    pins,
		sleeper: sleeper,
		config:  config,
	}
}

// Send transmits msg. The attention line is released even when the
// write fails; there is no retry.
func (r *Reporter) Send(msg []byte) error {
	if err := r.pins.SetPin(r.config.AttentionPin, false); err != nil {
		return fmt.Errorf("assert attention pin %d: %w", r.config.AttentionPin, err)
	}
	r.sleeper.Sleep(r.config.Settle)

	_, werr := r.tx.Write(msg)

	r.sleeper.Sleep(r.config.Settle)
	rerr := r.pins.SetPin(r.config.AttentionPin, true)

	if werr != nil {
		werr = fmt.Errorf("transmit %s: %w", msg, werr)
	}
	if rerr != nil {
		rerr = fmt.Errorf("release attention pin %d: %w", r.config.AttentionPin, rerr)
	}
	return errors.Join(werr, rerr)
}

// ButtonPressed reports a new button index.
func (r *Reporter) ButtonPressed(index int) ([]byte, error) {
	msg := protocol.EncodeButtonPressed(index)
	return msg, r.Send(msg)
}

// PlayPause reports the play switch; the host expects the pause flag.
func (r *Reporter) PlayPause(playing bool) ([]byte, error) {
	msg := protocol.EncodePlayPause(!playing)
	return msg, r.Send(msg)
}

// NewFrequency reports a new station code.
func (r *Reporter) NewFrequency(frequency int) ([]byte, error) {
	msg := protocol.EncodeNewFrequency(frequency)
	return msg, r.Send(msg)
}

// Snapshot reports the full state in the configured form.
func (r *Reporter) Snapshot(s protocol.Snapshot) ([]byte, error) {
	msg := protocol.EncodeSnapshot(s, r.config.TaggedSnapshot)
	return msg, r.Send(msg)
}
