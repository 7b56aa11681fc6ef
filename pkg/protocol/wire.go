package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Message kinds carried in the "command" field
const (
	KindButtonPressed = "ButtonPressed"
	KindPlayPause     = "PlayPause"
	KindNewFrequency  = "NewFrequency"
	KindState         = "State"
)

var (
	// ErrUnknownCommand is returned for a message kind the host does not know.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrMissingField is returned when a message lacks a field its kind requires.
	ErrMissingField = errors.New("missing field")
	// ErrNotMessage is returned for stream bytes that are not a message,
	// such as line noise or a record cut short.
	ErrNotMessage = errors.New("not a message")
)

// Flag is a boolean that travels as 0 or 1.
type Flag bool

func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "1", "true":
		*f = true
	case "0", "false":
		*f = false
	default:
		return fmt.Errorf("invalid flag %s", data)
	}
	return nil
}

// Snapshot is the full panel state sent when the host asks for it.
type Snapshot struct {
	ButtonIndex int  `json:"buttonIndex"`
	IsPause     Flag `json:"isPause"`
	Frequency   int  `json:"frequency"`
}

type buttonPressed struct {
	Command     string `json:"command"`
	ButtonIndex int    `json:"buttonIndex"`
}

type playPause struct {
	Command string `json:"command"`
	IsPause Flag   `json:"isPause"`
}

type newFrequency struct {
	Command   string `json:"command"`
	Frequency int    `json:"frequency"`
}

type taggedSnapshot struct {
	Command string `json:"command"`
	Snapshot
}

// marshal encodes the fixed wire structs, which hold only ints, strings
// and Flags and cannot fail.
func marshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// EncodeButtonPressed formats a button transition.
func EncodeButtonPressed(index int) []byte {
	return marshal(buttonPressed{Command: KindButtonPressed, ButtonIndex: index})
}

// EncodePlayPause formats a play/pause transition.
func EncodePlayPause(isPause bool) []byte {
	return marshal(playPause{Command: KindPlayPause, IsPause: Flag(isPause)})
}

// EncodeNewFrequency formats a tuning transition.
func EncodeNewFrequency(frequency int) []byte {
	return marshal(newFrequency{Command: KindNewFrequency, Frequency: frequency})
}

// EncodeSnapshot formats a full state snapshot. The untagged form has no
// "command" field; the tagged form carries "command":"State" first.
func EncodeSnapshot(s Snapshot, tagged bool) []byte {
	if tagged {
		return marshal(taggedSnapshot{Command: KindState, Snapshot: s})
	}
	return marshal(s)
}

// Message is a decoded panel message as the host sees it.
type Message struct {
	Kind        string `json:"kind"`
	Tagged      bool   `json:"tagged"`
	ButtonIndex int    `json:"buttonIndex"`
	IsPause     bool   `json:"isPause"`
	Frequency   int    `json:"frequency"`
}

// Snapshot returns the state carried by a State message.
func (m Message) Snapshot() Snapshot {
	return Snapshot{ButtonIndex: m.ButtonIndex, IsPause: Flag(m.IsPause), Frequency: m.Frequency}
}

func (m Message) String() string {
	switch m.Kind {
	case KindButtonPressed:
		return fmt.Sprintf("%s index=%d", m.Kind, m.ButtonIndex)
	case KindPlayPause:
		return fmt.Sprintf("%s pause=%t", m.Kind, m.IsPause)
	case KindNewFrequency:
		return fmt.Sprintf("%s frequency=%d", m.Kind, m.Frequency)
	case KindState:
		return fmt.Sprintf("%s index=%d pause=%t frequency=%d", m.Kind, m.ButtonIndex, m.IsPause, m.Frequency)
	default:
		return m.Kind
	}
}

type rawMessage struct {
	Command     *string `json:"command"`
	ButtonIndex *int    `json:"buttonIndex"`
	IsPause     *Flag   `json:"isPause"`
	Frequency   *int    `json:"frequency"`
}

// ParseMessage decodes one message. A record without "command" that
// carries all three state fields is an untagged snapshot.
func ParseMessage(data []byte) (Message, error) {
	var raw rawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &raw); err != nil {
		return Message{}, fmt.Errorf("%w %q: %v", ErrNotMessage, data, err)
	}

	kind := KindState
	if raw.Command != nil {
		kind = *raw.Command
	}
	msg := Message{Kind: kind, Tagged: raw.Command != nil}

	switch kind {
	case KindButtonPressed:
		if raw.ButtonIndex == nil {
			return Message{}, fmt.Errorf("%s: %w buttonIndex", kind, ErrMissingField)
		}
		msg.ButtonIndex = *raw.ButtonIndex
	case KindPlayPause:
		if raw.IsPause == nil {
			return Message{}, fmt.Errorf("%s: %w isPause", kind, ErrMissingField)
		}
		msg.IsPause = bool(*raw.IsPause)
	case KindNewFrequency:
		if raw.Frequency == nil {
			return Message{}, fmt.Errorf("%s: %w frequency", kind, ErrMissingField)
		}
		msg.Frequency = *raw.Frequency
	case KindState:
		switch {
		case raw.ButtonIndex == nil:
			return Message{}, fmt.Errorf("%s: %w buttonIndex", kind, ErrMissingField)
		case raw.IsPause == nil:
			return Message{}, fmt.Errorf("%s: %w isPause", kind, ErrMissingField)
		case raw.Frequency == nil:
			return Message{}, fmt.Errorf("%s: %w frequency", kind, ErrMissingField)
		}
		msg.ButtonIndex = *raw.ButtonIndex
		msg.IsPause = bool(*raw.IsPause)
		msg.Frequency = *raw.Frequency
	default:
		return Message{}, fmt.Errorf("%w %q", ErrUnknownCommand, kind)
	}

	return msg, nil
}

// StreamDecoder reads back-to-back messages from a byte stream such as
// the serial link, which has no delimiter between records.
type StreamDecoder struct {
	r   io.Reader
	dec *json.Decoder
}

// NewStreamDecoder creates a decoder reading from r.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{r: r, dec: json.NewDecoder(r)}
}

// Next returns the next message. Malformed records that are still valid
// JSON are reported without losing stream position. Bytes that do not
// parse are dropped up to the next '{' and reported as ErrNotMessage.
func (d *StreamDecoder) Next() (Message, error) {
	var raw json.RawMessage
	err := d.dec.Decode(&raw)
	if err == nil {
		if raw[0] != '{' {
			return Message{}, fmt.Errorf("%w %q", ErrNotMessage, []byte(raw))
		}
		return ParseMessage(raw)
	}

	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Message{}, err
	}

	skipped, err := d.resync()
	if err != nil && !errors.Is(err, io.EOF) {
		return Message{}, err
	}
	return Message{}, fmt.Errorf("%w %q", ErrNotMessage, skipped)
}

// resync discards the failed value and restarts decoding at the next
// '{'. At least one byte is consumed so a bad record cannot repeat.
func (d *StreamDecoder) resync() ([]byte, error) {
	src := bufio.NewReader(io.MultiReader(d.dec.Buffered(), d.r))
	defer func() {
		d.r = src
		d.dec = json.NewDecoder(src)
	}()

	var skipped []byte
	for {
		b, err := src.ReadByte()
		if err != nil {
			return bytes.TrimSpace(skipped), err
		}
		if b == '{' && len(bytes.TrimSpace(skipped)) > 0 {
			src.UnreadByte()
			return bytes.TrimSpace(skipped), nil
		}
		skipped = append(skipped, b)
	}
}
