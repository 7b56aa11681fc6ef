package hardware

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the host unit's UART setting
const DefaultBaudRate = 115200

// OpenSerialPort opens device as 8N1 at baud.
func OpenSerialPort(device string, baud int) (serial.Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", device, err)
	}
	return port, nil
}

// SerialPorts lists the serial devices present on this machine.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// SerialTransmitter sends messages to the host over a serial port.
type SerialTransmitter struct {
	mu     sync.Mutex
	device string
	port   serial.Port
}

// OpenSerialTransmitter opens the link to the host unit.
func OpenSerialTransmitter(device string, baud int) (*SerialTransmitter, error) {
	port, err := OpenSerialPort(device, baud)
	if err != nil {
		return nil, err
	}
	return &SerialTransmitter{device: device, port: port}, nil
}

// Write sends p completely and waits for it to leave the UART, so the
// attention line is not released while bytes are still queued.
func (t *SerialTransmitter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return 0, ErrTransmitterClosed
	}

	written := 0
	for written < len(p) {
		n, err := t.port.Write(p[written:])
		written += n
		if err != nil {
			return written, fmt.Errorf("serial write on %s: %w", t.device, err)
		}
		if n == 0 {
			return written, fmt.Errorf("serial write on %s: %w", t.device, io.ErrShortWrite)
		}
	}

	if err := t.port.Drain(); err != nil {
		return written, fmt.Errorf("serial drain on %s: %w", t.device, err)
	}
	return written, nil
}

// Close closes the port
func (t *SerialTransmitter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
