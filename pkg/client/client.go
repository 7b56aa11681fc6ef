package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dougsko/radiopanel/pkg/protocol"
)

// SocketClient talks to the panel daemon's control socket
type SocketClient struct {
	socketPath string
	timeout    time.Duration
}

// NewSocketClient creates a new socket client
func NewSocketClient(socketPath string) *SocketClient {
	return &SocketClient{
		socketPath: socketPath,
		timeout:    5 * time.Second,
	}
}

// SetTimeout changes the connect and round trip timeout.
func (c *SocketClient) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// SendCommand sends a command and returns the response
func (c *SocketClient) SendCommand(cmd string) (*protocol.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to socket: %w", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.timeout))

	if _, err := conn.Write([]byte(cmd + "\n")); err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read error: %w", err)
		}
		return nil, fmt.Errorf("no response received")
	}

	var response protocol.Response
	if err := json.Unmarshal(scanner.Bytes(), &response); err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return &response, nil
}

// call sends cmd and fails on an error response.
func (c *SocketClient) call(cmd string) (*protocol.Response, error) {
	resp, err := c.SendCommand(cmd)
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("%s error: %s", cmd, resp.Error)
	}
	return resp, nil
}

// decodeField re-encodes one response field into out.
func decodeField(resp *protocol.Response, key string, out interface{}) error {
	value, ok := resp.Data[key]
	if !ok {
		return fmt.Errorf("%s not found in response", key)
	}
	data, _ := json.Marshal(value)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", key, err)
	}
	return nil
}

// GetStatus gets the current panel state and counters
func (c *SocketClient) GetStatus() (*protocol.Status, error) {
	resp, err := c.call(protocol.CmdStatus)
	if err != nil {
		return nil, err
	}

	var status protocol.Status
	if err := decodeField(resp, "status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RequestSnapshot asks the daemon to send a state snapshot to the host.
func (c *SocketClient) RequestSnapshot() error {
	_, err := c.call(protocol.CmdSnapshot)
	return err
}

// GetEvents returns recent journal entries, newest first.
func (c *SocketClient) GetEvents(limit int) ([]protocol.Event, error) {
	cmd := protocol.CmdEvents
	if limit > 0 {
		cmd = fmt.Sprintf("%s:%d", protocol.CmdEvents, limit)
	}

	resp, err := c.call(cmd)
	if err != nil {
		return nil, err
	}

	events := []protocol.Event{}
	if _, ok := resp.Data["events"]; !ok {
		return events, nil
	}
	if err := decodeField(resp, "events", &events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetStations returns the station table and its fallback code.
func (c *SocketClient) GetStations() ([]protocol.StationInfo, int, error) {
	resp, err := c.call(protocol.CmdStations)
	if err != nil {
		return nil, 0, err
	}

	var stations []protocol.StationInfo
	if err := decodeField(resp, "stations", &stations); err != nil {
		return nil, 0, err
	}
	var fallback int
	if err := decodeField(resp, "fallback", &fallback); err != nil {
		return nil, 0, err
	}
	return stations, fallback, nil
}

// Ping tests the connection
func (c *SocketClient) Ping() error {
	_, err := c.call(protocol.CmdPing)
	return err
}

// IsConnected tests if the daemon is reachable
func (c *SocketClient) IsConnected() bool {
	return c.Ping() == nil
}
