package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Command represents a command sent to the core engine
type Command struct {
	Type string                 `json:"type"`
	Args map[string]interface{} `json:"args,omitempty"`
}

// Response represents a response from the core engine
type Response struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Event is one message handed to the transmitter, as kept in the journal
// and streamed to subscribers.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Value     int       `json:"value"`
	Payload   string    `json:"payload"`
	Delivered bool      `json:"delivered"`
	Error     string    `json:"error,omitempty"`
}

// Counters summarize the work done by the poll loop.
type Counters struct {
	Cycles             uint64 `json:"cycles"`
	Transmitted        uint64 `json:"transmitted"`
	FailedMeasurements uint64 `json:"failed_measurements"`
	TransmitErrors     uint64 `json:"transmit_errors"`
	SnapshotRequests   uint64 `json:"snapshot_requests"`
}

// Status represents the current daemon status
type Status struct {
	Snapshot
	Playing    bool      `json:"playing"`
	Counters   Counters  `json:"counters"`
	Backend    string    `json:"backend"`
	Running    bool      `json:"running"`
	LastUpdate time.Time `json:"last_update"`
	StartTime  time.Time `json:"start_time"`
	Uptime     string    `json:"uptime"`
	Version    string    `json:"version"`
}

// StationInfo is one row of the station table.
type StationInfo struct {
	MaxChargeMicros int64 `json:"max_charge_micros"`
	Code            int   `json:"code"`
}

// ParseCommand parses a text command into a Command struct
func ParseCommand(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}
	parts := strings.SplitN(text, ":", 2)

	cmd := &Command{
		Type: strings.ToUpper(parts[0]),
		Args: make(map[string]interface{}),
	}

	if len(parts) > 1 {
		args := strings.TrimSpace(parts[1])

		switch cmd.Type {
		case CmdEvents:
			// EVENTS:25
			limit, err := strconv.Atoi(args)
			if err != nil || limit <= 0 {
				return nil, fmt.Errorf("invalid event limit %q", args)
			}
			cmd.Args["limit"] = limit
		}
	}

	return cmd, nil
}

// String converts a Response to a JSON line
func (r *Response) String() string {
	data, _ := json.Marshal(r)
	return string(data)
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data map[string]interface{}) *Response {
	return &Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// Control socket commands
const (
	CmdStatus   = "STATUS"
	CmdSnapshot = "SNAPSHOT"
	CmdEvents   = "EVENTS"
	CmdStations = "STATIONS"
	CmdPing     = "PING"
	CmdQuit     = "QUIT"
)
