package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	t.Run("STATUS Command", func(t *testing.T) {
		cmd, err := ParseCommand("status\n")
		require.NoError(t, err)
		assert.Equal(t, CmdStatus, cmd.Type)
		assert.Empty(t, cmd.Args)
	})

	t.Run("EVENTS With Limit", func(t *testing.T) {
		cmd, err := ParseCommand("EVENTS:25")
		require.NoError(t, err)
		assert.Equal(t, CmdEvents, cmd.Type)
		assert.Equal(t, 25, cmd.Args["limit"])
	})

	t.Run("EVENTS Bad Limit", func(t *testing.T) {
		_, err := ParseCommand("EVENTS:lots")
		assert.ErrorContains(t, err, "invalid event limit")

		_, err = ParseCommand("EVENTS:0")
		assert.Error(t, err)
	})

	t.Run("Unknown Commands Pass Through", func(t *testing.T) {
		cmd, err := ParseCommand("reboot:now")
		require.NoError(t, err)
		assert.Equal(t, "REBOOT", cmd.Type)
	})

	t.Run("Empty Command", func(t *testing.T) {
		_, err := ParseCommand("   ")
		assert.Error(t, err)
	})
}

func TestResponse(t *testing.T) {
	ok := NewSuccessResponse(map[string]interface{}{"pong": true})
	assert.Equal(t, `{"success":true,"data":{"pong":true}}`, ok.String())

	bad := NewErrorResponse("unknown command: REBOOT")
	assert.Equal(t, `{"success":false,"error":"unknown command: REBOOT"}`, bad.String())
}

func TestStatusJSON(t *testing.T) {
	status := Status{
		Snapshot:  Snapshot{ButtonIndex: 2, IsPause: true, Frequency: 101},
		Playing:   false,
		Counters:  Counters{Cycles: 10, Transmitted: 3},
		Backend:   "sim",
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(status)
	require.NoError(t, err)

	text := string(data)
	assert.True(t, strings.HasPrefix(text, `{"buttonIndex":2,"isPause":1,"frequency":101,"playing":false,`), text)
	assert.Contains(t, text, `"counters":{"cycles":10,"transmitted":3,`)

	var decoded Status
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, status.Snapshot, decoded.Snapshot)
	assert.Equal(t, status.Counters, decoded.Counters)
}
