package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dougsko/radiopanel/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T, maxEvents int) *Journal {
	t.Helper()
	j, err := NewJournal(MemoryPath, maxEvents)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func frequencyEvent(code int) protocol.Event {
	return protocol.Event{
		Timestamp: time.Date(2024, 3, 1, 12, 0, code, 0, time.UTC),
		Kind:      protocol.KindNewFrequency,
		Value:     code,
		Payload:   string(protocol.EncodeNewFrequency(code)),
		Delivered: true,
	}
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := newTestJournal(t, 0)

	first, err := j.Record(frequencyEvent(105))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.ID)

	failed := frequencyEvent(99)
	failed.Delivered = false
	failed.Error = "write /dev/ttyS0: input/output error"
	_, err = j.Record(failed)
	require.NoError(t, err)

	events, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(2), events[0].ID, "newest first")
	assert.Equal(t, 99, events[0].Value)
	assert.False(t, events[0].Delivered)
	assert.Equal(t, failed.Error, events[0].Error)

	assert.Equal(t, protocol.KindNewFrequency, events[1].Kind)
	assert.Equal(t, `{"command":"NewFrequency","frequency":105}`, events[1].Payload)
	assert.True(t, events[1].Delivered)
	assert.True(t, first.Timestamp.Equal(events[1].Timestamp))
}

func TestJournalRecentLimit(t *testing.T) {
	j := newTestJournal(t, 0)
	for code := 90; code < 95; code++ {
		_, err := j.Record(frequencyEvent(code))
		require.NoError(t, err)
	}

	events, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 94, events[0].Value)
	assert.Equal(t, 93, events[1].Value)

	all, err := j.Recent(0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestJournalEmpty(t *testing.T) {
	j := newTestJournal(t, 10)

	events, err := j.Recent(5)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	count, err := j.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestJournalPrunesOldest(t *testing.T) {
	j := newTestJournal(t, 3)
	for code := 100; code < 106; code++ {
		_, err := j.Record(frequencyEvent(code))
		require.NoError(t, err)
	}

	count, err := j.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	events, err := j.Recent(0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []int{105, 104, 103}, []int{events[0].Value, events[1].Value, events[2].Value})

	require.NoError(t, j.Prune())
	count, err = j.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestJournalDefaultsTimestamp(t *testing.T) {
	j := newTestJournal(t, 0)

	before := time.Now().Add(-time.Second)
	stored, err := j.Record(protocol.Event{Kind: protocol.KindButtonPressed, Value: 2, Payload: "{}"})
	require.NoError(t, err)
	assert.True(t, stored.Timestamp.After(before))
}

func TestJournalOnDisk(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "journal.db")

	j, err := NewJournal(dbPath, 100)
	require.NoError(t, err)
	_, err = j.Record(frequencyEvent(101))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = os.Stat(dbPath)
	require.NoError(t, err)

	reopened, err := NewJournal(dbPath, 100)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, dbPath, reopened.Path())
}
