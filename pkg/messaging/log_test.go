package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/flightsurety/pkg/messaging"
)

func publishN(t *testing.T, log *messaging.Log, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		event, err := messaging.NewEvent(messaging.EventTypeOracleReport, messaging.OracleReportEvent{
			Responder: "0xoracle-001",
			Responses: i + 1,
		})
		require.NoError(t, err)
		require.NoError(t, log.Publish(context.Background(), event))
	}
}

func TestLogAssignsOffsets(t *testing.T) {
	log := messaging.NewLog()
	publishN(t, log, 3)

	assert.Equal(t, uint64(3), log.Len())

	events := log.Events(1)
	require.Len(t, events, 3)
	for i, event := range events {
		assert.Equal(t, uint64(i+1), event.Offset)
	}

	t.Run("publisher-set offsets are overwritten", func(t *testing.T) {
		event, err := messaging.NewEvent(messaging.EventTypeLedgerCredit, messaging.LedgerEntryEvent{})
		require.NoError(t, err)
		event.Offset = 999
		require.NoError(t, log.Publish(context.Background(), event))
		assert.Equal(t, uint64(4), log.Events(4)[0].Offset)
	})
}

func TestLogReplay(t *testing.T) {
	log := messaging.NewLog()
	publishN(t, log, 5)

	t.Run("from the middle", func(t *testing.T) {
		events := log.Events(3)
		require.Len(t, events, 3)
		assert.Equal(t, uint64(3), events[0].Offset)
	})

	t.Run("past the end", func(t *testing.T) {
		assert.Empty(t, log.Events(6))
	})

	t.Run("offset zero means genesis", func(t *testing.T) {
		assert.Len(t, log.Events(0), 5)
	})
}

func TestSubscribeReplaysThenTails(t *testing.T) {
	log := messaging.NewLog()
	publishN(t, log, 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := log.Subscribe(ctx, 2)

	for _, want := range []uint64{2, 3} {
		select {
		case event := <-ch:
			assert.Equal(t, want, event.Offset)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for offset %d", want)
		}
	}

	// A live publish reaches the open subscription.
	publishN(t, log, 1)
	select {
	case event := <-ch:
		assert.Equal(t, uint64(4), event.Offset)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should close on cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestSubscribeCancelWhileIdle(t *testing.T) {
	log := messaging.NewLog()

	// An idle subscriber waits on the condition variable. Cancelling must
	// wake it and close the channel even when nothing is ever published.
	for i := 0; i < 100; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ch := log.Subscribe(ctx, 1)
		cancel()

		select {
		case _, open := <-ch:
			assert.False(t, open, "channel should close on cancel")
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: subscriber not woken after cancel", i)
		}
	}
}

func TestParseEventData(t *testing.T) {
	event, err := messaging.NewEvent(messaging.EventTypeOracleRequest, messaging.OracleRequestEvent{
		Index:     7,
		Airline:   "0xA1",
		Flight:    "ND1309",
		Timestamp: 1700000000,
		FlightKey: "abc",
	})
	require.NoError(t, err)

	parsed, err := messaging.ParseEventData[messaging.OracleRequestEvent](event)
	require.NoError(t, err)
	assert.Equal(t, 7, parsed.Index)
	assert.Equal(t, "ND1309", parsed.Flight)
}

func TestMemoryCursors(t *testing.T) {
	cursors := messaging.NewMemoryCursors()
	ctx := context.Background()

	offset, err := cursors.Load(ctx, "0xoracle-001")
	require.NoError(t, err)
	assert.Zero(t, offset)

	require.NoError(t, cursors.Save(ctx, "0xoracle-001", 42))
	offset, err = cursors.Load(ctx, "0xoracle-001")
	require.NoError(t, err)
	assert.Equal(t, uint64(42), offset)

	// Consumers are independent.
	offset, err = cursors.Load(ctx, "0xoracle-002")
	require.NoError(t, err)
	assert.Zero(t, offset)
}

func TestFanout(t *testing.T) {
	first := messaging.NewLog()
	second := messaging.NewLog()
	fanout := messaging.Fanout{first, second}

	event, err := messaging.NewEvent(messaging.EventTypeAirlineFunded, messaging.AirlineEvent{Airline: "0xA1"})
	require.NoError(t, err)

	require.NoError(t, fanout.Publish(context.Background(), event))
	assert.Equal(t, uint64(1), first.Len())
	assert.Equal(t, uint64(1), second.Len())

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, fanout.Publish(cancelled, event))
}
