package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/inventory-live/internal/events"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []Entry
	writes  int
	err     error
	skip    int // entries reported as already present, per write
}

func (s *fakeSink) Write(_ context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return 0, s.err
	}
	s.entries = append(s.entries, entries...)
	return len(entries) - s.skip, nil
}

func (s *fakeSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Name
	}
	return out
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func domain(name string) events.Domain {
	return events.Domain{Name: name, Payload: json.RawMessage(`{"sesionId":"42"}`)}
}

func stopJournal(t *testing.T, j *Journal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
}

func TestNewEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	e, err := newEntry(domain(events.ProductAdded), now)
	require.NoError(t, err)
	assert.Equal(t, "domain", e.Kind)
	assert.Equal(t, events.ProductAdded, e.Name)
	assert.JSONEq(t, `{"sesionId":"42"}`, string(e.Payload))
	assert.Equal(t, now, e.RecordedAt)
	assert.NotEqual(t, e.ID.String(), "00000000-0000-0000-0000-000000000000")

	e, err = newEntry(events.Disconnected{Reason: "transport close"}, now)
	require.NoError(t, err)
	assert.Equal(t, "disconnected", e.Kind)
	assert.Equal(t, "disconnected", e.Name)
	assert.JSONEq(t, `{"Reason":"transport close"}`, string(e.Payload))

	e, err = newEntry(events.Domain{Name: events.SessionCompleted}, now)
	require.NoError(t, err)
	assert.Equal(t, "null", string(e.Payload))
}

func TestJournal_FlushesFullBatch(t *testing.T) {
	sink := &fakeSink{}
	j := New(Config{BatchSize: 3, FlushInterval: time.Hour}, sink, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, j.Start(context.Background()))
	defer stopJournal(t, j)

	for _, name := range []string{events.ProductAdded, events.ProductUpdated, events.ProductRemoved} {
		assert.True(t, j.Record(domain(name)))
	}

	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{events.ProductAdded, events.ProductUpdated, events.ProductRemoved}, sink.names())
}

func TestJournal_FlushesOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sink := &fakeSink{}
	j := New(Config{BatchSize: 10, FlushInterval: 2 * time.Second}, sink, WithClock(clock))
	require.NoError(t, j.Start(context.Background()))
	defer stopJournal(t, j)

	j.Record(domain(events.SessionUpdated))
	j.Record(domain(events.FinancialsUpdated))
	require.Eventually(t, func() bool { return j.pending() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sink.count())

	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), j.Stats().Flushes)
}

func TestJournal_StopFlushesRemaining(t *testing.T) {
	sink := &fakeSink{}
	j := New(Config{BatchSize: 10, FlushInterval: time.Hour}, sink, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, j.Start(context.Background()))

	for i := 0; i < 4; i++ {
		j.Record(domain(events.ProductAdded))
	}
	stopJournal(t, j)

	assert.Equal(t, 4, sink.count())
	assert.Equal(t, int64(4), j.Stats().Written)
	assert.False(t, j.Record(domain(events.ProductAdded)), "record after stop")
}

func TestJournal_StopWithoutStart(t *testing.T) {
	sink := &fakeSink{}
	j := New(Config{BatchSize: 10}, sink)

	j.Record(domain(events.UserConnected))
	j.Record(domain(events.UserDisconnected))
	stopJournal(t, j)

	assert.Equal(t, []string{events.UserConnected, events.UserDisconnected}, sink.names())
}

func TestJournal_SinkError(t *testing.T) {
	sink := &fakeSink{err: errors.New("connection refused")}
	j := New(Config{BatchSize: 1, FlushInterval: time.Hour}, sink, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, j.Start(context.Background()))
	defer stopJournal(t, j)

	j.Record(domain(events.ProductAdded))

	require.Eventually(t, func() bool { return j.Stats().Errors == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), j.Stats().Written)
}

func TestJournal_CountsDuplicates(t *testing.T) {
	sink := &fakeSink{skip: 1}
	j := New(Config{BatchSize: 2, FlushInterval: time.Hour}, sink, WithClock(clockwork.NewFakeClock()))
	require.NoError(t, j.Start(context.Background()))
	defer stopJournal(t, j)

	j.Record(domain(events.ProductAdded))
	j.Record(domain(events.ProductAdded))

	require.Eventually(t, func() bool { return j.Stats().Flushes == 1 }, time.Second, 5*time.Millisecond)
	stats := j.Stats()
	assert.Equal(t, int64(1), stats.Written)
	assert.Equal(t, int64(1), stats.Duplicates)
}

func TestJournal_QueueLimit(t *testing.T) {
	j := New(Config{BatchSize: 1, MaxQueue: 1}, &fakeSink{})

	assert.True(t, j.Record(domain(events.ProductAdded)))
	assert.False(t, j.Record(domain(events.ProductAdded)))
	assert.Equal(t, int64(1), j.Stats().Queue.Dropped)
}

func TestJournal_Attach(t *testing.T) {
	tests := []struct {
		name      string
		lifecycle bool
		want      int64
	}{
		{name: "domain only", lifecycle: false, want: 1},
		{name: "with lifecycle", lifecycle: true, want: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := events.NewBus(nil)
			j := New(Config{Lifecycle: tt.lifecycle}, &fakeSink{})

			detach := j.Attach(bus)
			bus.Publish(
				events.Connected{SocketID: "abc"},
				domain(events.OnlineCollaboratorsCount),
				events.TokenRefreshed{ExpiresAt: time.Now()},
			)
			assert.Equal(t, tt.want, j.Stats().Queue.Pushed)

			detach()
			bus.Publish(domain(events.ProductAdded))
			assert.Equal(t, tt.want, j.Stats().Queue.Pushed)
		})
	}
}
