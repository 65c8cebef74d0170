package publish

import (
	"errors"
	"testing"
	"time"

	"github.com/attpc/merger"
	"github.com/attpc/merger/hardware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	n   int
	err error
}

func (c *countingSink) WriteEvent(*merger.Event) error {
	if c.err != nil {
		return c.err
	}
	c.n++
	return nil
}

func testEvent(t *testing.T) *merger.Event {
	t.Helper()
	e := merger.NewEvent(nil)
	e.ID, e.Time = 42, 420
	tr := merger.NewTrace(hardware.Address{Cobo: 1, Aget: 2, Channel: 3}, 77)
	require.NoError(t, tr.AppendSample(5, -12))
	e.AddTrace(tr)
	return e
}

func TestPublishEvents(t *testing.T) {
	const addr = "inproc://publish-events"
	next := &countingSink{}
	p, err := New(addr, next)
	require.NoError(t, err)
	defer p.Close()
	s, err := Subscribe(addr, TopicEvent)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetTimeout(20*time.Millisecond))

	// A new subscription takes a moment to reach the publisher; messages
	// sent before then are lost.
	e := testEvent(t)
	var got *merger.Event
	for range 100 {
		require.NoError(t, p.WriteEvent(e))
		topic, ev, _, err := s.Receive()
		if err == nil {
			assert.Equal(t, TopicEvent, topic)
			got = ev
			break
		}
	}
	require.NotNil(t, got, "no event received")
	assert.Equal(t, uint32(42), got.ID)
	assert.Equal(t, uint64(420), got.Time)
	tr := got.Trace(hardware.Address{Cobo: 1, Aget: 2, Channel: 3})
	require.NotNil(t, tr)
	assert.Equal(t, uint16(77), tr.Pad)
	v, ok := tr.GetSample(5)
	assert.True(t, ok)
	assert.Equal(t, int16(-12), v)
	assert.Equal(t, next.n, p.Sent())
}

func TestPublishStatusOnly(t *testing.T) {
	const addr = "inproc://publish-status"
	p, err := New(addr, nil)
	require.NoError(t, err)
	defer p.Close()
	s, err := Subscribe(addr, TopicStatus)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.SetTimeout(20*time.Millisecond))

	var payload []byte
	for range 100 {
		// Events are filtered out by the subscription.
		require.NoError(t, p.WriteEvent(testEvent(t)))
		p.Status(merger.StatsSnapshot{EventsWritten: 3})
		topic, ev, b, err := s.Receive()
		if err == nil {
			assert.Equal(t, TopicStatus, topic)
			assert.Nil(t, ev)
			payload = b
			break
		}
	}
	assert.Contains(t, string(payload), "3 written")
}

func TestPublishSinkError(t *testing.T) {
	boom := errors.New("disk full")
	p, err := New("inproc://publish-error", &countingSink{err: boom})
	require.NoError(t, err)
	defer p.Close()
	assert.ErrorIs(t, p.WriteEvent(testEvent(t)), boom)
	assert.Equal(t, 0, p.Sent())
}
