package rundb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/attpc/merger"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type insert struct {
	table string
	args  []any
}

// fakeConn keeps every insert instead of sending it.
type fakeConn struct {
	sync.Mutex
	inserts []insert
	fail    error
	closed  bool
}

func (c *fakeConn) AsyncInsert(_ context.Context, query string, _ bool, args ...any) error {
	c.Lock()
	defer c.Unlock()
	if c.fail != nil {
		return c.fail
	}
	table := strings.Fields(query)[2]
	c.inserts = append(c.inserts, insert{table, args})
	return nil
}

func (c *fakeConn) Close() error {
	c.Lock()
	defer c.Unlock()
	c.closed = true
	return nil
}

func TestRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	id, err := ulid.Parse(a)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), ulid.Time(id.Time()), time.Minute)
}

func TestRecordRun(t *testing.T) {
	conn := &fakeConn{}
	run := NewRunMessage("run.evt", 2)
	db := start(context.Background(), conn, run)
	require.True(t, db.IsConnected())

	db.RecordFile(&FileMessage{Filename: "cobo0.graw", Filetype: "graw", Records: 10})
	db.RecordFile(&FileMessage{Filename: "run.evt", Filetype: "evt", Source: -1, Records: 5})
	db.Finish(merger.StatsSnapshot{EventsWritten: 5})

	require.Len(t, conn.inserts, 4)
	assert.Equal(t, "mergeruns", conn.inserts[0].table)
	assert.Equal(t, "files", conn.inserts[1].table)
	assert.Equal(t, run.ID, conn.inserts[1].args[0], "files carry the run id")
	assert.Equal(t, "run.evt", conn.inserts[2].args[1])
	last := conn.inserts[3]
	assert.Equal(t, "mergeruns", last.table)
	assert.Equal(t, run.ID, last.args[0])
	assert.Equal(t, int64(5), last.args[len(last.args)-1])
	assert.True(t, conn.closed)
	assert.False(t, run.End.Before(run.Start))
}

func TestInsertError(t *testing.T) {
	conn := &fakeConn{fail: errors.New("table missing")}
	db := start(context.Background(), conn, NewRunMessage("x.evt", 1))
	assert.False(t, db.IsConnected())
	assert.EqualError(t, db.Err(), "table missing")
	// Later records are dropped without blocking.
	db.RecordFile(&FileMessage{Filename: "a.graw"})
	db.Finish(merger.StatsSnapshot{})
	assert.Empty(t, conn.inserts)
}

func TestCancelledConnection(t *testing.T) {
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	db := start(ctx, conn, NewRunMessage("x.evt", 1))
	cancel()
	done := make(chan struct{})
	go func() {
		db.RecordFile(&FileMessage{Filename: "a.graw"})
		db.Finish(merger.StatsSnapshot{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("connection blocked after cancel")
	}
}

func TestDummyConnection(t *testing.T) {
	db := DummyConnection()
	assert.False(t, db.IsConnected())
	db.RecordFile(&FileMessage{Filename: "a.graw"})
	db.Finish(merger.StatsSnapshot{})

	var none *Connection
	assert.False(t, none.IsConnected())
	none.Finish(merger.StatsSnapshot{})
}
