// Package rundb records merge runs and the files they read and wrote in a
// ClickHouse database. Without a reachable server every call is a no-op.
package rundb

import (
	"context"
	"errors"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/attpc/merger"
	"github.com/oklog/ulid/v2"
)

const databaseName = "grawmerge" // official SQL name of the database

// inserter is the part of clickhouse.Conn used here.
type inserter interface {
	AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error
	Close() error
}

// Connection sends run records to the database from its own goroutine.
type Connection struct {
	conn    inserter
	err     error
	run     *RunMessage
	filemsg chan *FileMessage
	done    chan struct{} // closed by Finish
	stopped chan struct{} // closed when the connection goroutine returns
	mu      sync.Mutex
}

// NewRunID returns a new, time-ordered run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// NewRunMessage describes a run starting now on this host.
func NewRunMessage(output string, inputs int) *RunMessage {
	host, _ := os.Hostname()
	return &RunMessage{
		ID:        NewRunID(),
		Hostname:  host,
		Githash:   merger.Build.Githash,
		Version:   merger.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Inputs:    inputs,
		Output:    output,
		Start:     time.Now(),
	}
}

// IsConnected tells whether records will reach the database.
func (db *Connection) IsConnected() bool {
	if db == nil {
		return false
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn != nil && db.err == nil
}

// Err returns the first error met by the connection.
func (db *Connection) Err() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.err
}

// Start connects to the server at addr and records the start of run. The
// connection ends when ctx is cancelled or Finish is called. A server that
// cannot be reached is logged, and a connection that records nothing is
// returned.
func Start(ctx context.Context, addr string, run *RunMessage) *Connection {
	conn, err := dial(ctx, addr)
	if err != nil {
		merger.ProblemLogger.Printf("Run database at %s is not available: %v", addr, err)
		return DummyConnection()
	}
	return start(ctx, conn, run)
}

func start(ctx context.Context, conn inserter, run *RunMessage) *Connection {
	db := &Connection{
		conn:    conn,
		run:     run,
		filemsg: make(chan *FileMessage),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	db.logRun()
	go db.handleConnection(ctx)
	return db
}

// DummyConnection returns a connection that records nothing.
func DummyConnection() *Connection {
	return &Connection{}
}

func dial(ctx context.Context, addr string) (inserter, error) {
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: databaseName,
			Username: os.Getenv("GRAWMERGE_DB_USER"),
			Password: os.Getenv("GRAWMERGE_DB_PASSWORD"),
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "grawmerge", Version: merger.Build.Version},
			},
		},
		DialTimeout: 5 * time.Second,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		return nil, err
	}
	if err = conn.Ping(ctx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			merger.ProblemLogger.Printf("ClickHouse exception [%d] %s", exception.Code, exception.Message)
		}
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (db *Connection) handleConnection(ctx context.Context) {
	defer close(db.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-db.done:
			return
		case fmsg := <-db.filemsg:
			db.handleFileMessage(fmsg)
		}
	}
}

func (db *Connection) setErr(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.err == nil {
		db.err = err
	}
}

func (db *Connection) logRun() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	r := db.run
	s := r.Stats
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO mergeruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		r.ID, r.Hostname, r.Githash, r.Version, r.GoVersion, r.CPUs, r.Inputs, r.Output,
		r.Start.Format(timeFormat), r.End.Format(timeFormat),
		s.FramesRead, s.FramesSkipped, s.LateFrames, s.EventsBuilt, s.EventsDropped, s.EventsWritten,
	); err != nil {
		merger.ProblemLogger.Println("Error raised on AsyncInsert into mergeruns:", err)
		db.setErr(err)
	}
}

// RecordFile stores a FileMessage for the current run. It blocks until the
// connection goroutine accepts the message, so files recorded before Finish
// are never lost.
func (db *Connection) RecordFile(msg *FileMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.RunID = db.run.ID
	select {
	case db.filemsg <- msg:
	case <-db.stopped:
	}
}

func (db *Connection) handleFileMessage(m *FileMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(), `INSERT INTO files VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.RunID, m.Filename, m.Filetype, m.Source, m.Records, m.Size,
		m.Start.Format(timeFormat), m.End.Format(timeFormat),
	); err != nil {
		merger.ProblemLogger.Println("Error raised on AsyncInsert into files:", err)
		db.setErr(err)
	}
}

// Finish records the end of the run with its final stats, then stops the
// connection goroutine and closes the connection. Call it once.
func (db *Connection) Finish(stats merger.StatsSnapshot) {
	if db == nil || db.done == nil {
		return
	}
	close(db.done)
	<-db.stopped
	db.run.End = time.Now()
	db.run.Stats = stats
	// The mergeruns table is a ReplacingMergeTree keyed on the run id, so
	// this row supersedes the one written at the start.
	db.logRun()
	if err := db.conn.Close(); err != nil {
		merger.ProblemLogger.Println("Error closing the run database:", err)
	}
}
