// Package scopedb records scope sessions and measurement snapshots to a
// ClickHouse database, when one is reachable. Every entry point tolerates
// an absent server: the daemon must run fine without a database.
package scopedb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "scope" // official SQL name of the database

// Connection owns the ClickHouse connection and the message channels that
// feed it. Use StartConnection; the zero value records nothing.
type Connection struct {
	conn        clickhouse.Conn
	err         error
	session     *SessionMessage
	snapshotmsg chan *SnapshotMessage
	sync.WaitGroup
}

// IsConnected reports whether the database can accept inserts.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable and prints its
// version.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected: %v", db.err)
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	return db.conn.Close()
}

// StartConnection opens the database, logs the session row, and starts the
// goroutine that drains snapshot messages until abort is closed.
func StartConnection(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.session = session
	db.logSession()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a Connection that accepts and discards messages,
// for use when recording is disabled. It starts no goroutine, so Wait
// returns immediately.
func DummyConnection() *Connection {
	return &Connection{}
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("SCOPE_DB_USER"),
		Password: os.Getenv("SCOPE_DB_PASSWORD"),
	}
	addr := os.Getenv("SCOPE_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	opt := clickhouse.Options{
		Addr: []string{addr},
		Auth: auth,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err := conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.snapshotmsg = make(chan *SnapshotMessage)
	return db
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	s := db.session
	formattedStart := s.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := s.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO scopesessions VALUES (?, ?, ?, ?, ?, ?)`, nowait,
		s.ID, s.Hostname, s.Version, s.GoVersion, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into scopesessions ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case msg := <-db.snapshotmsg:
			db.handleSnapshotMessage(msg)
		}
	}
}

// Disconnect re-logs the session row with its end time filled in.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.session.End = time.Now()
		db.logSession()
	}
}

// RecordSnapshot queues a measurement snapshot for insertion. It never
// blocks the caller and is a no-op without a connection.
func (db *Connection) RecordSnapshot(msg *SnapshotMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.snapshotmsg <- msg }()
}

func (db *Connection) handleSnapshotMessage(m *SnapshotMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedTime := m.Time.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO measurements VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.SessionID, formattedTime, m.VMax, m.VMin, m.VAvg, m.VPP, m.FrequencyHz, m.PeriodMS,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into measurements ", err)
		db.err = err
	}
}
