package realtime

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/localize"
)

// Conn is the transport behind one client connection. Send must not block: a full
// buffer or a closed transport returns an error instead.
type Conn interface {
	Send(msg Message) error
	Ping() error
	Close(reason string)
}

// PacedConn is a Conn that can wait for room in its send buffer. Mailbox replay
// uses it so a mailbox larger than the buffer goes out in one pass.
type PacedConn interface {
	Conn
	SendWait(ctx context.Context, msg Message) error
}

// Message is the envelope written to clients.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	LocalTime string    `json:"localTime,omitempty"`
}

// Localizable payloads are rewritten into each recipient's timezone before sending.
type Localizable interface {
	Localize(loc *time.Location) any
}

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateDisconnected
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Connection is a live client registered with the Manager.
type Connection struct {
	ID          string
	Identity    domain.Identity
	ConnectedAt time.Time

	conn     Conn
	location *time.Location
	state    atomic.Int32

	// guarded by Manager.mu
	groups map[string]struct{}
}

func newConnection(id string, identity domain.Identity, conn Conn, now time.Time) *Connection {
	loc, ok := localize.Location(identity.Timezone)
	if !ok {
		identity.Timezone = "UTC"
	}
	return &Connection{
		ID:          id,
		Identity:    identity,
		ConnectedAt: now,
		conn:        conn,
		location:    loc,
		groups:      make(map[string]struct{}),
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// activate moves an authenticated connection to Active. It fails once the
// connection has been finished.
func (c *Connection) activate() bool {
	return c.state.CompareAndSwap(int32(StateAuthenticated), int32(StateActive))
}

// finish moves the connection into a terminal state. Only the first call wins.
func (c *Connection) finish(terminal State) bool {
	for {
		cur := State(c.state.Load())
		if cur == StateDisconnected || cur == StateRejected {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(terminal)) {
			return true
		}
	}
}

// localized builds the message as this connection's user should see it.
func (c *Connection) localized(msgType string, data any, now time.Time) Message {
	if l, ok := data.(Localizable); ok {
		data = l.Localize(c.location)
	}
	return Message{
		Type:      msgType,
		Data:      data,
		Timestamp: now,
		LocalTime: now.In(c.location).Format(time.RFC3339),
	}
}
