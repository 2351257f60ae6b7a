// Package websocket carries realtime connections over gorilla/websocket. Each
// transport owns one writer goroutine; everything else hands it frames through a
// buffered channel.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/adapter/metrics"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/domain"
	"github.com/Seedline-Foundation/Coindailynow-sub008/internal/realtime"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	messageBufferSize = 256
)

var errBufferFull = errors.New("send buffer full")

// Transport implements realtime.Conn on a gorilla connection.
type Transport struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	metrics     *metrics.WebSocketMetrics
	pongTimeout time.Duration

	sendChannel chan []byte
	pingChannel chan struct{}
	doneChannel chan struct{}
	closed      atomic.Bool
	started     atomic.Bool
	stopOnce    sync.Once
	wg          sync.WaitGroup

	pingSentAt atomic.Int64
	onPong     func(latency time.Duration)
}

var _ realtime.PacedConn = (*Transport)(nil)

// NewTransport wraps connection. Messages sent before Start are buffered.
func NewTransport(connection *websocket.Conn, clock clockwork.Clock, m *metrics.WebSocketMetrics, pongTimeout time.Duration) *Transport {
	return &Transport{
		connection:  connection,
		clock:       clock,
		metrics:     m,
		pongTimeout: pongTimeout,
		sendChannel: make(chan []byte, messageBufferSize),
		pingChannel: make(chan struct{}, 1),
		doneChannel: make(chan struct{}),
	}
}

// Start launches the writer. onPong receives the round trip of every answered ping.
// Start on a closed transport does nothing.
func (t *Transport) Start(onPong func(latency time.Duration)) {
	if t.closed.Load() {
		return
	}
	t.onPong = onPong
	t.configurePongHandler()
	t.started.Store(true)
	t.metrics.ActiveConnections.Inc()
	t.wg.Add(1)
	go t.run()
}

func (t *Transport) Send(msg realtime.Message) error {
	data, err := t.encode(msg)
	if err != nil {
		return err
	}

	select {
	case t.sendChannel <- data:
		return nil
	default:
		return errBufferFull
	}
}

// SendWait queues msg, waiting up to the write deadline for the writer to free a
// slot. Before Start nothing drains the buffer, so it behaves like Send.
func (t *Transport) SendWait(ctx context.Context, msg realtime.Message) error {
	if !t.started.Load() {
		return t.Send(msg)
	}
	data, err := t.encode(msg)
	if err != nil {
		return err
	}

	select {
	case t.sendChannel <- data:
		return nil
	default:
	}

	timeout := t.clock.NewTimer(writeDeadline)
	defer timeout.Stop()
	select {
	case t.sendChannel <- data:
		return nil
	case <-t.doneChannel:
		return domain.ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout.Chan():
		return errBufferFull
	}
}

func (t *Transport) encode(msg realtime.Message) ([]byte, error) {
	if t.closed.Load() {
		return nil, domain.ErrConnectionClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", msg.Type, err)
	}
	return data, nil
}

// Ping asks the writer for an immediate ping frame.
func (t *Transport) Ping() error {
	if t.closed.Load() {
		return domain.ErrConnectionClosed
	}
	select {
	case t.pingChannel <- struct{}{}:
	default:
	}
	return nil
}

// Close sends a close frame carrying reason and closes the connection.
func (t *Transport) Close(reason string) {
	t.stopGraceful(reason)
}

func (t *Transport) run() {
	ticker := t.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer t.wg.Done()

	for {
		select {
		case msg := <-t.sendChannel:
			start := t.clock.Now()
			t.updateWriteDeadline()
			if err := t.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.metrics.SendFailures.WithLabelValues("write").Inc()
				t.closed.Store(true)
				return
			}
			t.metrics.MessagesSent.Inc()
			t.metrics.SendDuration.Observe(t.clock.Since(start).Seconds())
		case <-ticker.Chan():
			if !t.writePing() {
				return
			}
		case <-t.pingChannel:
			if !t.writePing() {
				return
			}
		case <-t.doneChannel:
			return
		}
	}
}

func (t *Transport) writePing() bool {
	t.updateWriteDeadline()
	t.pingSentAt.Store(t.clock.Now().UnixNano())
	if err := t.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
		t.metrics.SendFailures.WithLabelValues("ping").Inc()
		t.closed.Store(true)
		return false
	}
	return true
}

// stop closes the connection without a close frame. Used once the peer is gone.
func (t *Transport) stop() {
	t.stopOnce.Do(func() {
		t.closed.Store(true)
		close(t.doneChannel)
		_ = t.connection.Close()
		t.finish()
	})
	t.wg.Wait()
}

func (t *Transport) stopGraceful(reason string) {
	t.stopOnce.Do(func() {
		t.closed.Store(true)
		close(t.doneChannel)

		// The writer must be gone before the close frame goes out.
		t.wg.Wait()
		t.flush()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		t.updateWriteDeadline()
		_ = t.connection.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = t.connection.Close()
		t.finish()
	})
}

// flush writes whatever is still buffered. Only called after the writer exited.
func (t *Transport) flush() {
	for {
		select {
		case msg := <-t.sendChannel:
			t.updateWriteDeadline()
			if err := t.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			t.metrics.MessagesSent.Inc()
		default:
			return
		}
	}
}

func (t *Transport) finish() {
	if t.started.Load() {
		t.metrics.ActiveConnections.Dec()
	}
}

func (t *Transport) configurePongHandler() {
	t.updateReadDeadline()
	t.connection.SetPongHandler(func(string) error {
		t.updateReadDeadline()
		if sent := t.pingSentAt.Load(); sent > 0 && t.onPong != nil {
			t.onPong(t.clock.Since(time.Unix(0, sent)))
		}
		return nil
	})
}

func (t *Transport) updateWriteDeadline() {
	_ = t.connection.SetWriteDeadline(t.clock.Now().Add(writeDeadline))
}

func (t *Transport) updateReadDeadline() {
	_ = t.connection.SetReadDeadline(t.clock.Now().Add(t.pongTimeout))
}
