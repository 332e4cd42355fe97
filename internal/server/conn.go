package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// outboundQueueSize bounds the per-connection write queue. A client that
// cannot drain 64 pending frames is slow enough to disconnect.
const outboundQueueSize = 64

// errSlowConsumer reports an outbound queue overflow.
var errSlowConsumer = errors.New("server: outbound queue overflow")

type outbound struct {
	kind websocket.MessageType
	data []byte

	// close marks a sentinel entry: the write pump shuts the transport down
	// once every frame queued ahead of it has been delivered.
	close  bool
	code   websocket.StatusCode
	reason string
}

// wsConn wraps a WebSocket with a serialized write pump and a bounded
// outbound queue. JSON and binary sends from any goroutine are delivered to
// the transport in FIFO order; on queue overflow the connection is closed
// with a backpressure error.
type wsConn struct {
	ws  *websocket.Conn
	log *slog.Logger

	queue chan outbound

	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, log *slog.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		log:    log,
		queue:  make(chan outbound, outboundQueueSize),
		closed: make(chan struct{}),
	}
}

// writePump serializes all outbound frames. Run exactly once per connection;
// returns when the connection closes or ctx is cancelled.
func (c *wsConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case out := <-c.queue:
			if out.close {
				c.close(out.code, out.reason)
				return
			}
			if err := c.ws.Write(ctx, out.kind, out.data); err != nil {
				c.log.Debug("write failed, closing connection", "error", err)
				c.close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// sendJSON enqueues a TEXT frame.
func (c *wsConn) sendJSON(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("server: marshal %s message: %w", msg.Type, err)
	}
	return c.enqueue(outbound{kind: websocket.MessageText, data: data})
}

// sendBinary enqueues a BINARY frame.
func (c *wsConn) sendBinary(data []byte) error {
	return c.enqueue(outbound{kind: websocket.MessageBinary, data: data})
}

func (c *wsConn) enqueue(out outbound) error {
	select {
	case <-c.closed:
		return errors.New("server: connection closed")
	case c.queue <- out:
		return nil
	default:
		c.log.Warn("outbound queue overflow, closing slow connection")
		c.close(websocket.StatusPolicyViolation, KindBackpressure)
		return errSlowConsumer
	}
}

// closeAfterDrain closes the connection behind every frame already queued,
// so a final status message still reaches the client.
func (c *wsConn) closeAfterDrain(code websocket.StatusCode, reason string) {
	_ = c.enqueue(outbound{close: true, code: code, reason: reason})
}

// close shuts the transport down once; later calls are no-ops.
func (c *wsConn) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close(code, reason)
	})
}

// closeAfterError sends a final error message directly (bypassing the queue)
// and closes. Used for setup failures before the pumps start.
func (c *wsConn) closeAfterError(ctx context.Context, kind, message string) {
	data, err := json.Marshal(errorMsg(kind, message))
	if err == nil {
		_ = c.ws.Write(ctx, websocket.MessageText, data)
	}
	c.close(websocket.StatusPolicyViolation, kind)
}
