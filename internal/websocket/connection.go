package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relayhub/pkg/types"
)

const maxCloseReasonBytes = 120

type outbound struct {
	data        []byte
	close       bool
	closeCode   int
	closeReason string
}

// Connection wraps one admitted socket. All data frames go through a single
// writer goroutine; control frames use gorilla's concurrent-safe WriteControl.
type Connection struct {
	conn        *websocket.Conn
	id          string
	sessionID   string
	role        types.Role
	connectedAt time.Time
	opts        Options
	logger      zerolog.Logger

	writeCh   chan outbound
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closing   sync.Once
}

// NewConnection starts the writer goroutine for ws.
func NewConnection(ws *websocket.Conn, id, sessionID string, role types.Role, connectedAt time.Time, opts Options, logger zerolog.Logger) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:        ws,
		id:          id,
		sessionID:   sessionID,
		role:        role,
		connectedAt: connectedAt,
		opts:        opts,
		logger:      logger.With().Str("conn_id", id).Str("session_id", sessionID).Str("role", string(role)).Logger(),
		writeCh:     make(chan outbound, opts.SendBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}
	go c.writeLoop()
	return c
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) SessionID() string { return c.sessionID }

func (c *Connection) Role() types.Role { return c.role }

func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Done is closed once the connection has been torn down.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Send queues payload without blocking. Frames for a closed connection, or
// beyond a full buffer, are dropped.
func (c *Connection) Send(payload []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.writeCh <- outbound{data: payload}:
		return true
	case <-c.ctx.Done():
		return false
	default:
		c.logger.Warn().Err(ErrSendBufferFull).Msg("dropping frame")
		return false
	}
}

// CloseWith queues a close frame behind any pending data and tears the socket
// down once it is written.
func (c *Connection) CloseWith(code int, reason string) {
	if len(reason) > maxCloseReasonBytes {
		reason = reason[:maxCloseReasonBytes]
	}
	c.closing.Do(func() {
		select {
		case c.writeCh <- outbound{close: true, closeCode: code, closeReason: reason}:
		default:
			c.writeClose(code, reason)
			_ = c.Close()
		}
	})
}

// Close tears the socket down immediately.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func (c *Connection) writeClose(code int, reason string) {
	if c.conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.opts.WriteTimeout))
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case out := <-c.writeCh:
			if out.close {
				c.writeClose(out.closeCode, out.closeReason)
				_ = c.Close()
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, out.data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}
