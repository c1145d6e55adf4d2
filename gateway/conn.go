package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"node.town/voxrelay/call"
	"node.town/voxrelay/protocol"
	"node.town/voxrelay/session"
)

// ErrClosed is returned by Emit once the connection is gone.
var ErrClosed = errors.New("connection closed")

// conn is one websocket client and the session it owns. Reads happen on the
// serving goroutine, writes on writeLoop; everything else goes through Emit.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	id   string
	mode session.Mode
	log  *log.Logger

	ctx        context.Context
	cancel     context.CancelFunc
	out        chan []byte
	writerDone chan struct{}

	acc *call.Accumulator
	ctl *call.Controller
}

func newConn(s *Server, ws *websocket.Conn, mode session.Mode, requestID string) *conn {
	ctx, cancel := context.WithCancel(s.opts.BaseContext)
	id := s.opts.Store.Create(mode)

	c := &conn{
		srv:        s,
		ws:         ws,
		id:         id,
		mode:       mode,
		log:        s.log.With("session", id, "mode", mode, "request", requestID),
		ctx:        ctx,
		cancel:     cancel,
		out:        make(chan []byte, s.opts.OutboundBuffer),
		writerDone: make(chan struct{}),
	}

	sess, _ := s.opts.Store.Get(id)
	c.acc = call.NewAccumulator(sess, c.runTurn, call.Options{
		QuietPeriod: s.opts.QuietPeriod,
		Clock:       s.opts.Clock,
	})
	c.ctl = call.NewController(c.acc)
	return c
}

func (c *conn) serve() {
	go c.writeLoop()
	defer c.teardown()

	c.srv.opts.Metrics.SetSessions(c.srv.opts.Store.Len())
	c.log.Info("connected")
	c.emit(protocol.Session(c.id, c.mode == session.Continuous))

	c.readLoop()
}

func (c *conn) teardown() {
	c.acc.Close()
	c.srv.opts.Store.Delete(c.id)
	c.cancel()
	<-c.writerDone
	c.ws.Close()

	c.srv.opts.Metrics.SetSessions(c.srv.opts.Store.Len())
	c.log.Info("disconnected")
}

func (c *conn) pongWait() time.Duration {
	return 2 * c.srv.opts.PingInterval
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(c.srv.opts.MaxMessageBytes)
	c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && c.ctx.Err() == nil {
				c.log.Warn("read failed", "error", err)
			}
			return
		}
		if c.ctx.Err() != nil {
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.pongWait()))
		c.handle(data)
	}
}

func (c *conn) writeLoop() {
	defer close(c.writerDone)

	timeout := c.srv.opts.WriteTimeout
	ticker := time.NewTicker(c.srv.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.flush(timeout)
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(timeout),
			)
			// Wait briefly for the peer's close reply, then unblock readLoop.
			c.ws.SetReadDeadline(time.Now().Add(timeout))
			return
		case data := <-c.out:
			if err := c.write(data, timeout); err != nil {
				c.log.Debug("write failed", "error", err)
				c.cancel()
				c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(
				websocket.PingMessage, nil, time.Now().Add(timeout),
			); err != nil {
				c.log.Debug("ping failed", "error", err)
				c.cancel()
				c.ws.Close()
				return
			}
		}
	}
}

func (c *conn) write(data []byte, timeout time.Duration) error {
	c.ws.SetWriteDeadline(time.Now().Add(timeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// flush writes whatever is already queued when the connection shuts down.
func (c *conn) flush(timeout time.Duration) {
	for {
		select {
		case data := <-c.out:
			if err := c.write(data, timeout); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Emit queues an event for the writer. It blocks while the queue is full
// and fails with ErrClosed once the connection is torn down.
func (c *conn) Emit(event protocol.Event) error {
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case c.out <- data:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *conn) emit(event protocol.Event) {
	if err := c.Emit(event); err != nil {
		c.log.Debug("emit failed", "type", event.Type, "error", err)
	}
}

func (c *conn) runTurn(audio []byte) {
	if err := c.srv.opts.Turns.Run(c.ctx, c.id, audio, c); err != nil {
		c.log.Debug("turn ended", "error", err)
	}
}

// checkSession reports whether the session is still live, telling the
// client when it is not.
func (c *conn) checkSession() bool {
	if err := c.srv.opts.Store.Touch(c.id); err != nil {
		c.emit(protocol.Error(err.Error()))
		return false
	}
	return true
}

func (c *conn) handle(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		c.log.Warn("bad message", "error", err)
		c.emit(protocol.Error(err.Error()))
		return
	}

	switch msg.Type {
	case protocol.TypeAudio:
		c.handleAudio(msg)
	case protocol.TypeContinuousAudio:
		c.handleContinuousAudio(msg)
	case protocol.TypeStartCall:
		if !c.checkSession() {
			return
		}
		if c.ctl.Start() {
			c.log.Info("call started")
			c.emit(protocol.CallStatus(protocol.CallActive, "Call started. Listening..."))
		}
	case protocol.TypeEndCall:
		if !c.checkSession() {
			return
		}
		if c.ctl.End() {
			c.log.Info("call ended")
			c.emit(protocol.CallStatus(protocol.CallEnded, "Call ended"))
		}
	case protocol.TypeEnd:
		c.acc.Close()
		c.srv.opts.Store.Delete(c.id)
		c.srv.opts.Metrics.SetSessions(c.srv.opts.Store.Len())
		c.log.Info("conversation ended")
	default:
		c.log.Warn("unknown message type", "type", msg.Type)
	}
}

func (c *conn) handleAudio(msg protocol.Message) {
	if !c.checkSession() {
		return
	}
	audio, err := msg.AudioBytes()
	if err != nil {
		c.emit(protocol.Error(err.Error()))
		return
	}
	if !c.acc.Submit(audio) {
		c.emit(protocol.Error("still processing the previous message"))
	}
}

func (c *conn) handleContinuousAudio(msg protocol.Message) {
	sess, err := c.srv.opts.Store.Get(c.id)
	if err != nil {
		c.emit(protocol.Error(err.Error()))
		return
	}
	audio, err := msg.AudioBytes()
	if err != nil {
		c.emit(protocol.Error(err.Error()))
		return
	}
	accepted := c.acc.Append(audio)
	if accepted {
		c.srv.opts.Store.Touch(sess.ID)
	}
	c.srv.opts.Metrics.RecordFragment(accepted)
}
