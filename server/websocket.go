package server

import (
	"errors"
	"evgateway/internal"
	"evgateway/session"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 32
)

var (
	ErrSocketClosed   = errors.New("socket closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// WebSocket is a client socket; writes go through a single pump goroutine.
type WebSocket struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger internal.LogHandler
}

func newWebSocket(conn *websocket.Conn, logger internal.LogHandler) *WebSocket {
	ws := &WebSocket{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go ws.writePump()
	return ws
}

func (ws *WebSocket) RemoteAddr() string {
	return ws.conn.RemoteAddr().String()
}

// Send queues the frame without blocking the caller.
func (ws *WebSocket) Send(data []byte) error {
	select {
	case <-ws.done:
		return ErrSocketClosed
	default:
	}
	select {
	case ws.send <- data:
		return nil
	case <-ws.done:
		return ErrSocketClosed
	default:
		observeDropped()
		return ErrSendBufferFull
	}
}

// Close sends a close frame with the code and closes the socket; the read loop
// then reports the close to the session manager.
func (ws *WebSocket) Close(code int, reason string) {
	ws.once.Do(func() {
		close(ws.done)
		_ = ws.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		_ = ws.conn.Close()
	})
}

func (ws *WebSocket) shutdown() {
	ws.once.Do(func() {
		close(ws.done)
		_ = ws.conn.Close()
	})
}

func (ws *WebSocket) writePump() {
	for {
		select {
		case <-ws.done:
			return
		case data := <-ws.send:
			ws.logger.RawDataEvent("OUT", string(data))
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.logger.Debug(fmt.Sprintf("write to %s failed: %v", ws.RemoteAddr(), err))
				ws.shutdown()
				return
			}
		}
	}
}

// readLoop feeds frames to the manager one at a time until the socket closes.
func (ws *WebSocket) readLoop(handler SessionHandler, h session.Handle) {
	ws.conn.SetReadLimit(maxMessageSize)
	code, reason := websocket.CloseAbnormalClosure, ""
	for {
		_, data, err := ws.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, reason = closeErr.Code, closeErr.Text
			} else {
				reason = err.Error()
			}
			break
		}
		ws.logger.RawDataEvent("IN", string(data))
		handler.OnMessage(h, data)
	}
	ws.shutdown()
	handler.OnClose(h, code, reason)
}
