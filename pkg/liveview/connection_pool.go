package liveview

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type poolClient struct {
	conn wsConn
	send chan []byte
}

// ConnectionPool manages the websocket viewers of one conversation.
// Every connection gets its own writer goroutine and send buffer; a viewer
// that falls behind by more than the buffer is dropped instead of stalling the
// broadcast.
type ConnectionPool struct {
	convID       string
	mu           sync.Mutex
	clients      map[wsConn]*poolClient
	idleTimer    *time.Timer
	idleTimeout  time.Duration
	onIdle       func()
	sendBuffer   int
	writeTimeout time.Duration
}

func NewConnectionPool(convID string, idleTimeout time.Duration, onIdle func()) *ConnectionPool {
	return &ConnectionPool{
		convID:       convID,
		clients:      map[wsConn]*poolClient{},
		idleTimeout:  idleTimeout,
		onIdle:       onIdle,
		sendBuffer:   64,
		writeTimeout: 10 * time.Second,
	}
}

func (cp *ConnectionPool) Add(conn wsConn) {
	if cp == nil || conn == nil {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if _, ok := cp.clients[conn]; ok {
		return
	}
	c := &poolClient{conn: conn, send: make(chan []byte, cp.sendBuffer)}
	cp.clients[conn] = c
	cp.stopIdleTimerLocked()
	go cp.writeLoop(c)
}

func (cp *ConnectionPool) Remove(conn wsConn) {
	if cp == nil || conn == nil {
		_ = closeConn(conn)
		return
	}
	cp.mu.Lock()
	cp.dropLocked(conn)
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
	_ = closeConn(conn)
}

func (cp *ConnectionPool) Broadcast(data []byte) {
	if cp == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	for conn, c := range cp.clients {
		if !enqueue(c, data) {
			log.Warn().Str("component", "liveview").Str("conv_id", cp.convID).Msg("ws send buffer full, dropping connection")
			cp.dropLocked(conn)
		}
	}
	cp.scheduleIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) SendToOne(conn wsConn, data []byte) {
	if cp == nil || conn == nil || len(data) == 0 {
		return
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	c, ok := cp.clients[conn]
	if !ok {
		return
	}
	if !enqueue(c, data) {
		log.Warn().Str("component", "liveview").Str("conv_id", cp.convID).Msg("ws send buffer full, dropping connection")
		cp.dropLocked(conn)
		cp.scheduleIdleTimerLocked()
	}
}

func (cp *ConnectionPool) Count() int {
	if cp == nil {
		return 0
	}
	cp.mu.Lock()
	defer cp.mu.Unlock()
	return len(cp.clients)
}

func (cp *ConnectionPool) IsEmpty() bool {
	return cp.Count() == 0
}

func (cp *ConnectionPool) CloseAll() {
	if cp == nil {
		return
	}
	cp.mu.Lock()
	for conn := range cp.clients {
		cp.dropLocked(conn)
	}
	cp.stopIdleTimerLocked()
	cp.mu.Unlock()
}

func (cp *ConnectionPool) writeLoop(c *poolClient) {
	for data := range c.send {
		if cp.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(cp.writeTimeout))
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warn().Err(err).Str("component", "liveview").Str("conv_id", cp.convID).Msg("ws write failed, dropping connection")
			cp.Remove(c.conn)
			return
		}
	}
}

// dropLocked forgets conn, stops its writer and closes the socket.
func (cp *ConnectionPool) dropLocked(conn wsConn) {
	c, ok := cp.clients[conn]
	if !ok {
		return
	}
	delete(cp.clients, conn)
	close(c.send)
	_ = closeConn(conn)
}

func enqueue(c *poolClient, data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (cp *ConnectionPool) stopIdleTimerLocked() {
	if cp.idleTimer != nil {
		cp.idleTimer.Stop()
		cp.idleTimer = nil
	}
}

func (cp *ConnectionPool) scheduleIdleTimerLocked() {
	if len(cp.clients) != 0 || cp.idleTimeout <= 0 || cp.onIdle == nil {
		cp.stopIdleTimerLocked()
		return
	}
	if cp.idleTimer != nil {
		return
	}
	cp.idleTimer = time.AfterFunc(cp.idleTimeout, cp.triggerIdle)
}

func (cp *ConnectionPool) triggerIdle() {
	if cp == nil {
		return
	}
	var callback func()
	cp.mu.Lock()
	if len(cp.clients) == 0 {
		callback = cp.onIdle
	}
	cp.idleTimer = nil
	cp.mu.Unlock()
	if callback != nil {
		callback()
	}
}

func closeConn(conn wsConn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}
