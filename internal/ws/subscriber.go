package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4 * 1024

	// Send buffer size per subscriber. A full buffer counts as a send
	// failure so one slow consumer never stalls a broadcast sweep.
	sendBufferSize = 256
)

// Subscriber is one connected push client. The client address (ip:port) is
// its stable registry key; connID disambiguates reconnects under the same
// address.
type Subscriber struct {
	addr   string
	connID string
	conn   *websocket.Conn

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// Unix nanoseconds of the last heartbeat ping.
	lastPing atomic.Int64

	logger *zap.Logger
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *Subscriber) touch(now time.Time) {
	s.lastPing.Store(now.UnixNano())
}

func (s *Subscriber) idleSince() time.Time {
	return time.Unix(0, s.lastPing.Load())
}

// writePump drains the send buffer onto the connection. It exits when the
// subscriber is closed or a write fails.
func (s *Subscriber) writePump() {
	defer s.close()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("websocket write error",
					zap.String("addr", s.addr),
					zap.Error(err),
				)
				return
			}
		}
	}
}

// readPump consumes inbound frames. Ping frames are the heartbeat; data
// frames carry client commands and are currently ignored after decoding.
func (s *Subscriber) readPump(onClose func(*Subscriber)) {
	defer func() {
		onClose(s)
		s.close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetPingHandler(func(string) error {
		s.touch(time.Now())
		deadline := time.Now().Add(writeWait)
		return s.conn.WriteControl(websocket.PongMessage, []byte("pong"), deadline)
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error",
					zap.String("addr", s.addr),
					zap.Error(err),
				)
			}
			return
		}
	}
}
