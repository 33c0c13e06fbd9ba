// Package ws tracks connected push subscribers and broadcasts serialized
// events to them.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // local consumers only
}

// Registry tracks subscribers keyed by client address. Reconnecting from
// the same address replaces the stored handle instead of adding a second
// entry.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscriber

	reapEnabled   bool
	checkInterval time.Duration
	now           func() time.Time
	logger        *zap.Logger
}

func NewRegistry(reapEnabled bool, checkInterval time.Duration, logger *zap.Logger) *Registry {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	return &Registry{
		subs:          make(map[string]*Subscriber),
		reapEnabled:   reapEnabled,
		checkInterval: checkInterval,
		now:           time.Now,
		logger:        logger,
	}
}

// HandleWS upgrades the request and registers the connection.
func (r *Registry) HandleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := &Subscriber{
		addr:   conn.RemoteAddr().String(),
		connID: uuid.New().String(),
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: r.logger,
	}
	sub.touch(r.now())

	r.add(sub)

	go sub.writePump()
	go sub.readPump(r.remove)
}

// add registers the subscriber, replacing any previous connection from the
// same address in place.
func (r *Registry) add(sub *Subscriber) {
	r.mu.Lock()
	old := r.subs[sub.addr]
	r.subs[sub.addr] = sub
	r.mu.Unlock()

	if old != nil && old != sub {
		old.close()
		r.logger.Debug("replaced subscriber connection", zap.String("addr", sub.addr))
	}
	r.logger.Info("subscriber connected", zap.String("addr", sub.addr))
}

// remove drops the subscriber, but only while it still owns its registry
// slot; a reconnect that already replaced it is left alone.
func (r *Registry) remove(sub *Subscriber) {
	r.mu.Lock()
	if current, ok := r.subs[sub.addr]; ok && current.connID == sub.connID {
		delete(r.subs, sub.addr)
	}
	r.mu.Unlock()

	sub.close()
	r.logger.Info("subscriber disconnected", zap.String("addr", sub.addr))
}

func (r *Registry) snapshot() []*Subscriber {
	r.mu.RLock()
	subs := make([]*Subscriber, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.RUnlock()
	return subs
}

// Broadcast delivers one serialized payload to every subscriber. Failed
// subscribers (closed, or send buffer full) are collected during the sweep
// and removed only after it completes.
func (r *Registry) Broadcast(payload []byte) {
	subs := r.snapshot()
	if len(subs) == 0 {
		return
	}

	var failed []*Subscriber
	for _, sub := range subs {
		select {
		case <-sub.done:
			failed = append(failed, sub)
		case sub.send <- payload:
		default:
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		r.logger.Debug("dropping unavailable subscriber", zap.String("addr", sub.addr))
		r.remove(sub)
	}
}

// Len reports the number of live subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Run drives the heartbeat reaper until the context is cancelled. With the
// reaper disabled it only waits for cancellation; stale cleanup then relies
// on send-failure detection alone.
func (r *Registry) Run(ctx context.Context) {
	if !r.reapEnabled {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(r.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("heartbeat reaper stopping")
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

// reapOnce force-disconnects subscribers idle for more than three check
// periods.
func (r *Registry) reapOnce() {
	deadline := r.now().Add(-3 * r.checkInterval)

	for _, sub := range r.snapshot() {
		if sub.idleSince().Before(deadline) {
			r.logger.Info("reaping stale subscriber", zap.String("addr", sub.addr))
			r.remove(sub)
		}
	}
}

// Shutdown closes every subscriber connection and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscriber)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	r.logger.Info("subscriber registry drained", zap.Int("closed", len(subs)))
}
