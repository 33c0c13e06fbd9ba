// Package engine orchestrates the fan-out pipeline: normalize, reconcile,
// filter, and deliver each event to the console, the barrage log, the push
// subscribers, and any registered secondary sinks.
package engine

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/filter"
	"github.com/dylive/barrage-relay/internal/gift"
	"github.com/dylive/barrage-relay/internal/normalize"
)

// Broadcaster delivers a serialized envelope to every push subscriber.
type Broadcaster interface {
	Broadcast(payload []byte)
}

// Sink consumes every canonical event after reconciliation, ahead of the
// filtered sinks. A sink must not retain or mutate the event.
type Sink interface {
	Consume(evt *barrage.Event)
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Events     int64 `json:"events"`
	Dropped    int64 `json:"dropped"`
	Pushed     int64 `json:"pushed"`
	LiveCombos int   `json:"live_combos"`
}

// Engine is the broadcast pipeline. HandleRaw may be called concurrently
// from multiple event sources.
type Engine struct {
	normalizer *normalize.Normalizer
	gifts      *gift.Reconciler
	filters    *filter.Chain
	hub        Broadcaster
	printer    *Printer
	blog       *BarrageLog
	logger     *zap.Logger

	mu    sync.RWMutex
	sinks []Sink

	events  atomic.Int64
	dropped atomic.Int64
	pushed  atomic.Int64
}

// New wires the pipeline. printer and blog may be nil when console printing
// or the persistent log are disabled.
func New(
	normalizer *normalize.Normalizer,
	gifts *gift.Reconciler,
	filters *filter.Chain,
	hub Broadcaster,
	printer *Printer,
	blog *BarrageLog,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		normalizer: normalizer,
		gifts:      gifts,
		filters:    filters,
		hub:        hub,
		printer:    printer,
		blog:       blog,
		logger:     logger,
	}
}

// AddSink registers a secondary sink.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	e.sinks = append(e.sinks, s)
	e.mu.Unlock()
}

// RemoveSink unregisters a previously added sink.
func (e *Engine) RemoveSink(s Sink) {
	e.mu.Lock()
	for i, registered := range e.sinks {
		if registered == s {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
}

// HandleRaw runs one decoded payload through the pipeline.
func (e *Engine) HandleRaw(raw barrage.RawEvent) {
	evt := e.normalizer.Normalize(raw)
	if evt == nil {
		e.dropped.Add(1)
		return
	}

	if g, ok := raw.(*barrage.RawGift); ok {
		increment, emit := e.gifts.Observe(gift.Observation{
			RoomID:     g.Env().RoomID,
			GiftID:     g.GiftID,
			GroupID:    g.GroupID,
			Cumulative: g.RepeatCount,
			ComboEnd:   g.RepeatEnd == 1,
		})
		if !emit {
			e.dropped.Add(1)
			return
		}
		evt.GiftCount = increment
		evt.Content = normalize.RenderGift(evt)
	}

	e.dispatch(evt)
}

// dispatch fans a canonical event out. Each path checks its own filter and
// its failures stay its own: a dead subscriber or a broken sink never
// suppresses the other outputs.
func (e *Engine) dispatch(evt *barrage.Event) {
	e.events.Add(1)

	e.mu.RLock()
	sinks := make([]Sink, len(e.sinks))
	copy(sinks, e.sinks)
	e.mu.RUnlock()

	for _, sink := range sinks {
		e.consume(sink, evt)
	}

	if e.printer != nil && e.filters.Print.Allows(evt.Kind) {
		e.printer.Print(evt)
	}

	if e.blog != nil && e.filters.Log.Allows(evt.Kind) {
		e.blog.Append(evt)
	}

	if e.filters.Push.Allows(evt.Kind) {
		pack, err := barrage.Pack(evt)
		if err != nil {
			e.logger.Error("failed to pack event", zap.Error(err))
			return
		}
		payload, err := pack.Marshal()
		if err != nil {
			e.logger.Error("failed to marshal envelope", zap.Error(err))
			return
		}
		e.hub.Broadcast(payload)
		e.pushed.Add(1)
	}
}

func (e *Engine) consume(sink Sink, evt *barrage.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("secondary sink panicked",
				zap.Any("panic", r),
				zap.Stringer("kind", evt.Kind),
			)
		}
	}()
	sink.Consume(evt)
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Events:     e.events.Load(),
		Dropped:    e.dropped.Load(),
		Pushed:     e.pushed.Load(),
		LiveCombos: e.gifts.Len(),
	}
}
