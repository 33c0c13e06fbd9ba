// Package comport forwards canonical events over a serial line, optionally
// transformed by a user-supplied JavaScript filter. It is the pluggable
// secondary sink of the broadcast engine.
package comport

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/engine"
	"github.com/dylive/barrage-relay/internal/room"
)

// TransformFunc is the name the user script must export.
const TransformFunc = "onPackData"

// SinkRegistry is the subset of the engine the sink needs for lifecycle
// management.
type SinkRegistry interface {
	AddSink(s engine.Sink)
	RemoveSink(s engine.Sink)
}

// Sink runs the transform script for every event and writes the result to
// the serial port. The mutex covers both the script call and the port
// write: goja runtimes are single-threaded and the port is an
// exclusive-access byte channel, so two events never interleave.
type Sink struct {
	mu        sync.Mutex
	port      io.WriteCloser
	vm        *goja.Runtime
	transform goja.Callable
	rooms     room.Provider

	errLimit *rate.Limiter
	detach   func()
	logger   *zap.Logger
}

// Open opens the named serial port and, when scriptPath is non-empty,
// loads the transform script from it.
func Open(portName string, baudRate int, scriptPath string, rooms room.Provider, logger *zap.Logger) (*Sink, error) {
	port, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}

	script := ""
	if scriptPath != "" {
		src, err := os.ReadFile(scriptPath)
		if err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("reading transform script: %w", err)
		}
		script = string(src)
	}

	sink, err := NewSink(port, script, rooms, logger)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return sink, nil
}

// NewSink builds a sink over an already-open byte channel. An empty script
// selects the JSON pass-through fallback.
func NewSink(port io.WriteCloser, script string, rooms room.Provider, logger *zap.Logger) (*Sink, error) {
	s := &Sink{
		port:     port,
		rooms:    rooms,
		errLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:   logger,
	}

	if script != "" {
		vm := goja.New()
		if _, err := vm.RunString(script); err != nil {
			return nil, fmt.Errorf("executing transform script: %w", err)
		}
		transform, ok := goja.AssertFunction(vm.Get(TransformFunc))
		if !ok {
			return nil, fmt.Errorf("transform script does not define %s", TransformFunc)
		}
		s.vm = vm
		s.transform = transform
	}
	return s, nil
}

// AttachTo registers the sink with the engine and remembers how to leave.
func (s *Sink) AttachTo(reg SinkRegistry) {
	reg.AddSink(s)
	s.detach = func() { reg.RemoveSink(s) }
}

// Consume transforms one event and forwards the payload. Transform errors
// drop the event for this sink only.
func (s *Sink) Consume(evt *barrage.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return
	}

	payload, ok := s.payloadFor(evt)
	if !ok || len(payload) == 0 {
		return
	}

	if _, err := s.port.Write(payload); err != nil {
		// The port may come back; keep trying on the next event.
		if s.errLimit.Allow() {
			s.logger.Warn("serial write failed", zap.Error(err))
		}
	}
}

func (s *Sink) payloadFor(evt *barrage.Event) ([]byte, bool) {
	if s.transform == nil {
		pack, err := barrage.Pack(evt)
		if err != nil {
			s.logger.Error("failed to pack event for serial fallback", zap.Error(err))
			return nil, false
		}
		data, err := pack.Marshal()
		if err != nil {
			s.logger.Error("failed to marshal serial fallback", zap.Error(err))
			return nil, false
		}
		return append(data, '\r', '\n'), true
	}

	roomInfo, _ := s.rooms.Lookup(evt.RoomID)
	result, err := s.transform(goja.Undefined(),
		s.vm.ToValue(int(evt.Kind)),
		s.vm.ToValue(evt),
		s.vm.ToValue(roomInfo),
	)
	if err != nil {
		if s.errLimit.Allow() {
			s.logger.Error("transform script failed", zap.Error(err))
		}
		return nil, false
	}
	return encodeResult(result)
}

// encodeResult maps a script return value onto bytes: booleans become
// ASCII "true"/"false", strings UTF-8, numbers their 8-byte little-endian
// float64 representation, buffers pass through verbatim, and null or
// undefined suppress the event.
func encodeResult(v goja.Value) ([]byte, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}

	switch exported := v.Export().(type) {
	case bool:
		return []byte(strconv.FormatBool(exported)), true
	case string:
		return []byte(exported), true
	case int64:
		return encodeNumber(float64(exported)), true
	case float64:
		return encodeNumber(exported), true
	case goja.ArrayBuffer:
		return exported.Bytes(), true
	case []byte:
		return exported, true
	default:
		return nil, false
	}
}

func encodeNumber(f float64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, math.Float64bits(f))
	return buf
}

// Close detaches the sink from the engine and closes the port.
func (s *Sink) Close() error {
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
