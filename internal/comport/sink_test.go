package comport

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/engine"
	"github.com/dylive/barrage-relay/internal/room"
)

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

func newScriptSink(t *testing.T, script string) (*Sink, *fakePort) {
	t.Helper()
	port := &fakePort{}
	sink, err := NewSink(port, script, room.NewCache(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	return sink, port
}

func chatEvent(content string) *barrage.Event {
	return &barrage.Event{
		Kind:    barrage.KindChat,
		MsgID:   1,
		RoomID:  "100",
		User:    &barrage.User{ID: 5, Nickname: "A"},
		Content: content,
	}
}

func TestConsumeWithoutScriptWritesEnvelope(t *testing.T) {
	sink, port := newScriptSink(t, "")

	sink.Consume(chatEvent("A: hi"))

	written := port.String()
	if !strings.HasSuffix(written, "\r\n") {
		t.Fatalf("fallback payload must end with CRLF: %q", written)
	}

	var pack barrage.MsgPack
	if err := json.Unmarshal([]byte(strings.TrimSuffix(written, "\r\n")), &pack); err != nil {
		t.Fatalf("unmarshaling fallback payload: %v", err)
	}
	if pack.Type != barrage.KindChat {
		t.Errorf("envelope type = %v, want %v", pack.Type, barrage.KindChat)
	}
	if !strings.Contains(pack.Data, "A: hi") {
		t.Errorf("envelope data missing content: %q", pack.Data)
	}
}

func TestTransformStringResult(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { return msg.Content; }`)

	sink.Consume(chatEvent("A: hi"))

	if got := port.String(); got != "A: hi" {
		t.Errorf("written = %q, want %q", got, "A: hi")
	}
}

func TestTransformBooleanResult(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { return type === 1; }`)

	sink.Consume(chatEvent("x"))

	if got := port.String(); got != "true" {
		t.Errorf("written = %q, want %q", got, "true")
	}
}

func TestTransformNumberResult(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { return 2.5; }`)

	sink.Consume(chatEvent("x"))

	got := port.Bytes()
	if len(got) != 8 {
		t.Fatalf("number payload length = %d, want 8", len(got))
	}
	if f := math.Float64frombits(binary.LittleEndian.Uint64(got)); f != 2.5 {
		t.Errorf("decoded number = %v, want 2.5", f)
	}
}

func TestTransformBufferResult(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { return new Uint8Array([1, 2, 3]).buffer; }`)

	sink.Consume(chatEvent("x"))

	if got := port.Bytes(); !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Errorf("written = %v, want [1 2 3]", got)
	}
}

func TestTransformNullSuppressesEvent(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { return null; }`)

	sink.Consume(chatEvent("x"))

	if port.Len() != 0 {
		t.Errorf("null result must write nothing, got %q", port.String())
	}
}

func TestTransformErrorDropsEventOnly(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) { throw new Error("boom"); }`)

	sink.Consume(chatEvent("x"))
	// The sink survives script failures and keeps serving later events.
	sink.Consume(chatEvent("y"))

	if port.Len() != 0 {
		t.Errorf("failed transforms must write nothing, got %q", port.String())
	}
}

func TestTransformSeesEventFields(t *testing.T) {
	sink, port := newScriptSink(t, `function onPackData(type, msg, roomInfo) {
		return msg.User.Nickname + "|" + msg.RoomID + "|" + type;
	}`)

	sink.Consume(chatEvent("x"))

	if got := port.String(); got != "A|100|1" {
		t.Errorf("written = %q, want %q", got, "A|100|1")
	}
}

func TestNewSinkRejectsBrokenScripts(t *testing.T) {
	port := &fakePort{}

	if _, err := NewSink(port, `this is not javascript`, room.NewCache(), zap.NewNop()); err == nil {
		t.Error("syntactically invalid script must fail")
	}
	if _, err := NewSink(port, `function otherName() {}`, room.NewCache(), zap.NewNop()); err == nil {
		t.Error("script without onPackData must fail")
	}
}

func TestCloseDetachesAndStopsWriting(t *testing.T) {
	eng := engine.New(nil, nil, nil, nil, nil, nil, zap.NewNop())
	sink, port := newScriptSink(t, "")
	sink.AttachTo(eng)

	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !port.closed {
		t.Error("underlying port must be closed")
	}

	// Consume after close is a no-op, not a nil dereference.
	sink.Consume(chatEvent("x"))
	if port.Len() != 0 {
		t.Errorf("closed sink must not write, got %q", port.String())
	}

	if err := sink.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
