package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dylive/barrage-relay/internal/barrage"
	"github.com/dylive/barrage-relay/internal/engine"
	"github.com/dylive/barrage-relay/internal/filter"
	"github.com/dylive/barrage-relay/internal/gift"
	"github.com/dylive/barrage-relay/internal/normalize"
	"github.com/dylive/barrage-relay/internal/room"
	"github.com/dylive/barrage-relay/internal/ws"
)

func newTestServer(t *testing.T) (*httptest.Server, *ws.Registry, *engine.Engine) {
	t.Helper()

	logger := zap.NewNop()
	rooms := room.NewCache()
	rooms.Put("100", &room.Context{WebRoomID: "w100"})

	registry := ws.NewRegistry(false, 10*time.Second, logger)
	eng := engine.New(
		normalize.New(rooms, nil, logger),
		gift.NewReconciler(10*time.Second, 10*time.Second, logger),
		filter.NewChain(nil, nil, nil),
		registry,
		nil,
		nil,
		logger,
	)

	srv := httptest.NewServer(NewRouter(registry, eng, logger))
	t.Cleanup(func() {
		srv.Close()
		registry.Shutdown()
	})
	return srv, registry, eng
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestStatsReflectsPipeline(t *testing.T) {
	srv, _, eng := newTestServer(t)

	eng.HandleRaw(&barrage.RawChat{
		Envelope: barrage.Envelope{MsgID: 1, RoomID: 100},
		User:     &barrage.RawUser{ID: 5, Nickname: "A"},
		Content:  "hi",
	})

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Subscribers int   `json:"subscribers"`
		Events      int64 `json:"events"`
		Pushed      int64 `json:"pushed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Events != 1 || body.Pushed != 1 {
		t.Errorf("stats = %+v, want one processed and pushed event", body)
	}
	if body.Subscribers != 0 {
		t.Errorf("subscribers = %d, want 0", body.Subscribers)
	}
}

func TestWebSocketPushDelivery(t *testing.T) {
	srv, registry, eng := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	defer conn.Close()

	// Registration completes just after the handshake; wait for it.
	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	eng.HandleRaw(&barrage.RawChat{
		Envelope: barrage.Envelope{MsgID: 1, RoomID: 100},
		User:     &barrage.RawUser{ID: 5, Nickname: "A"},
		Content:  "hi",
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading pushed message: %v", err)
	}

	var pack barrage.MsgPack
	if err := json.Unmarshal(payload, &pack); err != nil {
		t.Fatalf("unmarshaling envelope: %v", err)
	}
	if pack.Type != barrage.KindChat {
		t.Errorf("envelope type = %v, want %v", pack.Type, barrage.KindChat)
	}
	if !strings.Contains(pack.Data, "A: hi") {
		t.Errorf("envelope data missing content: %q", pack.Data)
	}
}

func TestWebSocketHeartbeatPong(t *testing.T) {
	srv, registry, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for registry.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	pong := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pong <- data
		return nil
	})
	go func() {
		// Pong frames are only surfaced by a pending read.
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, _, _ = conn.ReadMessage()
	}()

	if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(time.Second)); err != nil {
		t.Fatalf("writing ping: %v", err)
	}

	select {
	case data := <-pong:
		if data != "pong" {
			t.Errorf("pong payload = %q, want %q", data, "pong")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pong never arrived")
	}
}
