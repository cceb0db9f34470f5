package render

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type recordingHandler struct {
	mu   sync.Mutex
	cmds []Command
}

func (h *recordingHandler) Submit(_ context.Context, cmd Command) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmds = append(h.cmds, cmd)
	if cmd.Type == "explode" {
		return errors.New("unknown command")
	}
	return nil
}

type hubRecorder struct {
	mu       sync.Mutex
	clients  int
	dropped  int
	commands map[string]int
}

func (r *hubRecorder) SetWSClients(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients = n
}

func (r *hubRecorder) IncWSFramesDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

func (r *hubRecorder) IncWSCommand(cmd, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commands == nil {
		r.commands = make(map[string]int)
	}
	r.commands[cmd+"/"+outcome]++
}

func (r *hubRecorder) snapshot() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clients, r.dropped
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendsLatestFrameOnConnect(t *testing.T) {
	store := NewFrameStore()
	store.Publish(&Frame{Version: V1Version, Seq: 41})
	rec := &hubRecorder{}
	hub := NewHub(store, &recordingHandler{}, HubConfig{FPS: 100, Burst: 10, Recorder: rec})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	var f Frame
	readJSON(t, conn, &f)
	if f.Seq != 41 {
		t.Fatalf("first frame seq = %d", f.Seq)
	}

	waitFor(t, func() bool { return hub.Clients() == 1 })
	store.Publish(&Frame{Version: V1Version, Seq: 42})
	readJSON(t, conn, &f)
	if f.Seq != 42 {
		t.Fatalf("streamed frame seq = %d", f.Seq)
	}
	if clients, _ := rec.snapshot(); clients != 1 {
		t.Fatalf("client gauge = %d", clients)
	}

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	waitFor(t, func() bool { return hub.Clients() == 0 })
}

func TestHubForwardsCommands(t *testing.T) {
	handler := &recordingHandler{}
	rec := &hubRecorder{}
	hub := NewHub(NewFrameStore(), handler, HubConfig{Recorder: rec})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn := dial(t, srv)

	conn.WriteJSON(Command{Type: CmdToggleLayer, Seq: 1, Layer: "satellites"})
	var reply Reply
	readJSON(t, conn, &reply)
	if reply.Type != "ack" || reply.Seq != 1 || reply.Command != CmdToggleLayer {
		t.Fatalf("reply = %+v", reply)
	}

	conn.WriteJSON(Command{Type: "explode", Seq: 2})
	readJSON(t, conn, &reply)
	if reply.Type != "reject" || reply.Reason != "unknown command" {
		t.Fatalf("reply = %+v", reply)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	readJSON(t, conn, &reply)
	if reply.Type != "reject" || reply.Reason != "malformed command" {
		t.Fatalf("reply = %+v", reply)
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.cmds) != 2 || handler.cmds[0].Layer != "satellites" {
		t.Fatalf("handler saw %+v", handler.cmds)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.commands["toggle_layer/ok"] != 1 || rec.commands["explode/error"] != 1 || rec.commands["malformed/error"] != 1 {
		t.Fatalf("command metrics = %v", rec.commands)
	}
}

func TestHubRateLimitsFrames(t *testing.T) {
	store := NewFrameStore()
	rec := &hubRecorder{}
	hub := NewHub(store, &recordingHandler{}, HubConfig{FPS: 0.001, Burst: 1, Recorder: rec})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Clients() == 1 })

	for seq := uint64(1); seq <= 5; seq++ {
		store.Publish(&Frame{Seq: seq})
	}
	var f Frame
	readJSON(t, conn, &f)
	if f.Seq != 1 {
		t.Fatalf("first frame seq = %d", f.Seq)
	}
	if _, dropped := rec.snapshot(); dropped != 4 {
		t.Fatalf("dropped = %d, want 4", dropped)
	}
}
