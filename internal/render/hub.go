package render

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/globe-engine/internal/logging"
)

// Websocket command types.
const (
	CmdToggleLayer   = "toggle_layer"
	CmdToggleGroup   = "toggle_group"
	CmdToggleFreeze  = "toggle_freeze"
	CmdSelect        = "select"
	CmdUnselect      = "unselect"
	CmdSetMultiplier = "set_multiplier"
	CmdSetTime       = "set_time"
)

// Command is a client request received over the websocket.
type Command struct {
	Type       string  `json:"type"`
	Seq        uint64  `json:"seq,omitempty"`
	Layer      string  `json:"layer,omitempty"`
	Group      string  `json:"group,omitempty"`
	Kind       string  `json:"kind,omitempty"` // sat, insitu or infra
	Key        string  `json:"key,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
	Time       string  `json:"time,omitempty"` // RFC 3339
}

// Reply types.
const (
	ReplyAck    = "ack"
	ReplyReject = "reject"
)

// Reply acknowledges or rejects a Command.
type Reply struct {
	Type    string `json:"type"` // ack or reject
	Seq     uint64 `json:"seq,omitempty"`
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// CommandHandler applies commands to the engine.
type CommandHandler interface {
	Submit(ctx context.Context, cmd Command) error
}

// HubRecorder receives websocket metrics.
type HubRecorder interface {
	SetWSClients(n int)
	IncWSFramesDropped()
	IncWSCommand(command, outcome string)
}

type nopHubRecorder struct{}

func (nopHubRecorder) SetWSClients(int)            {}
func (nopHubRecorder) IncWSFramesDropped()         {}
func (nopHubRecorder) IncWSCommand(string, string) {}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxCommandSize = 4096
	sendBuffer     = 8
)

// HubConfig configures a Hub.
type HubConfig struct {
	// FPS and Burst bound the frame rate sent to each client.
	FPS      float64
	Burst    int
	Log      logging.Logger
	Recorder HubRecorder
}

// Hub streams published frames to websocket clients and forwards their
// commands to a CommandHandler.
type Hub struct {
	store    *FrameStore
	handler  CommandHandler
	cfg      HubConfig
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub builds a hub reading frames from store.
func NewHub(store *FrameStore, handler CommandHandler, cfg HubConfig) *Hub {
	if cfg.Log == nil {
		cfg.Log = logging.Noop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopHubRecorder{}
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Hub{
		store:   store,
		handler: handler,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}

type client struct {
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	log     logging.Logger
	cancel  context.CancelFunc
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, log := logging.Scoped(r.Context(), logging.ConnScope, h.cfg.Log)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(ctx, "websocket upgrade failed", logging.Err(err))
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.FPS), h.cfg.Burst),
		log:     log,
		cancel:  cancel,
	}
	if latest := h.store.Latest(); latest != nil {
		c.send <- latest.Payload
	}
	unsubscribe := h.store.Subscribe(func(p *Published) {
		if !c.limiter.Allow() {
			h.cfg.Recorder.IncWSFramesDropped()
			return
		}
		select {
		case c.send <- p.Payload:
		default:
			h.cfg.Recorder.IncWSFramesDropped()
		}
	})

	h.register(c)
	log.Info(ctx, "websocket client connected", logging.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)

	unsubscribe()
	cancel()
	conn.Close()
	<-done
	h.unregister(c)
	log.Info(ctx, "websocket client disconnected")
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.cfg.Recorder.SetWSClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.cfg.Recorder.SetWSClients(n)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug(ctx, "websocket read failed", logging.Err(err))
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Type == "" {
			c.log.Debug(ctx, "discarding malformed command")
			h.cfg.Recorder.IncWSCommand("malformed", "error")
			if !h.reply(ctx, c, Reply{Type: ReplyReject, Command: cmd.Type, Reason: "malformed command"}) {
				return
			}
			continue
		}

		reply := Reply{Type: ReplyAck, Seq: cmd.Seq, Command: cmd.Type}
		outcome := "ok"
		if err := h.handler.Submit(ctx, cmd); err != nil {
			reply.Type = ReplyReject
			reply.Reason = err.Error()
			outcome = "error"
			c.log.Debug(ctx, "command rejected", logging.String("command", cmd.Type), logging.Err(err))
		}
		h.cfg.Recorder.IncWSCommand(cmd.Type, outcome)
		if !h.reply(ctx, c, reply) {
			return
		}
	}
}

// reply queues r behind any pending frames. Replies are only dropped once
// the client is going away.
func (h *Hub) reply(ctx context.Context, c *client, r Reply) bool {
	data, err := json.Marshal(r)
	if err != nil {
		c.log.Warn(ctx, "encode reply failed", logging.Err(err))
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// writeLoop owns all writes to the connection. When it exits the client
// context is cancelled so a reader blocked in reply gives up.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	defer c.cancel()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug(ctx, "websocket write failed", logging.Err(err))
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}
