package console

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/globe-engine/internal/render"
)

const (
	dialTimeout = 5 * time.Second
	writeWait   = 5 * time.Second
	msgBuffer   = 16
)

// Client is a websocket connection to a globe server. Incoming frames and
// replies are delivered as tea messages through WaitMsg.
type Client struct {
	conn *websocket.Conn
	msgs chan tea.Msg

	writeMu sync.Mutex
	seq     uint64
}

// Dial connects to the server's /ws endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, msgs: make(chan tea.Msg, msgBuffer)}
	go c.readLoop()
	return c, nil
}

// envelope tells frames and replies apart.
type envelope struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

func (c *Client) readLoop() {
	defer close(c.msgs)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.msgs <- ErrMsg{Err: err}
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.Version != "" {
			var f render.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			// Drop stale frames rather than block the socket.
			select {
			case c.msgs <- FrameMsg{Frame: &f}:
			default:
			}
			continue
		}
		var r render.Reply
		if err := json.Unmarshal(data, &r); err == nil {
			c.msgs <- ReplyMsg{Reply: r}
		}
	}
}

// WaitMsg returns a command that blocks for the next server message.
func (c *Client) WaitMsg() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-c.msgs
		if !ok {
			return ErrMsg{Err: websocket.ErrCloseSent}
		}
		return msg
	}
}

// Send writes cmd, stamping it with the next sequence number.
func (c *Client) Send(cmd render.Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.seq++
	cmd.Seq = c.seq
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(cmd)
}

// Close closes the connection.
func (c *Client) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}
