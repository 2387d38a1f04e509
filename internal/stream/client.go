package stream

import (
	"log"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Instruments this client wants; empty means all.
	filterMu sync.RWMutex
	filter   map[string]bool
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, 64), hub: h}
}

func (c *Client) setFilter(instruments []string) {
	f := make(map[string]bool, len(instruments))
	for _, inst := range instruments {
		inst = strings.ToUpper(strings.TrimSpace(inst))
		if inst != "" {
			f[inst] = true
		}
	}
	c.filterMu.Lock()
	c.filter = f
	c.filterMu.Unlock()
}

func (c *Client) matches(channel string) bool {
	c.filterMu.RLock()
	defer c.filterMu.RUnlock()
	if len(c.filter) == 0 {
		return true
	}
	inst, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok {
		return true // non-report channel, always deliver
	}
	return c.filter[inst]
}

// sendInitialState queues the latest message of every matching channel.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	for _, channel := range c.hub.channels() {
		if !c.matches(channel) {
			continue
		}
		e := c.hub.latest[channel]
		frame, _ := json.Marshal(map[string]any{
			"channel":     channel,
			"data":        e.Data,
			"ts":          e.TS.Format(time.RFC3339Nano),
			"channel_seq": e.Seq,
			"initial":     true,
		})
		select {
		case c.send <- frame:
		default:
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Inbound messages:
//
//	{"type":"SUBSCRIBE","instruments":["EUR_USD"]}
//	{"ping":1700000000000}
type inbound struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
	Ping        int64    `json:"ping"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		log.Println("[stream] ws client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var in inbound
		if json.Unmarshal(msg, &in) != nil {
			continue
		}
		switch {
		case in.Type == "SUBSCRIBE":
			c.setFilter(in.Instruments)
			c.sendInitialState()
		case in.Ping > 0:
			pong, _ := json.Marshal(map[string]any{
				"type":      "pong",
				"ping":      in.Ping,
				"server_ts": time.Now().UnixMilli(),
			})
			select {
			case c.send <- pong:
			default:
			}
		}
	}
}
