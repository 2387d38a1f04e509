// Package stream fans classification reports out to WebSocket clients.
package stream

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/rjmoor/AI-ForXBot/internal/metrics"
	"github.com/rjmoor/AI-ForXBot/internal/model"
)

// ChannelPrefix prefixes every report channel; the suffix is the instrument.
const ChannelPrefix = "state:"

// ReportChannel returns the channel reports for instrument are sent on.
func ReportChannel(instrument string) string { return ChannelPrefix + instrument }

// Hub manages WebSocket clients and remembers the latest message per channel
// so that new clients start with the current state.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]bool
	latest      map[string]latestEntry
	seq         int64
	channelSeqs map[string]int64
	replays     map[string]*replayLog

	prom *metrics.Metrics
	now  func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub. prom may be nil.
func NewHub(prom *metrics.Metrics) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replays:     make(map[string]*replayLog),
		prom:        prom,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Consume implements model.ClassificationConsumer.
func (h *Hub) Consume(ctx context.Context, report model.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	h.Broadcast(ReportChannel(report.Instrument), data)
	return nil
}

// Forward broadcasts reports from ch until it closes or ctx is cancelled.
// It is used with a Redis subscription so every instance sees every report.
func (h *Hub) Forward(ctx context.Context, ch <-chan model.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-ch:
			if !ok {
				return
			}
			if err := h.Consume(ctx, r); err != nil {
				log.Printf("[stream] forward %s: %v", r.Instrument, err)
			}
		}
	}
}

// Broadcast sends data on channel to every client subscribed to it.
// The envelope is {"channel":..,"data":..,"ts":..,"seq":..,"channel_seq":..}.
func (h *Hub) Broadcast(channel string, data []byte) {
	now := h.now()

	h.mu.Lock()
	h.channelSeqs[channel]++
	channelSeq := h.channelSeqs[channel]
	h.latest[channel] = latestEntry{Data: data, TS: now, Seq: channelSeq}
	h.seq++
	buf := envelope(channel, data, now, h.seq, channelSeq)
	rl, exists := h.replays[channel]
	if !exists {
		rl = newReplayLog(200)
		h.replays[channel] = rl
	}
	// Appending under the hub lock keeps each log in channel_seq order.
	rl.append(channelSeq, buf)

	for client := range h.clients {
		if !client.matches(channel) {
			continue
		}
		select {
		case client.send <- buf:
		default:
		}
	}
	h.mu.Unlock()

	if h.prom != nil {
		h.prom.WSBroadcast.Inc()
	}
}

// envelope hand-builds the JSON frame; data is already valid JSON.
func envelope(channel string, data []byte, now time.Time, seq, channelSeq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+160)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"channel_seq":`...)
	buf = strconv.AppendInt(buf, channelSeq, 10)
	buf = append(buf, '}')
	return buf
}

// Latest returns the newest payload per channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Replay returns buffered envelopes for channel with seq in [from, to].
func (h *Hub) Replay(channel string, from, to int64) [][]byte {
	h.mu.RLock()
	rl, ok := h.replays[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rl.between(from, to)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
	log.Printf("[stream] ws client connected (%d total)", count)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.prom != nil {
		h.prom.WSClients.Set(float64(count))
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeWS upgrades the request and registers the client. The optional
// "instruments" query parameter (comma separated) restricts the feed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] ws upgrade error: %v", err)
		return
	}
	c := newClient(h, conn)
	if q := r.URL.Query().Get("instruments"); q != "" {
		c.setFilter(strings.Split(q, ","))
	}
	h.register(c)

	c.sendInitialState()
	go c.writePump()
	go c.readPump()
}

// ServeMissed handles GET ?channel=&from=&to= for client gap backfill.
func (h *Hub) ServeMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		http.Error(w, `{"error":"channel, from and to are required"}`, http.StatusBadRequest)
		return
	}
	frames := h.Replay(channel, from, to)
	raw := make([]json.RawMessage, len(frames))
	for i, f := range frames {
		raw[i] = f
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(raw)
}

// channels returns the channels with a latest entry, sorted.
func (h *Hub) channels() []string {
	out := make([]string, 0, len(h.latest))
	for ch := range h.latest {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
