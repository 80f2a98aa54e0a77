package api

import (
	"cmp"
	"context"
	"encoding/json"
	"log"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"patternpilot/internal/markethours"
	"patternpilot/internal/metrics"

	"github.com/gorilla/websocket"
)

// Feed channels.
const (
	ChannelRotation = "rotation"
	ChannelMarket   = "market"
)

// Hub manages websocket clients and fans out channel envelopes to them.
// Each envelope carries a hub-wide seq so clients can detect gaps and
// backfill them from the replay buffer.
type Hub struct {
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64
	replay  *ReplayBuffer
}

type latestEntry struct {
	Envelope []byte
	Seq      int64
}

// NewHub creates a hub keeping the last replaySize envelopes.
func NewHub(m *metrics.Metrics, replaySize int) *Hub {
	return &Hub{
		metrics: m,
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(replaySize),
	}
}

// Publish marshals v and sends it on channel to every subscribed client.
// Slow clients whose queue is full miss the message.
func (h *Hub) Publish(channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	env := buildEnvelope(channel, data, now, seq)
	h.latest[channel] = latestEntry{Envelope: env, Seq: seq}
	h.mu.Unlock()

	h.replay.Push(seq, env)

	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(channel) {
			continue
		}
		select {
		case client.send <- env:
		default:
		}
	}
	h.mu.RUnlock()

	if h.metrics != nil {
		h.metrics.WSBroadcasts.Inc()
	}
	return nil
}

// buildEnvelope writes {"channel":...,"data":...,"ts":...,"seq":N}
// without a second marshal of data.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}

// HandleWSRequest registers an upgraded connection. With sinceSeq > 0 the
// client first receives every buffered envelope after that seq, otherwise
// the latest envelope of each channel.
func (h *Hub) HandleWSRequest(conn *websocket.Conn, sinceSeq int64) {
	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}
	conn.EnableWriteCompression(true)

	count := h.register(client, sinceSeq)
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
	log.Printf("[api] ws client connected (%d total)", count)

	go client.writePump()
	go client.readPump()
}

// register queues the initial state on c and adds it to the hub in one
// critical section, so no publish falls between the two and RemoveClient
// cannot close c.send while it is being filled.
func (h *Hub) register(c *Client, sinceSeq int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, env := range h.initialEnvelopes(sinceSeq) {
		select {
		case c.send <- env:
		default:
		}
	}
	h.clients[c] = true
	return len(h.clients)
}

// initialEnvelopes is the backfill after sinceSeq, or the latest envelope
// per channel in seq order. h.mu must be held.
func (h *Hub) initialEnvelopes(sinceSeq int64) [][]byte {
	if sinceSeq > 0 {
		return h.Missed(sinceSeq+1, h.seq)
	}
	entries := slices.SortedFunc(maps.Values(h.latest), func(a, b latestEntry) int { return cmp.Compare(a.Seq, b.Seq) })
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Envelope
	}
	return out
}

// RemoveClient unregisters c and closes its queue. It is safe to call
// more than once.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	count := len(h.clients)
	close(c.send)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(count))
	}
}

// Latest returns the most recent envelope published on channel.
func (h *Hub) Latest(channel string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.latest[channel]
	return e.Envelope, ok
}

// Missed returns buffered envelopes with seq in [fromSeq, toSeq].
func (h *Hub) Missed(fromSeq, toSeq int64) [][]byte {
	entries := h.replay.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// Seq returns the last assigned sequence number.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.RemoveClient(c)
	}
}

// MarketStatus is the payload of the market channel.
type MarketStatus struct {
	Open   bool      `json:"open"`
	Status string    `json:"status"`
	AsOf   time.Time `json:"as_of"`
}

// CurrentMarketStatus reads the NYSE session state at now.
func CurrentMarketStatus(now time.Time) MarketStatus {
	return MarketStatus{Open: markethours.IsMarketOpen(now), Status: markethours.StatusString(now), AsOf: now.UTC()}
}

// StartMarketBroadcast publishes the market status every interval until
// ctx is cancelled.
func (h *Hub) StartMarketBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			if err := h.Publish(ChannelMarket, CurrentMarketStatus(now)); err != nil {
				log.Printf("[api] market broadcast: %v", err)
			}
		}
	}
}
