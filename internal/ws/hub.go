// Package ws implements the WebSocket surface (spec.md §6): `GET /ws`
// subscribes a client to `chat:{user}:{company}:{thread}` and receives
// the turn loop's streaming events. Grounded on the gorilla/websocket
// upgrader idiom used by kadirpekel-hector/a2a/server.go
// (handleStreamTask), adapted from its one-shot task-stream connection
// into a long-lived per-thread subscription fed by the State Store
// Adapter's pub/sub so events reach clients regardless of which
// instance's Workflow Executor produced them.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/store"
)

// EventType names the WS event kinds named in spec.md §6.
type EventType string

const (
	EventStreamStart       EventType = "llm_stream_start"
	EventStreamChunk       EventType = "llm_stream_chunk"
	EventStreamComplete    EventType = "llm_stream_complete"
	EventStreamInterrupted EventType = "llm_stream_interrupted"
	EventStreamError       EventType = "llm_stream_error"
	EventWorkflowChecklist EventType = "WORKFLOW_CHECKLIST"
)

// Event is one envelope published on a thread's pub/sub channel.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// ChannelName builds the pub/sub channel name for a thread (spec.md
// §4.1: "chat:{user}:{company}:{thread}").
func ChannelName(key model.ThreadKey) string {
	return "chat:" + key.UserID + ":" + key.CompanyID + ":" + key.ThreadKey
}

// Hub upgrades WS connections and relays a thread's pub/sub channel to
// each one. It also tracks which channels currently have a live local
// subscriber so the Workflow Executor can answer its "is the caller
// UI-connected" question (spec.md §4.5).
type Hub struct {
	store    store.Store
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	count map[string]int // channel -> live local subscriber count
}

// NewHub builds a Hub backed by s's pub/sub.
func NewHub(s store.Store, logger logging.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		store: s,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logging.OrNop(logger),
		metrics: m,
		count:   make(map[string]int),
	}
}

// IsConnected reports whether channel currently has at least one live
// local subscriber.
func (h *Hub) IsConnected(channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count[channel] > 0
}

// Publish broadcasts ev on channel via the store's pub/sub; every
// connection subscribed to channel (on this instance or any other)
// receives it through its own Subscribe loop.
func (h *Hub) Publish(ctx context.Context, channel string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return h.store.Publish(ctx, channel, string(raw))
}

func (h *Hub) incr(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count[channel]++
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
	}
}

func (h *Hub) decr(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count[channel] > 0 {
		h.count[channel]--
	}
	if h.count[channel] == 0 {
		delete(h.count, channel)
	}
	if h.metrics != nil {
		h.metrics.WSConnections.Dec()
	}
}

// ServeHTTP upgrades GET /ws?uid&space_code&thread_key and relays
// events published on that thread's channel until the client
// disconnects (spec.md §6).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid := q.Get("uid")
	spaceCode := q.Get("space_code")
	threadKey := q.Get("thread_key")
	if uid == "" || spaceCode == "" || threadKey == "" {
		http.Error(w, "uid, space_code and thread_key are required", http.StatusBadRequest)
		return
	}
	channel := ChannelName(model.ThreadKey{UserID: uid, CompanyID: spaceCode, ThreadKey: threadKey})

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed: %v", err)
		return
	}
	defer wsConn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, err := h.store.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Warn("ws: subscribe %s failed: %v", channel, err)
		return
	}
	defer sub.Close()

	h.incr(channel)
	defer h.decr(channel)

	// A read loop is required so ping/close control frames are
	// processed and we notice client disconnects promptly; this is a
	// server-push channel so inbound data frames are discarded.
	go func() {
		for {
			if _, _, err := wsConn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	var writeMu sync.Mutex
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn("ws: decode event on %s: %v", channel, err)
				continue
			}
			writeMu.Lock()
			wsConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			err := wsConn.WriteJSON(ev)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
