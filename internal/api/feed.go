package api

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/event"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/livesync"
)

// Live feed channels a client can subscribe to.
const (
	// ChannelAccessEvent carries every persisted access event.
	ChannelAccessEvent = "access.event"

	// ChannelSyncReport carries the report of every finished LiveSync run.
	ChannelSyncReport = "livesync.report"
)

// Frame types. Clients send subscribe, unsubscribe and ping; the server
// sends the rest.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameAck         = "ack"
	FrameError       = "error"
	FrameAccessEvent = "access_event"
	FrameSyncReport  = "livesync_report"
)

// feedBufferSize is the per-client outbound frame buffer.
const feedBufferSize = 256

var knownChannels = map[string]bool{
	ChannelAccessEvent: true,
	ChannelSyncReport:  true,
}

// Frame is one message on the live feed, in either direction.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Channel string          `json:"channel,omitempty"`
	At      string          `json:"at,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Subscription is the data of a subscribe or unsubscribe frame.
//
// DeviceIDs and Decisions narrow the access.event channel; empty means
// everything. A subscribe replaces the previous filters.
type Subscription struct {
	Channels  []string         `json:"channels"`
	DeviceIDs []string         `json:"device_ids,omitempty"`
	Decisions []event.Decision `json:"decisions,omitempty"`
}

// feedFilter is what one client wants to receive.
type feedFilter struct {
	channels  map[string]bool
	devices   map[string]bool
	decisions map[event.Decision]bool
}

func (f *feedFilter) wantsEvent(e *event.AccessEvent) bool {
	if !f.channels[ChannelAccessEvent] {
		return false
	}
	if len(f.devices) > 0 && !f.devices[e.DeviceID] {
		return false
	}
	if len(f.decisions) > 0 && !f.decisions[e.Decision] {
		return false
	}
	return true
}

// Hub fans access events and LiveSync reports out to connected live feed
// clients. It satisfies realtime.Broadcaster and livesync.ReportBroadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}

	dropped atomic.Int64
}

// NewHub creates a hub. Run must be started for shutdown to close clients.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}
}

func (h *Hub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("live feed client connected", "subject", c.subject, "clients", n)
}

// remove drops c and closes its queue. Safe to call more than once.
func (h *Hub) remove(c *feedClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.logger.Debug("live feed client disconnected", "subject", c.subject, "clients", n)
	}
}

// PublishAccessEvent sends e to every client subscribed to access.event
// whose filters match it.
func (h *Hub) PublishAccessEvent(e *event.AccessEvent) {
	h.deliver(FrameAccessEvent, ChannelAccessEvent, e, func(f *feedFilter) bool {
		return f.wantsEvent(e)
	})
}

// BroadcastReport sends a finished LiveSync report to livesync.report
// subscribers.
func (h *Hub) BroadcastReport(r *livesync.Report) {
	h.deliver(FrameSyncReport, ChannelSyncReport, r, func(f *feedFilter) bool {
		return f.channels[ChannelSyncReport]
	})
}

func (h *Hub) deliver(frameType, channel string, v any, match func(*feedFilter) bool) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("live feed payload not encodable", "channel", channel, "error", err)
		return
	}
	frame, err := json.Marshal(Frame{
		Type:    frameType,
		Channel: channel,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("live feed frame not encodable", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*feedClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if !c.matches(match) {
			continue
		}
		if c.enqueue(frame) {
			sent++
		} else {
			h.dropped.Add(1)
		}
	}
	if sent > 0 {
		h.logger.Debug("live feed delivered", "channel", channel, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many frames were discarded because a client was not
// reading fast enough.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// feedClient is one live feed connection's server side state.
type feedClient struct {
	subject string
	queue   chan []byte

	mu     sync.RWMutex
	filter feedFilter
	closed bool
}

func newFeedClient(subject string) *feedClient {
	return &feedClient{
		subject: subject,
		queue:   make(chan []byte, feedBufferSize),
		filter:  feedFilter{channels: make(map[string]bool)},
	}
}

func (c *feedClient) matches(match func(*feedFilter) bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed && match(&c.filter)
}

// enqueue queues frame without blocking. It reports false when the client
// is gone or its buffer is full.
func (c *feedClient) enqueue(frame []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

func (c *feedClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

// subscribe adds channels and replaces the access.event filters. Unknown
// channels are returned and nothing is changed.
func (c *feedClient) subscribe(sub Subscription) (unknown []string) {
	for _, ch := range sub.Channels {
		if !knownChannels[ch] {
			unknown = append(unknown, ch)
		}
	}
	if len(unknown) > 0 {
		return unknown
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range sub.Channels {
		c.filter.channels[ch] = true
	}
	c.filter.devices = make(map[string]bool, len(sub.DeviceIDs))
	for _, id := range sub.DeviceIDs {
		c.filter.devices[id] = true
	}
	c.filter.decisions = make(map[event.Decision]bool, len(sub.Decisions))
	for _, d := range sub.Decisions {
		c.filter.decisions[d] = true
	}
	return nil
}

func (c *feedClient) unsubscribe(channels []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		delete(c.filter.channels, ch)
	}
}

// channels returns the current subscriptions in sorted order.
func (c *feedClient) channels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.filter.channels))
	for ch := range c.filter.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// reply queues a control frame for this client only.
func (c *feedClient) reply(frameType, id string, v any) {
	f := Frame{Type: frameType, ID: id, At: time.Now().UTC().Format(time.RFC3339Nano)}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		f.Data = data
	}
	frame, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(frame)
}

// handleFrame applies one client frame.
func (c *feedClient) handleFrame(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.reply(FrameError, "", map[string]string{"message": "frame is not valid JSON"})
		return
	}

	switch f.Type {
	case FramePing:
		c.reply(FramePong, f.ID, nil)
	case FrameSubscribe, FrameUnsubscribe:
		var sub Subscription
		if len(f.Data) == 0 || json.Unmarshal(f.Data, &sub) != nil || len(sub.Channels) == 0 {
			c.reply(FrameError, f.ID, map[string]string{"message": "data.channels is required"})
			return
		}
		if f.Type == FrameUnsubscribe {
			c.unsubscribe(sub.Channels)
		} else if unknown := c.subscribe(sub); len(unknown) > 0 {
			c.reply(FrameError, f.ID, map[string]any{"message": "unknown channels", "channels": unknown})
			return
		}
		c.reply(FrameAck, f.ID, map[string]any{"channels": c.channels()})
	default:
		c.reply(FrameError, f.ID, map[string]string{"message": "unknown frame type " + f.Type})
	}
}
