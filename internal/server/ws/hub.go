// Package ws relays settlement events to WebSocket clients. A client watches
// a set of bus channels and may narrow them to particular markets.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 4096
	sendBuffer     = 64
	fanInBuffer    = 256
)

// relayChannels are relayed from the bus and watched by new clients.
var relayChannels = []string{
	domain.ChannelMarkets,
	domain.ChannelListings,
	domain.ChannelFees,
}

// Frame is every message a client receives.
type Frame struct {
	Type    string          `json:"type"` // hello, event or error
	Channel string          `json:"channel,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
	Hello   *Hello          `json:"hello,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Hello is sent once when a client connects.
type Hello struct {
	Mode      string    `json:"mode"`
	StartedAt time.Time `json:"started_at"`
	Channels  []string  `json:"channels"`
	Relay     bool      `json:"relay"`
}

// command changes what a client watches. An empty Markets list leaves the
// market filter untouched.
type command struct {
	Op       string   `json:"op"`
	Channels []string `json:"channels,omitempty"`
	Markets  []string `json:"markets,omitempty"`
}

type event struct {
	channel string
	market  common.Address
	frame   []byte
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string // empty allows all
}

// Hub fans settlement events out to connected clients. Events come from the
// signal bus when one is configured, otherwise from Publish.
type Hub struct {
	bus      domain.SignalBus
	logger   *slog.Logger
	hello    Hello
	origins  []string
	upgrader websocket.Upgrader
	in       chan event

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. bus may be nil.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}

	h := &Hub{
		bus:    bus,
		logger: logger.With(slog.String("component", "ws")),
		hello: Hello{
			Mode:      mode,
			StartedAt: startedAt,
			Channels:  relayChannels,
			Relay:     bus != nil,
		},
		origins: cfg.AllowedOrigins,
		in:      make(chan event, fanInBuffer),
		clients: make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.origins) == 0 {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Publish queues an encoded domain.SettlementEvent for every client watching
// channel. It never blocks; the event is dropped when the hub is saturated.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	e, err := newEvent(channel, payload)
	if err != nil {
		return err
	}
	select {
	case h.in <- e:
	default:
		h.logger.WarnContext(ctx, "ws: fan-in queue full, dropping event",
			slog.String("channel", channel),
		)
	}
	return nil
}

func newEvent(channel string, payload []byte) (event, error) {
	var head struct {
		Market common.Address `json:"market"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return event{}, fmt.Errorf("ws: decode event on %s: %w", channel, err)
	}
	frame, err := json.Marshal(Frame{Type: "event", Channel: channel, Event: payload})
	if err != nil {
		return event{}, fmt.Errorf("ws: encode frame: %w", err)
	}
	return event{channel: channel, market: head.Market, frame: frame}, nil
}

// Run delivers events until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range relayChannels {
			go h.relay(ctx, ch)
		}
	}
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case e := <-h.in:
			h.deliver(e)
		}
	}
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "ws: subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed", slog.String("channel", channel))
				return
			}
			e, err := newEvent(channel, data)
			if err != nil {
				h.logger.WarnContext(ctx, "ws: bad event on bus", slog.String("error", err.Error()))
				continue
			}
			select {
			case h.in <- e:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) deliver(e event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(e.channel, e.market) {
			continue
		}
		select {
		case c.send <- e.frame:
		default:
			h.logger.Warn("ws: client too slow, dropping event", slog.String("channel", e.channel))
		}
	}
}

// trySend queues frame for c unless c has already been removed.
func (h *Hub) trySend(c *client, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client disconnected", slog.Int("clients", n))
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[string]bool, len(relayChannels)),
		markets:  make(map[common.Address]bool),
	}
	for _, ch := range relayChannels {
		c.channels[ch] = true
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info("ws: client connected", slog.Int("clients", n))

	hello := h.hello
	h.trySend(c, Frame{Type: "hello", Hello: &hello})

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	markets  map[common.Address]bool // empty watches every market
}

// wants reports whether an event for market on channel passes c's filters.
// A trailing "*" in a watched channel matches any suffix.
func (c *client) wants(channel string, market common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.markets) > 0 && !c.markets[market] {
		return false
	}
	if c.channels[channel] {
		return true
	}
	for watched := range c.channels {
		if prefix, ok := strings.CutSuffix(watched, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) apply(cmd command) error {
	markets := make([]common.Address, 0, len(cmd.Markets))
	for _, m := range cmd.Markets {
		if !common.IsHexAddress(m) {
			return fmt.Errorf("invalid market %q", m)
		}
		markets = append(markets, common.HexToAddress(m))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Op {
	case "subscribe":
		for _, ch := range cmd.Channels {
			c.channels[ch] = true
		}
		for _, m := range markets {
			c.markets[m] = true
		}
	case "unsubscribe":
		for _, ch := range cmd.Channels {
			delete(c.channels, ch)
		}
		for _, m := range markets {
			delete(c.markets, m)
		}
	default:
		return fmt.Errorf("unknown op %q", cmd.Op)
	}
	return nil
}

func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxCommandSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.hub.trySend(c, Frame{Type: "error", Error: "malformed command"})
			continue
		}
		if err := c.apply(cmd); err != nil {
			c.hub.trySend(c, Frame{Type: "error", Error: err.Error()})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
