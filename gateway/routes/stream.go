package routes

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"wagerchain/core/events"
)

const (
	defaultStreamBuffer       = 64
	defaultStreamWriteTimeout = 10 * time.Second
)

type streamMessage struct {
	Type       string            `json:"type"`
	GameID     uint64            `json:"gameId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"ts"`
}

type subscriber struct {
	gameID  uint64
	filter  bool
	updates chan streamMessage
	dropped chan struct{}
	once    sync.Once
}

func (s *subscriber) drop() {
	s.once.Do(func() { close(s.dropped) })
}

// Hub fans wager events out to websocket subscribers. Subscribers that fall
// behind by more than the buffer size are disconnected.
type Hub struct {
	mu           sync.Mutex
	subs         map[*subscriber]struct{}
	buffer       int
	writeTimeout time.Duration
	logger       *slog.Logger
	nowFn        func() time.Time
	origins      []string
}

// NewHub constructs an empty hub.
func NewHub(buffer int, writeTimeout time.Duration, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultStreamWriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:         make(map[*subscriber]struct{}),
		buffer:       buffer,
		writeTimeout: writeTimeout,
		logger:       logger,
		nowFn:        time.Now,
		origins:      []string{"*"},
	}
}

// SetAllowedOrigins restricts cross-origin upgrades to the CORS allowlist.
// An empty list accepts any origin, matching the CORS middleware.
func (h *Hub) SetAllowedOrigins(origins []string) {
	patterns := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			origin = u.Host
		}
		patterns = append(patterns, origin)
	}
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	h.origins = patterns
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil || evt.Event() == nil {
		return
	}
	payload := evt.Event().Clone()
	msg := streamMessage{
		Type:       payload.Type,
		Attributes: payload.Attributes,
		Timestamp:  h.nowFn().UTC().Unix(),
	}
	if raw, ok := payload.Attributes["gameId"]; ok {
		msg.GameID, _ = strconv.ParseUint(raw, 10, 64)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.filter && sub.gameID != msg.GameID {
			continue
		}
		select {
		case sub.updates <- msg:
		default:
			h.logger.Warn("dropping slow stream subscriber", "gameId", sub.gameID)
			delete(h.subs, sub)
			sub.drop()
		}
	}
}

// Subscribers reports the number of connected stream clients.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) subscribe(gameID uint64, filter bool) *subscriber {
	sub := &subscriber{
		gameID:  gameID,
		filter:  filter,
		updates: make(chan streamMessage, h.buffer),
		dropped: make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// ServeHTTP upgrades the request and streams events until the client goes
// away. The optional gameId query parameter restricts the stream to one game.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		gameID uint64
		filter bool
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("gameId")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid gameId filter"})
			return
		}
		gameID, filter = id, true
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	sub := h.subscribe(gameID, filter)
	defer h.unsubscribe(sub)

	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, sub); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, sub *subscriber) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.dropped:
			return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
		case msg := <-sub.updates:
			if err := h.write(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
