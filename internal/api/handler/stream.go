package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/airgrid/airgrid/internal/anomaly"
	"github.com/airgrid/airgrid/internal/api/models"
	"github.com/airgrid/airgrid/internal/notifier"
)

// StreamConfig tunes the anomaly websocket.
type StreamConfig struct {
	// Buffer is the per-connection backlog before anomalies are dropped.
	Buffer int
	// WriteWait bounds each frame write.
	WriteWait time.Duration
	// PongWait is how long a silent peer is kept. Protocol pings go out at
	// nine tenths of it.
	PongWait time.Duration
	// CheckOrigin overrides the upgrader origin check. Nil allows every
	// origin, matching the public read API.
	CheckOrigin func(*http.Request) bool
}

const maxClientMessage = 512

func (c StreamConfig) withDefaults() StreamConfig {
	if c.Buffer <= 0 {
		c.Buffer = 32
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = func(*http.Request) bool { return true }
	}
	return c
}

// StreamHandler pushes newly detected anomalies to websocket clients. There
// is no replay: a client only sees anomalies published after it connected.
type StreamHandler struct {
	hub      *notifier.Hub
	cfg      StreamConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewStreamHandler creates a StreamHandler fed by hub.
func NewStreamHandler(hub *notifier.Hub, cfg StreamConfig, logger zerolog.Logger) *StreamHandler {
	cfg = cfg.withDefaults()
	return &StreamHandler{
		hub: hub,
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     cfg.CheckOrigin,
		},
		logger: logger.With().Str("component", "anomaly_stream").Logger(),
	}
}

// Anomalies handles WS /v1/ws/anomalies.
func (h *StreamHandler) Anomalies(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Subscribe before the greeting so a client that has read it is
	// guaranteed to receive every later anomaly.
	events := h.hub.Subscribe(ctx, h.cfg.Buffer)
	pongs := make(chan struct{}, 1)

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Int("subscribers", h.hub.Subscribers()).Msg("stream client connected")
	go h.readPump(conn, cancel, pongs)
	h.writePump(ctx, conn, events, pongs)
	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("stream client disconnected")
}

// readPump owns reads. It keeps the read deadline alive, turns text "ping"
// frames into pong requests and cancels the connection on any read error.
func (h *StreamHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc, pongs chan<- struct{}) {
	defer cancel()

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("stream read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		if typ == websocket.TextMessage && strings.EqualFold(strings.TrimSpace(string(msg)), "ping") {
			select {
			case pongs <- struct{}{}:
			default:
			}
		}
	}
}

// writePump owns writes; gorilla connections allow a single writer.
func (h *StreamHandler) writePump(ctx context.Context, conn *websocket.Conn, events <-chan anomaly.Anomaly, pongs <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	if err := h.send(conn, models.StreamMessage{Type: models.StreamConnectionStatus, Message: "connected"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteWait))
			return
		case a, ok := <-events:
			if !ok {
				return
			}
			if err := h.send(conn, models.StreamMessage{Type: models.StreamNewAnomaly, Payload: &a}); err != nil {
				return
			}
		case <-pongs:
			if err := h.send(conn, models.StreamMessage{Type: models.StreamPong}); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) send(conn *websocket.Conn, msg models.StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Str("type", msg.Type).Msg("stream write failed")
		return err
	}
	return nil
}
