package httpapi

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hexplatoon/rivalist-go/internal/notify"
	"github.com/hexplatoon/rivalist-go/internal/obslog"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Hub fans notification envelopes out to the websocket connections of each
// user. It is one of the sinks behind notify.Multi, so delivery failures
// never propagate into domain code.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

// Notify implements notify.Notifier. Writes use a short deadline per
// connection; a dead peer is dropped on its next read error.
func (h *Hub) Notify(ctx context.Context, username string, event notify.Event, payload any) {
	env := notify.Envelope{
		Username: username,
		Event:    event,
		Payload:  payload,
		SentAt:   time.Now(),
	}

	h.mu.RLock()
	targets := make([]*websocket.Conn, 0, len(h.conns[username]))
	for conn := range h.conns[username] {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := wsjson.Write(wctx, conn, env); err != nil {
			obslog.L().Debug("ws_write_error",
				zap.String("username", username),
				zap.String("event", string(event)),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Handler upgrades the request and keeps the connection registered until the
// peer goes away. Clients do not send anything meaningful; the read loop only
// detects disconnects.
func (h *Hub) Handler(c echo.Context) error {
	username := strings.TrimSpace(c.Request().Header.Get(identityHeader))
	if username == "" {
		username = strings.TrimSpace(c.QueryParam("username"))
	}
	if username == "" {
		return echo.NewHTTPError(401, identityHeader+" header or username query required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return err
	}
	h.register(username, conn)
	obslog.L().Info("ws_connect", zap.String("username", username))

	defer func() {
		h.unregister(username, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		obslog.L().Info("ws_disconnect", zap.String("username", username))
	}()

	ctx := c.Request().Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return nil
		}
	}
}

func (h *Hub) register(username string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conns[username]
	if !ok {
		set = make(map[*websocket.Conn]struct{})
		h.conns[username] = set
	}
	set[conn] = struct{}{}
}

func (h *Hub) unregister(username string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[username]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, username)
		}
	}
}

// Close tears down every live connection, used during shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for username, set := range h.conns {
		for conn := range set {
			_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		}
		delete(h.conns, username)
	}
}
