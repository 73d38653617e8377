package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"delayboard/internal/delays"
	"delayboard/internal/domain"
	"delayboard/internal/hub"
)

type Viewer interface {
	StopView(ctx context.Context, sel domain.TripSelection, rng domain.StopRange) (*delays.TripView, error)
}

type WSHandler struct {
	hub    *hub.Hub
	viewer Viewer
	logger *slog.Logger
}

func NewWSHandler(h *hub.Hub, viewer Viewer, logger *slog.Logger) *WSHandler {
	return &WSHandler{hub: h, viewer: viewer, logger: logger.With("component", "websocket")}
}

type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Route     string `json:"route"`
	Direction string `json:"direction"`
	Stop      string `json:"stop"`
	Departure string `json:"departure"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

func (p SubscribePayload) selection() domain.TripSelection {
	return domain.TripSelection{
		RouteShortName:         p.Route,
		TripHeadsign:           p.Direction,
		DepartureStop:          p.Stop,
		ScheduledDepartureTime: p.Departure,
	}
}

type UnsubscribePayload struct {
	Key string `json:"key"`
}

type ErrorMessage struct {
	Type    string       `json:"type"`
	Payload ErrorPayload `json:"payload"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	clientID := uuid.New().String()
	client := hub.NewClient(clientID, 64)

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, client)

	h.readLoop(ctx, conn, client)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("websocket read error", "client_id", client.ID, "error", err)
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("invalid message format", "client_id", client.ID, "error", err)
			continue
		}

		switch msg.Type {
		case "subscribe":
			var payload SubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				h.sendError(client, "invalid subscribe payload")
				continue
			}
			h.subscribe(ctx, client, payload)

		case "unsubscribe":
			var payload UnsubscribePayload
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				continue
			}
			if payload.Key != "" {
				h.hub.Unsubscribe(client, payload.Key)
			}

		case "ping":
			h.send(client, PongMessage{Type: "pong"})
		}
	}
}

// subscribe registers the selection and sends its current view right away.
func (h *WSHandler) subscribe(ctx context.Context, client *hub.Client, p SubscribePayload) {
	sel := p.selection()
	rng := domain.StopRange{From: p.From, To: p.To}
	key := h.hub.Subscribe(client, sel, rng)

	view, err := h.viewer.StopView(ctx, sel, rng)
	if err != nil {
		h.logger.Warn("failed to build view for subscription", "client_id", client.ID, "key", key, "error", err)
		h.sendError(client, err.Error())
		return
	}

	if h.hub.Publish(key, view) {
		return
	}
	data, err := hub.EncodeView(key, view)
	if err != nil {
		return
	}
	h.hub.SendTo(client, data)
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-client.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}

		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) sendError(client *hub.Client, message string) {
	h.send(client, ErrorMessage{Type: "error", Payload: ErrorPayload{Message: message}})
}

func (h *WSHandler) send(client *hub.Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	h.hub.SendTo(client, data)
}
