// Package ws serves the real-time channel over websockets.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"relief-service/internal/apperr"
	"relief-service/internal/fanout"
	"relief-service/internal/logging"
	"relief-service/internal/models"
)

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// Inbound is a client message.
type Inbound struct {
	Type  string   `json:"type"`
	City  string   `json:"city,omitempty"`
	State string   `json:"state,omitempty"`
	Lat   *float64 `json:"lat,omitempty"`
	Lng   *float64 `json:"lng,omitempty"`
}

const (
	MsgJoinLocation = "join_location"
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
)

type Handler struct {
	router   *fanout.Router
	verifier Verifier
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

func NewHandler(router *fanout.Router, verifier Verifier, logger *logging.Logger) *Handler {
	return &Handler{
		router:   router,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// identify reads the token from the query string or Authorization header. An
// invalid token degrades the connection to the public pool.
func (h *Handler) identify(r *http.Request) *models.Identity {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		return nil
	}
	ident, err := h.verifier.Verify(token)
	if err != nil {
		h.logger.Warnf("Websocket identity rejected, joining public pool: %v", err)
		return nil
	}
	return &ident
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident := h.identify(r)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("Error upgrading connection to WebSocket: %v", err)
		return
	}

	c := newClient(conn)
	go c.writePump()

	targets := h.router.Connect(c, ident)
	rooms := make([]string, 0, len(targets))
	for _, t := range targets {
		rooms = append(rooms, t.String())
	}
	h.reply(c, models.Connected{ConnectionID: c.ID(), Rooms: rooms})

	h.readPump(c, ident)
}

func (h *Handler) readPump(c *Client, ident *models.Identity) {
	defer func() {
		h.router.Disconnect(context.Background(), c.ID())
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Errorf("WebSocket read error for connection %s: %v", c.ID(), err)
			}
			return
		}
		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, models.ErrorNotice{Message: "malformed message"})
			continue
		}
		ack, err := h.handle(c.ID(), ident, msg)
		if err != nil {
			h.reply(c, models.ErrorNotice{Message: err.Error()})
			continue
		}
		h.reply(c, ack)
	}
}

func (h *Handler) handle(connID string, ident *models.Identity, msg Inbound) (models.Joined, error) {
	ctx := context.Background()
	switch msg.Type {
	case MsgJoinLocation:
		t, err := h.router.JoinLocation(connID, msg.City, msg.State)
		if err != nil {
			return models.Joined{}, err
		}
		return models.Joined{Room: t.String()}, nil
	case MsgSubscribe:
		if msg.Lat == nil || msg.Lng == nil {
			return models.Joined{}, apperr.Validation("lat and lng are required")
		}
		var userID *string
		if ident != nil {
			id := ident.UserID
			userID = &id
		}
		sub, err := h.router.Subscribe(ctx, connID, userID, *msg.Lat, *msg.Lng)
		if err != nil {
			return models.Joined{}, err
		}
		return models.Joined{Lat: sub.Lat, Lng: sub.Lng}, nil
	case MsgUnsubscribe:
		if err := h.router.Unsubscribe(ctx, connID); err != nil {
			return models.Joined{}, err
		}
		return models.Joined{Unsubscribed: true}, nil
	default:
		return models.Joined{}, apperr.Validation("unknown message type %q", msg.Type)
	}
}

func (h *Handler) reply(c *Client, ev models.Event) {
	env, err := models.NewEnvelope(ev, time.Now().UTC())
	if err != nil {
		h.logger.Errorf("Failed to encode %s: %v", ev.EventName(), err)
		return
	}
	if err := c.Send(env); err != nil && !errors.Is(err, ErrClosed) {
		h.logger.Warnf("Failed to reply to connection %s: %v", c.ID(), err)
	}
}
