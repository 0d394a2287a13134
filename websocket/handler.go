package websocket

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/propagator"
	"github.com/CUknot/locshare/services"
)

// TokenVerifier checks a session token. identity.JWTProvider satisfies it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*identity.Claims, error)
}

// RoomLookup resolves a room id. services.RoomRegistry satisfies it.
type RoomLookup interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
}

type Handler struct {
	hub        *Hub
	tokens     TokenVerifier
	rooms      RoomLookup
	positions  PositionWriter
	propagator *propagator.Propagator
	upgrader   websocket.Upgrader
}

// NewHandler builds the /ws endpoint. origin restricts the Origin header; an
// empty value or "*" accepts any origin.
func NewHandler(hub *Hub, tokens TokenVerifier, rooms RoomLookup, positions PositionWriter, prop *propagator.Propagator, origin string) *Handler {
	return &Handler{
		hub:        hub,
		tokens:     tokens,
		rooms:      rooms,
		positions:  positions,
		propagator: prop,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return origin == "" || origin == "*" || r.Header.Get("Origin") == origin
			},
		},
	}
}

// ServeWS godoc
// @Summary Live room stream
// @Description Upgrades to a websocket that first sends a snapshot of the room and then every location change. Clients may send position and ping messages.
// @Tags realtime
// @Param token query string true "Session token"
// @Param room_id query string true "Room ID"
// @Success 101 "Switching protocols"
// @Failure 400 {object} map[string]string "room_id missing"
// @Failure 401 {object} map[string]string "Unauthorized"
// @Failure 404 {object} map[string]string "Room not found"
// @Router /ws [get]
func (h *Handler) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.Query("token")
	if token == "" {
		if rest, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
		return
	}
	claims, err := h.tokens.Verify(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Query("room_id")
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}
	if _, err := h.rooms.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		logging.Ctx(ctx).Error().Err(err).Str("room_id", roomID).Msg("Room lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred"})
		return
	}

	// Upgrade HTTP connection to WebSocket
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	user := claims.User()
	ctx = logging.WithUser(ctx, user.ID)
	log := logging.Ctx(ctx).With().Str("room_id", roomID).Logger()
	client := newClient(h.hub, conn, user, roomID, h.positions, log)
	client.sub = h.propagator.Subscribe(roomID, client)

	if err := h.hub.Register(ctx, client); err != nil {
		log.Warn().Err(err).Msg("WebSocket hub unavailable")
		conn.Close()
		return
	}

	go client.writePump()
	if err := client.sub.Start(ctx); err != nil {
		client.enqueue(TypeError, ErrorPayload{Message: "subscription failed"})
		h.hub.Unregister(client)
		return
	}
	go client.positionPump()
	go client.readPump()
	log.Info().Msg("WebSocket client connected")
}
