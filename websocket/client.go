package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/propagator"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	sendBufferSize = 256
)

// Message types.
const (
	TypeSnapshot       = "snapshot"
	TypeLocationChange = "location_change"
	TypePosition       = "position"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeError          = "error"
)

var errHubStopped = errors.New("websocket hub stopped")

// Message is the envelope of every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SnapshotPayload is sent once after the subscription becomes active.
type SnapshotPayload struct {
	RoomID    string                  `json:"room_id"`
	Locations []models.Location       `json:"locations"`
	Grouped   models.GroupedLocations `json:"grouped"`
}

// PositionPayload is a live position report from the client.
type PositionPayload struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// PositionWriter stores live positions. services.LocationStore satisfies it.
type PositionWriter interface {
	UpsertLivePosition(ctx context.Context, roomID, userID, userName string, lat, lng float64) (*models.Location, error)
}

// Client is one websocket connection watching one room. It is the
// propagator observer for that room.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	user      identity.User
	roomID    string
	positions PositionWriter
	sub       *propagator.Subscription
	log       zerolog.Logger

	// latest position waiting to be written; older ones are replaced
	pending chan [2]float64

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, user identity.User, roomID string, positions PositionWriter, log zerolog.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		user:      user,
		roomID:    roomID,
		positions: positions,
		log:       log,
		pending:   make(chan [2]float64, 1),
		send:      make(chan []byte, sendBufferSize),
	}
}

func (c *Client) OnSnapshot(records []models.Location) {
	c.enqueue(TypeSnapshot, SnapshotPayload{
		RoomID:    c.roomID,
		Locations: records,
		Grouped:   models.Group(records),
	})
}

func (c *Client) OnEvent(ev changefeed.Event) {
	c.enqueue(TypeLocationChange, ev)
}

// enqueue queues a frame without blocking. A client that cannot keep up is
// disconnected; it resyncs from a fresh snapshot on reconnect.
func (c *Client) enqueue(typ string, payload any) {
	msg := Message{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.log.Error().Err(err).Str("type", typ).Msg("Failed to encode websocket message")
			return
		}
		msg.Payload = raw
	}
	frame, err := json.Marshal(msg)
	if err != nil {
		c.log.Error().Err(err).Str("type", typ).Msg("Failed to encode websocket message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		metrics.WSMessagesDropped.Inc()
		c.log.Warn().Str("type", typ).Msg("Send buffer full, disconnecting client")
		_ = c.conn.Close()
	}
}

// close stops the subscription and then ends writePump. Only the hub calls it.
func (c *Client) close() {
	if c.sub != nil {
		c.sub.Stop()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps messages from the websocket connection to the store
func (c *Client) readPump() {
	defer func() {
		close(c.pending)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("WebSocket closed unexpectedly")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueue(TypeError, ErrorPayload{Message: "malformed message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg Message) {
	switch msg.Type {
	case TypePing:
		c.enqueue(TypePong, nil)
	case TypePosition:
		var p PositionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Latitude == nil || p.Longitude == nil {
			c.enqueue(TypeError, ErrorPayload{Message: "position needs latitude and longitude"})
			return
		}
		c.offerPosition([2]float64{*p.Latitude, *p.Longitude})
	default:
		c.enqueue(TypeError, ErrorPayload{Message: "unknown message type " + msg.Type})
	}
}

// offerPosition hands a position to positionPump, replacing one that has not
// been written yet. Only readPump calls it.
func (c *Client) offerPosition(pos [2]float64) {
	select {
	case c.pending <- pos:
		return
	default:
	}
	select {
	case <-c.pending:
	default:
	}
	c.pending <- pos
}

// positionPump writes live positions one at a time. The client learns the
// outcome from the change feed, failures are only logged and reported back.
func (c *Client) positionPump() {
	base := logging.WithUser(context.Background(), c.user.ID)
	for pos := range c.pending {
		ctx, cancel := context.WithTimeout(base, writeWait)
		_, err := c.positions.UpsertLivePosition(ctx, c.roomID, c.user.ID, c.user.Username, pos[0], pos[1])
		cancel()
		if err != nil {
			c.log.Warn().Err(err).Msg("Live position update failed")
			c.enqueue(TypeError, ErrorPayload{Message: err.Error()})
		}
	}
}

// writePump pumps messages from the send buffer to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
