// Package changefeed turns row changes on the locations table into
// room-scoped event streams.
//
// Changes enter from one of two sources, Postgres LISTEN/NOTIFY (PGListener)
// or gorm callbacks (RegisterHooks), and are published on a Bus keyed by
// room. Subscribers only ever see events of the room they asked for.
package changefeed

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/CUknot/locshare/models"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

func (t EventType) Valid() bool {
	return t == Insert || t == Update || t == Delete
}

// Event is one row change. For Delete, Row is the row as it was before
// removal; from the notify source only its id, room_id and user_id are set.
type Event struct {
	Type EventType       `json:"type"`
	Row  models.Location `json:"row"`
}

// Feed is the subscribe side of the change feed. The returned channel is
// closed once ctx is done.
type Feed interface {
	Subscribe(ctx context.Context, roomID string) (<-chan Event, error)
}

// Publisher is the publish side, implemented by Bus. source names the
// origin of the event for metrics (notify, hooks).
type Publisher interface {
	Publish(ctx context.Context, source string, ev Event) error
}

// Topic is the bus topic for a room.
func Topic(roomID string) string {
	return "locations." + roomID
}

func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if !ev.Type.Valid() {
		return Event{}, fmt.Errorf("decode change event: unknown type %q", ev.Type)
	}
	if ev.Row.ID == "" || ev.Row.RoomID == "" {
		return Event{}, fmt.Errorf("decode change event: row without id or room_id")
	}
	return ev, nil
}
