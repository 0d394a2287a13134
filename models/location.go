package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Location is either a member's live position (IsCustomMarker false, at most
// one per room and user) or a user-authored custom marker.
type Location struct {
	ID             string    `gorm:"size:36;primaryKey" json:"id"`
	RoomID         string    `gorm:"size:36;not null;index" json:"room_id"`
	UserID         string    `gorm:"size:36;not null;index" json:"user_id"`
	UserName       string    `gorm:"size:255" json:"user_name"`
	Latitude       float64   `gorm:"not null" json:"latitude"`
	Longitude      float64   `gorm:"not null" json:"longitude"`
	Timestamp      time.Time `gorm:"not null;index" json:"timestamp"`
	Name           *string   `gorm:"size:255" json:"name,omitempty"`
	Description    *string   `gorm:"type:text" json:"description,omitempty"`
	IsCustomMarker bool      `gorm:"not null;default:false" json:"is_custom_marker"`
}

func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now().UTC()
	}
	return nil
}

// GroupedLocations is the read-side projection consumed by rendering.
// UserLocations[userID][0] is the most recent record of that user.
type GroupedLocations struct {
	CustomMarkers []Location            `json:"custom_markers"`
	UserLocations map[string][]Location `json:"user_locations"`
}

// Group partitions records into custom markers and per-user live positions,
// each sorted newest first.
func Group(records []Location) GroupedLocations {
	g := GroupedLocations{
		CustomMarkers: []Location{},
		UserLocations: make(map[string][]Location),
	}
	for _, loc := range records {
		if loc.IsCustomMarker {
			g.CustomMarkers = append(g.CustomMarkers, loc)
			continue
		}
		g.UserLocations[loc.UserID] = append(g.UserLocations[loc.UserID], loc)
	}

	sort.SliceStable(g.CustomMarkers, func(i, j int) bool {
		return newer(g.CustomMarkers[i], g.CustomMarkers[j])
	})
	for _, locs := range g.UserLocations {
		sort.SliceStable(locs, func(i, j int) bool {
			return newer(locs[i], locs[j])
		})
	}
	return g
}

// newer orders by timestamp descending, falling back to id for a stable result.
func newer(a, b Location) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}
