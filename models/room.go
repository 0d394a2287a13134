package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Room is a named, code-addressable sharing scope. CreatedBy is the owner.
type Room struct {
	ID        string    `gorm:"size:36;primaryKey" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Code      string    `gorm:"size:6;not null;index" json:"code"`
	CreatedBy string    `gorm:"size:36;not null;index" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// RoomMember records one join event of a user into a room.
// The same (room, user) pair may appear more than once.
type RoomMember struct {
	ID       string    `gorm:"size:36;primaryKey" json:"id"`
	RoomID   string    `gorm:"size:36;not null;index" json:"room_id"`
	UserID   string    `gorm:"size:36;not null;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (RoomMember) TableName() string { return "room_members" }

func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

func (m *RoomMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
