// Package repository is the row-level CRUD surface of the durable store:
// rooms, room_members and locations. The gorm implementations work on both
// Postgres and SQLite.
package repository

import (
	"context"
	"errors"

	"github.com/CUknot/locshare/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry is returned when a unique constraint rejects a write.
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	FindByID(ctx context.Context, id string) (*models.Room, error)
	// FindByCode matches the stored (uppercase) code exactly. When several
	// rooms share a code, whichever row the store returns first wins.
	FindByCode(ctx context.Context, code string) (*models.Room, error)
	// ListByOwner returns rooms created by userID, newest first.
	ListByOwner(ctx context.Context, userID string) ([]models.Room, error)
	// ListByIDs returns the given rooms, newest first.
	ListByIDs(ctx context.Context, ids []string) ([]models.Room, error)
	Delete(ctx context.Context, id string) error
}

type MemberRepository interface {
	Create(ctx context.Context, member *models.RoomMember) error
	// RoomIDsForUser returns the room id of every membership row of userID,
	// duplicates included.
	RoomIDsForUser(ctx context.Context, userID string) ([]string, error)
	DeleteByRoom(ctx context.Context, roomID string) (int64, error)
}

type LocationRepository interface {
	Create(ctx context.Context, loc *models.Location) error
	FindByID(ctx context.Context, id string) (*models.Location, error)
	// FindLivePosition returns the non-marker row of (roomID, userID).
	FindLivePosition(ctx context.Context, roomID, userID string) (*models.Location, error)
	// Save writes every column of an existing row.
	Save(ctx context.Context, loc *models.Location) error
	// UpsertLivePosition atomically inserts or updates the live position
	// row. It needs the partial unique index created by database.Migrate in
	// strict mode.
	UpsertLivePosition(ctx context.Context, loc *models.Location) error
	// ListByRoom returns every record of the room, newest first.
	ListByRoom(ctx context.Context, roomID string) ([]models.Location, error)
	Delete(ctx context.Context, id string) error
	// DeleteByRoom and DeleteByRoomAndUser return the rows they removed.
	DeleteByRoom(ctx context.Context, roomID string) ([]models.Location, error)
	DeleteByRoomAndUser(ctx context.Context, roomID, userID string) ([]models.Location, error)
}
