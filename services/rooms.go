// Package services holds the room registry, membership manager and location
// store: the write and query operations on rooms, memberships and locations.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

const (
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	codeLength   = 6
)

// RoomRegistry creates, resolves and destroys rooms.
type RoomRegistry struct {
	rooms     repository.RoomRepository
	members   repository.MemberRepository
	locations repository.LocationRepository
	newCode   func() (string, error)
}

func NewRoomRegistry(rooms repository.RoomRepository, members repository.MemberRepository, locations repository.LocationRepository) *RoomRegistry {
	if rooms == nil || members == nil || locations == nil {
		panic("repositories cannot be nil for RoomRegistry")
	}
	return &RoomRegistry{
		rooms:     rooms,
		members:   members,
		locations: locations,
		newCode:   GenerateCode,
	}
}

// GenerateCode draws a 6 character code uniformly from [0-9A-Z].
// Codes are not checked for uniqueness.
func GenerateCode() (string, error) {
	b := make([]byte, codeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// NormalizeCode trims and uppercases user input so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateRoom stores a new room owned by ownerID. It does not make the owner
// a member.
func (s *RoomRegistry) CreateRoom(ctx context.Context, name, ownerID string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be blank"}
	}

	code, err := s.newCode()
	if err != nil {
		return nil, storeError(ctx, "generate_code", err)
	}

	room := &models.Room{Name: name, Code: code, CreatedBy: ownerID}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, storeError(ctx, "create_room", err)
	}

	logging.ForUser(ctx, ownerID).Info().
		Str("room_id", room.ID).
		Str("code", room.Code).
		Msg("Room created")
	return room, nil
}

// ResolveCode looks a room up by its join code, ignoring case and
// surrounding whitespace.
func (s *RoomRegistry) ResolveCode(ctx context.Context, code string) (*models.Room, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return nil, &NotFoundError{Kind: "room code", Key: code}
	}
	room, err := s.rooms.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "room code", Key: normalized}
		}
		return nil, storeError(ctx, "resolve_code", err)
	}
	return room, nil
}

func (s *RoomRegistry) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, &NotFoundError{Kind: "room", Key: roomID}
		}
		return nil, storeError(ctx, "get_room", err)
	}
	return room, nil
}

// DeleteRoom removes a room, its memberships and its locations. Only the
// owner may do this. The three deletes are separate store calls; when one
// fails the earlier ones stay applied.
func (s *RoomRegistry) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.CreatedBy != requesterID {
		return &AuthorizationError{Action: "delete room " + roomID, UserID: requesterID}
	}

	log := logging.ForUser(ctx, requesterID).With().Str("room_id", roomID).Logger()

	removedMembers, err := s.members.DeleteByRoom(ctx, roomID)
	if err != nil {
		return storeError(ctx, "delete_room_members", err)
	}
	removedLocations, err := s.locations.DeleteByRoom(ctx, roomID)
	if err != nil {
		return storeError(ctx, "delete_room_locations", err)
	}
	metrics.LocationWrites.WithLabelValues("delete").Add(float64(len(removedLocations)))
	if err := s.rooms.Delete(ctx, roomID); err != nil {
		return storeError(ctx, "delete_room", err)
	}

	log.Info().
		Int64("members_removed", removedMembers).
		Int("locations_removed", len(removedLocations)).
		Msg("Room deleted")
	return nil
}

// storeError logs and counts a failed store call and wraps it.
func storeError(ctx context.Context, op string, err error) error {
	metrics.RecordStoreError(op)
	logging.Ctx(ctx).Error().Err(err).Str("operation", op).Msg("Store call failed")
	return &StoreError{Op: op, Err: err}
}
