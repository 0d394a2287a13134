package services

import (
	"context"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

// MembershipManager records joins and leaves and answers "which rooms".
type MembershipManager struct {
	registry  *RoomRegistry
	rooms     repository.RoomRepository
	members   repository.MemberRepository
	locations repository.LocationRepository
}

func NewMembershipManager(registry *RoomRegistry, rooms repository.RoomRepository, members repository.MemberRepository, locations repository.LocationRepository) *MembershipManager {
	if registry == nil || rooms == nil || members == nil || locations == nil {
		panic("dependencies cannot be nil for MembershipManager")
	}
	return &MembershipManager{registry: registry, rooms: rooms, members: members, locations: locations}
}

// Join inserts a membership row. Joining twice inserts twice.
func (m *MembershipManager) Join(ctx context.Context, roomID, userID string) error {
	if err := m.members.Create(ctx, &models.RoomMember{RoomID: roomID, UserID: userID}); err != nil {
		return storeError(ctx, "join", err)
	}
	logging.ForUser(ctx, userID).Info().Str("room_id", roomID).Msg("User joined room")
	return nil
}

// JoinByCode resolves code and joins the resulting room.
func (m *MembershipManager) JoinByCode(ctx context.Context, code, userID string) (*models.Room, error) {
	room, err := m.registry.ResolveCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := m.Join(ctx, room.ID, userID); err != nil {
		return nil, err
	}
	return room, nil
}

// Leave removes every location row of userID in the room, live position and
// markers alike. The membership row stays, so the room is still listed as
// joined.
func (m *MembershipManager) Leave(ctx context.Context, roomID, userID string) error {
	removed, err := m.locations.DeleteByRoomAndUser(ctx, roomID, userID)
	if err != nil {
		return storeError(ctx, "leave", err)
	}
	metrics.LocationWrites.WithLabelValues("delete").Add(float64(len(removed)))
	logging.ForUser(ctx, userID).Info().
		Str("room_id", roomID).
		Int("locations_removed", len(removed)).
		Msg("User left room")
	return nil
}

// ListOwned returns rooms created by userID, newest first.
func (m *MembershipManager) ListOwned(ctx context.Context, userID string) ([]models.Room, error) {
	rooms, err := m.rooms.ListByOwner(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "list_owned", err)
	}
	return rooms, nil
}

// ListJoined returns every room userID has a membership in, newest first,
// each room once.
func (m *MembershipManager) ListJoined(ctx context.Context, userID string) ([]models.Room, error) {
	ids, err := m.members.RoomIDsForUser(ctx, userID)
	if err != nil {
		return nil, storeError(ctx, "list_memberships", err)
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	rooms, err := m.rooms.ListByIDs(ctx, unique)
	if err != nil {
		return nil, storeError(ctx, "list_joined", err)
	}
	return rooms, nil
}
