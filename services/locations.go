package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

type coordinates struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
}

// LocationStore writes live positions and custom markers.
type LocationStore struct {
	locations repository.LocationRepository
	validate  *validator.Validate
	strict    bool
	now       func() time.Time
}

type LocationStoreOption func(*LocationStore)

// WithStrictUpsert makes UpsertLivePosition a single atomic
// INSERT ... ON CONFLICT instead of read-then-write.
func WithStrictUpsert(strict bool) LocationStoreOption {
	return func(s *LocationStore) { s.strict = strict }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) LocationStoreOption {
	return func(s *LocationStore) { s.now = now }
}

func NewLocationStore(locations repository.LocationRepository, opts ...LocationStoreOption) *LocationStore {
	if locations == nil {
		panic("LocationRepository cannot be nil for LocationStore")
	}
	s := &LocationStore{
		locations: locations,
		validate:  validator.New(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocationStore) checkCoordinates(lat, lng float64) error {
	err := s.validate.Struct(coordinates{Latitude: lat, Longitude: lng})
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ValidationError{Field: strings.ToLower(fieldErrs[0].Field()), Reason: "out of range"}
	}
	return &ValidationError{Field: "coordinates", Reason: err.Error()}
}

// UpsertLivePosition moves the caller's live position in the room, creating
// it on first use.
//
// In the default mode the existing row is read first and then updated or
// inserted. Two concurrent first upserts by the same user can both insert;
// the reader-side projection tolerates that.
func (s *LocationStore) UpsertLivePosition(ctx context.Context, roomID, userID, userName string, lat, lng float64) (*models.Location, error) {
	if err := s.checkCoordinates(lat, lng); err != nil {
		return nil, err
	}
	now := s.now()

	if s.strict {
		loc := &models.Location{
			RoomID:    roomID,
			UserID:    userID,
			UserName:  userName,
			Latitude:  lat,
			Longitude: lng,
			Timestamp: now,
		}
		if err := s.locations.UpsertLivePosition(ctx, loc); err != nil {
			return nil, storeError(ctx, "upsert_position", err)
		}
		metrics.RecordLocationWrite("upsert")
		return loc, nil
	}

	existing, err := s.locations.FindLivePosition(ctx, roomID, userID)
	switch {
	case err == nil:
		existing.Latitude = lat
		existing.Longitude = lng
		existing.Timestamp = now
		if err := s.locations.Save(ctx, existing); err != nil {
			return nil, storeError(ctx, "update_position", err)
		}
		metrics.RecordLocationWrite("upsert_update")
		return existing, nil
	case errors.Is(err, repository.ErrNotFound):
		loc := &models.Location{
			RoomID:    roomID,
			UserID:    userID,
			UserName:  userName,
			Latitude:  lat,
			Longitude: lng,
			Timestamp: now,
		}
		if err := s.locations.Create(ctx, loc); err != nil {
			return nil, storeError(ctx, "insert_position", err)
		}
		metrics.RecordLocationWrite("upsert_insert")
		logging.ForUser(ctx, userID).Debug().
			Str("room_id", roomID).
			Str("location_id", loc.ID).
			Msg("Live position created")
		return loc, nil
	default:
		return nil, storeError(ctx, "find_position", err)
	}
}

// AddMarker inserts a custom marker. Markers are never upserted.
func (s *LocationStore) AddMarker(ctx context.Context, roomID, userID, userName string, lat, lng float64, name, description string) (*models.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be blank"}
	}
	if s.validate.Var(name, "max=255") != nil {
		return nil, &ValidationError{Field: "name", Reason: "must be at most 255 characters"}
	}
	if err := s.checkCoordinates(lat, lng); err != nil {
		return nil, err
	}

	loc := &models.Location{
		RoomID:         roomID,
		UserID:         userID,
		UserName:       userName,
		Latitude:       lat,
		Longitude:      lng,
		Timestamp:      s.now(),
		Name:           &name,
		IsCustomMarker: true,
	}
	if description = strings.TrimSpace(description); description != "" {
		loc.Description = &description
	}
	if err := s.locations.Create(ctx, loc); err != nil {
		return nil, storeError(ctx, "add_marker", err)
	}
	metrics.RecordLocationWrite("marker")
	logging.ForUser(ctx, userID).Info().
		Str("room_id", roomID).
		Str("location_id", loc.ID).
		Msg("Marker added")
	return loc, nil
}

// DeleteLocation removes a location row. Only its author may delete it.
func (s *LocationStore) DeleteLocation(ctx context.Context, locationID, requesterID string) error {
	loc, err := s.locations.FindByID(ctx, locationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &NotFoundError{Kind: "location", Key: locationID}
		}
		return storeError(ctx, "find_location", err)
	}
	if loc.UserID != requesterID {
		return &AuthorizationError{Action: "delete location " + locationID, UserID: requesterID}
	}
	if err := s.locations.Delete(ctx, locationID); err != nil {
		return storeError(ctx, "delete_location", err)
	}
	metrics.RecordLocationWrite("delete")
	return nil
}

// ListByRoom returns the room's snapshot, newest first.
func (s *LocationStore) ListByRoom(ctx context.Context, roomID string) ([]models.Location, error) {
	locs, err := s.locations.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, storeError(ctx, "list_locations", err)
	}
	return locs, nil
}
