// Package client is the participant side of a room: it keeps a reconciled
// local view of the room's locations, pushes the device's live position and
// applies the user's own marker edits optimistically.
package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/propagator"
	"github.com/CUknot/locshare/services"
)

// API is what a Session needs from the service. HTTPClient implements it.
type API interface {
	identity.Provider

	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	UpsertLivePosition(ctx context.Context, roomID string, lat, lng float64) (*models.Location, error)
	AddMarker(ctx context.Context, roomID string, lat, lng float64, name, description string) (*models.Location, error)
	DeleteLocation(ctx context.Context, locationID string) error

	// Subscribe streams the room snapshot and its changes to observer until
	// the returned Subscription is stopped.
	Subscribe(ctx context.Context, roomID string, observer propagator.Observer) (Subscription, error)
}

// Subscription is a live room stream. After Stop returns nothing more is
// delivered. *propagator.Subscription satisfies it.
type Subscription interface {
	Stop()
}

// StreamEndObserver is an optional extension of propagator.Observer. It is
// told when a room stream ends for any reason other than Stop, after which
// the stream delivers nothing more.
type StreamEndObserver interface {
	OnStreamEnd(err error)
}

// APIError is a non-2xx response. It matches the service sentinels with
// errors.Is so callers handle remote and local failures alike.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	switch e.Status {
	case http.StatusBadRequest:
		return target == services.ErrValidation
	case http.StatusUnauthorized:
		return target == identity.ErrUnauthenticated
	case http.StatusForbidden:
		return target == services.ErrForbidden
	case http.StatusNotFound:
		return target == services.ErrNotFound
	}
	return false
}
