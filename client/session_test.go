package client

import (
	"context"
	"errors"
	"net/http"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/propagator"
	"github.com/CUknot/locshare/services"
)

type fakeSub struct {
	stopped atomic.Bool
}

func (f *fakeSub) Stop() { f.stopped.Store(true) }

type fakeAPI struct {
	user     identity.User
	snapshot []models.Location

	mu         sync.Mutex
	observer   propagator.Observer
	sub        *fakeSub
	subErr     error
	subscribes int
	upserts    []Position
	deletes    []string
	nextID     int
	deleteErr  error
}

func (f *fakeAPI) CurrentUser(context.Context) (identity.User, error) { return f.user, nil }
func (f *fakeAPI) SignOut(context.Context) error                      { return nil }

func (f *fakeAPI) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	if roomID == "missing" {
		return nil, &APIError{Status: http.StatusNotFound, Message: "room not found"}
	}
	return &models.Room{ID: roomID, Name: "Trip", Code: "ABC123"}, nil
}

func (f *fakeAPI) UpsertLivePosition(_ context.Context, roomID string, lat, lng float64) (*models.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, Position{Latitude: lat, Longitude: lng})
	return &models.Location{ID: "live", RoomID: roomID, UserID: f.user.ID, Latitude: lat, Longitude: lng}, nil
}

func (f *fakeAPI) AddMarker(_ context.Context, roomID string, lat, lng float64, name, description string) (*models.Location, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return &models.Location{
		ID: "m" + string(rune('0'+f.nextID)), RoomID: roomID, UserID: f.user.ID,
		Latitude: lat, Longitude: lng, Name: &name, IsCustomMarker: true,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (f *fakeAPI) DeleteLocation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, id)
	return nil
}

func (f *fakeAPI) Subscribe(_ context.Context, _ string, observer propagator.Observer) (Subscription, error) {
	f.mu.Lock()
	f.subscribes++
	if f.subErr != nil {
		err := f.subErr
		f.mu.Unlock()
		return nil, err
	}
	f.observer = observer
	f.sub = &fakeSub{}
	sub, snapshot := f.sub, f.snapshot
	f.mu.Unlock()
	observer.OnSnapshot(snapshot)
	return sub, nil
}

func (f *fakeAPI) setSnapshot(records []models.Location, subErr error) {
	f.mu.Lock()
	f.snapshot, f.subErr = records, subErr
	f.mu.Unlock()
}

// dropStream ends the current stream the way a server disconnect does.
func (f *fakeAPI) dropStream() {
	f.mu.Lock()
	obs := f.observer
	f.mu.Unlock()
	obs.(StreamEndObserver).OnStreamEnd(io.ErrUnexpectedEOF)
}

func (f *fakeAPI) subscribeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribes
}

func fastRetry() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), 3)
}

func (f *fakeAPI) push(ev changefeed.Event) {
	f.mu.Lock()
	obs := f.observer
	f.mu.Unlock()
	obs.OnEvent(ev)
}

func (f *fakeAPI) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestSession_EnterRoomSeedsAndFollowsFeed(t *testing.T) {
	api := &fakeAPI{
		user:     identity.User{ID: "ana", Username: "ana"},
		snapshot: []models.Location{{ID: "b1", RoomID: "r1", UserID: "bo", Timestamp: base}},
	}
	s := NewSession(api)

	var views []models.GroupedLocations
	s.OnChange(func(g models.GroupedLocations) { views = append(views, g) })

	room, err := s.EnterRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", room.ID)
	assert.Equal(t, room, s.Room())
	require.Len(t, s.View().UserLocations["bo"], 1)

	api.push(changefeed.Event{Type: changefeed.Update, Row: models.Location{ID: "b1", RoomID: "r1", UserID: "bo", Latitude: 1, Timestamp: base.Add(time.Second)}})
	assert.Equal(t, 1.0, s.View().UserLocations["bo"][0].Latitude)
	assert.Len(t, views, 2, "snapshot and update each produce a view")
}

func TestSession_EnterUnknownRoom(t *testing.T) {
	s := NewSession(&fakeAPI{user: identity.User{ID: "ana"}})
	_, err := s.EnterRoom(context.Background(), "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.Nil(t, s.Room())
}

func TestSession_OptimisticMarkerAddAndDelete(t *testing.T) {
	api := &fakeAPI{user: identity.User{ID: "ana"}}
	s := NewSession(api)
	ctx := context.Background()
	_, err := s.EnterRoom(ctx, "r1")
	require.NoError(t, err)

	loc, err := s.AddMarker(ctx, 40.4, -3.7, "Lunch", "")
	require.NoError(t, err)
	require.Len(t, s.View().CustomMarkers, 1, "marker is shown before the feed echoes it")

	api.push(changefeed.Event{Type: changefeed.Insert, Row: *loc})
	assert.Len(t, s.View().CustomMarkers, 1, "the echo is idempotent")

	require.NoError(t, s.DeleteLocation(ctx, loc.ID))
	assert.Empty(t, s.View().CustomMarkers)
	assert.Equal(t, []string{loc.ID}, api.deletes)

	api.push(changefeed.Event{Type: changefeed.Insert, Row: *loc})
	assert.Empty(t, s.View().CustomMarkers, "a late insert does not resurrect a deleted marker")
}

func TestSession_DeleteRefusesOtherUsersLocations(t *testing.T) {
	name := "Lunch"
	api := &fakeAPI{
		user:     identity.User{ID: "ana"},
		snapshot: []models.Location{{ID: "m9", RoomID: "r1", UserID: "bo", Name: &name, IsCustomMarker: true, Timestamp: base}},
	}
	s := NewSession(api)
	ctx := context.Background()
	_, err := s.EnterRoom(ctx, "r1")
	require.NoError(t, err)

	err = s.DeleteLocation(ctx, "m9")
	assert.ErrorIs(t, err, services.ErrForbidden)
	assert.Empty(t, api.deletes, "no request is made")
	assert.Len(t, s.View().CustomMarkers, 1)
}

func TestSession_FailedDeleteKeepsLocation(t *testing.T) {
	api := &fakeAPI{user: identity.User{ID: "ana"}, deleteErr: errors.New("boom")}
	s := NewSession(api)
	ctx := context.Background()
	_, err := s.EnterRoom(ctx, "r1")
	require.NoError(t, err)
	loc, err := s.AddMarker(ctx, 1, 1, "Lunch", "")
	require.NoError(t, err)

	require.Error(t, s.DeleteLocation(ctx, loc.ID))
	assert.Len(t, s.View().CustomMarkers, 1)
}

func TestSession_OperationsOutsideRoom(t *testing.T) {
	s := NewSession(&fakeAPI{user: identity.User{ID: "ana"}})
	_, err := s.AddMarker(context.Background(), 1, 1, "x", "")
	assert.ErrorIs(t, err, ErrNoRoom)
	assert.ErrorIs(t, s.DeleteLocation(context.Background(), "x"), ErrNoRoom)
	assert.Empty(t, s.View().CustomMarkers)
	s.LeaveRoom()
}

func TestSession_LeaveClearsState(t *testing.T) {
	api := &fakeAPI{
		user:     identity.User{ID: "ana"},
		snapshot: []models.Location{{ID: "b1", RoomID: "r1", UserID: "bo", Timestamp: base}},
	}
	sensor := make(ChanSensor, 1)
	s := NewSession(api, WithSensor(sensor, WatchOptions{MaximumAge: time.Hour}))
	var last models.GroupedLocations
	s.OnChange(func(g models.GroupedLocations) { last = g })

	_, err := s.EnterRoom(context.Background(), "r1")
	require.NoError(t, err)
	sensor <- Position{Latitude: 41.4, Longitude: 2.17, Timestamp: time.Now()}
	require.Eventually(t, func() bool { return s.Center().Latitude == 41.4 }, 2*time.Second, 5*time.Millisecond)

	s.LeaveRoom()
	s.Wait()

	assert.Nil(t, s.Room())
	assert.True(t, api.sub.stopped.Load())
	assert.Empty(t, s.View().UserLocations)
	assert.Empty(t, last.UserLocations, "leaving publishes an empty view")
	assert.Equal(t, DefaultCenter, s.Center())

	api.push(changefeed.Event{Type: changefeed.Insert, Row: models.Location{ID: "b2", RoomID: "r1", UserID: "bo", Timestamp: base}})
	assert.Empty(t, last.UserLocations, "the old room's view is no longer forwarded")
}

func TestSession_ReopensLostStreamAndResyncs(t *testing.T) {
	hotel, museum := "Hotel", "Museum"
	api := &fakeAPI{
		user: identity.User{ID: "ana"},
		snapshot: []models.Location{
			{ID: "b1", RoomID: "r1", UserID: "bo", Timestamp: base},
			{ID: "m1", RoomID: "r1", UserID: "bo", Name: &hotel, IsCustomMarker: true, Timestamp: base},
		},
	}
	s := NewSession(api, WithReconnectBackOff(func() backoff.BackOff {
		return backoff.NewConstantBackOff(20 * time.Millisecond)
	}))
	_, err := s.EnterRoom(context.Background(), "r1")
	require.NoError(t, err)
	defer s.LeaveRoom()

	// m1 is deleted and m2 added while disconnected
	api.setSnapshot([]models.Location{
		{ID: "b1", RoomID: "r1", UserID: "bo", Timestamp: base},
		{ID: "m2", RoomID: "r1", UserID: "bo", Name: &museum, IsCustomMarker: true, Timestamp: base},
	}, errors.New("connection refused"))
	api.dropStream()

	require.Eventually(t, func() bool { return api.subscribeCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	api.setSnapshot(api.snapshot, nil)

	require.Eventually(t, func() bool {
		markers := s.View().CustomMarkers
		return len(markers) == 1 && markers[0].ID == "m2"
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotNil(t, s.Room())

	api.push(changefeed.Event{Type: changefeed.Insert, Row: models.Location{ID: "c1", RoomID: "r1", UserID: "cy", Timestamp: base}})
	assert.Len(t, s.View().UserLocations["cy"], 1, "the reopened stream feeds the view")
}

func TestSession_LeavesRoomWhenStreamCannotReopen(t *testing.T) {
	tests := []struct {
		name    string
		subErr  error
		attempt int
	}{
		{"room deleted", &APIError{Status: http.StatusNotFound, Message: "room not found"}, 2},
		{"server unreachable", errors.New("connection refused"), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{
				user:     identity.User{ID: "ana"},
				snapshot: []models.Location{{ID: "b1", RoomID: "r1", UserID: "bo", Timestamp: base}},
			}
			s := NewSession(api, WithReconnectBackOff(fastRetry))
			errs := make(chan error, 1)
			s.OnStreamError(func(err error) { errs <- err })
			var last models.GroupedLocations
			var mu sync.Mutex
			s.OnChange(func(g models.GroupedLocations) {
				mu.Lock()
				last = g
				mu.Unlock()
			})

			_, err := s.EnterRoom(context.Background(), "r1")
			require.NoError(t, err)

			api.setSnapshot(nil, tt.subErr)
			api.dropStream()

			select {
			case err := <-errs:
				assert.ErrorIs(t, err, ErrStreamLost)
				assert.ErrorIs(t, err, tt.subErr)
			case <-time.After(2 * time.Second):
				t.Fatal("stream loss not reported")
			}
			assert.Nil(t, s.Room())
			assert.Empty(t, s.View().UserLocations)
			mu.Lock()
			assert.Empty(t, last.UserLocations, "an empty view is published")
			mu.Unlock()
			assert.Equal(t, tt.attempt, api.subscribeCount())
			assert.ErrorIs(t, s.DeleteLocation(context.Background(), "b1"), ErrNoRoom)
		})
	}
}

func TestSession_SensorDrivesUpserts(t *testing.T) {
	api := &fakeAPI{user: identity.User{ID: "ana"}}
	sensor := make(ChanSensor)
	s := NewSession(api, WithSensor(sensor, DefaultWatchOptions()))
	_, err := s.EnterRoom(context.Background(), "r1")
	require.NoError(t, err)
	defer s.LeaveRoom()

	assert.Equal(t, DefaultCenter, s.Center())

	sensor <- Position{Latitude: 1, Longitude: 1, Timestamp: time.Now().Add(-time.Minute)}
	sensor <- Position{Latitude: 2, Longitude: 2, Timestamp: time.Now().Add(time.Millisecond)}
	sensor <- Position{Latitude: 3, Longitude: 3}

	require.Eventually(t, func() bool { return api.upsertCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	s.Wait()
	assert.Equal(t, 3.0, s.Center().Latitude)
	assert.NotContains(t, api.upserts, Position{Latitude: 1, Longitude: 1}, "cached reading is discarded")
}

func TestSession_SensorTimeoutReported(t *testing.T) {
	api := &fakeAPI{user: identity.User{ID: "ana"}}
	s := NewSession(api, WithSensor(make(ChanSensor), WatchOptions{Timeout: 20 * time.Millisecond}))

	errs := make(chan error, 4)
	s.OnSensorError(func(err error) {
		select {
		case errs <- err:
		default:
		}
	})
	_, err := s.EnterRoom(context.Background(), "r1")
	require.NoError(t, err)
	defer s.LeaveRoom()

	select {
	case err := <-errs:
		var se *SensorError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, SensorTimeout, se.Code)
		assert.Equal(t, "sensor: timeout", err.Error())
	case <-time.After(2 * time.Second):
		t.Fatal("no sensor timeout reported")
	}
	assert.Zero(t, api.upsertCount())
}

func TestDefaultWatchOptions(t *testing.T) {
	opts := DefaultWatchOptions()
	assert.True(t, opts.HighAccuracy)
	assert.Equal(t, 5*time.Second, opts.Timeout)
	assert.Zero(t, opts.MaximumAge)
}

func TestAPIError_MatchesSentinels(t *testing.T) {
	tests := []struct {
		status int
		target error
	}{
		{http.StatusBadRequest, services.ErrValidation},
		{http.StatusUnauthorized, identity.ErrUnauthenticated},
		{http.StatusForbidden, services.ErrForbidden},
		{http.StatusNotFound, services.ErrNotFound},
	}
	for _, tt := range tests {
		err := &APIError{Status: tt.status, Message: "x"}
		assert.ErrorIs(t, err, tt.target, "status %d", tt.status)
	}
	assert.False(t, errors.Is(&APIError{Status: 500}, services.ErrNotFound))
}
