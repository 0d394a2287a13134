package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/identity"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/reconciler"
	"github.com/CUknot/locshare/services"
)

// DefaultCenter is the map centre used until the device reports a position.
var DefaultCenter = Position{Latitude: 40.4168, Longitude: -3.7038}

// ErrNoRoom is returned by room operations while no room is entered.
var ErrNoRoom = errors.New("client: no room entered")

// ErrStreamLost is reported through OnStreamError when a room stream ended
// and could not be reopened. The session has left the room by then.
var ErrStreamLost = errors.New("client: room stream lost")

const writeTimeout = 10 * time.Second

// Session is one signed-in participant viewing at most one room at a time.
// All methods are safe for concurrent use.
type Session struct {
	api        API
	sensor     Sensor
	opts       WatchOptions
	now        func() time.Time
	newBackOff func() backoff.BackOff
	log        zerolog.Logger

	// tracks fire-and-forget writes so tests can wait for them
	writes sync.WaitGroup

	mu          sync.Mutex
	user        *identity.User
	link        *roomLink
	own         *Position
	onChange    func(models.GroupedLocations)
	onSensorErr func(error)
	onStreamErr func(error)
}

// roomLink is the session's hold on the entered room. ctx lives until the
// room is left. epoch counts stream attempts; only the newest may attach.
type roomLink struct {
	room   *models.Room
	view   *reconciler.Reconciler
	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription
	epoch  int
}

type SessionOption func(*Session)

// WithSensor enables live position sharing while a room is entered.
func WithSensor(sensor Sensor, opts WatchOptions) SessionOption {
	return func(s *Session) {
		s.sensor = sensor
		s.opts = opts
	}
}

func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithReconnectBackOff sets the retry schedule for reopening a room stream
// that ended unexpectedly. newBackOff is called once per outage.
func WithReconnectBackOff(newBackOff func() backoff.BackOff) SessionOption {
	return func(s *Session) { s.newBackOff = newBackOff }
}

func defaultReconnectBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	return b
}

func NewSession(api API, opts ...SessionOption) *Session {
	s := &Session{
		api:        api,
		opts:       DefaultWatchOptions(),
		now:        time.Now,
		newBackOff: defaultReconnectBackOff,
		log:        logging.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers fn to receive the grouped view after every change of
// the current room. It also fires with an empty view when the room is left.
func (s *Session) OnChange(fn func(models.GroupedLocations)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnSensorError registers fn to receive sensor failures. They are logged
// either way.
func (s *Session) OnSensorError(fn func(error)) {
	s.mu.Lock()
	s.onSensorErr = fn
	s.mu.Unlock()
}

// OnStreamError registers fn to receive ErrStreamLost when the room stream
// cannot be reopened.
func (s *Session) OnStreamError(fn func(error)) {
	s.mu.Lock()
	s.onStreamErr = fn
	s.mu.Unlock()
}

// User returns the signed-in user, asking the identity provider once.
func (s *Session) User(ctx context.Context) (identity.User, error) {
	s.mu.Lock()
	if s.user != nil {
		u := *s.user
		s.mu.Unlock()
		return u, nil
	}
	s.mu.Unlock()

	u, err := s.api.CurrentUser(ctx)
	if err != nil {
		return identity.User{}, err
	}
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
	return u, nil
}

// EnterRoom switches the session to roomID. Any previous room is left
// first. The local view starts empty and fills from the stream's snapshot
// and events. If the stream later drops it is reopened in the background.
func (s *Session) EnterRoom(ctx context.Context, roomID string) (*models.Room, error) {
	user, err := s.User(ctx)
	if err != nil {
		return nil, err
	}
	room, err := s.api.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	s.LeaveRoom()

	linkCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	link := &roomLink{room: room, view: reconciler.New(), ctx: linkCtx, cancel: cancel, epoch: 1}
	link.view.OnChange(func(g models.GroupedLocations) { s.emit(link, g) })
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()

	sub, err := s.api.Subscribe(ctx, roomID, &roomObserver{s: s, link: link, epoch: 1})
	if err != nil {
		s.mu.Lock()
		if s.link == link {
			s.link = nil
		}
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("subscribe to room %s: %w", roomID, err)
	}
	if !s.attach(link, 1, sub) {
		// left or switched rooms while subscribing
		return room, nil
	}
	if s.sensor != nil {
		go s.runWatch(linkCtx, room.ID, user)
	}

	s.log.Info().Str("room_id", room.ID).Str("user_id", user.ID).Msg("Entered room")
	return room, nil
}

// LeaveRoom stops the stream and the position watch and clears all local
// state. Membership and stored locations are untouched. It is a no-op
// outside a room.
func (s *Session) LeaveRoom() {
	s.mu.Lock()
	link := s.link
	s.link, s.own = nil, nil
	onChange := s.onChange
	s.mu.Unlock()

	if link == nil {
		return
	}
	s.release(link, onChange)
	s.log.Info().Str("room_id", link.room.ID).Msg("Left room")
}

// Room returns the entered room, nil outside a room.
func (s *Session) Room() *models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil
	}
	return s.link.room
}

// View returns the grouped locations of the entered room.
func (s *Session) View() models.GroupedLocations {
	s.mu.Lock()
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return models.Group(nil)
	}
	return link.view.View()
}

// Center is the device's last position, or DefaultCenter when unknown.
func (s *Session) Center() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.own != nil {
		return *s.own
	}
	return DefaultCenter
}

// AddMarker stores a custom marker and shows it right away without waiting
// for the change feed.
func (s *Session) AddMarker(ctx context.Context, lat, lng float64, name, description string) (*models.Location, error) {
	room, view, err := s.current()
	if err != nil {
		return nil, err
	}
	loc, err := s.api.AddMarker(ctx, room.ID, lat, lng, name, description)
	if err != nil {
		return nil, err
	}
	view.ApplyLocalAdd(*loc)
	return loc, nil
}

// DeleteLocation removes one of the user's own locations. Locations of
// other users are refused before any request is made.
func (s *Session) DeleteLocation(ctx context.Context, locationID string) error {
	_, view, err := s.current()
	if err != nil {
		return err
	}
	user, err := s.User(ctx)
	if err != nil {
		return err
	}

	if loc, ok := view.Get(locationID); ok && loc.UserID != user.ID {
		return &services.AuthorizationError{Action: "delete location", UserID: user.ID}
	}
	if err := s.api.DeleteLocation(ctx, locationID); err != nil {
		return err
	}
	view.ApplyLocalDelete(locationID)
	return nil
}

// Wait blocks until every position write started so far has finished.
func (s *Session) Wait() {
	s.writes.Wait()
}

func (s *Session) current() (*models.Room, *reconciler.Reconciler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link == nil {
		return nil, nil, ErrNoRoom
	}
	return s.link.room, s.link.view, nil
}

// emit forwards changes of the current room's view only.
func (s *Session) emit(link *roomLink, g models.GroupedLocations) {
	s.mu.Lock()
	fn := s.onChange
	current := s.link == link
	s.mu.Unlock()
	if !current {
		return
	}
	if fn != nil {
		fn(g)
	}
}

func (s *Session) runWatch(ctx context.Context, roomID string, user identity.User) {
	log := s.log.With().Str("room_id", roomID).Str("user_id", user.ID).Logger()

	readings, err := s.sensor.Watch(ctx, s.opts)
	if err != nil {
		s.sensorFailed(log, err)
		return
	}
	watch(ctx, readings, s.opts, s.now,
		func(pos Position) { s.positionChanged(ctx, log, roomID, pos) },
		func(err error) { s.sensorFailed(log, err) },
	)
}

func (s *Session) positionChanged(ctx context.Context, log zerolog.Logger, roomID string, pos Position) {
	s.mu.Lock()
	if s.link == nil || s.link.room.ID != roomID {
		s.mu.Unlock()
		return
	}
	s.own = &pos
	s.mu.Unlock()

	// Not cancelled by leaving the room; the outcome arrives through the feed.
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if _, err := s.api.UpsertLivePosition(wctx, roomID, pos.Latitude, pos.Longitude); err != nil {
			log.Warn().Err(err).Msg("Live position update failed")
		}
	}()
}

func (s *Session) sensorFailed(log zerolog.Logger, err error) {
	log.Warn().Err(err).Msg("Position sensor error")
	s.mu.Lock()
	fn := s.onSensorErr
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// attach makes sub the live stream of link. A stream from a superseded
// attempt is stopped. It reports whether link is still the entered room.
func (s *Session) attach(link *roomLink, epoch int, sub Subscription) bool {
	s.mu.Lock()
	current := s.link == link
	if current && link.epoch == epoch {
		link.sub = sub
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()
	sub.Stop()
	return current
}

// release stops everything link holds and publishes an empty view. link
// must already be detached from the session.
func (s *Session) release(link *roomLink, onChange func(models.GroupedLocations)) {
	link.cancel()
	s.mu.Lock()
	sub := link.sub
	link.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
	if onChange != nil {
		onChange(models.Group(nil))
	}
}

func (s *Session) streamEnded(link *roomLink, epoch int, cause error) {
	s.mu.Lock()
	if s.link != link || link.epoch != epoch {
		s.mu.Unlock()
		return
	}
	link.sub = nil
	s.mu.Unlock()

	link.view.MarkStale()
	s.log.Warn().Err(cause).Str("room_id", link.room.ID).Msg("Room stream lost, reconnecting")
	go s.resubscribe(link)
}

// resubscribe reopens the room stream with backoff. The new stream's
// snapshot resyncs the view. Rooms that are gone or forbidden are not
// retried.
func (s *Session) resubscribe(link *roomLink) {
	roomID := link.room.ID
	log := s.log.With().Str("room_id", roomID).Logger()

	var (
		sub   Subscription
		epoch int
	)
	op := func() error {
		s.mu.Lock()
		if s.link != link {
			s.mu.Unlock()
			return backoff.Permanent(ErrNoRoom)
		}
		link.epoch++
		epoch = link.epoch
		s.mu.Unlock()

		next, err := s.api.Subscribe(link.ctx, roomID, &roomObserver{s: s, link: link, epoch: epoch, resync: true})
		if err != nil {
			if errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrForbidden) ||
				errors.Is(err, identity.ErrUnauthenticated) {
				return backoff.Permanent(err)
			}
			return err
		}
		sub = next
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("Failed to reopen room stream")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(s.newBackOff(), link.ctx), notify); err != nil {
		if link.ctx.Err() == nil {
			s.streamFailed(link, err)
		}
		return
	}
	if s.attach(link, epoch, sub) {
		log.Info().Msg("Room stream reopened")
	}
}

// streamFailed leaves the room after reconnecting gave up.
func (s *Session) streamFailed(link *roomLink, cause error) {
	s.mu.Lock()
	if s.link != link {
		s.mu.Unlock()
		return
	}
	s.link, s.own = nil, nil
	onChange, onErr := s.onChange, s.onStreamErr
	s.mu.Unlock()

	s.release(link, onChange)
	err := fmt.Errorf("%w: room %s: %w", ErrStreamLost, link.room.ID, cause)
	s.log.Error().Err(err).Msg("Left room")
	if onErr != nil {
		onErr(err)
	}
}

// roomObserver feeds one stream attempt into the room's reconciler.
type roomObserver struct {
	s      *Session
	link   *roomLink
	epoch  int
	resync bool
}

func (o *roomObserver) OnSnapshot(records []models.Location) {
	if o.resync {
		o.link.view.Resync(records)
		return
	}
	o.link.view.Seed(records)
}

func (o *roomObserver) OnEvent(ev changefeed.Event) { o.link.view.Apply(ev) }

func (o *roomObserver) OnStreamEnd(err error) { o.s.streamEnded(o.link, o.epoch, err) }
