// Package propagator fans room change events out to local observers.
//
// Each observer holds a Subscription with an explicit lifecycle:
//
//	Unsubscribed -> Subscribing -> Active -> Unsubscribed
//
// Start registers the observer on the room's feed and then hands it a
// snapshot of the room. Events and the snapshot are delivered independently,
// so an event may arrive before the snapshot; observers reconcile by id.
// After Stop returns, the observer receives nothing more.
//
// All observers of one room share a single feed subscription, opened by the
// first Start and released by the last Stop.
package propagator

import (
	"context"
	"errors"
	"sync"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
	"github.com/CUknot/locshare/models"
)

// ErrAlreadyStarted is returned by Start on a subscription that is not
// Unsubscribed.
var ErrAlreadyStarted = errors.New("propagator: subscription already started")

// ErrClosed is returned by Start once the propagator is closed.
var ErrClosed = errors.New("propagator: closed")

// Observer receives a room's snapshot and live events. Callbacks of one
// subscription never run concurrently. They must not block for long, since
// the room's other observers wait behind them, and must not call Stop.
type Observer interface {
	OnSnapshot(records []models.Location)
	OnEvent(ev changefeed.Event)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Snapshot func(records []models.Location)
	Event    func(ev changefeed.Event)
}

func (o ObserverFuncs) OnSnapshot(records []models.Location) {
	if o.Snapshot != nil {
		o.Snapshot(records)
	}
}

func (o ObserverFuncs) OnEvent(ev changefeed.Event) {
	if o.Event != nil {
		o.Event(ev)
	}
}

// SnapshotSource returns the current records of a room.
// services.LocationStore satisfies it.
type SnapshotSource interface {
	ListByRoom(ctx context.Context, roomID string) ([]models.Location, error)
}

type Propagator struct {
	feed      changefeed.Feed
	snapshots SnapshotSource

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]*roomChannel
	closed bool
}

func New(feed changefeed.Feed, snapshots SnapshotSource) *Propagator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Propagator{
		feed:      feed,
		snapshots: snapshots,
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]*roomChannel),
	}
}

// Subscribe returns an Unsubscribed handle for observer on roomID.
func (p *Propagator) Subscribe(roomID string, observer Observer) *Subscription {
	return &Subscription{p: p, roomID: roomID, observer: observer}
}

// Rooms returns how many rooms currently hold a feed subscription.
func (p *Propagator) Rooms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rooms)
}

// Close releases every feed subscription. Active subscriptions stop
// receiving events; their Stop remains safe to call.
func (p *Propagator) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancel()
	for id := range p.rooms {
		delete(p.rooms, id)
		metrics.ActiveRoomChannels.Dec()
	}
}

func (p *Propagator) acquire(s *Subscription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	rc, ok := p.rooms[s.roomID]
	if !ok {
		ctx, cancel := context.WithCancel(p.ctx)
		events, err := p.feed.Subscribe(ctx, s.roomID)
		if err != nil {
			cancel()
			return err
		}
		rc = &roomChannel{
			roomID:    s.roomID,
			cancel:    cancel,
			observers: make(map[*Subscription]struct{}),
		}
		p.rooms[s.roomID] = rc
		metrics.ActiveRoomChannels.Inc()
		go p.pump(rc, events)
		logging.Debug().Str("room_id", s.roomID).Msg("Room feed opened")
	}
	rc.add(s)
	return nil
}

func (p *Propagator) release(s *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rc, ok := p.rooms[s.roomID]
	if !ok {
		return
	}
	if rc.remove(s) > 0 {
		return
	}
	rc.cancel()
	delete(p.rooms, s.roomID)
	metrics.ActiveRoomChannels.Dec()
	logging.Debug().Str("room_id", s.roomID).Msg("Room feed released")
}

func (p *Propagator) pump(rc *roomChannel, events <-chan changefeed.Event) {
	for ev := range events {
		for _, s := range rc.snapshot() {
			s.deliverEvent(ev)
		}
	}

	// The feed ended without a release: the bus went away. Drop the channel
	// so the next Start opens a fresh one.
	p.mu.Lock()
	if p.rooms[rc.roomID] == rc {
		delete(p.rooms, rc.roomID)
		metrics.ActiveRoomChannels.Dec()
		logging.Warn().Str("room_id", rc.roomID).Msg("Room feed closed unexpectedly")
	}
	p.mu.Unlock()
}

type roomChannel struct {
	roomID string
	cancel context.CancelFunc

	mu        sync.RWMutex
	observers map[*Subscription]struct{}
}

func (rc *roomChannel) add(s *Subscription) {
	rc.mu.Lock()
	rc.observers[s] = struct{}{}
	rc.mu.Unlock()
}

func (rc *roomChannel) remove(s *Subscription) int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.observers, s)
	return len(rc.observers)
}

func (rc *roomChannel) snapshot() []*Subscription {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	subs := make([]*Subscription, 0, len(rc.observers))
	for s := range rc.observers {
		subs = append(subs, s)
	}
	return subs
}
