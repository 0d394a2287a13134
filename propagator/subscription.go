package propagator

import (
	"context"
	"fmt"
	"sync"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/metrics"
)

type State int

const (
	Unsubscribed State = iota
	Subscribing
	Active
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Subscription is one observer's handle on a room. It can be started again
// after Stop.
type Subscription struct {
	p        *Propagator
	roomID   string
	observer Observer

	// mu is held while a callback runs, so Stop waits for an in-flight
	// delivery and nothing is delivered after it returns.
	mu    sync.Mutex
	state State
}

func (s *Subscription) RoomID() string { return s.roomID }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the live feed and then delivers the room snapshot. On error
// the subscription is back to Unsubscribed.
func (s *Subscription) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Unsubscribed {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = Subscribing
	s.mu.Unlock()

	log := logging.Ctx(ctx).With().Str("room_id", s.roomID).Logger()

	if err := s.p.acquire(s); err != nil {
		s.setState(Unsubscribed)
		log.Error().Err(err).Msg("Failed to open room feed")
		return fmt.Errorf("subscribe to room %s: %w", s.roomID, err)
	}
	if s.State() == Unsubscribed {
		// stopped before the feed was registered
		s.p.release(s)
		return nil
	}

	records, err := s.p.snapshots.ListByRoom(ctx, s.roomID)
	if err != nil {
		s.Stop()
		log.Error().Err(err).Msg("Failed to load room snapshot")
		return fmt.Errorf("snapshot of room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Subscribing {
		// stopped while the snapshot was loading
		return nil
	}
	s.state = Active
	metrics.ActiveSubscriptions.Inc()
	s.observer.OnSnapshot(records)
	log.Debug().Int("records", len(records)).Msg("Subscription active")
	return nil
}

// Stop unsubscribes. It is safe to call in any state and more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = Unsubscribed
	s.mu.Unlock()

	if prev == Unsubscribed {
		return
	}
	if prev == Active {
		metrics.ActiveSubscriptions.Dec()
	}
	s.p.release(s)
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Subscription) deliverEvent(ev changefeed.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Unsubscribed {
		return
	}
	metrics.EventsDelivered.Inc()
	s.observer.OnEvent(ev)
}
