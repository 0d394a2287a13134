package propagator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/models"
)

type fakeFeed struct {
	mu     sync.Mutex
	calls  int
	err    error
	inputs map[string]chan changefeed.Event
	ctxs   map[string]context.Context
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		inputs: make(map[string]chan changefeed.Event),
		ctxs:   make(map[string]context.Context),
	}
}

func (f *fakeFeed) Subscribe(ctx context.Context, roomID string) (<-chan changefeed.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	in := make(chan changefeed.Event)
	out := make(chan changefeed.Event)
	f.inputs[roomID] = in
	f.ctxs[roomID] = ctx
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-in:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeFeed) emit(roomID string, ev changefeed.Event) bool {
	f.mu.Lock()
	in, ctx := f.inputs[roomID], f.ctxs[roomID]
	f.mu.Unlock()
	if in == nil {
		return false
	}
	select {
	case in <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(time.Second):
		return false
	}
}

func (f *fakeFeed) released(roomID string) bool {
	f.mu.Lock()
	ctx := f.ctxs[roomID]
	f.mu.Unlock()
	return ctx != nil && ctx.Err() != nil
}

type fakeSnapshots struct {
	records []models.Location
	err     error
}

func (s fakeSnapshots) ListByRoom(_ context.Context, _ string) ([]models.Location, error) {
	return s.records, s.err
}

type recorder struct {
	mu        sync.Mutex
	snapshots [][]models.Location
	events    []changefeed.Event
}

func (r *recorder) OnSnapshot(records []models.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, records)
}

func (r *recorder) OnEvent(ev changefeed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func insert(id, room string) changefeed.Event {
	return changefeed.Event{Type: changefeed.Insert, Row: models.Location{ID: id, RoomID: room}}
}

func TestSubscription_Lifecycle(t *testing.T) {
	feed := newFakeFeed()
	snap := fakeSnapshots{records: []models.Location{{ID: "l1", RoomID: "r1"}}}
	p := New(feed, snap)
	defer p.Close()

	rec := &recorder{}
	sub := p.Subscribe("r1", rec)
	assert.Equal(t, Unsubscribed, sub.State())

	require.NoError(t, sub.Start(context.Background()))
	assert.Equal(t, Active, sub.State())
	require.Len(t, rec.snapshots, 1)
	assert.Equal(t, "l1", rec.snapshots[0][0].ID)

	require.True(t, feed.emit("r1", insert("l2", "r1")))
	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 5*time.Millisecond)

	sub.Stop()
	assert.Equal(t, Unsubscribed, sub.State())
	assert.True(t, feed.released("r1"))
	assert.Equal(t, 0, p.Rooms())

	feed.emit("r1", insert("l3", "r1"))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.eventCount(), "nothing is delivered after Stop")

	sub.Stop()
}

func TestSubscription_StartTwice(t *testing.T) {
	p := New(newFakeFeed(), fakeSnapshots{})
	defer p.Close()

	sub := p.Subscribe("r1", &recorder{})
	require.NoError(t, sub.Start(context.Background()))
	assert.ErrorIs(t, sub.Start(context.Background()), ErrAlreadyStarted)
	sub.Stop()
}

func TestSubscription_RestartAfterStop(t *testing.T) {
	feed := newFakeFeed()
	p := New(feed, fakeSnapshots{})
	defer p.Close()

	rec := &recorder{}
	sub := p.Subscribe("r1", rec)
	require.NoError(t, sub.Start(context.Background()))
	sub.Stop()
	require.NoError(t, sub.Start(context.Background()))
	assert.Equal(t, Active, sub.State())
	assert.Equal(t, 2, feed.calls)
	assert.Len(t, rec.snapshots, 2)
	sub.Stop()
}

func TestSubscription_SharesOneFeedPerRoom(t *testing.T) {
	feed := newFakeFeed()
	p := New(feed, fakeSnapshots{})
	defer p.Close()

	a, b := &recorder{}, &recorder{}
	subA := p.Subscribe("r1", a)
	subB := p.Subscribe("r1", b)
	require.NoError(t, subA.Start(context.Background()))
	require.NoError(t, subB.Start(context.Background()))
	assert.Equal(t, 1, feed.calls)
	assert.Equal(t, 1, p.Rooms())

	require.True(t, feed.emit("r1", insert("l1", "r1")))
	require.Eventually(t, func() bool { return a.eventCount() == 1 && b.eventCount() == 1 }, time.Second, 5*time.Millisecond)

	subA.Stop()
	assert.False(t, feed.released("r1"), "still observed by b")

	require.True(t, feed.emit("r1", insert("l2", "r1")))
	require.Eventually(t, func() bool { return b.eventCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.eventCount())

	subB.Stop()
	assert.True(t, feed.released("r1"))
}

func TestSubscription_SnapshotFailureUnsubscribes(t *testing.T) {
	feed := newFakeFeed()
	p := New(feed, fakeSnapshots{err: errors.New("store down")})
	defer p.Close()

	rec := &recorder{}
	sub := p.Subscribe("r1", rec)
	err := sub.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
	assert.Equal(t, Unsubscribed, sub.State())
	assert.True(t, feed.released("r1"))
	assert.Empty(t, rec.snapshots)
}

func TestSubscription_FeedFailure(t *testing.T) {
	feed := newFakeFeed()
	feed.err = errors.New("bus closed")
	p := New(feed, fakeSnapshots{})
	defer p.Close()

	sub := p.Subscribe("r1", &recorder{})
	require.Error(t, sub.Start(context.Background()))
	assert.Equal(t, Unsubscribed, sub.State())
	assert.Equal(t, 0, p.Rooms())
}

func TestPropagator_Closed(t *testing.T) {
	feed := newFakeFeed()
	p := New(feed, fakeSnapshots{})

	sub := p.Subscribe("r1", &recorder{})
	require.NoError(t, sub.Start(context.Background()))

	p.Close()
	assert.True(t, feed.released("r1"))
	assert.NotPanics(t, sub.Stop)

	err := p.Subscribe("r2", &recorder{}).Start(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestObserverFuncs_NilFieldsAreSkipped(t *testing.T) {
	var got []string
	obs := ObserverFuncs{Event: func(ev changefeed.Event) { got = append(got, ev.Row.ID) }}
	assert.NotPanics(t, func() { obs.OnSnapshot(nil) })
	obs.OnEvent(insert("l1", "r1"))
	assert.Equal(t, []string{"l1"}, got)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "state(9)", State(9).String())
}
