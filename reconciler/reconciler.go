// Package reconciler keeps a client's local copy of one room's locations in
// step with snapshots, live events and the client's own optimistic writes.
//
// State is a map keyed by location id, so applying the same change twice is
// harmless. Two extra rules make the result independent of arrival order:
//
//   - an update carrying an older timestamp than the held record is ignored;
//   - a deleted id is remembered, and later inserts, updates or snapshot rows
//     for it are ignored. Ids are never reused.
package reconciler

import (
	"sync"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/models"
)

type Reconciler struct {
	mu       sync.Mutex
	records  map[string]models.Location
	deleted  map[string]struct{}
	// ids held when the stream was lost and not seen since
	stale    map[string]struct{}
	onChange func(models.GroupedLocations)
}

func New() *Reconciler {
	return &Reconciler{
		records: make(map[string]models.Location),
		deleted: make(map[string]struct{}),
	}
}

// OnChange registers fn to receive the grouped view after every change.
// fn runs on the goroutine that applied the change, outside the lock.
func (r *Reconciler) OnChange(fn func(models.GroupedLocations)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Apply folds one feed event into the local state.
func (r *Reconciler) Apply(ev changefeed.Event) {
	switch ev.Type {
	case changefeed.Insert, changefeed.Update:
		r.change(func() bool { return r.put(ev.Row) })
	case changefeed.Delete:
		r.change(func() bool { return r.remove(ev.Row.ID) })
	}
}

// Seed merges a snapshot by id. Records already held are kept unless the
// snapshot copy is at least as new.
func (r *Reconciler) Seed(records []models.Location) {
	r.change(func() bool {
		changed := false
		for _, rec := range records {
			if r.put(rec) {
				changed = true
			}
		}
		return changed
	})
}

// MarkStale flags every held record as unconfirmed. Call it when the live
// stream is lost, before reopening it.
func (r *Reconciler) MarkStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale = make(map[string]struct{}, len(r.records))
	for id := range r.records {
		r.stale[id] = struct{}{}
	}
}

// Resync merges the snapshot of a reopened stream like Seed and then drops
// the records flagged by MarkStale that neither the snapshot nor any change
// since has confirmed. Those were deleted while the stream was down.
func (r *Reconciler) Resync(records []models.Location) {
	r.change(func() bool {
		changed := false
		for _, rec := range records {
			delete(r.stale, rec.ID)
			if r.put(rec) {
				changed = true
			}
		}
		for id := range r.stale {
			if r.remove(id) {
				changed = true
			}
		}
		r.stale = nil
		return changed
	})
}

// ApplyLocalAdd records a write the client made itself and the store
// accepted, ahead of its feed event.
func (r *Reconciler) ApplyLocalAdd(rec models.Location) {
	r.change(func() bool { return r.put(rec) })
}

// ApplyLocalDelete drops id ahead of its feed event.
func (r *Reconciler) ApplyLocalDelete(id string) {
	r.change(func() bool { return r.remove(id) })
}

// Reset forgets everything, for when the session leaves the room.
func (r *Reconciler) Reset() {
	r.change(func() bool {
		changed := len(r.records) > 0
		r.records = make(map[string]models.Location)
		r.deleted = make(map[string]struct{})
		r.stale = nil
		return changed
	})
}

// Get returns the held record for id.
func (r *Reconciler) Get(id string) (models.Location, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return rec, ok
}

func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// View groups the held records for rendering.
func (r *Reconciler) View() models.GroupedLocations {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.viewLocked()
}

func (r *Reconciler) viewLocked() models.GroupedLocations {
	records := make([]models.Location, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	return models.Group(records)
}

func (r *Reconciler) change(mutate func() bool) {
	r.mu.Lock()
	if !mutate() || r.onChange == nil {
		r.mu.Unlock()
		return
	}
	view := r.viewLocked()
	fn := r.onChange
	r.mu.Unlock()
	fn(view)
}

func (r *Reconciler) put(rec models.Location) bool {
	if rec.ID == "" {
		return false
	}
	delete(r.stale, rec.ID)
	if _, gone := r.deleted[rec.ID]; gone {
		return false
	}
	if cur, ok := r.records[rec.ID]; ok {
		if rec.Timestamp.Before(cur.Timestamp) {
			return false
		}
		if sameRecord(cur, rec) {
			return false
		}
	}
	r.records[rec.ID] = rec
	return true
}

func (r *Reconciler) remove(id string) bool {
	if id == "" {
		return false
	}
	r.deleted[id] = struct{}{}
	delete(r.stale, id)
	if _, ok := r.records[id]; !ok {
		return false
	}
	delete(r.records, id)
	return true
}

func sameRecord(a, b models.Location) bool {
	return a.RoomID == b.RoomID &&
		a.UserID == b.UserID &&
		a.UserName == b.UserName &&
		a.Latitude == b.Latitude &&
		a.Longitude == b.Longitude &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.IsCustomMarker == b.IsCustomMarker &&
		equalPtr(a.Name, b.Name) &&
		equalPtr(a.Description, b.Description)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
