// Package history keeps a bounded temporal record of tracked objects so that
// past observations can be compared against what was predicted for them.
package history

import (
	"sort"
	"time"

	"github.com/banshee-data/deviation.report/internal/perception"
)

// Entry is one stored observation of an object.
type Entry struct {
	Stamp  time.Time
	Object perception.TrackedObject
}

type series struct {
	entries []Entry // ascending by Stamp, unique stamps
}

// lowerBound returns the first index whose stamp is not before t.
func (s *series) lowerBound(t time.Time) int {
	return sort.Search(len(s.entries), func(i int) bool {
		return !s.entries[i].Stamp.Before(t)
	})
}

func (s *series) upsert(e Entry) {
	i := s.lowerBound(e.Stamp)
	if i < len(s.entries) && s.entries[i].Stamp.Equal(e.Stamp) {
		s.entries[i] = e
		return
	}
	s.entries = append(s.entries, Entry{})
	copy(s.entries[i+1:], s.entries[i:])
	s.entries[i] = e
}

func (s *series) exactAt(t time.Time) (perception.TrackedObject, bool) {
	i := s.lowerBound(t)
	if i < len(s.entries) && s.entries[i].Stamp.Equal(t) {
		return s.entries[i].Object, true
	}
	return perception.TrackedObject{}, false
}

// Store holds per-object observation series ordered by stamp, plus the stamp
// of the most recent ingested batch. It does no locking: the owner serialises
// access.
type Store struct {
	current time.Time
	objects map[string]*series
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{objects: make(map[string]*series)}
}

// SetCurrent records the stamp of the latest ingested batch. The stamp is
// taken as-is even if it regresses; evaluation windows always follow the
// most recent input.
func (s *Store) SetCurrent(stamp time.Time) {
	s.current = stamp
}

// Current returns the stamp of the latest ingested batch.
func (s *Store) Current() time.Time {
	return s.current
}

// Upsert stores an observation for an object. An observation with the same
// stamp as an existing one replaces it.
func (s *Store) Upsert(id string, stamp time.Time, obj perception.TrackedObject) {
	ser, ok := s.objects[id]
	if !ok {
		ser = &series{}
		s.objects[id] = ser
	}
	ser.upsert(Entry{Stamp: stamp, Object: obj})
}

// PruneOlderThan removes every entry with a stamp strictly before cutoff.
// Objects left with no entries are removed entirely; their ids are returned
// so dependent state can be dropped with them.
func (s *Store) PruneOlderThan(cutoff time.Time) []string {
	var removed []string
	for id, ser := range s.objects {
		i := ser.lowerBound(cutoff)
		if i == 0 {
			continue
		}
		if i == len(ser.entries) {
			delete(s.objects, id)
			removed = append(removed, id)
			continue
		}
		ser.entries = append(ser.entries[:0], ser.entries[i:]...)
	}
	return removed
}

// ClosestStamp returns the stored stamp nearest to t across all objects.
// When two stamps are equally distant the later one wins. The second return
// is false when the store holds no entries.
func (s *Store) ClosestStamp(t time.Time) (time.Time, bool) {
	var (
		best     time.Time
		bestDiff time.Duration
		found    bool
	)

	consider := func(stamp time.Time) {
		diff := stamp.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < bestDiff || (diff == bestDiff && stamp.After(best)) {
			best, bestDiff, found = stamp, diff, true
		}
	}

	for _, ser := range s.objects {
		i := ser.lowerBound(t)
		if i < len(ser.entries) {
			consider(ser.entries[i].Stamp)
		}
		if i > 0 {
			consider(ser.entries[i-1].Stamp)
		}
	}
	return best, found
}

// SampleAt returns the observation of an object at the stored stamp nearest
// to t. The nearest stamp is resolved globally; if this object has no entry
// at exactly that stamp there is no sample. Samples are never interpolated
// or invented.
func (s *Store) SampleAt(id string, t time.Time) (perception.TrackedObject, bool) {
	closest, ok := s.ClosestStamp(t)
	if !ok {
		return perception.TrackedObject{}, false
	}
	ser, ok := s.objects[id]
	if !ok {
		return perception.TrackedObject{}, false
	}
	return ser.exactAt(closest)
}

// BatchAt returns every object that has an entry at the stored stamp nearest
// to t. The returned batch keeps the query stamp t, not the resolved stamp;
// each object inside carries its own observation stamp.
func (s *Store) BatchAt(t time.Time) perception.Batch {
	batch := perception.Batch{Stamp: t}
	closest, ok := s.ClosestStamp(t)
	if !ok {
		return batch
	}
	for _, id := range s.ObjectIDs() {
		if obj, ok := s.objects[id].exactAt(closest); ok {
			batch.Objects = append(batch.Objects, obj)
		}
	}
	return batch
}

// HasHistoryUntil reports whether the object's record reaches back to t or
// earlier, i.e. whether the object was already being tracked at t.
func (s *Store) HasHistoryUntil(id string, t time.Time) bool {
	ser, ok := s.objects[id]
	if !ok || len(ser.entries) == 0 {
		return false
	}
	return !ser.entries[0].Stamp.After(t)
}

// HasAnyHistoryUntil reports whether any object's record reaches back to t
// or earlier.
func (s *Store) HasAnyHistoryUntil(t time.Time) bool {
	for _, ser := range s.objects {
		if len(ser.entries) > 0 && !ser.entries[0].Stamp.After(t) {
			return true
		}
	}
	return false
}

// PathOf returns the object's observed poses in stamp order.
func (s *Store) PathOf(id string) []perception.Pose {
	ser, ok := s.objects[id]
	if !ok {
		return nil
	}
	path := make([]perception.Pose, 0, len(ser.entries))
	for _, e := range ser.entries {
		path = append(path, e.Object.Pose)
	}
	return path
}

// Latest returns the most recent observation of an object.
func (s *Store) Latest(id string) (Entry, bool) {
	ser, ok := s.objects[id]
	if !ok || len(ser.entries) == 0 {
		return Entry{}, false
	}
	return ser.entries[len(ser.entries)-1], true
}

// Entries returns a copy of the object's full series in stamp order.
func (s *Store) Entries(id string) []Entry {
	ser, ok := s.objects[id]
	if !ok {
		return nil
	}
	out := make([]Entry, len(ser.entries))
	copy(out, ser.entries)
	return out
}

// ObjectIDs returns all tracked object ids in stable sorted order.
func (s *Store) ObjectIDs() []string {
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ObjectCount returns the number of objects with stored history.
func (s *Store) ObjectCount() int {
	return len(s.objects)
}

// EntryCount returns the total number of stored observations.
func (s *Store) EntryCount() int {
	n := 0
	for _, ser := range s.objects {
		n += len(ser.entries)
	}
	return n
}
