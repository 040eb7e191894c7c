package impl

import (
	"sync"
	"time"
)

// Set is an unordered collection of distinct values. It is not safe for
// concurrent use.
type Set[T comparable] struct {
	set map[T]struct{}
}

// NewSet returns an empty set.
func NewSet[T comparable]() *Set[T] {
	return &Set[T]{set: make(map[T]struct{})}
}

// Add adds value and reports whether it was absent.
func (s *Set[T]) Add(value T) bool {
	if _, ok := s.set[value]; ok {
		return false
	}
	s.set[value] = struct{}{}
	return true
}

// Remove removes value from the set.
func (s *Set[T]) Remove(value T) {
	delete(s.set, value)
}

// Contains reports whether value is in the set.
func (s *Set[T]) Contains(value T) bool {
	_, ok := s.set[value]
	return ok
}

// Size returns the number of values in the set.
func (s *Set[T]) Size() int {
	return len(s.set)
}

// Values returns the values of the set in no particular order.
func (s *Set[T]) Values() []T {
	values := make([]T, 0, len(s.set))
	for value := range s.set {
		values = append(values, value)
	}
	return values
}

// LockTable hands out one mutex per key. Entries are reference counted and
// removed once nobody holds or waits for them, so the table only grows with
// the number of documents being edited right now.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the key's mutex is held and returns the function that
// releases it.
func (lt *LockTable) Lock(key string) func() {
	lt.mu.Lock()
	entry, exists := lt.locks[key]
	if !exists {
		entry = &lockEntry{}
		lt.locks[key] = entry
	}
	entry.refs++
	lt.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		lt.mu.Lock()
		defer lt.mu.Unlock()
		entry.refs--
		if entry.refs == 0 {
			delete(lt.locks, key)
		}
	}
}

// Len returns the number of keys currently locked or waited for.
func (lt *LockTable) Len() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.locks)
}

// DocTimestampMap is the time of the newest snapshot of each document and the
// ids of the snapshots kept for it, oldest first.
type DocTimestampMap struct {
	mu              sync.Mutex
	newestTimestamp map[string]time.Time
	docSaved        map[string][]string // docKey -> [id1, id2, ...]
	loaded          Set[string]
}

// IsLoaded reports whether the queue of the document was read from the
// archive already.
func (dtm *DocTimestampMap) IsLoaded(docKey string) bool {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()
	return dtm.loaded.set != nil && dtm.loaded.Contains(docKey)
}

// Load seeds the queue of a document with snapshots found in the archive.
func (dtm *DocTimestampMap) Load(docKey string, ids []string, newest time.Time) {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()

	if dtm.loaded.set == nil {
		dtm.loaded = *NewSet[string]()
	}
	dtm.loaded.Add(docKey)
	saved := append([]string(nil), ids...)
	dtm.docSaved[docKey] = append(saved, dtm.docSaved[docKey]...)
	if newest.After(dtm.newestTimestamp[docKey]) {
		dtm.newestTimestamp[docKey] = newest
	}
}

// Claim records now as the newest snapshot time of the document, unless the
// previous snapshot is less than threshold old. It reports whether the
// caller should take a snapshot.
func (dtm *DocTimestampMap) Claim(docKey string, now time.Time, threshold time.Duration) bool {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()

	newest, exists := dtm.newestTimestamp[docKey]
	if exists && now.Before(newest.Add(threshold)) {
		return false
	}
	dtm.newestTimestamp[docKey] = now
	return true
}

// EnqueueDoc adds the newest snapshot of the document.
func (dtm *DocTimestampMap) EnqueueDoc(docKey, id string) {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()
	dtm.docSaved[docKey] = append(dtm.docSaved[docKey], id)
}

// DequeueDoc removes and returns the oldest snapshot of the document.
func (dtm *DocTimestampMap) DequeueDoc(docKey string) (string, bool) {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()

	saved := dtm.docSaved[docKey]
	if len(saved) == 0 {
		return "", false
	}
	dtm.docSaved[docKey] = saved[1:]
	return saved[0], true
}

// DocSavedLen returns the number of snapshots kept for the document.
func (dtm *DocTimestampMap) DocSavedLen(docKey string) int {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()
	return len(dtm.docSaved[docKey])
}

// Forget drops everything known about the document.
func (dtm *DocTimestampMap) Forget(docKey string) {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()

	delete(dtm.newestTimestamp, docKey)
	delete(dtm.docSaved, docKey)
	if dtm.loaded.set != nil {
		dtm.loaded.Remove(docKey)
	}
}
