// Package memory is an in-process storage.Store. Keys expire lazily on
// access against the store's clock.
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"Co-Edit/backend/storage"

	"golang.org/x/xerrors"
)

// ErrWrongType is returned when a key is accessed as a different kind than it
// was created with.
var ErrWrongType = xerrors.New("operation against a key holding the wrong kind of value")

type kind uint8

const (
	stringKind kind = iota
	listKind
	hashKind
	setKind
)

type entry struct {
	kind    kind
	str     string
	list    []string
	hash    map[string]string
	set     map[string]struct{}
	expires time.Time
}

// Store keeps every key in a map guarded by one mutex, so each method is a
// single critical section.
//
// - implements storage.Store
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	now  func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		data: make(map[string]*entry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// get returns a live entry, dropping it if it expired. Caller holds mu.
func (s *Store) get(key string) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *Store) getKind(key string, k kind) (*entry, error) {
	e := s.get(key)
	if e != nil && e.kind != k {
		return nil, xerrors.Errorf("%s: %w", key, ErrWrongType)
	}
	return e, nil
}

func (s *Store) expire(e *entry, ttl time.Duration) {
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
}

// ReadDocument implements storage.Store
func (s *Store) ReadDocument(_ context.Context, keys storage.DocumentKeys) (storage.DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.readDocument(keys)
}

func (s *Store) readDocument(keys storage.DocumentKeys) (storage.DocumentState, error) {
	var state storage.DocumentState

	content, err := s.getKind(keys.Content, stringKind)
	if err != nil {
		return state, err
	}
	if content != nil {
		state.Content = content.str
	}

	history, err := s.getKind(keys.History, listKind)
	if err != nil {
		return state, err
	}
	if history != nil {
		state.HistoryLength = len(history.list)
	}

	revision, err := s.getKind(keys.Revision, stringKind)
	if err != nil {
		return state, err
	}
	if revision == nil {
		state.Revision = state.HistoryLength
		return state, nil
	}

	state.Revision, err = strconv.Atoi(revision.str)
	if err != nil {
		return state, xerrors.Errorf("failed to parse revision of %s: %w", keys.Revision, err)
	}
	return state, nil
}

// ListFrom implements storage.Store
func (s *Store) ListFrom(_ context.Context, key string, start int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, listKind)
	if err != nil || e == nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if start >= len(e.list) {
		return []string{}, nil
	}
	out := make([]string, len(e.list)-start)
	copy(out, e.list[start:])
	return out, nil
}

// CommitDocument implements storage.Store
func (s *Store) CommitDocument(_ context.Context, commit storage.Commit) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.readDocument(commit.Keys)
	if err != nil {
		return 0, err
	}
	if state.Revision != commit.BaseRevision {
		return 0, xerrors.Errorf("expected %d, found %d: %w", commit.BaseRevision, state.Revision, storage.ErrConflict)
	}

	s.data[commit.Keys.Content] = &entry{kind: stringKind, str: commit.Content}

	history := s.get(commit.Keys.History)
	if history == nil {
		history = &entry{kind: listKind}
		s.data[commit.Keys.History] = history
	}
	history.list = append(history.list, commit.Operation)
	if commit.MaxHistory > 0 && len(history.list) > commit.MaxHistory {
		trimmed := make([]string, commit.MaxHistory)
		copy(trimmed, history.list[len(history.list)-commit.MaxHistory:])
		history.list = trimmed
	}

	revision := state.Revision + 1
	s.data[commit.Keys.Revision] = &entry{kind: stringKind, str: strconv.Itoa(revision)}

	return revision, nil
}

// SeedDocument implements storage.Store
func (s *Store) SeedDocument(_ context.Context, keys storage.DocumentKeys, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[keys.Content] = &entry{kind: stringKind, str: content}
	delete(s.data, keys.History)
	s.data[keys.Revision] = &entry{kind: stringKind, str: "0"}
	return nil
}

// Delete implements storage.Store
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

// HashPut implements storage.Store
func (s *Store) HashPut(_ context.Context, key, field, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, hashKind)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: hashKind, hash: make(map[string]string)}
		s.data[key] = e
	}
	e.hash[field] = value
	s.expire(e, ttl)
	return nil
}

// HashGet implements storage.Store
func (s *Store) HashGet(_ context.Context, key, field string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, hashKind)
	if err != nil || e == nil {
		return "", false, err
	}
	value, ok := e.hash[field]
	return value, ok, nil
}

// HashDelete implements storage.Store
func (s *Store) HashDelete(_ context.Context, key, field string) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, hashKind)
	if err != nil || e == nil {
		return false, 0, err
	}
	_, ok := e.hash[field]
	delete(e.hash, field)
	if len(e.hash) == 0 {
		delete(s.data, key)
	}
	return ok, len(e.hash), nil
}

// HashGetAll implements storage.Store
func (s *Store) HashGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string)
	e, err := s.getKind(key, hashKind)
	if err != nil || e == nil {
		return out, err
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// Expire implements storage.Store
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key)
	if e != nil {
		s.expire(e, ttl)
	}
	return nil
}

// SetAdd implements storage.Store
func (s *Store) SetAdd(_ context.Context, key, member string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, setKind)
	if err != nil {
		return err
	}
	if e == nil {
		e = &entry{kind: setKind, set: make(map[string]struct{})}
		s.data[key] = e
	}
	e.set[member] = struct{}{}
	s.expire(e, ttl)
	return nil
}

// SetRemove implements storage.Store
func (s *Store) SetRemove(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, setKind)
	if err != nil || e == nil {
		return err
	}
	delete(e.set, member)
	if len(e.set) == 0 {
		delete(s.data, key)
	}
	return nil
}

// SetMembers implements storage.Store
func (s *Store) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.getKind(key, setKind)
	if err != nil || e == nil {
		return nil, err
	}
	out := make([]string, 0, len(e.set))
	for member := range e.set {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

// ScanKeys implements storage.Store
func (s *Store) ScanKeys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) && s.get(key) != nil {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	return nil
}
