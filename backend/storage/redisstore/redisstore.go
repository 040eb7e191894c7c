// Package redisstore is a storage.Store on top of a Redis server. Document commits
// run as one Lua script so they are atomic across every server instance.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"Co-Edit/backend/storage"

	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"
)

// commitScript compares the stored revision against ARGV[1] and, when they
// match, writes the content, appends the operation, trims the history to
// ARGV[4] entries and increments the revision. It returns the new revision or
// -1 on mismatch.
//
// KEYS: content, history, revision
// ARGV: base revision, content, operation, max history
var commitScript = redis.NewScript(`
local current = redis.call('GET', KEYS[3])
if current then
	current = tonumber(current)
else
	current = redis.call('LLEN', KEYS[2])
end
if current ~= tonumber(ARGV[1]) then
	return -1
end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('RPUSH', KEYS[2], ARGV[3])
local max = tonumber(ARGV[4])
if max > 0 and redis.call('LLEN', KEYS[2]) > max then
	redis.call('LTRIM', KEYS[2], -max, -1)
end
redis.call('SET', KEYS[3], current + 1)
return current + 1
`)

const scanCount = 100

// Store talks to Redis through a go-redis client.
//
// - implements storage.Store
type Store struct {
	client redis.UniversalClient
}

var _ storage.Store = (*Store)(nil)

// NewStore wraps an existing client. The store owns it from then on.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// ReadDocument implements storage.Store
func (s *Store) ReadDocument(ctx context.Context, keys storage.DocumentKeys) (storage.DocumentState, error) {
	var state storage.DocumentState

	var contentCmd, revisionCmd *redis.StringCmd
	var lengthCmd *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		contentCmd = pipe.Get(ctx, keys.Content)
		lengthCmd = pipe.LLen(ctx, keys.History)
		revisionCmd = pipe.Get(ctx, keys.Revision)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, xerrors.Errorf("failed to read document %s: %w", keys.Content, err)
	}

	content, err := contentCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return state, xerrors.Errorf("failed to read content: %w", err)
	}
	state.Content = content

	length, err := lengthCmd.Result()
	if err != nil {
		return state, xerrors.Errorf("failed to read history length: %w", err)
	}
	state.HistoryLength = int(length)

	revision, err := revisionCmd.Result()
	if errors.Is(err, redis.Nil) {
		state.Revision = state.HistoryLength
		return state, nil
	}
	if err != nil {
		return state, xerrors.Errorf("failed to read revision: %w", err)
	}

	state.Revision, err = strconv.Atoi(revision)
	if err != nil {
		return state, xerrors.Errorf("failed to parse revision %q: %w", revision, err)
	}
	return state, nil
}

// ListFrom implements storage.Store
func (s *Store) ListFrom(ctx context.Context, key string, start int) ([]string, error) {
	if start < 0 {
		start = 0
	}
	values, err := s.client.LRange(ctx, key, int64(start), -1).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to range %s: %w", key, err)
	}
	return values, nil
}

// CommitDocument implements storage.Store
func (s *Store) CommitDocument(ctx context.Context, commit storage.Commit) (int, error) {
	keys := []string{commit.Keys.Content, commit.Keys.History, commit.Keys.Revision}

	revision, err := commitScript.Run(ctx, s.client, keys,
		commit.BaseRevision, commit.Content, commit.Operation, commit.MaxHistory).Int()
	if err != nil {
		return 0, xerrors.Errorf("failed to run commit script: %w", err)
	}
	if revision < 0 {
		return 0, xerrors.Errorf("expected %d: %w", commit.BaseRevision, storage.ErrConflict)
	}
	return revision, nil
}

// SeedDocument implements storage.Store
func (s *Store) SeedDocument(ctx context.Context, keys storage.DocumentKeys, content string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keys.Content, content, 0)
		pipe.Del(ctx, keys.History)
		pipe.Set(ctx, keys.Revision, 0, 0)
		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to seed %s: %w", keys.Content, err)
	}
	return nil
}

// Delete implements storage.Store
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := s.client.Del(ctx, keys...).Err()
	if err != nil {
		return xerrors.Errorf("failed to delete keys: %w", err)
	}
	return nil
}

// HashPut implements storage.Store
func (s *Store) HashPut(ctx context.Context, key, field, value string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field, value)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to set %s[%s]: %w", key, field, err)
	}
	return nil
}

// HashGet implements storage.Store
func (s *Store) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Errorf("failed to get %s[%s]: %w", key, field, err)
	}
	return value, true, nil
}

// HashDelete implements storage.Store
func (s *Store) HashDelete(ctx context.Context, key, field string) (bool, int, error) {
	var delCmd, lenCmd *redis.IntCmd

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.HDel(ctx, key, field)
		lenCmd = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return false, 0, xerrors.Errorf("failed to delete %s[%s]: %w", key, field, err)
	}
	return delCmd.Val() > 0, int(lenCmd.Val()), nil
}

// HashGetAll implements storage.Store
func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to get %s: %w", key, err)
	}
	return values, nil
}

// Expire implements storage.Store
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.client.Expire(ctx, key, ttl).Err()
	if err != nil {
		return xerrors.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// SetAdd implements storage.Store
func (s *Store) SetAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, member)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to add %s to %s: %w", member, key, err)
	}
	return nil
}

// SetRemove implements storage.Store
func (s *Store) SetRemove(ctx context.Context, key, member string) error {
	err := s.client.SRem(ctx, key, member).Err()
	if err != nil {
		return xerrors.Errorf("failed to remove %s from %s: %w", member, key, err)
	}
	return nil
}

// SetMembers implements storage.Store
func (s *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, xerrors.Errorf("failed to list %s: %w", key, err)
	}
	return members, nil
}

// ScanKeys implements storage.Store. It walks the keyspace with SCAN so it
// never blocks the server the way KEYS would.
func (s *Store) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.client.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	err := iter.Err()
	if err != nil {
		return nil, xerrors.Errorf("failed to scan %s*: %w", prefix, err)
	}
	return keys, nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	return s.client.Close()
}
