// Package bolt archives snapshots in a single bbolt file.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"Co-Edit/backend/archive"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/xerrors"
)

var rootBucket = []byte("snapshots")

// Archive keeps one nested bucket per document under the snapshots bucket.
// Snapshots are keyed by the bucket sequence, so a cursor walks them in the
// order they were saved.
//
// - implements archive.Archive
type Archive struct {
	db *bolt.DB
}

var _ archive.Archive = (*Archive)(nil)

// NewArchive opens or creates the database at path.
func NewArchive(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, xerrors.Errorf("failed to open archive %s: %v", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Errorf("failed to create snapshots bucket: %v", err)
	}

	return &Archive{db: db}, nil
}

func documentBucket(sessionID, documentID string) []byte {
	return []byte(sessionID + "\x00" + documentID)
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Save implements archive.Archive
func (a *Archive) Save(_ context.Context, snapshot archive.Snapshot) error {
	value, err := json.Marshal(snapshot)
	if err != nil {
		return xerrors.Errorf("failed to marshal snapshot: %v", err)
	}

	return a.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.Bucket(rootBucket).CreateBucketIfNotExists(documentBucket(snapshot.SessionID, snapshot.DocumentID))
		if err != nil {
			return xerrors.Errorf("failed to create document bucket: %v", err)
		}

		seq, err := bucket.NextSequence()
		if err != nil {
			return xerrors.Errorf("failed to allocate snapshot key: %v", err)
		}

		return bucket.Put(sequenceKey(seq), value)
	})
}

// List implements archive.Archive
func (a *Archive) List(_ context.Context, sessionID, documentID string) ([]archive.Snapshot, error) {
	var snapshots []archive.Snapshot

	err := a.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket(documentBucket(sessionID, documentID))
		if bucket == nil {
			return nil
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var snapshot archive.Snapshot
			err := json.Unmarshal(v, &snapshot)
			if err != nil {
				return xerrors.Errorf("failed to unmarshal snapshot %x: %v", k, err)
			}
			snapshots = append(snapshots, snapshot)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}

// Delete implements archive.Archive
func (a *Archive) Delete(_ context.Context, sessionID, documentID, id string) error {
	return a.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucket).Bucket(documentBucket(sessionID, documentID))
		if bucket == nil {
			return xerrors.Errorf("%s: %w", id, archive.ErrSnapshotNotFound)
		}

		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var snapshot archive.Snapshot
			if json.Unmarshal(v, &snapshot) != nil || snapshot.ID != id {
				continue
			}
			return c.Delete()
		}
		return xerrors.Errorf("%s: %w", id, archive.ErrSnapshotNotFound)
	})
}

// Close implements archive.Archive
func (a *Archive) Close() error {
	return a.db.Close()
}
