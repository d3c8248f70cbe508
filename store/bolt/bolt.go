// Package bolt provides a BoltDB-backed leave.Repository.
//
// BoltDB is an embedded key/value store; all data lives in a single file and
// no database process is required. Records are stored as JSON, one bucket
// per entity:
//
//	users         id              -> User
//	grants        user_id/yyyy    -> Grant
//	reservations  id              -> Reservation
//	usage         id              -> UsageRecord (deductions included)
//
// Grant keys sort by year within a user, so ListGrants is a prefix scan.
// WithTx maps onto a single read-write bolt transaction, which bolt already
// serializes and rolls back when fn returns an error.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/cockroachdb/errors"

	"github.com/warp/leave-ledger/leave"
)

var (
	bucketUsers        = []byte("users")
	bucketGrants       = []byte("grants")
	bucketReservations = []byte("reservations")
	bucketUsage        = []byte("usage")

	allBuckets = [][]byte{bucketUsers, bucketGrants, bucketReservations, bucketUsage}
)

// Store wraps a BoltDB database.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) a BoltDB database at path and ensures all buckets
// exist.
func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open bolt database %s", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &Store{db: db}, nil
}

// Close releases the database file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset empties every bucket.
func (s *Store) Reset(_ context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(_ context.Context, u leave.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketUsers), string(u.ID), u)
	})
}

func (s *Store) GetUser(_ context.Context, id leave.UserID) (*leave.User, error) {
	var u *leave.User
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		u, err = get[leave.User](tx.Bucket(bucketUsers), string(id))
		return err
	})
	return u, err
}

func (s *Store) ListUsers(_ context.Context) ([]leave.User, error) {
	var users []leave.User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(_, v []byte) error {
			var u leave.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, u)
			return nil
		})
	})
	return users, err
}

// =============================================================================
// LEDGER (leave.Store)
// =============================================================================

func (s *Store) view(fn func(v txView) error) error {
	return s.db.View(func(tx *bolt.Tx) error { return fn(txView{tx: tx}) })
}

func (s *Store) update(fn func(v txView) error) error {
	return s.db.Update(func(tx *bolt.Tx) error { return fn(txView{tx: tx}) })
}

func (s *Store) ListGrants(ctx context.Context, userID leave.UserID) (out []leave.Grant, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListGrants(ctx, userID)
		return err
	})
	return out, err
}

func (s *Store) GetGrant(ctx context.Context, userID leave.UserID, year int) (out *leave.Grant, err error) {
	err = s.view(func(v txView) error {
		out, err = v.GetGrant(ctx, userID, year)
		return err
	})
	return out, err
}

func (s *Store) SaveGrant(ctx context.Context, g leave.Grant) error {
	return s.update(func(v txView) error { return v.SaveGrant(ctx, g) })
}

func (s *Store) ListReservations(ctx context.Context, userID leave.UserID, filter leave.ReservationFilter) (out []leave.Reservation, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListReservations(ctx, userID, filter)
		return err
	})
	return out, err
}

func (s *Store) ListAllReservations(ctx context.Context, filter leave.ReservationFilter) (out []leave.Reservation, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListAllReservations(ctx, filter)
		return err
	})
	return out, err
}

func (s *Store) GetReservation(ctx context.Context, id string) (out *leave.Reservation, err error) {
	err = s.view(func(v txView) error {
		out, err = v.GetReservation(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) CreateReservation(ctx context.Context, r leave.Reservation) error {
	return s.update(func(v txView) error { return v.CreateReservation(ctx, r) })
}

func (s *Store) UpdateReservationStatus(ctx context.Context, id string, status leave.ReservationStatus) error {
	return s.update(func(v txView) error { return v.UpdateReservationStatus(ctx, id, status) })
}

func (s *Store) CreateUsageRecord(ctx context.Context, u leave.UsageRecord) error {
	return s.update(func(v txView) error { return v.CreateUsageRecord(ctx, u) })
}

func (s *Store) GetUsageRecord(ctx context.Context, id string) (out *leave.UsageRecord, err error) {
	err = s.view(func(v txView) error {
		out, err = v.GetUsageRecord(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) DeleteUsageRecord(ctx context.Context, id string) error {
	return s.update(func(v txView) error { return v.DeleteUsageRecord(ctx, id) })
}

func (s *Store) ListUsageRecords(ctx context.Context, userID leave.UserID) (out []leave.UsageRecord, err error) {
	err = s.view(func(v txView) error {
		out, err = v.ListUsageRecords(ctx, userID)
		return err
	})
	return out, err
}

// WithTx runs fn inside one read-write bolt transaction.
func (s *Store) WithTx(_ context.Context, fn func(leave.Store) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(txView{tx: tx})
	})
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

type txView struct {
	tx *bolt.Tx
}

func grantKey(userID leave.UserID, year int) string {
	return fmt.Sprintf("%s/%04d", userID, year)
}

func (v txView) ListGrants(_ context.Context, userID leave.UserID) ([]leave.Grant, error) {
	prefix := []byte(string(userID) + "/")
	var out []leave.Grant
	c := v.tx.Bucket(bucketGrants).Cursor()
	for k, val := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, val = c.Next() {
		var g leave.Grant
		if err := json.Unmarshal(val, &g); err != nil {
			return nil, errors.Wrapf(err, "decode grant %s", k)
		}
		out = append(out, g)
	}
	return out, nil
}

func (v txView) GetGrant(_ context.Context, userID leave.UserID, year int) (*leave.Grant, error) {
	return get[leave.Grant](v.tx.Bucket(bucketGrants), grantKey(userID, year))
}

func (v txView) SaveGrant(_ context.Context, g leave.Grant) error {
	return put(v.tx.Bucket(bucketGrants), grantKey(g.UserID, g.Year), g)
}

func (v txView) ListReservations(_ context.Context, userID leave.UserID, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return v.scanReservations(func(r leave.Reservation) bool {
		return r.UserID == userID && filter.Matches(r)
	})
}

func (v txView) ListAllReservations(_ context.Context, filter leave.ReservationFilter) ([]leave.Reservation, error) {
	return v.scanReservations(filter.Matches)
}

// scanReservations walks the whole bucket; keys are reservation IDs, so
// there is no index to seek by user or date.
func (v txView) scanReservations(keep func(leave.Reservation) bool) ([]leave.Reservation, error) {
	var out []leave.Reservation
	err := v.tx.Bucket(bucketReservations).ForEach(func(_, val []byte) error {
		var r leave.Reservation
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		if keep(r) {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v txView) GetReservation(_ context.Context, id string) (*leave.Reservation, error) {
	return get[leave.Reservation](v.tx.Bucket(bucketReservations), id)
}

func (v txView) CreateReservation(_ context.Context, r leave.Reservation) error {
	b := v.tx.Bucket(bucketReservations)
	if b.Get([]byte(r.ID)) != nil {
		return errors.Newf("reservation %s already exists", r.ID)
	}
	return put(b, r.ID, r)
}

func (v txView) UpdateReservationStatus(_ context.Context, id string, status leave.ReservationStatus) error {
	b := v.tx.Bucket(bucketReservations)
	r, err := get[leave.Reservation](b, id)
	if err != nil {
		return err
	}
	if r == nil {
		return errors.Newf("reservation %s does not exist", id)
	}
	r.Status = status
	return put(b, id, *r)
}

func (v txView) CreateUsageRecord(_ context.Context, u leave.UsageRecord) error {
	b := v.tx.Bucket(bucketUsage)
	if b.Get([]byte(u.ID)) != nil {
		return errors.Newf("usage record %s already exists", u.ID)
	}
	return put(b, u.ID, u)
}

func (v txView) GetUsageRecord(_ context.Context, id string) (*leave.UsageRecord, error) {
	return get[leave.UsageRecord](v.tx.Bucket(bucketUsage), id)
}

// DeleteUsageRecord is a no-op for a missing key.
func (v txView) DeleteUsageRecord(_ context.Context, id string) error {
	return v.tx.Bucket(bucketUsage).Delete([]byte(id))
}

func (v txView) ListUsageRecords(_ context.Context, userID leave.UserID) ([]leave.UsageRecord, error) {
	var out []leave.UsageRecord
	err := v.tx.Bucket(bucketUsage).ForEach(func(_, val []byte) error {
		var u leave.UsageRecord
		if err := json.Unmarshal(val, &u); err != nil {
			return err
		}
		if u.UserID == userID {
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].UsedAt.Before(out[j].UsedAt)
	})
	return out, nil
}

// =============================================================================
// ENCODING
// =============================================================================

func put(b *bolt.Bucket, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return b.Put([]byte(key), data)
}

// get returns (nil, nil) for a missing key.
func get[T any](b *bolt.Bucket, key string) (*T, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return nil, nil
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "decode %s", key)
	}
	return &out, nil
}

var (
	_ leave.Repository = (*Store)(nil)
	_ leave.Store      = txView{}
)
