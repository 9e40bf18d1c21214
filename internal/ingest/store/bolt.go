package store

import (
	"context"
	"encoding/json"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
)

var (
	captureBucket = []byte("capture_snapshots")
	refundBucket  = []byte("refund_snapshots")
)

type boltRecord struct {
	ExpiresAt time.Time       `json:"expiresAt"`
	Value     json.RawMessage `json:"value"`
}

func (r boltRecord) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// BoltStore persists snapshots in a single-file bolt database so they
// survive restarts of a single-node deployment.
type BoltStore struct {
	db    *bolt.DB
	ttl   time.Duration
	clock clock.Clock
}

func NewBoltStore(path string, ttl time.Duration, clk clock.Clock) (*BoltStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{captureBucket, refundBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, ttl: ttl, clock: clk}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutCapture(ctx context.Context, snapshot domain.CaptureSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	return s.put(captureBucket, snapshot.CaptureID, snapshot)
}

func (s *BoltStore) GetCapture(ctx context.Context, captureID string) (*domain.CaptureSnapshot, error) {
	var snapshot domain.CaptureSnapshot
	found, err := s.get(captureBucket, captureID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *BoltStore) ListCaptures(ctx context.Context) ([]domain.CaptureSnapshot, error) {
	items := []domain.CaptureSnapshot{}
	err := s.each(captureBucket, func(raw json.RawMessage) error {
		var snapshot domain.CaptureSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return err
		}
		items = append(items, snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BoltStore) PutRefund(ctx context.Context, snapshot domain.RefundSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	return s.put(refundBucket, snapshot.CaptureID, snapshot)
}

func (s *BoltStore) GetRefund(ctx context.Context, captureID string) (*domain.RefundSnapshot, error) {
	var snapshot domain.RefundSnapshot
	found, err := s.get(refundBucket, captureID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *BoltStore) ListRefunds(ctx context.Context) ([]domain.RefundSnapshot, error) {
	items := []domain.RefundSnapshot{}
	err := s.each(refundBucket, func(raw json.RawMessage) error {
		var snapshot domain.RefundSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return err
		}
		items = append(items, snapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *BoltStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	evicted := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{captureBucket, refundBucket} {
			b := tx.Bucket(name)
			var expired [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var record boltRecord
				if err := json.Unmarshal(v, &record); err != nil || record.expired(now) {
					expired = append(expired, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			// Deleting inside ForEach invalidates the cursor.
			for _, k := range expired {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			evicted += len(expired)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return evicted, nil
}

func (s *BoltStore) put(bucket []byte, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	record := boltRecord{Value: raw}
	if s.ttl > 0 {
		record.ExpiresAt = s.clock.Now().Add(s.ttl)
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out any) (bool, error) {
	var record boltRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &record)
	})
	if err != nil || !found {
		return false, err
	}
	if record.expired(s.clock.Now()) {
		return false, nil
	}
	return true, json.Unmarshal(record.Value, out)
}

func (s *BoltStore) each(bucket []byte, fn func(raw json.RawMessage) error) error {
	now := s.clock.Now()
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var record boltRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			if record.expired(now) {
				return nil
			}
			return fn(record.Value)
		})
	})
}
