package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
)

const (
	redisCapturePrefix = "paydesk:snapshot:capture:"
	redisRefundPrefix  = "paydesk:snapshot:refund:"
	redisScanCount     = 200
)

// RedisStore keeps snapshots as JSON strings. Expiry is left to redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, domain.ErrStoreNotAvailable
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (s *RedisStore) PutCapture(ctx context.Context, snapshot domain.CaptureSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	return s.put(ctx, redisCapturePrefix+snapshot.CaptureID, snapshot)
}

func (s *RedisStore) GetCapture(ctx context.Context, captureID string) (*domain.CaptureSnapshot, error) {
	var snapshot domain.CaptureSnapshot
	found, err := s.get(ctx, redisCapturePrefix+captureID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *RedisStore) ListCaptures(ctx context.Context) ([]domain.CaptureSnapshot, error) {
	values, err := s.scan(ctx, redisCapturePrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CaptureSnapshot, 0, len(values))
	for _, raw := range values {
		var snapshot domain.CaptureSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			continue
		}
		out = append(out, snapshot)
	}
	return out, nil
}

func (s *RedisStore) PutRefund(ctx context.Context, snapshot domain.RefundSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	return s.put(ctx, redisRefundPrefix+snapshot.CaptureID, snapshot)
}

func (s *RedisStore) GetRefund(ctx context.Context, captureID string) (*domain.RefundSnapshot, error) {
	var snapshot domain.RefundSnapshot
	found, err := s.get(ctx, redisRefundPrefix+captureID, &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *RedisStore) ListRefunds(ctx context.Context) ([]domain.RefundSnapshot, error) {
	values, err := s.scan(ctx, redisRefundPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RefundSnapshot, 0, len(values))
	for _, raw := range values {
		var snapshot domain.RefundSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			continue
		}
		out = append(out, snapshot)
	}
	return out, nil
}

// Sweep is a no-op: keys carry their own expiry.
func (s *RedisStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) put(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisStore) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisStore) scan(ctx context.Context, prefix string) ([][]byte, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", redisScanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, value := range values {
		// Keys may expire between SCAN and MGET.
		str, ok := value.(string)
		if !ok {
			continue
		}
		out = append(out, []byte(str))
	}
	return out, nil
}
