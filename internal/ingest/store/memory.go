package store

import (
	"context"
	"time"

	"github.com/smallbiznis/paydesk/internal/cache"
	"github.com/smallbiznis/paydesk/internal/clock"
	"github.com/smallbiznis/paydesk/internal/ingest/domain"
)

type MemoryStore struct {
	ttl      time.Duration
	captures cache.Cache[string, domain.CaptureSnapshot]
	refunds  cache.Cache[string, domain.RefundSnapshot]
}

func NewMemoryStore(ttl time.Duration, clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		captures: cache.NewTTLCache[string, domain.CaptureSnapshot](clk),
		refunds:  cache.NewTTLCache[string, domain.RefundSnapshot](clk),
	}
}

func (s *MemoryStore) PutCapture(ctx context.Context, snapshot domain.CaptureSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	s.captures.Set(snapshot.CaptureID, snapshot, s.ttl)
	return nil
}

func (s *MemoryStore) GetCapture(ctx context.Context, captureID string) (*domain.CaptureSnapshot, error) {
	snapshot, ok := s.captures.Get(captureID)
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *MemoryStore) ListCaptures(ctx context.Context) ([]domain.CaptureSnapshot, error) {
	return s.captures.Values(), nil
}

func (s *MemoryStore) PutRefund(ctx context.Context, snapshot domain.RefundSnapshot) error {
	if snapshot.CaptureID == "" {
		return domain.ErrInvalidCaptureID
	}
	s.refunds.Set(snapshot.CaptureID, snapshot, s.ttl)
	return nil
}

func (s *MemoryStore) GetRefund(ctx context.Context, captureID string) (*domain.RefundSnapshot, error) {
	snapshot, ok := s.refunds.Get(captureID)
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *MemoryStore) ListRefunds(ctx context.Context) ([]domain.RefundSnapshot, error) {
	return s.refunds.Values(), nil
}

func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	return s.captures.Sweep(now) + s.refunds.Sweep(now), nil
}
