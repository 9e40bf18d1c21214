package repository

import (
	"context"

	"github.com/smallbiznis/paydesk/internal/refund/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert stores the entry once per refund id.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "refund_id"}},
			DoNothing: true,
		}).
		Create(entry).Error
}

func (r *repo) ListByCapture(ctx context.Context, db *gorm.DB, captureID string) ([]domain.LedgerEntry, error) {
	var items []domain.LedgerEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, refund_id, capture_id, amount, currency, status, actor, debug_id, created_at
		 FROM refund_ledger
		 WHERE capture_id = ?
		 ORDER BY created_at DESC, id DESC`,
		captureID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SumByCapture(ctx context.Context, db *gorm.DB) ([]domain.CaptureTotal, error) {
	var items []domain.CaptureTotal
	err := db.WithContext(ctx).Raw(
		`SELECT capture_id, MAX(currency) AS currency, SUM(amount) AS total, COUNT(*) AS count
		 FROM refund_ledger
		 WHERE status NOT IN ('FAILED', 'CANCELLED')
		 GROUP BY capture_id
		 ORDER BY capture_id`,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
