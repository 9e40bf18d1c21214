package repository

import (
	"context"

	"github.com/smallbiznis/paydesk/internal/checkout/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert stores one record per capture id and reports whether it was new.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.CheckoutRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "capture_id"}},
			DoNothing: true,
		}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, limit int) ([]domain.CheckoutRecord, error) {
	var items []domain.CheckoutRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, capture_id, sku, name, amount, currency, status, buyer_info, created_at, updated_at
		 FROM checkout_records
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
