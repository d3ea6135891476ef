package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jobdeck/backend/internal/domain/billing"
)

// GormPaymentTransactionRepository implements billing.PaymentTransactionRepository
type GormPaymentTransactionRepository struct {
	db *gorm.DB
}

// NewGormPaymentTransactionRepository creates a new payment transaction repository
func NewGormPaymentTransactionRepository(db *gorm.DB) *GormPaymentTransactionRepository {
	return &GormPaymentTransactionRepository{db: db}
}

// CreateIfAbsent inserts the transaction unless its reference already
// exists. ON CONFLICT DO NOTHING makes the insert race-free; a duplicate
// reference reports (false, nil) instead of an error.
func (r *GormPaymentTransactionRepository) CreateIfAbsent(ctx context.Context, tx *billing.PaymentTransaction) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "reference"}},
			DoNothing: true,
		}).
		Create(tx)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// FindByReference finds a transaction by its reference
func (r *GormPaymentTransactionRepository) FindByReference(ctx context.Context, reference string) (*billing.PaymentTransaction, error) {
	var tx billing.PaymentTransaction
	if err := r.db.WithContext(ctx).First(&tx, "reference = ?", reference).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// Save persists a settled transaction. Every terminal status is reached
// from pending only, so the write is guarded on the row still being
// pending; a lost race against the same outcome is fine, a lost race
// against a different outcome is an invalid transition.
func (r *GormPaymentTransactionRepository) Save(ctx context.Context, tx *billing.PaymentTransaction) error {
	result := r.db.WithContext(ctx).
		Model(tx).
		Where("id = ? AND status = ?", tx.ID, billing.TransactionStatusPending).
		Select("*").
		Updates(tx)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := r.FindByReference(ctx, tx.Reference)
	if err != nil {
		return err
	}
	if current.Status == tx.Status {
		return nil
	}
	return billing.ErrInvalidTransition
}

var _ billing.PaymentTransactionRepository = (*GormPaymentTransactionRepository)(nil)
