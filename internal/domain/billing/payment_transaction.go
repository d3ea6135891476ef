package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/jobdeck/backend/internal/domain/shared"
)

// TransactionStatus represents the state of a payment attempt
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSuccess   TransactionStatus = "success"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusAbandoned TransactionStatus = "abandoned"
)

// transactionStatusRank orders statuses; a status may only move to a
// strictly higher rank, never backward
var transactionStatusRank = map[TransactionStatus]int{
	TransactionStatusPending:   0,
	TransactionStatusSuccess:   1,
	TransactionStatusFailed:    1,
	TransactionStatusAbandoned: 1,
}

// CanTransitionTo reports whether the status may move forward to target
func (s TransactionStatus) CanTransitionTo(target TransactionStatus) bool {
	from, ok := transactionStatusRank[s]
	if !ok {
		return false
	}
	to, ok := transactionStatusRank[target]
	if !ok {
		return false
	}
	return to > from
}

// PaymentTransaction records one payment attempt. Reference is the
// idempotency key: the repository never creates a second record for a
// reference already seen, and status only moves forward.
type PaymentTransaction struct {
	shared.BaseEntity
	Reference      string `gorm:"type:varchar(100);not null;uniqueIndex"`
	UserID         uuid.UUID
	PlanID         string
	Amount         int64 // minor units, always positive
	Currency       string
	Status         TransactionStatus
	Channel        string
	SubscriptionID *uuid.UUID
	RawPayload     string // provider response, stored opaque for audit
	VerifiedAt     *time.Time
}

// TableName returns the table name for GORM
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// NewPaymentTransaction creates a pending transaction for a checkout attempt
func NewPaymentTransaction(reference string, userID uuid.UUID, planID string, amount int64, currency string) (*PaymentTransaction, error) {
	if reference == "" {
		return nil, shared.NewDomainError("INVALID_REFERENCE", "Transaction reference cannot be empty")
	}
	if userID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_USER", "User ID cannot be empty")
	}
	if amount <= 0 {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Transaction amount must be positive")
	}

	return &PaymentTransaction{
		BaseEntity: shared.NewBaseEntity(),
		Reference:  reference,
		UserID:     userID,
		PlanID:     planID,
		Amount:     amount,
		Currency:   currency,
		Status:     TransactionStatusPending,
	}, nil
}

// MarkSuccess records a verified successful payment
func (t *PaymentTransaction) MarkSuccess(rawPayload, channel string, now time.Time) error {
	return t.transition(TransactionStatusSuccess, rawPayload, channel, &now)
}

// MarkFailed records a failed payment attempt
func (t *PaymentTransaction) MarkFailed(rawPayload string, now time.Time) error {
	return t.transition(TransactionStatusFailed, rawPayload, t.Channel, &now)
}

// MarkAbandoned records a checkout the user never completed
func (t *PaymentTransaction) MarkAbandoned(now time.Time) error {
	return t.transition(TransactionStatusAbandoned, t.RawPayload, t.Channel, &now)
}

// AttachSubscription links the transaction to the subscription it funded
func (t *PaymentTransaction) AttachSubscription(subscriptionID uuid.UUID) {
	t.SubscriptionID = &subscriptionID
	t.UpdatedAt = time.Now()
}

// IsSettled returns true once the transaction reached a terminal status
func (t *PaymentTransaction) IsSettled() bool {
	return t.Status != TransactionStatusPending
}

func (t *PaymentTransaction) transition(target TransactionStatus, rawPayload, channel string, verifiedAt *time.Time) error {
	if t.Status == target {
		// Idempotent replay of the same terminal outcome
		return nil
	}
	if !t.Status.CanTransitionTo(target) {
		return ErrInvalidTransition
	}

	t.Status = target
	t.RawPayload = rawPayload
	t.Channel = channel
	if target == TransactionStatusSuccess {
		t.VerifiedAt = verifiedAt
	}
	t.UpdatedAt = time.Now()

	return nil
}
