package persistence

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobdeck/backend/internal/domain/billing"
)

// setupTestDB opens an in-memory sqlite database with the billing schema.
// Unique indexes carry the same semantics as in Postgres, which is what
// the idempotency guards lean on.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&billing.Subscription{},
		&billing.PaymentTransaction{},
		&billing.UsageCounter{},
	)
	require.NoError(t, err)

	return db
}
