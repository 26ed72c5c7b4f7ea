package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/database"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a private in-memory SQLite database with the full schema migrated
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateTestUser creates an active user with the given role
func CreateTestUser(t *testing.T, db *gorm.DB, role domain.UserRoleType) *domain.User {
	t.Helper()
	id := uuid.New()
	user := &domain.User{
		BaseModel:   domain.BaseModel{ID: id},
		Email:       fmt.Sprintf("%s-%s@example.com", role, id.String()[:8]),
		DisplayName: fmt.Sprintf("Test %s", role),
		Role:        role,
		IsActive:    true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateTestClient creates a client owned by ownerID in the given state
func CreateTestClient(t *testing.T, db *gorm.DB, ownerID uuid.UUID, stateCode string) *domain.Client {
	t.Helper()
	client := &domain.Client{
		Name:      "Acme Traders",
		Email:     "buyer@acme.example",
		StateCode: stateCode,
		OwnerID:   ownerID,
	}
	require.NoError(t, db.Create(client).Error)
	return client
}

// CreateTestQuotation inserts a quotation directly in the given status with the given total.
// Money fields other than the total are left at zero; use the quotation service to get priced drafts.
func CreateTestQuotation(t *testing.T, db *gorm.DB, ownerID, clientID uuid.UUID, status domain.QuotationStatus, total decimal.Decimal) *domain.Quotation {
	t.Helper()
	today := time.Now().UTC().Truncate(24 * time.Hour)
	q := &domain.Quotation{
		QuotationNumber: "QT-TEST-" + uuid.NewString()[:8],
		Title:           "Test quotation",
		OwnerID:         ownerID,
		ClientID:        clientID,
		Status:          status,
		QuotationDate:   today,
		ValidUntil:      today.AddDate(0, 0, 30),
		Currency:        "INR",
		Subtotal:        total,
		TotalAmount:     total,
		Items: []domain.LineItem{{
			SequenceNo: 1,
			Name:       "Consulting",
			Quantity:   decimal.NewFromInt(1),
			UnitRate:   total,
			Amount:     total,
		}},
	}
	require.NoError(t, db.Omit("Client").Create(q).Error)
	return q
}

// CreateTestPayment records a successful payment against a quotation
func CreateTestPayment(t *testing.T, db *gorm.DB, quotationID uuid.UUID, amount decimal.Decimal) *domain.Payment {
	t.Helper()
	now := time.Now().UTC()
	payment := &domain.Payment{
		QuotationID:      quotationID,
		Method:           domain.PaymentMethodGateway,
		Provider:         "sandbox",
		GatewayReference: "pay_" + uuid.NewString()[:12],
		AmountPaid:       amount,
		RefundAmount:     decimal.Zero,
		Status:           domain.PaymentStatusSuccess,
		PaidAt:           &now,
	}
	require.NoError(t, db.Create(payment).Error)
	return payment
}
