package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate assigns a UUID when none was set by the caller
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// UserRoleType represents a role a user can have
type UserRoleType string

const (
	RoleAdmin      UserRoleType = "admin"
	RoleManager    UserRoleType = "manager"
	RoleSalesRep   UserRoleType = "sales_rep"
	RoleAccountant UserRoleType = "accountant"
	RoleViewer     UserRoleType = "viewer"
	RoleAPIService UserRoleType = "api_service"
)

// IsValid checks if the role is known
func (r UserRoleType) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleSalesRep, RoleAccountant, RoleViewer, RoleAPIService:
		return true
	}
	return false
}

// User is an internal staff member who owns quotations and receives notifications
type User struct {
	BaseModel
	Email       string       `gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string       `gorm:"type:varchar(200);not null;column:name"`
	Role        UserRoleType `gorm:"type:varchar(50);not null;index"`
	IsActive    bool         `gorm:"not null;column:is_active"`
}

// Client is the buyer a quotation is addressed to
type Client struct {
	BaseModel
	Name      string    `gorm:"type:varchar(200);not null"`
	Email     string    `gorm:"type:varchar(255)"`
	Phone     string    `gorm:"type:varchar(50)"`
	GSTIN     string    `gorm:"type:varchar(15);column:gstin"`
	StateCode string    `gorm:"type:varchar(5);column:state_code"`
	Address   string    `gorm:"type:text"`
	OwnerID   uuid.UUID `gorm:"type:uuid;not null;index;column:owner_id"`
}

// Quotation is a priced offer to a client with line items and computed totals
type Quotation struct {
	BaseModel
	QuotationNumber    string          `gorm:"type:varchar(50);uniqueIndex;column:quotation_number"`
	Title              string          `gorm:"type:varchar(200);not null"`
	OwnerID            uuid.UUID       `gorm:"type:uuid;not null;index;column:owner_id"`
	ClientID           uuid.UUID       `gorm:"type:uuid;not null;index;column:client_id"`
	Client             *Client         `gorm:"foreignKey:ClientID"`
	Status             QuotationStatus `gorm:"type:varchar(20);not null;index"`
	QuotationDate      time.Time       `gorm:"type:date;not null;column:quotation_date"`
	ValidUntil         time.Time       `gorm:"type:date;not null;index;column:valid_until"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'INR'"`
	BuyerStateCode     string          `gorm:"type:varchar(5);column:buyer_state_code"`
	TaxRate            decimal.Decimal `gorm:"type:decimal(5,2);not null;column:tax_rate"`
	Subtotal           decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	DiscountPercentage decimal.Decimal `gorm:"type:decimal(5,2);not null;column:discount_percentage"`
	DiscountAmount     decimal.Decimal `gorm:"type:decimal(15,2);not null;column:discount_amount"`
	CGSTAmount         decimal.Decimal `gorm:"type:decimal(15,2);not null;column:cgst_amount"`
	SGSTAmount         decimal.Decimal `gorm:"type:decimal(15,2);not null;column:sgst_amount"`
	IGSTAmount         decimal.Decimal `gorm:"type:decimal(15,2);not null;column:igst_amount"`
	TaxAmount          decimal.Decimal `gorm:"type:decimal(15,2);not null;column:tax_amount"`
	TotalAmount        decimal.Decimal `gorm:"type:decimal(15,2);not null;column:total_amount"`
	Notes              string          `gorm:"type:text"`
	Terms              string          `gorm:"type:text"`
	SentAt             *time.Time      `gorm:"column:sent_at"`
	ViewedAt           *time.Time      `gorm:"column:viewed_at"`
	RespondedAt        *time.Time      `gorm:"column:responded_at"`
	ExpiredAt          *time.Time      `gorm:"column:expired_at"`
	CancelledAt        *time.Time      `gorm:"column:cancelled_at"`
	Items              []LineItem      `gorm:"foreignKey:QuotationID;constraint:OnDelete:CASCADE"`
}

// LineItem is one priced row of a quotation. Amount is always quantity × unit rate.
type LineItem struct {
	BaseModel
	QuotationID uuid.UUID       `gorm:"type:uuid;not null;index;column:quotation_id"`
	SequenceNo  int             `gorm:"not null;column:sequence_no"`
	Name        string          `gorm:"type:varchar(200);not null"`
	Description string          `gorm:"type:text"`
	HSNCode     string          `gorm:"type:varchar(20);column:hsn_code"`
	Unit        string          `gorm:"type:varchar(20)"`
	Quantity    decimal.Decimal `gorm:"type:decimal(15,3);not null"`
	UnitRate    decimal.Decimal `gorm:"type:decimal(15,2);not null;column:unit_rate"`
	Amount      decimal.Decimal `gorm:"type:decimal(15,2);not null"`
}

func (LineItem) TableName() string {
	return "quotation_line_items"
}

// QuotationAccessLink is a time-bounded token granting a client access to one quotation
type QuotationAccessLink struct {
	BaseModel
	QuotationID    uuid.UUID  `gorm:"type:uuid;not null;index;column:quotation_id"`
	TokenHash      string     `gorm:"type:varchar(64);not null;uniqueIndex;column:token_hash"`
	RecipientEmail string     `gorm:"type:varchar(255);not null;column:recipient_email"`
	ExpiresAt      time.Time  `gorm:"not null;column:expires_at"`
	IsActive       bool       `gorm:"not null;column:is_active"`
	ViewCount      int        `gorm:"not null;column:view_count"`
	FirstViewedAt  *time.Time `gorm:"column:first_viewed_at"`
	LastViewedAt   *time.Time `gorm:"column:last_viewed_at"`
	DeactivatedAt  *time.Time `gorm:"column:deactivated_at"`
	SnapshotPath   string     `gorm:"type:varchar(500);column:snapshot_path"`
	CreatedBy      uuid.UUID  `gorm:"type:uuid;not null;column:created_by"`
}

// IsUsable reports whether the link is active and not yet expired at now
func (l *QuotationAccessLink) IsUsable(now time.Time) bool {
	return l.IsActive && now.Before(l.ExpiresAt)
}

// QuotationResponse is the single client decision recorded for a quotation
type QuotationResponse struct {
	BaseModel
	QuotationID  uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex;column:quotation_id"`
	AccessLinkID uuid.UUID        `gorm:"type:uuid;not null;column:access_link_id"`
	ResponseType string           `gorm:"type:varchar(50);not null;column:response_type"`
	Decision     ResponseDecision `gorm:"type:varchar(20);not null"`
	ClientName   string           `gorm:"type:varchar(200);column:client_name"`
	ClientEmail  string           `gorm:"type:varchar(255);column:client_email"`
	Message      string           `gorm:"type:text"`
	IPAddress    string           `gorm:"type:varchar(64);column:ip_address"`
	UserAgent    string           `gorm:"type:varchar(500);column:user_agent"`
}

// QuotationStatusHistory is one append-only audit row per quotation status transition.
// Statuses are stored as plain text so the audit trail never constrains the live enum.
type QuotationStatusHistory struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	QuotationID    uuid.UUID  `gorm:"type:uuid;not null;index;column:quotation_id"`
	PreviousStatus string     `gorm:"type:varchar(20);column:previous_status"`
	NewStatus      string     `gorm:"type:varchar(20);not null;column:new_status"`
	ChangedBy      *uuid.UUID `gorm:"type:uuid;column:changed_by"`
	Reason         string     `gorm:"type:varchar(500)"`
	IPAddress      string     `gorm:"type:varchar(64);column:ip_address"`
	CreatedAt      time.Time  `gorm:"not null;index"`
}

func (QuotationStatusHistory) TableName() string {
	return "quotation_status_history"
}

func (h *QuotationStatusHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}

// Payment is money received against a quotation
type Payment struct {
	BaseModel
	QuotationID      uuid.UUID       `gorm:"type:uuid;not null;index;column:quotation_id"`
	Method           PaymentMethod   `gorm:"type:varchar(20);not null"`
	Provider         string          `gorm:"type:varchar(50);not null"`
	GatewayReference string          `gorm:"type:varchar(100);index;column:gateway_reference"`
	AmountPaid       decimal.Decimal `gorm:"type:decimal(15,2);not null;column:amount_paid"`
	RefundAmount     decimal.Decimal `gorm:"type:decimal(15,2);not null;column:refund_amount"`
	Status           PaymentStatus   `gorm:"type:varchar(30);not null;index"`
	PaidAt           *time.Time      `gorm:"column:paid_at"`
	Notes            string          `gorm:"type:text"`
	RecordedBy       *uuid.UUID      `gorm:"type:uuid;column:recorded_by"`
}

// NetAmount is the payment's contribution to the quotation balance
func (p *Payment) NetAmount() decimal.Decimal {
	if !p.Status.CountsTowardBalance() {
		return decimal.Zero
	}
	return p.AmountPaid.Sub(p.RefundAmount)
}

// ApplyRefund adds amount to the cumulative refund and cascades the status
func (p *Payment) ApplyRefund(amount decimal.Decimal) {
	p.RefundAmount = p.RefundAmount.Add(amount)
	p.syncRefundStatus()
}

// RevertRefund removes a previously applied refund amount
func (p *Payment) RevertRefund(amount decimal.Decimal) {
	p.RefundAmount = p.RefundAmount.Sub(amount)
	if p.RefundAmount.IsNegative() {
		p.RefundAmount = decimal.Zero
	}
	p.syncRefundStatus()
}

func (p *Payment) syncRefundStatus() {
	switch {
	case p.RefundAmount.IsZero():
		p.Status = PaymentStatusSuccess
	case p.RefundAmount.GreaterThanOrEqual(p.AmountPaid):
		p.Status = PaymentStatusRefunded
	default:
		p.Status = PaymentStatusPartiallyRefunded
	}
}

// Refund is a request to return money from a payment
type Refund struct {
	BaseModel
	PaymentID        uuid.UUID       `gorm:"type:uuid;not null;index;column:payment_id"`
	Payment          *Payment        `gorm:"foreignKey:PaymentID"`
	QuotationID      uuid.UUID       `gorm:"type:uuid;not null;index;column:quotation_id"`
	Amount           decimal.Decimal `gorm:"type:decimal(15,2);not null"`
	Reason           string          `gorm:"type:varchar(500)"`
	Status           RefundStatus    `gorm:"type:varchar(20);not null;index"`
	ApprovalLevel    ApprovalLevel   `gorm:"type:varchar(20);not null;column:approval_level"`
	RequestedBy      uuid.UUID       `gorm:"type:uuid;not null;column:requested_by"`
	ApprovedBy       *uuid.UUID      `gorm:"type:uuid;column:approved_by"`
	ApprovedAt       *time.Time      `gorm:"column:approved_at"`
	RejectedBy       *uuid.UUID      `gorm:"type:uuid;column:rejected_by"`
	RejectedAt       *time.Time      `gorm:"column:rejected_at"`
	RejectionReason  string          `gorm:"type:varchar(500);column:rejection_reason"`
	ProcessedBy      *uuid.UUID      `gorm:"type:uuid;column:processed_by"`
	ProcessedAt      *time.Time      `gorm:"column:processed_at"`
	GatewayReference string          `gorm:"type:varchar(100);column:gateway_reference"`
	FailureReason    string          `gorm:"type:text;column:failure_reason"`
	ReversedBy       *uuid.UUID      `gorm:"type:uuid;column:reversed_by"`
	ReversedAt       *time.Time      `gorm:"column:reversed_at"`
	ReversalReason   string          `gorm:"type:varchar(500);column:reversal_reason"`
	GatewayReversed  bool            `gorm:"not null;column:gateway_reversed"`
}

// RefundTimeline is an append-only event log for a refund
type RefundTimeline struct {
	ID        uuid.UUID   `gorm:"type:uuid;primaryKey"`
	RefundID  uuid.UUID   `gorm:"type:uuid;not null;index;column:refund_id"`
	Event     RefundEvent `gorm:"type:varchar(30);not null"`
	Status    string      `gorm:"type:varchar(20);not null"`
	ActorID   *uuid.UUID  `gorm:"type:uuid;column:actor_id"`
	Note      string      `gorm:"type:text"`
	Metadata  JSONMap     `gorm:"type:jsonb"`
	CreatedAt time.Time   `gorm:"not null;index"`
}

func (RefundTimeline) TableName() string {
	return "refund_timeline"
}

func (e *RefundTimeline) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Adjustment is a non-monetary correction to a quotation's ledger fields
type Adjustment struct {
	BaseModel
	QuotationID     uuid.UUID        `gorm:"type:uuid;not null;index;column:quotation_id"`
	Type            AdjustmentType   `gorm:"type:varchar(30);not null"`
	OriginalAmount  decimal.Decimal  `gorm:"type:decimal(15,2);not null;column:original_amount"`
	AdjustedAmount  decimal.Decimal  `gorm:"type:decimal(15,2);not null;column:adjusted_amount"`
	Reason          string           `gorm:"type:varchar(500);not null"`
	Status          AdjustmentStatus `gorm:"type:varchar(20);not null;index"`
	ApprovalLevel   ApprovalLevel    `gorm:"type:varchar(20);not null;column:approval_level"`
	RequestedBy     uuid.UUID        `gorm:"type:uuid;not null;column:requested_by"`
	ApprovedBy      *uuid.UUID       `gorm:"type:uuid;column:approved_by"`
	ApprovedAt      *time.Time       `gorm:"column:approved_at"`
	RejectedBy      *uuid.UUID       `gorm:"type:uuid;column:rejected_by"`
	RejectedAt      *time.Time       `gorm:"column:rejected_at"`
	RejectionReason string           `gorm:"type:varchar(500);column:rejection_reason"`
	AppliedBy       *uuid.UUID       `gorm:"type:uuid;column:applied_by"`
	AppliedAt       *time.Time       `gorm:"column:applied_at"`
}

// AdjustmentTimeline is an append-only event log for an adjustment
type AdjustmentTimeline struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AdjustmentID uuid.UUID       `gorm:"type:uuid;not null;index;column:adjustment_id"`
	Event        AdjustmentEvent `gorm:"type:varchar(30);not null"`
	Status       string          `gorm:"type:varchar(20);not null"`
	ActorID      *uuid.UUID      `gorm:"type:uuid;column:actor_id"`
	Note         string          `gorm:"type:text"`
	Metadata     JSONMap         `gorm:"type:jsonb"`
	CreatedAt    time.Time       `gorm:"not null;index"`
}

func (AdjustmentTimeline) TableName() string {
	return "adjustment_timeline"
}

func (e *AdjustmentTimeline) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Delta is the signed change the adjustment applies
func (a *Adjustment) Delta() decimal.Decimal {
	return a.AdjustedAmount.Sub(a.OriginalAmount)
}

// Notification is a message to one recipient about a related entity
type Notification struct {
	BaseModel
	RecipientID       uuid.UUID                  `gorm:"type:uuid;not null;index:idx_notifications_dedup,priority:1;column:recipient_id"`
	RelatedEntityType string                     `gorm:"type:varchar(50);not null;column:related_entity_type"`
	RelatedEntityID   uuid.UUID                  `gorm:"type:uuid;not null;index:idx_notifications_dedup,priority:2;column:related_entity_id"`
	EventType         NotificationEventType      `gorm:"type:varchar(50);not null;index:idx_notifications_dedup,priority:3;column:event_type"`
	Title             string                     `gorm:"type:varchar(200);not null"`
	Message           string                     `gorm:"type:varchar(1000);not null"`
	Channels          ChannelSet                 `gorm:"type:varchar(100);not null"`
	DeliveryStatus    NotificationDeliveryStatus `gorm:"type:varchar(20);not null;column:delivery_status"`
	Read              bool                       `gorm:"column:read;not null;default:false;index"`
	ReadAt            *time.Time
	Archived          bool `gorm:"not null;default:false"`
	ArchivedAt        *time.Time
	Metadata          JSONMap `gorm:"type:jsonb"`
}

// NotificationPreference holds one user's channel settings
type NotificationPreference struct {
	BaseModel
	UserID        uuid.UUID          `gorm:"type:uuid;not null;uniqueIndex;column:user_id"`
	InAppEnabled  bool               `gorm:"not null;column:in_app_enabled"`
	EmailEnabled  bool               `gorm:"not null;column:email_enabled"`
	EventSettings PreferenceSettings `gorm:"type:jsonb;column:event_settings"`
}

// DefaultNotificationPreference is used for users without a stored record: in-app only
func DefaultNotificationPreference(userID uuid.UUID) *NotificationPreference {
	return &NotificationPreference{
		UserID:       userID,
		InAppEnabled: true,
	}
}

// Allows reports whether event may be delivered on channel at now
func (p *NotificationPreference) Allows(event NotificationEventType, channel NotificationChannel, now time.Time) bool {
	if setting, ok := p.EventSettings.lookup(event, channel); ok {
		return setting.Enabled && !setting.MutedAt(now)
	}
	switch channel {
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelEmail:
		return p.EmailEnabled
	}
	return false
}

// EmailDeliveryLog records one email and its send attempts
type EmailDeliveryLog struct {
	BaseModel
	NotificationID *uuid.UUID          `gorm:"type:uuid;index;column:notification_id"`
	Recipient      string              `gorm:"type:varchar(255);not null"`
	Subject        string              `gorm:"type:varchar(255);not null"`
	Body           string              `gorm:"type:text;not null"`
	Status         EmailDeliveryStatus `gorm:"type:varchar(20);not null;index"`
	RetryCount     int                 `gorm:"not null;column:retry_count"`
	MessageID      string              `gorm:"type:varchar(255);index;column:message_id"`
	LastError      string              `gorm:"type:text;column:last_error"`
	LastAttemptAt  time.Time           `gorm:"not null;column:last_attempt_at"`
	DeliveredAt    *time.Time          `gorm:"column:delivered_at"`
}

// NumberSequence tracks the last issued document number per prefix and year
type NumberSequence struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Prefix       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_number_sequences_prefix_year"`
	Year         int       `gorm:"not null;uniqueIndex:idx_number_sequences_prefix_year"`
	LastSequence int       `gorm:"not null;column:last_sequence"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s *NumberSequence) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
