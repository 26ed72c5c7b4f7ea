package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quotation DTOs

type LineItemDTO struct {
	ID          uuid.UUID       `json:"id"`
	SequenceNo  int             `json:"sequenceNo"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	HSNCode     string          `json:"hsnCode,omitempty"`
	Unit        string          `json:"unit,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitRate    decimal.Decimal `json:"unitRate"`
	Amount      decimal.Decimal `json:"amount"`
}

type QuotationDTO struct {
	ID                 uuid.UUID       `json:"id"`
	QuotationNumber    string          `json:"quotationNumber"`
	Title              string          `json:"title"`
	OwnerID            uuid.UUID       `json:"ownerId"`
	ClientID           uuid.UUID       `json:"clientId"`
	ClientName         string          `json:"clientName,omitempty"`
	Status             QuotationStatus `json:"status"`
	QuotationDate      time.Time       `json:"quotationDate"`
	ValidUntil         time.Time       `json:"validUntil"`
	Currency           string          `json:"currency"`
	BuyerStateCode     string          `json:"buyerStateCode,omitempty"`
	TaxRate            decimal.Decimal `json:"taxRate"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	DiscountAmount     decimal.Decimal `json:"discountAmount"`
	CGSTAmount         decimal.Decimal `json:"cgstAmount"`
	SGSTAmount         decimal.Decimal `json:"sgstAmount"`
	IGSTAmount         decimal.Decimal `json:"igstAmount"`
	TaxAmount          decimal.Decimal `json:"taxAmount"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	Notes              string          `json:"notes,omitempty"`
	Terms              string          `json:"terms,omitempty"`
	SentAt             *time.Time      `json:"sentAt,omitempty"`
	ViewedAt           *time.Time      `json:"viewedAt,omitempty"`
	RespondedAt        *time.Time      `json:"respondedAt,omitempty"`
	Items              []LineItemDTO   `json:"items"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// PortalQuotationDTO is the client-facing view served through an access link
type PortalQuotationDTO struct {
	QuotationNumber string          `json:"quotationNumber"`
	Title           string          `json:"title"`
	Status          QuotationStatus `json:"status"`
	QuotationDate   time.Time       `json:"quotationDate"`
	ValidUntil      time.Time       `json:"validUntil"`
	Currency        string          `json:"currency"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountAmount  decimal.Decimal `json:"discountAmount"`
	CGSTAmount      decimal.Decimal `json:"cgstAmount"`
	SGSTAmount      decimal.Decimal `json:"sgstAmount"`
	IGSTAmount      decimal.Decimal `json:"igstAmount"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	Terms           string          `json:"terms,omitempty"`
	Items           []LineItemDTO   `json:"items"`
	CanRespond      bool            `json:"canRespond"`
}

type AccessLinkDTO struct {
	ID             uuid.UUID  `json:"id"`
	RecipientEmail string     `json:"recipientEmail"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	IsActive       bool       `json:"isActive"`
	ViewCount      int        `json:"viewCount"`
	FirstViewedAt  *time.Time `json:"firstViewedAt,omitempty"`
	LastViewedAt   *time.Time `json:"lastViewedAt,omitempty"`
	PortalURL      string     `json:"portalUrl,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// SendQuotationResultDTO is returned by send and resend. PortalURL carries the raw token once.
type SendQuotationResultDTO struct {
	Quotation QuotationDTO  `json:"quotation"`
	Link      AccessLinkDTO `json:"link"`
}

type QuotationResponseDTO struct {
	ID           uuid.UUID        `json:"id"`
	QuotationID  uuid.UUID        `json:"quotationId"`
	ResponseType string           `json:"responseType"`
	Decision     ResponseDecision `json:"decision"`
	ClientName   string           `json:"clientName,omitempty"`
	Message      string           `json:"message,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type StatusHistoryDTO struct {
	ID             uuid.UUID  `json:"id"`
	PreviousStatus string     `json:"previousStatus,omitempty"`
	NewStatus      string     `json:"newStatus"`
	ChangedBy      *uuid.UUID `json:"changedBy,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type LineItemInput struct {
	ID          *uuid.UUID      `json:"id,omitempty"`
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description,omitempty" validate:"max=2000"`
	HSNCode     string          `json:"hsnCode,omitempty" validate:"max=20"`
	Unit        string          `json:"unit,omitempty" validate:"max=20"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitRate    decimal.Decimal `json:"unitRate"`
}

type CreateQuotationRequest struct {
	ClientID           uuid.UUID       `json:"clientId" validate:"required"`
	Title              string          `json:"title" validate:"required,max=200"`
	QuotationDate      time.Time       `json:"quotationDate" validate:"required"`
	ValidUntil         time.Time       `json:"validUntil" validate:"required"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Notes              string          `json:"notes,omitempty" validate:"max=5000"`
	Terms              string          `json:"terms,omitempty" validate:"max=5000"`
	Items              []LineItemInput `json:"items" validate:"required,min=1,dive"`
}

type UpdateQuotationRequest struct {
	Title              string          `json:"title" validate:"required,max=200"`
	QuotationDate      time.Time       `json:"quotationDate" validate:"required"`
	ValidUntil         time.Time       `json:"validUntil" validate:"required"`
	DiscountPercentage decimal.Decimal `json:"discountPercentage"`
	Notes              string          `json:"notes,omitempty" validate:"max=5000"`
	Terms              string          `json:"terms,omitempty" validate:"max=5000"`
	Items              []LineItemInput `json:"items" validate:"required,min=1,dive"`
}

type SendQuotationRequest struct {
	RecipientEmail string `json:"recipientEmail,omitempty" validate:"omitempty,email"`
	Message        string `json:"message,omitempty" validate:"max=2000"`
}

type ResendQuotationRequest struct {
	RecipientEmail     string `json:"recipientEmail,omitempty" validate:"omitempty,email"`
	Message            string `json:"message,omitempty" validate:"max=2000"`
	DeactivatePrevious bool   `json:"deactivatePrevious"`
}

type CancelQuotationRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type SubmitResponseRequest struct {
	ResponseType string `json:"responseType" validate:"required,max=50"`
	ClientName   string `json:"clientName,omitempty" validate:"max=200"`
	ClientEmail  string `json:"clientEmail,omitempty" validate:"omitempty,email"`
	Message      string `json:"message,omitempty" validate:"max=2000"`
}

// ClientAccessInfo carries request metadata from the client portal
type ClientAccessInfo struct {
	IPAddress string
	UserAgent string
}

// Payment DTOs

type PaymentDTO struct {
	ID               uuid.UUID       `json:"id"`
	QuotationID      uuid.UUID       `json:"quotationId"`
	Method           PaymentMethod   `json:"method"`
	Provider         string          `json:"provider"`
	GatewayReference string          `json:"gatewayReference,omitempty"`
	AmountPaid       decimal.Decimal `json:"amountPaid"`
	RefundAmount     decimal.Decimal `json:"refundAmount"`
	NetAmount        decimal.Decimal `json:"netAmount"`
	Status           PaymentStatus   `json:"status"`
	PaidAt           *time.Time      `json:"paidAt,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

// PaymentSummary is the read-side balance projection for one quotation
type PaymentSummary struct {
	QuotationID  uuid.UUID       `json:"quotationId"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	PaidTotal    decimal.Decimal `json:"paidTotal"`
	PaidNetTotal decimal.Decimal `json:"paidNetTotal"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

type RecordPaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	PaidAt    *time.Time      `json:"paidAt,omitempty"`
	Reference string          `json:"reference,omitempty" validate:"max=100"`
	Notes     string          `json:"notes,omitempty" validate:"max=2000"`
}

type InitiateGatewayPaymentRequest struct {
	// Provider defaults to the configured gateway when empty
	Provider string `json:"provider,omitempty" validate:"max=50"`
}

// GatewayCheckoutDTO is a pending gateway payment and where the client completes it
type GatewayCheckoutDTO struct {
	Payment     *PaymentDTO `json:"payment"`
	CheckoutURL string      `json:"checkoutUrl"`
}

type UpdatePaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Notes  string          `json:"notes,omitempty" validate:"max=2000"`
}

// Refund DTOs

type RefundDTO struct {
	ID               uuid.UUID       `json:"id"`
	PaymentID        uuid.UUID       `json:"paymentId"`
	QuotationID      uuid.UUID       `json:"quotationId"`
	Amount           decimal.Decimal `json:"amount"`
	Reason           string          `json:"reason,omitempty"`
	Status           RefundStatus    `json:"status"`
	ApprovalLevel    ApprovalLevel   `json:"approvalLevel"`
	RequestedBy      uuid.UUID       `json:"requestedBy"`
	ApprovedBy       *uuid.UUID      `json:"approvedBy,omitempty"`
	ApprovedAt       *time.Time      `json:"approvedAt,omitempty"`
	RejectionReason  string          `json:"rejectionReason,omitempty"`
	ProcessedAt      *time.Time      `json:"processedAt,omitempty"`
	GatewayReference string          `json:"gatewayReference,omitempty"`
	FailureReason    string          `json:"failureReason,omitempty"`
	ReversedAt       *time.Time      `json:"reversedAt,omitempty"`
	GatewayReversed  bool            `json:"gatewayReversed"`
	CreatedAt        time.Time       `json:"createdAt"`
}

type RefundTimelineDTO struct {
	ID        uuid.UUID   `json:"id"`
	Event     RefundEvent `json:"event"`
	Status    string      `json:"status"`
	ActorID   *uuid.UUID  `json:"actorId,omitempty"`
	Note      string      `json:"note,omitempty"`
	Metadata  JSONMap     `json:"metadata,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// RefundGatewayStatusDTO is the provider's current view of a processed refund
type RefundGatewayStatusDTO struct {
	RefundID       uuid.UUID       `json:"refundId"`
	Reference      string          `json:"reference"`
	ProviderStatus string          `json:"providerStatus"`
	Amount         decimal.Decimal `json:"amount"`
}

type InitiateRefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason" validate:"required,max=500"`
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ReverseRefundRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type BulkProcessRefundsRequest struct {
	RefundIDs []uuid.UUID `json:"refundIds" validate:"required,min=1"`
}

// BulkRefundItemResult is the outcome for one refund in a bulk run
type BulkRefundItemResult struct {
	RefundID uuid.UUID    `json:"refundId"`
	Success  bool         `json:"success"`
	Status   RefundStatus `json:"status,omitempty"`
	Message  string       `json:"message,omitempty"`
}

// BulkRefundResult is a partial-success report for a bulk run
type BulkRefundResult struct {
	Total   int                    `json:"total"`
	Success int                    `json:"success"`
	Failure int                    `json:"failure"`
	Results []BulkRefundItemResult `json:"results"`
}

// Adjustment DTOs

type AdjustmentTimelineDTO struct {
	ID        uuid.UUID       `json:"id"`
	Event     AdjustmentEvent `json:"event"`
	Status    string          `json:"status"`
	ActorID   *uuid.UUID      `json:"actorId,omitempty"`
	Note      string          `json:"note,omitempty"`
	Metadata  JSONMap         `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type AdjustmentDTO struct {
	ID              uuid.UUID        `json:"id"`
	QuotationID     uuid.UUID        `json:"quotationId"`
	Type            AdjustmentType   `json:"type"`
	OriginalAmount  decimal.Decimal  `json:"originalAmount"`
	AdjustedAmount  decimal.Decimal  `json:"adjustedAmount"`
	Delta           decimal.Decimal  `json:"delta"`
	Reason          string           `json:"reason"`
	Status          AdjustmentStatus `json:"status"`
	ApprovalLevel   ApprovalLevel    `json:"approvalLevel"`
	RequestedBy     uuid.UUID        `json:"requestedBy"`
	ApprovedBy      *uuid.UUID       `json:"approvedBy,omitempty"`
	RejectionReason string           `json:"rejectionReason,omitempty"`
	AppliedAt       *time.Time       `json:"appliedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

type CreateAdjustmentRequest struct {
	Type           AdjustmentType  `json:"type" validate:"required"`
	AdjustedAmount decimal.Decimal `json:"adjustedAmount"`
	Reason         string          `json:"reason" validate:"required,max=500"`
}

// Notification DTOs

type NotificationDTO struct {
	ID                uuid.UUID                  `json:"id"`
	EventType         NotificationEventType      `json:"eventType"`
	RelatedEntityType string                     `json:"relatedEntityType"`
	RelatedEntityID   uuid.UUID                  `json:"relatedEntityId"`
	Title             string                     `json:"title"`
	Message           string                     `json:"message"`
	Channels          []NotificationChannel      `json:"channels"`
	DeliveryStatus    NotificationDeliveryStatus `json:"deliveryStatus"`
	Read              bool                       `json:"read"`
	ReadAt            *time.Time                 `json:"readAt,omitempty"`
	Archived          bool                       `json:"archived"`
	Metadata          JSONMap                    `json:"metadata,omitempty"`
	CreatedAt         time.Time                  `json:"createdAt"`
}

// UnreadCountDTO represents the count of unread notifications
type UnreadCountDTO struct {
	Count int64 `json:"count"`
}

type NotificationPreferenceDTO struct {
	UserID        uuid.UUID          `json:"userId"`
	InAppEnabled  bool               `json:"inAppEnabled"`
	EmailEnabled  bool               `json:"emailEnabled"`
	EventSettings PreferenceSettings `json:"eventSettings"`
}

type UpdateNotificationPreferenceRequest struct {
	InAppEnabled  *bool              `json:"inAppEnabled,omitempty"`
	EmailEnabled  *bool              `json:"emailEnabled,omitempty"`
	EventSettings PreferenceSettings `json:"eventSettings,omitempty"`
}

// PaginatedResponse wraps a page of results
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int64       `json:"total"`
	Page       int         `json:"page"`
	PageSize   int         `json:"pageSize"`
	TotalPages int         `json:"totalPages"`
}

// AuthUserDTO describes the authenticated caller and what they may approve
type AuthUserDTO struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Email          string          `json:"email,omitempty"`
	Roles          []string        `json:"roles"`
	IsAdmin        bool            `json:"isAdmin"`
	ApprovalLevels []ApprovalLevel `json:"approvalLevels"`
}
