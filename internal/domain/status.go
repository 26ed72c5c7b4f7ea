package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// QuotationStatus is the live lifecycle state of a quotation
type QuotationStatus string

const (
	QuotationStatusDraft     QuotationStatus = "DRAFT"
	QuotationStatusSent      QuotationStatus = "SENT"
	QuotationStatusViewed    QuotationStatus = "VIEWED"
	QuotationStatusAccepted  QuotationStatus = "ACCEPTED"
	QuotationStatusRejected  QuotationStatus = "REJECTED"
	QuotationStatusExpired   QuotationStatus = "EXPIRED"
	QuotationStatusCancelled QuotationStatus = "CANCELLED"
)

// IsValid checks if the status is a known quotation status
func (s QuotationStatus) IsValid() bool {
	switch s {
	case QuotationStatusDraft, QuotationStatusSent, QuotationStatusViewed,
		QuotationStatusAccepted, QuotationStatusRejected,
		QuotationStatusExpired, QuotationStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true for statuses that accept no client interaction.
// Expired is included: it can only be followed by a manual cancel.
func (s QuotationStatus) IsTerminal() bool {
	switch s {
	case QuotationStatusAccepted, QuotationStatusRejected, QuotationStatusCancelled, QuotationStatusExpired:
		return true
	}
	return false
}

// quotationTransitions lists the legal next states per status
var quotationTransitions = map[QuotationStatus][]QuotationStatus{
	QuotationStatusDraft:   {QuotationStatusSent, QuotationStatusCancelled},
	QuotationStatusSent:    {QuotationStatusViewed, QuotationStatusExpired, QuotationStatusCancelled},
	QuotationStatusViewed:  {QuotationStatusAccepted, QuotationStatusRejected, QuotationStatusExpired, QuotationStatusCancelled},
	QuotationStatusExpired: {QuotationStatusCancelled},
}

// CanTransitionTo reports whether moving from s to next is a legal lifecycle transition
func (s QuotationStatus) CanTransitionTo(next QuotationStatus) bool {
	for _, allowed := range quotationTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanBeSent is true only for drafts
func (s QuotationStatus) CanBeSent() bool {
	return s == QuotationStatusDraft
}

// CanBeResent excludes cancelled, expired and rejected quotations
func (s QuotationStatus) CanBeResent() bool {
	switch s {
	case QuotationStatusCancelled, QuotationStatusExpired, QuotationStatusRejected:
		return false
	}
	return s.IsValid()
}

// IsEditable is true while line items and totals may still change
func (s QuotationStatus) IsEditable() bool {
	return s == QuotationStatusDraft
}

// AwaitsClient is true while the client can still view or respond
func (s QuotationStatus) AwaitsClient() bool {
	return s == QuotationStatusSent || s == QuotationStatusViewed
}

// ResponseDecision is the classified outcome of a client response
type ResponseDecision string

const (
	ResponseDecisionAccepted ResponseDecision = "ACCEPTED"
	ResponseDecisionRejected ResponseDecision = "REJECTED"
	ResponseDecisionOther    ResponseDecision = "OTHER"
)

// ClassifyResponse maps a free-form response type to a decision, case-insensitively
func ClassifyResponse(responseType string) ResponseDecision {
	switch strings.ToUpper(strings.TrimSpace(responseType)) {
	case "ACCEPTED", "ACCEPT":
		return ResponseDecisionAccepted
	case "REJECTED", "REJECT":
		return ResponseDecisionRejected
	default:
		return ResponseDecisionOther
	}
}

// PaymentStatus represents the state of a payment
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusSuccess           PaymentStatus = "SUCCESS"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
)

// CountsTowardBalance is true for payments whose net amount reduces the outstanding balance
func (s PaymentStatus) CountsTowardBalance() bool {
	switch s {
	case PaymentStatusSuccess, PaymentStatusPartiallyRefunded, PaymentStatusRefunded:
		return true
	}
	return false
}

// IsRefundable is true when further refunds may be requested against the payment
func (s PaymentStatus) IsRefundable() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusPartiallyRefunded
}

// PaymentMethod distinguishes manually recorded payments from gateway payments
type PaymentMethod string

const (
	PaymentMethodManual  PaymentMethod = "MANUAL"
	PaymentMethodGateway PaymentMethod = "GATEWAY"
)

// RefundStatus represents the refund approval state machine
type RefundStatus string

const (
	RefundStatusPending    RefundStatus = "PENDING"
	RefundStatusApproved   RefundStatus = "APPROVED"
	RefundStatusRejected   RefundStatus = "REJECTED"
	RefundStatusProcessing RefundStatus = "PROCESSING"
	RefundStatusCompleted  RefundStatus = "COMPLETED"
	RefundStatusFailed     RefundStatus = "FAILED"
	RefundStatusReversed   RefundStatus = "REVERSED"
)

func (s RefundStatus) CanBeApproved() bool { return s == RefundStatusPending }
func (s RefundStatus) CanBeRejected() bool { return s == RefundStatusPending }
func (s RefundStatus) CanBeProcessed() bool { return s == RefundStatusApproved }
func (s RefundStatus) CanBeReversed() bool { return s == RefundStatusCompleted }
func (s RefundStatus) CanBeRetried() bool  { return s == RefundStatusFailed }

// CanBeResumed is true for refunds sent to the provider whose outcome was never recorded
func (s RefundStatus) CanBeResumed() bool { return s == RefundStatusProcessing }

// ReservesBalance is true for refunds that hold part of the payment's refundable amount
func (s RefundStatus) ReservesBalance() bool {
	switch s {
	case RefundStatusApproved, RefundStatusProcessing, RefundStatusCompleted:
		return true
	}
	return false
}

// RefundEvent names a refund timeline entry
type RefundEvent string

const (
	RefundEventRequested      RefundEvent = "REQUESTED"
	RefundEventApproved       RefundEvent = "APPROVED"
	RefundEventRejected       RefundEvent = "REJECTED"
	RefundEventProcessing     RefundEvent = "PROCESSING"
	RefundEventCompleted      RefundEvent = "COMPLETED"
	RefundEventFailed         RefundEvent = "FAILED"
	RefundEventRetryRequested RefundEvent = "RETRY_REQUESTED"
	RefundEventReversed       RefundEvent = "REVERSED"
)

// AdjustmentType selects which quotation field an adjustment changes
type AdjustmentType string

const (
	AdjustmentTypeDiscountChange   AdjustmentType = "DISCOUNT_CHANGE"
	AdjustmentTypeAmountCorrection AdjustmentType = "AMOUNT_CORRECTION"
	AdjustmentTypeTaxCorrection    AdjustmentType = "TAX_CORRECTION"
)

// IsValid checks if the adjustment type is known
func (t AdjustmentType) IsValid() bool {
	switch t {
	case AdjustmentTypeDiscountChange, AdjustmentTypeAmountCorrection, AdjustmentTypeTaxCorrection:
		return true
	}
	return false
}

// AdjustmentStatus represents the adjustment approval state machine
type AdjustmentStatus string

const (
	AdjustmentStatusPending  AdjustmentStatus = "PENDING"
	AdjustmentStatusApproved AdjustmentStatus = "APPROVED"
	AdjustmentStatusRejected AdjustmentStatus = "REJECTED"
	AdjustmentStatusApplied  AdjustmentStatus = "APPLIED"
)

func (s AdjustmentStatus) CanBeApproved() bool { return s == AdjustmentStatusPending }
func (s AdjustmentStatus) CanBeRejected() bool { return s == AdjustmentStatusPending }
func (s AdjustmentStatus) CanBeApplied() bool  { return s == AdjustmentStatusApproved }

// AdjustmentEvent names an adjustment timeline entry
type AdjustmentEvent string

const (
	AdjustmentEventRequested AdjustmentEvent = "REQUESTED"
	AdjustmentEventApproved  AdjustmentEvent = "APPROVED"
	AdjustmentEventRejected  AdjustmentEvent = "REJECTED"
	AdjustmentEventApplied   AdjustmentEvent = "APPLIED"
)

// ApprovalLevel is the advisory approval tier derived from a monetary amount
type ApprovalLevel string

const (
	ApprovalLevelAuto    ApprovalLevel = "Auto"
	ApprovalLevelManager ApprovalLevel = "Manager"
	ApprovalLevelAdmin   ApprovalLevel = "Admin"
)

var (
	adminApprovalThreshold   = decimal.NewFromInt(100000)
	managerApprovalThreshold = decimal.NewFromInt(50000)
)

// ApprovalLevelFor derives the approval tier from the magnitude of amount
func ApprovalLevelFor(amount decimal.Decimal) ApprovalLevel {
	magnitude := amount.Abs()
	switch {
	case magnitude.GreaterThanOrEqual(adminApprovalThreshold):
		return ApprovalLevelAdmin
	case magnitude.GreaterThanOrEqual(managerApprovalThreshold):
		return ApprovalLevelManager
	default:
		return ApprovalLevelAuto
	}
}

// NotificationEventType identifies the business event behind a notification
type NotificationEventType string

const (
	NotificationEventQuotationSent      NotificationEventType = "QUOTATION_SENT"
	NotificationEventQuotationViewed    NotificationEventType = "QUOTATION_VIEWED"
	NotificationEventQuotationAccepted  NotificationEventType = "QUOTATION_ACCEPTED"
	NotificationEventQuotationRejected  NotificationEventType = "QUOTATION_REJECTED"
	NotificationEventQuotationResponded NotificationEventType = "QUOTATION_RESPONDED"
	NotificationEventQuotationExpiring  NotificationEventType = "QUOTATION_EXPIRING"
	NotificationEventQuotationExpired   NotificationEventType = "QUOTATION_EXPIRED"
	NotificationEventPaymentReceived    NotificationEventType = "PAYMENT_RECEIVED"
	NotificationEventRefundRequested    NotificationEventType = "REFUND_REQUESTED"
	NotificationEventRefundApproved     NotificationEventType = "REFUND_APPROVED"
	NotificationEventRefundRejected     NotificationEventType = "REFUND_REJECTED"
	NotificationEventRefundCompleted    NotificationEventType = "REFUND_COMPLETED"
	NotificationEventRefundFailed       NotificationEventType = "REFUND_FAILED"
	NotificationEventRefundReversed     NotificationEventType = "REFUND_REVERSED"
	NotificationEventAdjustmentPending  NotificationEventType = "ADJUSTMENT_REQUESTED"
	NotificationEventAdjustmentApproved NotificationEventType = "ADJUSTMENT_APPROVED"
	NotificationEventAdjustmentRejected NotificationEventType = "ADJUSTMENT_REJECTED"
	NotificationEventAdjustmentApplied  NotificationEventType = "ADJUSTMENT_APPLIED"
)

// NotificationChannel is a delivery channel for notifications
type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "IN_APP"
	ChannelEmail NotificationChannel = "EMAIL"
)

// IsValid checks if the channel is known
func (c NotificationChannel) IsValid() bool {
	return c == ChannelInApp || c == ChannelEmail
}

// DefaultChannels are used when a publisher does not name any
func DefaultChannels() []NotificationChannel {
	return []NotificationChannel{ChannelInApp, ChannelEmail}
}

// NotificationDeliveryStatus summarizes channel dispatch for a notification
type NotificationDeliveryStatus string

const (
	NotificationDeliveryPending   NotificationDeliveryStatus = "PENDING"
	NotificationDeliveryDelivered NotificationDeliveryStatus = "DELIVERED"
	NotificationDeliveryPartial   NotificationDeliveryStatus = "PARTIAL"
	NotificationDeliveryFailed    NotificationDeliveryStatus = "FAILED"
)

// EmailDeliveryStatus is the status of one email send attempt log
type EmailDeliveryStatus string

const (
	EmailStatusSent      EmailDeliveryStatus = "SENT"
	EmailStatusFailed    EmailDeliveryStatus = "FAILED"
	EmailStatusDelivered EmailDeliveryStatus = "DELIVERED"
)

// Related entity types used for notification correlation
const (
	EntityTypeQuotation  = "quotation"
	EntityTypePayment    = "payment"
	EntityTypeRefund     = "refund"
	EntityTypeAdjustment = "adjustment"
)
