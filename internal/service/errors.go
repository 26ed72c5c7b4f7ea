package service

import (
	"errors"
	"fmt"

	"github.com/straye-as/quotation-api/internal/domain"
)

// Entity-specific errors. Each wraps a domain kind so callers can match either.
var (
	// ErrUserContextRequired is returned when an operation needs an authenticated caller
	ErrUserContextRequired = fmt.Errorf("%w: user context required", domain.ErrUnauthorized)

	// ErrNotOwner is returned when the caller neither owns the record nor is an admin
	ErrNotOwner = fmt.Errorf("%w: not the owner", domain.ErrUnauthorized)

	// ErrNotCreator is returned when only the quotation's creator may act
	ErrNotCreator = fmt.Errorf("%w: only the quotation creator may send it", domain.ErrUnauthorized)

	ErrQuotationNotFound    = fmt.Errorf("%w: quotation", domain.ErrNotFound)
	ErrClientNotFound       = fmt.Errorf("%w: client", domain.ErrNotFound)
	ErrAccessLinkNotFound   = fmt.Errorf("%w: access link", domain.ErrNotFound)
	ErrPaymentNotFound      = fmt.Errorf("%w: payment", domain.ErrNotFound)
	ErrRefundNotFound       = fmt.Errorf("%w: refund", domain.ErrNotFound)
	ErrAdjustmentNotFound   = fmt.Errorf("%w: adjustment", domain.ErrNotFound)
	ErrNotificationNotFound = fmt.Errorf("%w: notification", domain.ErrNotFound)
	ErrEmailLogNotFound     = fmt.Errorf("%w: email log", domain.ErrNotFound)

	ErrQuotationNotEditable   = fmt.Errorf("%w: quotation can only be edited while in draft", domain.ErrInvalidState)
	ErrQuotationNotSendable   = fmt.Errorf("%w: quotation can only be sent from draft", domain.ErrInvalidState)
	ErrQuotationNotResendable = fmt.Errorf("%w: quotation cannot be resent in its current status", domain.ErrInvalidState)
	ErrQuotationNotDeletable  = fmt.Errorf("%w: only draft or cancelled quotations can be deleted", domain.ErrInvalidState)
	ErrQuotationNotCancelable = fmt.Errorf("%w: quotation cannot be cancelled in its current status", domain.ErrInvalidState)
	ErrQuotationValidityEnded = fmt.Errorf("%w: quotation validity date has passed", domain.ErrInvalidState)
	ErrQuotationHasNoItems    = fmt.Errorf("%w: quotation has no line items", domain.ErrInvalidState)
	ErrQuotationNotAwaiting   = fmt.Errorf("%w: quotation is no longer awaiting a client response", domain.ErrInvalidState)
	ErrInvalidValidityPeriod  = fmt.Errorf("%w: validUntil must not be before quotationDate", domain.ErrInvalidState)
	ErrMissingRecipientEmail  = fmt.Errorf("%w: no recipient email for quotation", domain.ErrInvalidState)

	ErrAccessLinkInactive = fmt.Errorf("%w: access link is no longer active", domain.ErrAccessLinkExpired)

	ErrQuotationNotPayable  = fmt.Errorf("%w: quotation cannot receive payments in its current status", domain.ErrInvalidState)
	ErrPaymentNotRefundable = fmt.Errorf("%w: payment is not refundable", domain.ErrInvalidState)
	ErrPaymentNotManual     = fmt.Errorf("%w: only manual payments can be edited", domain.ErrInvalidState)
	ErrRefundNotApprovable  = fmt.Errorf("%w: refund is not pending", domain.ErrInvalidState)
	ErrRefundNotProcessable = fmt.Errorf("%w: refund is not approved", domain.ErrInvalidState)
	ErrRefundNotReversible  = fmt.Errorf("%w: refund is not completed", domain.ErrInvalidState)
	ErrRefundNotRetryable   = fmt.Errorf("%w: refund is neither failed nor awaiting its outcome", domain.ErrInvalidState)
	ErrRefundExceedsBalance = fmt.Errorf("%w: refund exceeds remaining refundable amount", domain.ErrInvalidAmount)
	ErrPaymentBelowRefunds  = fmt.Errorf("%w: amount is below the refunds held against the payment", domain.ErrInvalidAmount)
	ErrNonPositiveAmount    = fmt.Errorf("%w: amount must be greater than zero", domain.ErrInvalidAmount)

	ErrAdjustmentNotApprovable  = fmt.Errorf("%w: adjustment is not pending", domain.ErrInvalidState)
	ErrAdjustmentNotApplicable  = fmt.Errorf("%w: adjustment is not approved", domain.ErrInvalidState)
	ErrAdjustmentInvalidType    = fmt.Errorf("%w: unknown adjustment type", domain.ErrInvalidState)
	ErrAdjustmentOnCancelled    = fmt.Errorf("%w: cancelled quotations cannot be adjusted", domain.ErrInvalidState)
	ErrAdjustmentBelowPaid      = fmt.Errorf("%w: adjusted total would fall below the amount already paid", domain.ErrInvalidAmount)
	ErrAdjustmentNegativeAmount = fmt.Errorf("%w: adjusted amount must not be negative", domain.ErrInvalidAmount)
	ErrAdjustmentNoChange       = fmt.Errorf("%w: adjusted amount equals the current amount", domain.ErrInvalidAmount)

	ErrInvalidWebhookSignature = fmt.Errorf("%w: invalid webhook signature", domain.ErrUnauthorized)
)

// IsNotFound reports whether err is any not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
