// Package gateway defines the payment provider contract used by payments and refunds.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
)

// ErrUnsupported is returned by providers that cannot perform an operation, typically ReverseRefund
var ErrUnsupported = errors.New("operation not supported by provider")

// ErrUnknownProvider is returned by the registry for unregistered provider names
var ErrUnknownProvider = errors.New("unknown payment provider")

// Error wraps a provider failure. RawMessage is the provider's own message, kept verbatim.
type Error struct {
	Provider   string
	Operation  string
	RawMessage string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Operation, e.RawMessage)
}

// Unwrap lets errors.Is(err, domain.ErrGateway) match
func (e *Error) Unwrap() error {
	return domain.ErrGateway
}

// NewError builds a gateway Error
func NewError(provider, operation, raw string) *Error {
	return &Error{Provider: provider, Operation: operation, RawMessage: raw}
}

type PaymentRequest struct {
	QuotationID uuid.UUID
	Amount      decimal.Decimal
	Currency    string
	Description string
}

type PaymentSession struct {
	Reference   string
	CheckoutURL string
	CreatedAt   time.Time
}

// PaymentVerification is the provider's view of a payment
type PaymentVerification struct {
	Reference   string
	QuotationID uuid.UUID
	Status      domain.PaymentStatus
	Amount      decimal.Decimal
	PaidAt      *time.Time
}

type RefundRequest struct {
	PaymentReference string
	Amount           decimal.Decimal
	Reason           string
	// IdempotencyKey makes retries of the same refund safe on the provider side
	IdempotencyKey string
}

type RefundResult struct {
	Success   bool
	Reference string
	Amount    decimal.Decimal
	Timestamp time.Time
}

type RefundStatus struct {
	Reference string
	Status    string
	Amount    decimal.Decimal
}

// WebhookEvent is a provider notification normalized to one shape
type WebhookEvent struct {
	Type        string
	Reference   string
	QuotationID uuid.UUID
	Amount      decimal.Decimal
	Status      domain.PaymentStatus
	OccurredAt  time.Time
}

// Gateway is the per-provider contract. Every operation is safe to retry with the same reference.
type Gateway interface {
	Name() string
	InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
	VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error)
	RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error)
	CancelPayment(ctx context.Context, reference string) error
	VerifyWebhookSignature(payload []byte, signature string) bool
	ParseWebhook(payload []byte) (*WebhookEvent, error)
	GetRefundStatus(ctx context.Context, refundReference string) (*RefundStatus, error)
	// ReverseRefund returns ErrUnsupported when the provider cannot undo a refund
	ReverseRefund(ctx context.Context, refundReference, reason string) error
}

// Registry resolves providers by name
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]Gateway
	defaultName string
}

// NewRegistry creates a registry whose default provider is defaultName
func NewRegistry(defaultName string, providers ...Gateway) *Registry {
	r := &Registry{
		providers:   make(map[string]Gateway),
		defaultName: defaultName,
	}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[g.Name()] = g
}

// Get returns the named provider; an empty name selects the default
func (r *Registry) Get(name string) (Gateway, error) {
	if name == "" {
		name = r.defaultName
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return g, nil
}

func (r *Registry) Default() (Gateway, error) {
	return r.Get("")
}

// Names lists registered providers in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
