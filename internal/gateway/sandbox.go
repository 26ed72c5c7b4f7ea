package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"go.uber.org/zap"
)

// SandboxName is the provider name of the in-process sandbox gateway
const SandboxName = "sandbox"

// Credentials are held by a provider instance, never passed per call
type Credentials struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
}

type sandboxPayment struct {
	quotationID uuid.UUID
	amount      decimal.Decimal
	refunded    decimal.Decimal
	status      domain.PaymentStatus
	paidAt      *time.Time
	// external payments were captured elsewhere; their balance is not tracked here
	external bool
}

// Sandbox is an in-memory provider for local development and demos.
// Payments initiated through it complete immediately. It cannot reverse refunds.
type Sandbox struct {
	creds  Credentials
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	payments map[string]*sandboxPayment
	refunds  map[string]*RefundResult
	byKey    map[string]string
}

// NewSandbox creates a sandbox provider
func NewSandbox(creds Credentials, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		creds:    creds,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		payments: make(map[string]*sandboxPayment),
		refunds:  make(map[string]*RefundResult),
		byKey:    make(map[string]string),
	}
}

func (s *Sandbox) Name() string { return SandboxName }

func (s *Sandbox) InitiatePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if !req.Amount.IsPositive() {
		return nil, NewError(SandboxName, "initiate_payment", "amount must be positive")
	}
	now := s.now()
	ref := "pay_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	s.mu.Lock()
	s.payments[ref] = &sandboxPayment{
		quotationID: req.QuotationID,
		amount:      req.Amount,
		status:      domain.PaymentStatusSuccess,
		paidAt:      &now,
	}
	s.mu.Unlock()

	return &PaymentSession{
		Reference:   ref,
		CheckoutURL: "https://sandbox.local/checkout/" + ref,
		CreatedAt:   now,
	}, nil
}

func (s *Sandbox) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return nil, NewError(SandboxName, "verify_payment", "payment "+reference+" does not exist")
	}
	return &PaymentVerification{
		Reference:   reference,
		QuotationID: p.quotationID,
		Status:      p.status,
		Amount:      p.amount,
		PaidAt:      p.paidAt,
	}, nil
}

func (s *Sandbox) RefundPayment(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if ref, ok := s.byKey[req.IdempotencyKey]; ok {
			return s.refunds[ref], nil
		}
	}

	p, ok := s.payments[req.PaymentReference]
	if !ok {
		// Payments recorded outside the sandbox are refunded without balance checks
		p = &sandboxPayment{status: domain.PaymentStatusSuccess, external: true}
		s.payments[req.PaymentReference] = p
	}
	if !p.external && p.refunded.Add(req.Amount).GreaterThan(p.amount) {
		return nil, NewError(SandboxName, "refund_payment", "refund amount exceeds captured amount")
	}
	p.refunded = p.refunded.Add(req.Amount)

	result := &RefundResult{
		Success:   true,
		Reference: "rfnd_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		Amount:    req.Amount,
		Timestamp: s.now(),
	}
	s.refunds[result.Reference] = result
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = result.Reference
	}

	s.logger.Debug("sandbox refund issued",
		zap.String("payment_reference", req.PaymentReference),
		zap.String("refund_reference", result.Reference),
		zap.String("amount", req.Amount.StringFixed(2)))

	return result, nil
}

func (s *Sandbox) CancelPayment(ctx context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[reference]
	if !ok {
		return NewError(SandboxName, "cancel_payment", "payment "+reference+" does not exist")
	}
	if p.refunded.IsPositive() {
		return NewError(SandboxName, "cancel_payment", "payment has refunds")
	}
	p.status = domain.PaymentStatusCancelled
	return nil
}

// Sign computes the webhook signature for payload. Exposed for tooling and tests.
func (s *Sandbox) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(s.creds.WebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of the raw payload
func (s *Sandbox) VerifyWebhookSignature(payload []byte, signature string) bool {
	if s.creds.WebhookSecret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(s.Sign(payload))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

type sandboxWebhook struct {
	Event       string          `json:"event"`
	Reference   string          `json:"reference"`
	QuotationID uuid.UUID       `json:"quotationId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

func (s *Sandbox) ParseWebhook(payload []byte) (*WebhookEvent, error) {
	var body sandboxWebhook
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, NewError(SandboxName, "parse_webhook", err.Error())
	}
	if body.Reference == "" {
		return nil, NewError(SandboxName, "parse_webhook", "missing reference")
	}

	status := domain.PaymentStatus(strings.ToUpper(body.Status))
	if status == "" {
		status = domain.PaymentStatusSuccess
	}
	occurred := body.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}

	return &WebhookEvent{
		Type:        body.Event,
		Reference:   body.Reference,
		QuotationID: body.QuotationID,
		Amount:      body.Amount,
		Status:      status,
		OccurredAt:  occurred.UTC(),
	}, nil
}

func (s *Sandbox) GetRefundStatus(ctx context.Context, refundReference string) (*RefundStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.refunds[refundReference]
	if !ok {
		return nil, NewError(SandboxName, "get_refund_status", fmt.Sprintf("refund %s does not exist", refundReference))
	}
	return &RefundStatus{Reference: r.Reference, Status: "processed", Amount: r.Amount}, nil
}

func (s *Sandbox) ReverseRefund(ctx context.Context, refundReference, reason string) error {
	return ErrUnsupported
}
