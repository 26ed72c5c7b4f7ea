package service

// Lifecycle methods of QuotationService:
// - Send / Resend issue client access links
// - MarkViewed / SubmitResponse are driven by the client through a link token
// - MarkExpired / ExpireOverdue / NotifyExpiringSoon are run by the scheduler

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/quotation-api/internal/auth"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/mapper"
	"github.com/straye-as/quotation-api/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAccessLinkTTL    = 720 * time.Hour
	defaultExpiringSoonDays = 3
	accessTokenBytes        = 32
)

// newAccessToken returns a random URL-safe token
func newAccessToken() (string, error) {
	buf := make([]byte, accessTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashAccessToken returns the stored form of a raw access token
func HashAccessToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *QuotationService) portalURL(token string) string {
	base := ""
	if s.cfg != nil {
		base = strings.TrimRight(s.cfg.PortalBaseURL, "/")
	}
	return base + "/" + token
}

// linkExpiry caps the link lifetime at the end of the quotation's last valid day
func (s *QuotationService) linkExpiry(now, validUntil time.Time) time.Time {
	ttl := defaultAccessLinkTTL
	if s.cfg != nil && s.cfg.AccessLinkTTLHours > 0 {
		ttl = time.Duration(s.cfg.AccessLinkTTLHours) * time.Hour
	}
	expires := now.Add(ttl)
	if end := dateOnly(validUntil).Add(24 * time.Hour); end.Before(expires) {
		expires = end
	}
	return expires
}

// validityEnded reports whether q's last valid day is before today
func (s *QuotationService) validityEnded(q *domain.Quotation) bool {
	return dateOnly(q.ValidUntil).Before(dateOnly(s.now()))
}

// issuedLink is a link created inside a transaction, delivered after commit
type issuedLink struct {
	link  *domain.QuotationAccessLink
	token string
}

func (s *QuotationService) issueLink(ctx context.Context, tx *gorm.DB, q *domain.Quotation, recipient string, actor uuid.UUID) (*issuedLink, error) {
	token, err := newAccessToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	link := &domain.QuotationAccessLink{
		QuotationID:    q.ID,
		TokenHash:      HashAccessToken(token),
		RecipientEmail: recipient,
		ExpiresAt:      s.linkExpiry(now, q.ValidUntil),
		IsActive:       true,
		CreatedBy:      actor,
	}
	link.CreatedAt = now
	link.UpdatedAt = now
	if err := s.repos.AccessLinks.WithTx(tx).Create(ctx, link); err != nil {
		return nil, fmt.Errorf("failed to create access link: %w", err)
	}
	return &issuedLink{link: link, token: token}, nil
}

// recipientFor picks the explicit recipient or falls back to the client's email
func recipientFor(q *domain.Quotation, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if q.Client != nil && q.Client.Email != "" {
		return q.Client.Email, nil
	}
	return "", ErrMissingRecipientEmail
}

// Send moves a draft to Sent and issues the first access link. Only the creator may send.
func (s *QuotationService) Send(ctx context.Context, id uuid.UUID, req *domain.SendQuotationRequest) (*domain.SendQuotationResultDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	if req == nil {
		req = &domain.SendQuotationRequest{}
	}

	current, err := s.repos.Quotations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, fmt.Errorf("failed to get quotation: %w", err)
	}
	recipient, err := recipientFor(current, req.RecipientEmail)
	if err != nil {
		return nil, err
	}

	var issued *issuedLink
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotation, err := s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), id)
		if err != nil {
			return err
		}
		if quotation.OwnerID != userCtx.UserID {
			return ErrNotCreator
		}
		if !quotation.Status.CanBeSent() {
			return ErrQuotationNotSendable
		}
		if err := s.checkDeliverable(quotation); err != nil {
			return err
		}

		if err := s.markSent(ctx, tx, quotation, userCtx.UserID, "Quotation sent to client"); err != nil {
			return err
		}
		issued, err = s.issueLink(ctx, tx, quotation, recipient, userCtx.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation sent",
		zap.String("quotation_id", id.String()),
		zap.String("recipient", recipient))

	return s.afterIssue(ctx, id, issued, req.Message, domain.NotificationEventQuotationSent)
}

// Resend issues a new access link for a quotation that is still open or accepted.
// Earlier links stay active unless DeactivatePrevious is set. A draft is moved to Sent.
func (s *QuotationService) Resend(ctx context.Context, id uuid.UUID, req *domain.ResendQuotationRequest) (*domain.SendQuotationResultDTO, error) {
	userCtx, ok := auth.FromContext(ctx)
	if !ok {
		return nil, ErrUserContextRequired
	}
	if req == nil {
		req = &domain.ResendQuotationRequest{}
	}

	current, err := s.repos.Quotations.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuotationNotFound
		}
		return nil, fmt.Errorf("failed to get quotation: %w", err)
	}
	recipient, err := recipientFor(current, req.RecipientEmail)
	if err != nil {
		return nil, err
	}

	var issued *issuedLink
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		quotation, err := s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), id)
		if err != nil {
			return err
		}
		if !userCtx.CanManage(quotation.OwnerID) {
			return ErrNotOwner
		}
		if !quotation.Status.CanBeResent() {
			return ErrQuotationNotResendable
		}
		if err := s.checkDeliverable(quotation); err != nil {
			return err
		}

		if req.DeactivatePrevious {
			if _, err := s.repos.AccessLinks.WithTx(tx).DeactivateActive(ctx, quotation.ID, s.now()); err != nil {
				return fmt.Errorf("failed to deactivate access links: %w", err)
			}
		}
		if quotation.Status == domain.QuotationStatusDraft {
			if err := s.markSent(ctx, tx, quotation, userCtx.UserID, "Quotation sent to client"); err != nil {
				return err
			}
		}
		issued, err = s.issueLink(ctx, tx, quotation, recipient, userCtx.UserID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("quotation resent",
		zap.String("quotation_id", id.String()),
		zap.String("recipient", recipient),
		zap.Bool("deactivate_previous", req.DeactivatePrevious))

	return s.afterIssue(ctx, id, issued, req.Message, domain.NotificationEventQuotationSent)
}

func (s *QuotationService) checkDeliverable(q *domain.Quotation) error {
	if len(q.Items) == 0 {
		return ErrQuotationHasNoItems
	}
	if s.validityEnded(q) {
		return ErrQuotationValidityEnded
	}
	return nil
}

func (s *QuotationService) markSent(ctx context.Context, tx *gorm.DB, q *domain.Quotation, actor uuid.UUID, reason string) error {
	now := s.now()
	previous := q.Status
	q.Status = domain.QuotationStatusSent
	q.SentAt = &now
	if err := s.repos.Quotations.WithTx(tx).Update(ctx, q); err != nil {
		return fmt.Errorf("failed to update quotation status: %w", err)
	}
	return s.recordTransition(ctx, tx, q.ID, previous, domain.QuotationStatusSent, &actor, reason, "")
}

// afterIssue runs the post-commit side effects of send and resend: snapshot archive,
// client email and staff notifications. None of them can fail the send.
func (s *QuotationService) afterIssue(ctx context.Context, id uuid.UUID, issued *issuedLink, message string, event domain.NotificationEventType) (*domain.SendQuotationResultDTO, error) {
	quotation, err := s.repos.Quotations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to reload quotation: %w", err)
	}
	url := s.portalURL(issued.token)

	s.archiveSnapshot(ctx, quotation, issued.link)
	s.emailClient(ctx, quotation, issued.link.RecipientEmail, url, message)

	s.notify.publishToOwnerAndAdmins(ctx, quotation.OwnerID, PublishRequest{
		EventType:  event,
		EntityType: domain.EntityTypeQuotation,
		EntityID:   quotation.ID,
		Title:      fmt.Sprintf("Quotation %s sent", quotation.QuotationNumber),
		Message: fmt.Sprintf("Quotation %s (%s) was sent to %s",
			quotation.QuotationNumber, formatAmount(quotation.Currency, quotation.TotalAmount), issued.link.RecipientEmail),
		Metadata: domain.JSONMap{"quotationNumber": quotation.QuotationNumber, "linkId": issued.link.ID.String()},
	})

	return &domain.SendQuotationResultDTO{
		Quotation: mapper.ToQuotationDTO(quotation),
		Link:      mapper.ToAccessLinkDTO(issued.link, url),
	}, nil
}

type quotationSnapshot struct {
	ArchivedAt     time.Time                 `json:"archivedAt"`
	LinkID         uuid.UUID                 `json:"linkId"`
	RecipientEmail string                    `json:"recipientEmail"`
	Quotation      domain.PortalQuotationDTO `json:"quotation"`
}

func (s *QuotationService) archiveSnapshot(ctx context.Context, q *domain.Quotation, link *domain.QuotationAccessLink) {
	if s.archive == nil {
		return
	}
	data, err := json.Marshal(quotationSnapshot{
		ArchivedAt:     s.now(),
		LinkID:         link.ID,
		RecipientEmail: link.RecipientEmail,
		Quotation:      mapper.ToPortalQuotationDTO(q, false),
	})
	if err != nil {
		s.logger.Warn("failed to encode quotation snapshot", zap.Error(err))
		return
	}

	key := storage.SnapshotKey(s.snapshotPrefix, q.ID.String(), link.ID.String())
	path, err := s.archive.Put(ctx, key, "application/json", data)
	if err != nil {
		s.logger.Warn("failed to archive quotation snapshot",
			zap.String("quotation_id", q.ID.String()),
			zap.String("key", key),
			zap.Error(err))
		return
	}

	link.SnapshotPath = path
	if err := s.repos.AccessLinks.Update(ctx, link); err != nil {
		s.logger.Warn("failed to store snapshot path", zap.String("link_id", link.ID.String()), zap.Error(err))
	}
}

func (s *QuotationService) emailClient(ctx context.Context, q *domain.Quotation, recipient, url, message string) {
	if s.email == nil {
		return
	}
	subject := fmt.Sprintf("Quotation %s: %s", q.QuotationNumber, q.Title)

	var body strings.Builder
	if message != "" {
		body.WriteString(message)
		body.WriteString("\n\n")
	}
	fmt.Fprintf(&body, "Quotation %s for %s is ready for your review.\n", q.QuotationNumber, formatAmount(q.Currency, q.TotalAmount))
	fmt.Fprintf(&body, "It is valid until %s.\n\n", q.ValidUntil.Format("2 Jan 2006"))
	fmt.Fprintf(&body, "View and respond: %s\n", url)

	if _, err := s.email.Send(ctx, nil, recipient, subject, body.String()); err != nil {
		s.logger.Warn("failed to email quotation to client, will be retried",
			zap.String("quotation_id", q.ID.String()),
			zap.Error(err))
	}
}

// ============================================================================
// Client portal
// ============================================================================

// useLink loads and locks the link for token and checks that it can still be used
func (s *QuotationService) useLink(ctx context.Context, tx *gorm.DB, token string) (*domain.QuotationAccessLink, error) {
	if token == "" {
		return nil, ErrAccessLinkNotFound
	}
	link, err := s.repos.AccessLinks.WithTx(tx).GetByTokenHashForUpdate(ctx, HashAccessToken(token))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccessLinkNotFound
		}
		return nil, fmt.Errorf("failed to get access link: %w", err)
	}
	if !link.IsActive {
		return nil, ErrAccessLinkInactive
	}
	if !link.IsUsable(s.now()) {
		return nil, domain.ErrAccessLinkExpired
	}
	return link, nil
}

// MarkViewed records a client view through an access link and returns the client view of the quotation.
// The first view moves Sent to Viewed; later views only bump the counters.
func (s *QuotationService) MarkViewed(ctx context.Context, token string, info domain.ClientAccessInfo) (*domain.PortalQuotationDTO, error) {
	var (
		quotation    *domain.Quotation
		transitioned bool
		canRespond   bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := s.useLink(ctx, tx, token)
		if err != nil {
			return err
		}

		now := s.now()
		link.ViewCount++
		if link.FirstViewedAt == nil {
			link.FirstViewedAt = &now
		}
		link.LastViewedAt = &now
		if err := s.repos.AccessLinks.WithTx(tx).Update(ctx, link); err != nil {
			return fmt.Errorf("failed to update access link: %w", err)
		}

		quotation, err = s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), link.QuotationID)
		if err != nil {
			return err
		}

		if quotation.Status == domain.QuotationStatusSent {
			if err := s.markViewed(ctx, tx, quotation, info.IPAddress); err != nil {
				return err
			}
			transitioned = true
		}

		responses, err := s.repos.Responses.WithTx(tx).CountByQuotation(ctx, quotation.ID)
		if err != nil {
			return fmt.Errorf("failed to count responses: %w", err)
		}
		canRespond = quotation.Status.AwaitsClient() && responses == 0 && !s.validityEnded(quotation)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if transitioned {
		s.logger.Info("quotation viewed", zap.String("quotation_id", quotation.ID.String()))
		s.notify.publish(ctx, PublishRequest{
			EventType:  domain.NotificationEventQuotationViewed,
			EntityType: domain.EntityTypeQuotation,
			EntityID:   quotation.ID,
			Title:      fmt.Sprintf("Quotation %s viewed", quotation.QuotationNumber),
			Message:    fmt.Sprintf("The client opened quotation %s", quotation.QuotationNumber),
		}, quotation.OwnerID)
	}

	dto := mapper.ToPortalQuotationDTO(quotation, canRespond)
	return &dto, nil
}

func (s *QuotationService) markViewed(ctx context.Context, tx *gorm.DB, q *domain.Quotation, ip string) error {
	now := s.now()
	q.Status = domain.QuotationStatusViewed
	q.ViewedAt = &now
	if err := s.repos.Quotations.WithTx(tx).Update(ctx, q); err != nil {
		return fmt.Errorf("failed to update quotation status: %w", err)
	}
	return s.recordTransition(ctx, tx, q.ID, domain.QuotationStatusSent, domain.QuotationStatusViewed, nil, "Quotation viewed by client", ip)
}

// SubmitResponse records the client's single response. Accept and reject responses close the
// quotation; any other response type is stored and leaves the quotation Viewed.
func (s *QuotationService) SubmitResponse(ctx context.Context, token string, req *domain.SubmitResponseRequest, info domain.ClientAccessInfo) (*domain.QuotationResponseDTO, error) {
	var (
		quotation *domain.Quotation
		response  *domain.QuotationResponse
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		link, err := s.useLink(ctx, tx, token)
		if err != nil {
			return err
		}

		quotation, err = s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), link.QuotationID)
		if err != nil {
			return err
		}

		responses := s.repos.Responses.WithTx(tx)
		count, err := responses.CountByQuotation(ctx, quotation.ID)
		if err != nil {
			return fmt.Errorf("failed to count responses: %w", err)
		}
		if count > 0 {
			return domain.ErrDuplicateResponse
		}
		if !quotation.Status.AwaitsClient() || s.validityEnded(quotation) {
			return ErrQuotationNotAwaiting
		}

		if quotation.Status == domain.QuotationStatusSent {
			if err := s.markViewed(ctx, tx, quotation, info.IPAddress); err != nil {
				return err
			}
		}

		now := s.now()
		decision := domain.ClassifyResponse(req.ResponseType)
		response = &domain.QuotationResponse{
			QuotationID:  quotation.ID,
			AccessLinkID: link.ID,
			ResponseType: strings.TrimSpace(req.ResponseType),
			Decision:     decision,
			ClientName:   req.ClientName,
			ClientEmail:  req.ClientEmail,
			Message:      req.Message,
			IPAddress:    info.IPAddress,
			UserAgent:    info.UserAgent,
		}
		response.CreatedAt = now
		response.UpdatedAt = now
		if err := responses.Create(ctx, response); err != nil {
			return fmt.Errorf("failed to create quotation response: %w", err)
		}

		next := domain.QuotationStatusViewed
		reason := fmt.Sprintf("Client responded: %s", response.ResponseType)
		switch decision {
		case domain.ResponseDecisionAccepted:
			next = domain.QuotationStatusAccepted
			reason = "Client accepted the quotation"
		case domain.ResponseDecisionRejected:
			next = domain.QuotationStatusRejected
			reason = "Client rejected the quotation"
		}

		quotation.Status = next
		quotation.RespondedAt = &now
		if err := s.repos.Quotations.WithTx(tx).Update(ctx, quotation); err != nil {
			return fmt.Errorf("failed to update quotation status: %w", err)
		}
		return s.recordTransition(ctx, tx, quotation.ID, domain.QuotationStatusViewed, next, nil, reason, info.IPAddress)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("client response recorded",
		zap.String("quotation_id", quotation.ID.String()),
		zap.String("decision", string(response.Decision)))

	event := domain.NotificationEventQuotationResponded
	title := fmt.Sprintf("Client responded to quotation %s", quotation.QuotationNumber)
	switch response.Decision {
	case domain.ResponseDecisionAccepted:
		event = domain.NotificationEventQuotationAccepted
		title = fmt.Sprintf("Quotation %s accepted", quotation.QuotationNumber)
	case domain.ResponseDecisionRejected:
		event = domain.NotificationEventQuotationRejected
		title = fmt.Sprintf("Quotation %s rejected", quotation.QuotationNumber)
	}
	msg := fmt.Sprintf("%s responded %q to quotation %s (%s)",
		clientLabel(response), response.ResponseType, quotation.QuotationNumber, formatAmount(quotation.Currency, quotation.TotalAmount))
	s.notify.publishToOwnerAndAdmins(ctx, quotation.OwnerID, PublishRequest{
		EventType:  event,
		EntityType: domain.EntityTypeQuotation,
		EntityID:   quotation.ID,
		Title:      title,
		Message:    msg,
		Metadata:   domain.JSONMap{"responseId": response.ID.String(), "responseType": response.ResponseType},
	})

	dto := mapper.ToQuotationResponseDTO(response)
	return &dto, nil
}

func clientLabel(r *domain.QuotationResponse) string {
	if r.ClientName != "" {
		return r.ClientName
	}
	return "The client"
}

// ============================================================================
// Scheduled sweeps
// ============================================================================

// MarkExpired expires an open quotation and retires its links. It returns false without
// error when the quotation is a draft or already closed.
func (s *QuotationService) MarkExpired(ctx context.Context, id uuid.UUID) (bool, error) {
	var quotation *domain.Quotation
	expired := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quotation, err = s.loadForUpdate(ctx, s.repos.Quotations.WithTx(tx), id)
		if err != nil {
			return err
		}
		if !quotation.Status.AwaitsClient() {
			return nil
		}

		now := s.now()
		previous := quotation.Status
		quotation.Status = domain.QuotationStatusExpired
		quotation.ExpiredAt = &now
		if err := s.repos.Quotations.WithTx(tx).Update(ctx, quotation); err != nil {
			return fmt.Errorf("failed to expire quotation: %w", err)
		}
		if _, err := s.repos.AccessLinks.WithTx(tx).DeactivateActive(ctx, quotation.ID, now); err != nil {
			return fmt.Errorf("failed to deactivate access links: %w", err)
		}
		if err := s.recordTransition(ctx, tx, quotation.ID, previous, domain.QuotationStatusExpired, nil, "Quotation validity period ended", ""); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	s.logger.Info("quotation expired", zap.String("quotation_id", id.String()))
	s.notify.publish(ctx, PublishRequest{
		EventType:  domain.NotificationEventQuotationExpired,
		EntityType: domain.EntityTypeQuotation,
		EntityID:   quotation.ID,
		Title:      fmt.Sprintf("Quotation %s expired", quotation.QuotationNumber),
		Message:    fmt.Sprintf("Quotation %s expired without a client decision", quotation.QuotationNumber),
	}, quotation.OwnerID)
	return true, nil
}

// ExpireOverdue expires up to limit open quotations whose validity ended before today
func (s *QuotationService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	overdue, err := s.repos.Quotations.ListAwaitingClientBefore(ctx, dateOnly(s.now()), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue quotations: %w", err)
	}

	count := 0
	for _, q := range overdue {
		if ctx.Err() != nil {
			return count, ctx.Err()
		}
		ok, err := s.MarkExpired(ctx, q.ID)
		if err != nil {
			s.logger.Error("failed to expire quotation",
				zap.String("quotation_id", q.ID.String()),
				zap.Error(err))
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// NotifyExpiringSoon reminds owners of open quotations whose validity ends within the
// configured number of days. Repeated runs are absorbed by notification dedup.
func (s *QuotationService) NotifyExpiringSoon(ctx context.Context) (int, error) {
	days := defaultExpiringSoonDays
	if s.cfg != nil && s.cfg.ExpiringSoonDays > 0 {
		days = s.cfg.ExpiringSoonDays
	}
	today := dateOnly(s.now())
	quotations, err := s.repos.Quotations.ListExpiringBetween(ctx, today, today.AddDate(0, 0, days+1))
	if err != nil {
		return 0, fmt.Errorf("failed to list expiring quotations: %w", err)
	}

	for _, q := range quotations {
		left := int(dateOnly(q.ValidUntil).Sub(today).Hours() / 24)
		s.notify.publish(ctx, PublishRequest{
			EventType:  domain.NotificationEventQuotationExpiring,
			EntityType: domain.EntityTypeQuotation,
			EntityID:   q.ID,
			Title:      fmt.Sprintf("Quotation %s expires soon", q.QuotationNumber),
			Message:    fmt.Sprintf("Quotation %s is valid for %d more day(s) and has no client decision", q.QuotationNumber, left),
			Metadata:   domain.JSONMap{"daysLeft": left},
		}, q.OwnerID)
	}
	return len(quotations), nil
}
