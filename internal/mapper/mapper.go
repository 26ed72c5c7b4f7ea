package mapper

import (
	"github.com/straye-as/quotation-api/internal/domain"
)

// ToLineItemDTO converts LineItem to LineItemDTO
func ToLineItemDTO(item *domain.LineItem) domain.LineItemDTO {
	return domain.LineItemDTO{
		ID:          item.ID,
		SequenceNo:  item.SequenceNo,
		Name:        item.Name,
		Description: item.Description,
		HSNCode:     item.HSNCode,
		Unit:        item.Unit,
		Quantity:    item.Quantity,
		UnitRate:    item.UnitRate,
		Amount:      item.Amount,
	}
}

func toLineItemDTOs(items []domain.LineItem) []domain.LineItemDTO {
	dtos := make([]domain.LineItemDTO, len(items))
	for i := range items {
		dtos[i] = ToLineItemDTO(&items[i])
	}
	return dtos
}

// ToQuotationDTO converts Quotation to QuotationDTO
func ToQuotationDTO(q *domain.Quotation) domain.QuotationDTO {
	dto := domain.QuotationDTO{
		ID:                 q.ID,
		QuotationNumber:    q.QuotationNumber,
		Title:              q.Title,
		OwnerID:            q.OwnerID,
		ClientID:           q.ClientID,
		Status:             q.Status,
		QuotationDate:      q.QuotationDate,
		ValidUntil:         q.ValidUntil,
		Currency:           q.Currency,
		BuyerStateCode:     q.BuyerStateCode,
		TaxRate:            q.TaxRate,
		Subtotal:           q.Subtotal,
		DiscountPercentage: q.DiscountPercentage,
		DiscountAmount:     q.DiscountAmount,
		CGSTAmount:         q.CGSTAmount,
		SGSTAmount:         q.SGSTAmount,
		IGSTAmount:         q.IGSTAmount,
		TaxAmount:          q.TaxAmount,
		TotalAmount:        q.TotalAmount,
		Notes:              q.Notes,
		Terms:              q.Terms,
		SentAt:             q.SentAt,
		ViewedAt:           q.ViewedAt,
		RespondedAt:        q.RespondedAt,
		Items:              toLineItemDTOs(q.Items),
		CreatedAt:          q.CreatedAt,
		UpdatedAt:          q.UpdatedAt,
	}
	if q.Client != nil {
		dto.ClientName = q.Client.Name
	}
	return dto
}

// ToPortalQuotationDTO converts Quotation to the client-facing view.
// Internal fields such as owner, notes and client id are left out.
func ToPortalQuotationDTO(q *domain.Quotation, canRespond bool) domain.PortalQuotationDTO {
	return domain.PortalQuotationDTO{
		QuotationNumber: q.QuotationNumber,
		Title:           q.Title,
		Status:          q.Status,
		QuotationDate:   q.QuotationDate,
		ValidUntil:      q.ValidUntil,
		Currency:        q.Currency,
		Subtotal:        q.Subtotal,
		DiscountAmount:  q.DiscountAmount,
		CGSTAmount:      q.CGSTAmount,
		SGSTAmount:      q.SGSTAmount,
		IGSTAmount:      q.IGSTAmount,
		TaxAmount:       q.TaxAmount,
		TotalAmount:     q.TotalAmount,
		Terms:           q.Terms,
		Items:           toLineItemDTOs(q.Items),
		CanRespond:      canRespond,
	}
}

// ToAccessLinkDTO converts an access link. portalURL is only set right after issuing.
func ToAccessLinkDTO(link *domain.QuotationAccessLink, portalURL string) domain.AccessLinkDTO {
	return domain.AccessLinkDTO{
		ID:             link.ID,
		RecipientEmail: link.RecipientEmail,
		ExpiresAt:      link.ExpiresAt,
		IsActive:       link.IsActive,
		ViewCount:      link.ViewCount,
		FirstViewedAt:  link.FirstViewedAt,
		LastViewedAt:   link.LastViewedAt,
		PortalURL:      portalURL,
		CreatedAt:      link.CreatedAt,
	}
}

func ToQuotationResponseDTO(r *domain.QuotationResponse) domain.QuotationResponseDTO {
	return domain.QuotationResponseDTO{
		ID:           r.ID,
		QuotationID:  r.QuotationID,
		ResponseType: r.ResponseType,
		Decision:     r.Decision,
		ClientName:   r.ClientName,
		Message:      r.Message,
		CreatedAt:    r.CreatedAt,
	}
}

func ToStatusHistoryDTO(h *domain.QuotationStatusHistory) domain.StatusHistoryDTO {
	return domain.StatusHistoryDTO{
		ID:             h.ID,
		PreviousStatus: h.PreviousStatus,
		NewStatus:      h.NewStatus,
		ChangedBy:      h.ChangedBy,
		Reason:         h.Reason,
		CreatedAt:      h.CreatedAt,
	}
}

// ToPaymentDTO converts Payment to PaymentDTO
func ToPaymentDTO(p *domain.Payment) domain.PaymentDTO {
	return domain.PaymentDTO{
		ID:               p.ID,
		QuotationID:      p.QuotationID,
		Method:           p.Method,
		Provider:         p.Provider,
		GatewayReference: p.GatewayReference,
		AmountPaid:       p.AmountPaid,
		RefundAmount:     p.RefundAmount,
		NetAmount:        p.NetAmount(),
		Status:           p.Status,
		PaidAt:           p.PaidAt,
		Notes:            p.Notes,
		CreatedAt:        p.CreatedAt,
	}
}

// ToRefundDTO converts Refund to RefundDTO
func ToRefundDTO(r *domain.Refund) domain.RefundDTO {
	return domain.RefundDTO{
		ID:               r.ID,
		PaymentID:        r.PaymentID,
		QuotationID:      r.QuotationID,
		Amount:           r.Amount,
		Reason:           r.Reason,
		Status:           r.Status,
		ApprovalLevel:    r.ApprovalLevel,
		RequestedBy:      r.RequestedBy,
		ApprovedBy:       r.ApprovedBy,
		ApprovedAt:       r.ApprovedAt,
		RejectionReason:  r.RejectionReason,
		ProcessedAt:      r.ProcessedAt,
		GatewayReference: r.GatewayReference,
		FailureReason:    r.FailureReason,
		ReversedAt:       r.ReversedAt,
		GatewayReversed:  r.GatewayReversed,
		CreatedAt:        r.CreatedAt,
	}
}

func ToRefundTimelineDTO(e *domain.RefundTimeline) domain.RefundTimelineDTO {
	return domain.RefundTimelineDTO{
		ID:        e.ID,
		Event:     e.Event,
		Status:    e.Status,
		ActorID:   e.ActorID,
		Note:      e.Note,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

func ToAdjustmentTimelineDTO(e *domain.AdjustmentTimeline) domain.AdjustmentTimelineDTO {
	return domain.AdjustmentTimelineDTO{
		ID:        e.ID,
		Event:     e.Event,
		Status:    e.Status,
		ActorID:   e.ActorID,
		Note:      e.Note,
		Metadata:  e.Metadata,
		CreatedAt: e.CreatedAt,
	}
}

// ToAdjustmentDTO converts Adjustment to AdjustmentDTO
func ToAdjustmentDTO(a *domain.Adjustment) domain.AdjustmentDTO {
	return domain.AdjustmentDTO{
		ID:              a.ID,
		QuotationID:     a.QuotationID,
		Type:            a.Type,
		OriginalAmount:  a.OriginalAmount,
		AdjustedAmount:  a.AdjustedAmount,
		Delta:           a.Delta(),
		Reason:          a.Reason,
		Status:          a.Status,
		ApprovalLevel:   a.ApprovalLevel,
		RequestedBy:     a.RequestedBy,
		ApprovedBy:      a.ApprovedBy,
		RejectionReason: a.RejectionReason,
		AppliedAt:       a.AppliedAt,
		CreatedAt:       a.CreatedAt,
	}
}

// ToNotificationDTO converts Notification to NotificationDTO
func ToNotificationDTO(n *domain.Notification) domain.NotificationDTO {
	channels := make([]domain.NotificationChannel, len(n.Channels))
	copy(channels, n.Channels)
	return domain.NotificationDTO{
		ID:                n.ID,
		EventType:         n.EventType,
		RelatedEntityType: n.RelatedEntityType,
		RelatedEntityID:   n.RelatedEntityID,
		Title:             n.Title,
		Message:           n.Message,
		Channels:          channels,
		DeliveryStatus:    n.DeliveryStatus,
		Read:              n.Read,
		ReadAt:            n.ReadAt,
		Archived:          n.Archived,
		Metadata:          n.Metadata,
		CreatedAt:         n.CreatedAt,
	}
}

func ToNotificationPreferenceDTO(p *domain.NotificationPreference) domain.NotificationPreferenceDTO {
	settings := p.EventSettings
	if settings == nil {
		settings = domain.PreferenceSettings{}
	}
	return domain.NotificationPreferenceDTO{
		UserID:        p.UserID,
		InAppEnabled:  p.InAppEnabled,
		EmailEnabled:  p.EmailEnabled,
		EventSettings: settings,
	}
}
