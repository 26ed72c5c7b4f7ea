package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/quotation-api/internal/domain"
	"github.com/straye-as/quotation-api/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.MustParse("en-IN"))

// formatAmount renders amount for notification text, e.g. "₹60,000.00"
func formatAmount(currency string, amount decimal.Decimal) string {
	f, _ := amount.Round(2).Float64()
	symbol := currency + " "
	switch currency {
	case "", "INR":
		symbol = "₹"
	case "EUR":
		symbol = "€"
	case "USD":
		symbol = "$"
	}
	return amountPrinter.Sprintf("%s%.2f", symbol, f)
}

// notifier fans workflow events out to the owner and active admins.
// Publish errors are logged and dropped so a failed notification never fails the workflow.
type notifier struct {
	publisher Publisher
	userRepo  *repository.UserRepository
	logger    *zap.Logger
}

func newNotifier(publisher Publisher, userRepo *repository.UserRepository, logger *zap.Logger) *notifier {
	return &notifier{publisher: publisher, userRepo: userRepo, logger: logger}
}

// distinctIDs drops nil and repeated ids, keeping order
func distinctIDs(ids ...uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// recipients returns the given users plus every active admin, without duplicates
func (n *notifier) recipients(ctx context.Context, users ...uuid.UUID) []uuid.UUID {
	admins, err := n.userRepo.ListActiveByRole(ctx, domain.RoleAdmin)
	if err != nil {
		n.logger.Warn("failed to load admins for notification", zap.Error(err))
		return distinctIDs(users...)
	}
	for _, admin := range admins {
		users = append(users, admin.ID)
	}
	return distinctIDs(users...)
}

// publish sends req to each recipient
func (n *notifier) publish(ctx context.Context, req PublishRequest, recipients ...uuid.UUID) {
	if n == nil || n.publisher == nil {
		return
	}
	for _, recipientID := range recipients {
		r := req
		r.RecipientID = recipientID
		res, err := n.publisher.Publish(ctx, r)
		if err != nil {
			n.logger.Warn("notification publish failed",
				zap.String("recipient_id", recipientID.String()),
				zap.String("event_type", string(req.EventType)),
				zap.String("entity_id", req.EntityID.String()),
				zap.Error(err))
			continue
		}
		if res.Outcome == PublishPersistedChannelFailed {
			n.logger.Debug("notification stored with failed channels",
				zap.String("notification_id", res.NotificationID.String()),
				zap.Any("failed_channels", res.FailedChannels))
		}
	}
}

// publishToOwnerAndAdmins sends req to ownerID and every active admin
func (n *notifier) publishToOwnerAndAdmins(ctx context.Context, ownerID uuid.UUID, req PublishRequest) {
	if n == nil || n.publisher == nil {
		return
	}
	n.publish(ctx, req, n.recipients(ctx, ownerID)...)
}
