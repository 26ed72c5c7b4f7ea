package jobs

import (
	"context"
	"time"

	"github.com/straye-as/quotation-api/internal/config"
	"go.uber.org/zap"
)

const (
	ExpirySweepJobName  = "quotation_expiry"
	ExpiringSoonJobName = "quotation_expiring_soon"
	EmailRetryJobName   = "email_retry"

	defaultJobTimeout  = 5 * time.Minute
	defaultExpiryBatch = 200
)

// QuotationSweeper is the part of the quotation service the sweeps drive
type QuotationSweeper interface {
	ExpireOverdue(ctx context.Context, limit int) (int, error)
	NotifyExpiringSoon(ctx context.Context) (int, error)
}

// EmailRetrier resends failed emails that are still under their retry cap
type EmailRetrier interface {
	RetryFailedEmails(ctx context.Context) (succeeded int, failed int, err error)
}

// ExpirySweepJob expires quotations whose validity ended before today
type ExpirySweepJob struct {
	quotations QuotationSweeper
	logger     *zap.Logger
	timeout    time.Duration
	batchSize  int
}

func NewExpirySweepJob(quotations QuotationSweeper, logger *zap.Logger, timeout time.Duration) *ExpirySweepJob {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &ExpirySweepJob{quotations: quotations, logger: logger, timeout: timeout, batchSize: defaultExpiryBatch}
}

// Run keeps expiring batches until one comes back short or the timeout hits
func (j *ExpirySweepJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()
	total := 0
	for {
		n, err := j.quotations.ExpireOverdue(ctx, j.batchSize)
		total += n
		if err != nil {
			j.logger.Error("quotation expiry sweep failed",
				zap.Error(err),
				zap.Int("expired", total),
				zap.Duration("duration", time.Since(start)))
			return
		}
		if n < j.batchSize {
			break
		}
	}

	if total > 0 {
		j.logger.Info("quotation expiry sweep completed",
			zap.Int("expired", total),
			zap.Duration("duration", time.Since(start)))
	}
}

// ExpiringSoonJob reminds owners about quotations close to their validity date
type ExpiringSoonJob struct {
	quotations QuotationSweeper
	logger     *zap.Logger
	timeout    time.Duration
}

func NewExpiringSoonJob(quotations QuotationSweeper, logger *zap.Logger, timeout time.Duration) *ExpiringSoonJob {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &ExpiringSoonJob{quotations: quotations, logger: logger, timeout: timeout}
}

func (j *ExpiringSoonJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.quotations.NotifyExpiringSoon(ctx)
	if err != nil {
		j.logger.Error("expiring-soon reminder sweep failed", zap.Error(err))
		return
	}
	j.logger.Info("expiring-soon reminders sent", zap.Int("quotations", n))
}

// EmailRetryJob re-attempts failed email deliveries
type EmailRetryJob struct {
	email   EmailRetrier
	logger  *zap.Logger
	timeout time.Duration
}

func NewEmailRetryJob(email EmailRetrier, logger *zap.Logger, timeout time.Duration) *EmailRetryJob {
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	return &EmailRetryJob{email: email, logger: logger, timeout: timeout}
}

func (j *EmailRetryJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	succeeded, failed, err := j.email.RetryFailedEmails(ctx)
	if err != nil {
		j.logger.Error("email retry sweep failed", zap.Error(err))
		return
	}
	if succeeded > 0 || failed > 0 {
		j.logger.Info("email retry sweep completed",
			zap.Int("succeeded", succeeded),
			zap.Int("failed", failed))
	}
}

// RegisterAll adds every sweep to scheduler using the expressions in cfg.
// With runStartupSweep the expiry sweep also runs once in the background so
// quotations that lapsed while the API was down are closed without waiting for the next tick.
func RegisterAll(scheduler *Scheduler, quotations QuotationSweeper, email EmailRetrier, cfg *config.JobsConfig, logger *zap.Logger, runStartupSweep bool) error {
	timeout := cfg.Timeout()

	expiry := NewExpirySweepJob(quotations, logger, timeout)
	if err := scheduler.AddJob(ExpirySweepJobName, cfg.ExpirySweepCron, expiry.Run); err != nil {
		return err
	}
	if err := scheduler.AddJob(ExpiringSoonJobName, cfg.ExpiringSoonCron, NewExpiringSoonJob(quotations, logger, timeout).Run); err != nil {
		return err
	}
	if email != nil {
		if err := scheduler.AddJob(EmailRetryJobName, cfg.EmailRetryCron, NewEmailRetryJob(email, logger, timeout).Run); err != nil {
			return err
		}
	}

	if runStartupSweep {
		go expiry.Run()
	}
	return nil
}
