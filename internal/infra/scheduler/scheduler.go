package scheduler

import (
	"context"
	"time"

	"gym_billing_bot/internal/app"
	"gym_billing_bot/internal/domain/message"
	"gym_billing_bot/internal/infra/config"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// BillingScheduler owns the recurring background jobs: the daily
// delinquency recheck, due-soon reminders, the waitlist confirmation
// outbox poll, dispatch config reloads and the ledger retention sweep.
type BillingScheduler struct {
	cronEngine *cron.Cron
	billing    *app.BillingService
	waitlist   *app.WaitlistService
	dispatch   *app.DispatchConfigProvider
	ledger     message.Repository
	cfg        *config.AppConfig
	logger     *logrus.Logger
}

func NewBillingScheduler(
	billing *app.BillingService,
	waitlist *app.WaitlistService,
	dispatch *app.DispatchConfigProvider,
	ledger message.Repository,
	cfg *config.AppConfig,
	logger *logrus.Logger,
) *BillingScheduler {
	return &BillingScheduler{
		cronEngine: cron.New(cron.WithLocation(time.Local)), // Use server's local time for cron
		billing:    billing,
		waitlist:   waitlist,
		dispatch:   dispatch,
		ledger:     ledger,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *BillingScheduler) Start() {
	s.logger.Info("Starting billing scheduler...")

	s.addJob(s.cfg.CronSpecDailyRecheck, "daily delinquency recheck", 10*time.Minute, func(ctx context.Context) error {
		return s.billing.RecheckAllDue(ctx)
	})

	s.addJob(s.cfg.CronSpecDueSoon, "due-soon reminders", 10*time.Minute, func(ctx context.Context) error {
		return s.billing.ProcessDueSoonReminders(ctx, s.cfg.DueSoonDays)
	})

	s.addJob(s.cfg.CronSpecOutbox, "waitlist confirmation outbox", 1*time.Minute, func(ctx context.Context) error {
		return s.waitlist.ProcessPendingConfirmations(ctx)
	})

	s.addJob(s.cfg.CronSpecConfigReload, "dispatch config reload", 30*time.Second, func(ctx context.Context) error {
		return s.dispatch.Reload(ctx)
	})

	s.addJob(s.cfg.CronSpecLedgerSweep, "message ledger sweep", 5*time.Minute, func(ctx context.Context) error {
		cutoff := time.Now().AddDate(0, 0, -s.cfg.LedgerRetentionDays)
		removed, err := s.ledger.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"removed": removed,
			"cutoff":  cutoff.Format("2006-01-02"),
		}).Info("Message ledger sweep completed")
		return nil
	})

	s.cronEngine.Start()
	s.logger.Info("Billing scheduler started with jobs.")
}

func (s *BillingScheduler) addJob(spec, name string, timeout time.Duration, run func(context.Context) error) {
	_, err := s.cronEngine.AddFunc(spec, func() {
		s.logger.WithField("job", name).Debug("Cron job triggered")
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := run(ctx); err != nil {
			s.logger.WithError(err).WithField("job", name).Error("Scheduled job failed")
		}
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"job":  name,
			"spec": spec,
		}).Fatal("Could not register cron job")
	}
}

func (s *BillingScheduler) Stop() {
	s.logger.Info("Stopping billing scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()               // Wait for graceful shutdown
	s.logger.Info("Billing scheduler gracefully stopped.")
}
