package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"donorflow/apperrors"
	"donorflow/services/progress"
	"donorflow/services/roster"
)

// Maintenance runs the periodic housekeeping jobs: expiring finished import
// operations and re-running auto-exclusion on lists under review.
type Maintenance struct {
	cron   *cron.Cron
	store  progress.Store
	roster *roster.Service
	logger *logrus.Logger
}

func NewMaintenance(store progress.Store, rosterSvc *roster.Service, logger *logrus.Logger) *Maintenance {
	return &Maintenance{
		cron:   cron.New(),
		store:  store,
		roster: rosterSvc,
		logger: logger,
	}
}

// Start registers the jobs and starts the scheduler. An empty
// autoExcludeSchedule leaves scheduled auto-exclusion off.
func (m *Maintenance) Start(sweepSchedule, autoExcludeSchedule string) error {
	if _, err := m.cron.AddFunc(sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := m.SweepProgress(ctx); err != nil {
			m.logger.WithError(err).Warn("[Cron] Progress sweep failed")
		}
	}); err != nil {
		return err
	}

	if autoExcludeSchedule != "" {
		if _, err := m.cron.AddFunc(autoExcludeSchedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			defer cancel()
			if _, err := m.RunAutoExclusion(ctx); err != nil {
				m.logger.WithError(err).Warn("[Cron] Auto-exclusion pass failed")
			}
		}); err != nil {
			return err
		}
	}

	m.cron.Start()
	m.logger.WithFields(logrus.Fields{
		"sweep":        sweepSchedule,
		"auto_exclude": autoExcludeSchedule,
	}).Info("Maintenance scheduler started")
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (m *Maintenance) Stop() {
	<-m.cron.Stop().Done()
}

func (m *Maintenance) SweepProgress(ctx context.Context) (int, error) {
	removed, err := m.store.Sweep(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		m.logger.WithField("removed", removed).Debug("[Cron] Expired import operations removed")
	}
	return removed, nil
}

// RunAutoExclusion passes over every list whose event is in review. A list
// that left review in the meantime is skipped.
func (m *Maintenance) RunAutoExclusion(ctx context.Context) (int, error) {
	ids, err := m.roster.ReviewListIDs(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, id := range ids {
		n, err := m.roster.RunAutoExclusion(ctx, id)
		if apperrors.IsStateConflict(err) || apperrors.IsNotFound(err) {
			continue
		}
		if err != nil {
			m.logger.WithError(err).WithField("list_id", id).Warn("[Cron] Auto-exclusion failed for list")
			continue
		}
		total += n
	}
	return total, nil
}
