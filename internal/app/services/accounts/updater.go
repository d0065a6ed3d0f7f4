package accounts

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/step-security-bot/neucore/pkg/logger"
)

// GroupUpdater periodically re-evaluates player token state so deactivation
// decisions do not depend on a login having happened recently.
type GroupUpdater struct {
	service  *Service
	schedule string
	log      *logger.Logger
	cron     *cron.Cron
}

// NewGroupUpdater creates an updater with a cron schedule expression.
func NewGroupUpdater(service *Service, schedule string, log *logger.Logger) *GroupUpdater {
	if log == nil {
		log = logger.NewDefault("group-updater")
	}
	if schedule == "" {
		schedule = "@every 10m"
	}
	return &GroupUpdater{service: service, schedule: schedule, log: log}
}

// Name implements system.Service.
func (u *GroupUpdater) Name() string { return "group-updater" }

// Start schedules the periodic refresh.
func (u *GroupUpdater) Start(ctx context.Context) error {
	u.cron = cron.New()
	_, err := u.cron.AddFunc(u.schedule, func() {
		if err := u.service.RefreshTokenState(context.Background()); err != nil {
			u.log.WithError(err).Warn("refresh player token state")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule group updater: %w", err)
	}
	u.cron.Start()
	u.log.WithField("schedule", u.schedule).Info("group updater started")
	return nil
}

// Stop halts the schedule and waits for a running refresh to finish.
func (u *GroupUpdater) Stop(ctx context.Context) error {
	if u.cron == nil {
		return nil
	}
	stopCtx := u.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	return nil
}
