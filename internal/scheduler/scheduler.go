package scheduler

import (
	"context"

	"github.com/Dhoini/Billing-engine/pkg/logger"
	"github.com/robfig/cron/v3"
)

// Config расписания джоб в формате cron
type Config struct {
	RenewalSchedule  string // продления локального шлюза
	ExpirySchedule   string // истечение просроченных подписок
	ReminderSchedule string // напоминания о продлении
}

// Scheduler управляет периодическими задачами биллинга
type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
	cfg  Config
	log  *logger.Logger
}

// cronLogAdapter адаптирует наш логгер под cron.Recover
type cronLogAdapter struct {
	log *logger.Logger
}

func (a cronLogAdapter) Printf(format string, v ...interface{}) {
	a.log.Warn(format, v...)
}

// NewScheduler создает планировщик
func NewScheduler(jobs *Jobs, cfg Config, log *logger.Logger) *Scheduler {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(cronLogAdapter{log: log}))))
	return &Scheduler{
		cron: c,
		jobs: jobs,
		cfg:  cfg,
		log:  log,
	}
}

// Start регистрирует джобы и запускает планировщик
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.RenewalSchedule, s.jobs.ProcessDueRenewals); err != nil {
		return err
	}
	s.log.Infow("Scheduled renewal job", "schedule", s.cfg.RenewalSchedule)

	if _, err := s.cron.AddFunc(s.cfg.ExpirySchedule, s.jobs.ProcessExpirations); err != nil {
		return err
	}
	s.log.Infow("Scheduled expiration job", "schedule", s.cfg.ExpirySchedule)

	if _, err := s.cron.AddFunc(s.cfg.ReminderSchedule, s.jobs.ProcessReminders); err != nil {
		return err
	}
	s.log.Infow("Scheduled reminder job", "schedule", s.cfg.ReminderSchedule)

	s.cron.Start()
	return nil
}

// Stop останавливает планировщик, дождавшись бегущих джоб
func (s *Scheduler) Stop() context.Context {
	s.log.Info("Stopping scheduler")
	return s.cron.Stop()
}
