/*
scheduler.go - Automated balance audit scheduler

PURPOSE:
  Periodically verifies that every enrollment's stored totalPaid still
  equals the sum of its collected payments, repairs drift when configured
  to, and records each run for audit and UI display.

DESIGN:
  - BalanceAuditor runs one audit and records it in balance_audit_runs.
    Runs never overlap: a second caller gets ErrAuditRunning.
  - BalanceAuditScheduler triggers the auditor from a cron schedule
    (robfig/cron, SkipIfStillRunning). The same auditor serves
    POST /api/audit/run.

CONFIGURATION:
  - Schedule: Cron spec or descriptor (default: @every 1h)
  - Enabled:  Whether the scheduler is active (default: true)
  - Repair:   Whether drifted enrollments are rewritten (default: true)

USAGE:
  auditor := NewBalanceAuditor(l, store, log, metrics)
  scheduler := NewBalanceAuditScheduler(auditor, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/audit.go: VerifyBalances
  - handlers.go: RunAudit endpoint (manual run)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reviewhub/payment-ledger/ledger"
	"github.com/reviewhub/payment-ledger/store/sqlstore"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrAuditRunning is returned when an audit is requested while one runs.
var ErrAuditRunning = errors.New("balance audit already running")

// =============================================================================
// AUDITOR
// =============================================================================

// BalanceAuditor runs balance audits and records their outcome.
type BalanceAuditor struct {
	Ledger  *ledger.Ledger
	Store   *sqlstore.Store
	Log     *zap.Logger
	Metrics *Metrics
	Clock   func() time.Time

	running sync.Mutex
}

func NewBalanceAuditor(l *ledger.Ledger, store *sqlstore.Store, log *zap.Logger, metrics *Metrics) *BalanceAuditor {
	return &BalanceAuditor{Ledger: l, Store: store, Log: log, Metrics: metrics, Clock: time.Now}
}

// Run audits every enrollment. The returned run is already persisted.
func (a *BalanceAuditor) Run(ctx context.Context, trigger string, repair bool) (sqlstore.AuditRun, ledger.AuditReport, error) {
	if !a.running.TryLock() {
		return sqlstore.AuditRun{}, ledger.AuditReport{}, ErrAuditRunning
	}
	defer a.running.Unlock()

	run := sqlstore.AuditRun{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    sqlstore.RunRunning,
		Repair:    repair,
		StartedAt: a.Clock().UTC(),
	}
	if err := a.Store.SaveAuditRun(ctx, run); err != nil {
		return run, ledger.AuditReport{}, fmt.Errorf("failed to record audit run: %w", err)
	}

	report, err := a.Ledger.VerifyBalances(ctx, repair, "balance-audit:"+trigger)
	finished := a.Clock().UTC()
	run.FinishedAt = &finished
	run.Checked = report.Checked
	run.Drifts = len(report.Drifts)
	run.Repaired = report.Repaired
	if err != nil {
		run.Status = sqlstore.RunFailed
		run.Error = err.Error()
	} else {
		run.Status = sqlstore.RunCompleted
		report.FinishedAt = finished
		a.Metrics.auditFinished(report)
	}

	// The run row is written even when ctx was cancelled mid-audit.
	if serr := a.Store.SaveAuditRun(context.WithoutCancel(ctx), run); serr != nil {
		a.Log.Error("failed to record audit run", zap.String("run_id", run.ID), zap.Error(serr))
	}

	a.Log.Info("balance audit finished",
		zap.String("run_id", run.ID),
		zap.String("trigger", trigger),
		zap.String("status", run.Status),
		zap.Int("checked", run.Checked),
		zap.Int("drifts", run.Drifts),
		zap.Int("repaired", run.Repaired),
	)
	return run, report, err
}

// =============================================================================
// SCHEDULER
// =============================================================================

// BalanceAuditScheduler runs the auditor on a cron schedule.
type BalanceAuditScheduler struct {
	Auditor  *BalanceAuditor
	Schedule string
	Enabled  bool
	Repair   bool
	Timeout  time.Duration

	log  *zap.Logger
	cron *cron.Cron
	mu   sync.Mutex
}

func NewBalanceAuditScheduler(auditor *BalanceAuditor, log *zap.Logger) *BalanceAuditScheduler {
	return &BalanceAuditScheduler{
		Auditor:  auditor,
		Schedule: "@every 1h",
		Enabled:  true,
		Repair:   true,
		Timeout:  10 * time.Minute,
		log:      log,
	}
}

// Start registers the audit job and starts the cron runner.
func (s *BalanceAuditScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("balance audit scheduler disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{s.log.Named("cron")}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.Schedule, s.runOnce); err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", s.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.log.Info("balance audit scheduler started",
		zap.String("schedule", s.Schedule),
		zap.Bool("repair", s.Repair),
	)
	return nil
}

// Stop stops the scheduler and waits for a running audit to finish.
func (s *BalanceAuditScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
		s.log.Info("balance audit scheduler stopped")
	}
}

func (s *BalanceAuditScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	_, _, err := s.Auditor.Run(ctx, TriggerSchedule, s.Repair)
	if errors.Is(err, ErrAuditRunning) {
		s.log.Info("skipping scheduled balance audit, manual run in progress")
		return
	}
	if err != nil {
		s.log.Error("scheduled balance audit failed", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
