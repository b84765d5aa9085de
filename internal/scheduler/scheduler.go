// Package scheduler triggers a dispatch cycle at every reminder slot hour
// for deployments without an external cron.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pathakanu/medMemo/internal/dispatch"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner runs one dispatch cycle.
type Runner interface {
	Run(ctx context.Context) (dispatch.Report, error)
}

// Scheduler wraps a cron instance bound to the configured timezone.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	log     *zap.Logger
}

// New returns a Scheduler firing in loc. timeout bounds each run.
func New(runner Runner, loc *time.Location, timeout time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		runner:  runner,
		timeout: timeout,
		log:     log.With(zap.String("component", "scheduler")),
	}
}

// Expression returns the cron expression firing at minute zero of each slot hour.
func Expression() string {
	hours := timeslot.TriggerHours()
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = strconv.Itoa(h)
	}
	return fmt.Sprintf("0 %s * * *", strings.Join(parts, ","))
}

// Start registers the dispatch job and starts the scheduler loop.
func (s *Scheduler) Start() error {
	expr := Expression()
	if _, err := s.cron.AddFunc(expr, s.runOnce); err != nil {
		return fmt.Errorf("register dispatch job: %w", err)
	}
	s.cron.Start()
	s.log.Info("scheduler started", zap.String("expr", expr))
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) runOnce() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.runner.Run(ctx)
	if err != nil {
		s.log.Error("scheduled dispatch failed", zap.Error(err))
		return
	}
	s.log.Info("scheduled dispatch",
		zap.String("message", report.Message),
		zap.Int("total", report.TotalReminders),
		zap.Int("sent", report.EmailsSent),
		zap.Int("failed", report.EmailsFailed))
}
