// Package dispatch runs one reminder delivery cycle: resolve the current
// slot, fetch the due reminders, send them concurrently and report.
//
// Dispatch never marks a slot as sent, so a cycle re-triggered within the
// same hour sends again (at-least-once delivery).
package dispatch

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/notify"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/store"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnauthorized is returned when the trigger's secret does not match.
var ErrUnauthorized = errors.New("unauthorized")

const (
	MessageNotScheduled = "Not a scheduled reminder time"
	MessageNothingDue   = "No reminders due"
	MessageCompleted    = "Reminder dispatch completed"
)

// DueSource lists the reminders due at a trigger hour.
type DueSource interface {
	DueReminders(ctx context.Context, hour int, at time.Time) ([]store.DueReminder, error)
}

// Config configures a Dispatcher.
type Config struct {
	Secret      string
	Location    *time.Location
	Concurrency int
	SendTimeout time.Duration
}

// Dispatcher is stateless between runs.
type Dispatcher struct {
	source DueSource
	sender notify.Sender
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

// New returns a Dispatcher.
func New(source DueSource, sender notify.Sender, cfg Config, log *zap.Logger) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		source: source,
		sender: sender,
		cfg:    cfg,
		log:    log.With(zap.String("component", "dispatch")),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Authorize checks an Authorization header value against the configured
// secret. Without a secret every caller is accepted.
func (d *Dispatcher) Authorize(header string) error {
	if d.cfg.Secret == "" {
		return nil
	}
	token := strings.TrimSpace(header)
	if after, ok := strings.CutPrefix(token, "Bearer "); ok {
		token = strings.TrimSpace(after)
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(d.cfg.Secret)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ItemResult is the outcome of one due reminder.
type ItemResult struct {
	SlotID     uuid.UUID `json:"slotId"`
	MedicineID uuid.UUID `json:"medicineId"`
	Medicine   string    `json:"medicine"`
	outcome.Outcome
}

// Report summarises one run.
type Report struct {
	Message        string       `json:"message"`
	ScheduledHour  *int         `json:"scheduledHour"`
	Slot           string       `json:"slot,omitempty"`
	TotalReminders int          `json:"totalReminders"`
	EmailsSent     int          `json:"emailsSent"`
	EmailsFailed   int          `json:"emailsFailed"`
	Timestamp      time.Time    `json:"timestamp"`
	Results        []ItemResult `json:"results,omitempty"`
}

// Run executes one cycle. Only a failure to fetch the due list is returned
// as an error; individual send failures are counted in the report.
func (d *Dispatcher) Run(ctx context.Context) (Report, error) {
	now := d.now().In(d.cfg.Location)
	report := Report{Timestamp: now}

	bucket, ok := timeslot.Resolve(now)
	if !ok {
		report.Message = MessageNotScheduled
		return report, nil
	}
	hour := bucket.Hour
	report.ScheduledHour = &hour
	report.Slot = string(bucket.Label)

	due, err := d.source.DueReminders(ctx, bucket.Hour, now)
	if err != nil {
		d.log.Error("dispatch: fetch due reminders", zap.Int("hour", bucket.Hour), zap.Error(err))
		return report, apperr.Store("fetch due reminders", err)
	}
	report.TotalReminders = len(due)
	if len(due) == 0 {
		report.Message = MessageNothingDue
		return report, nil
	}

	results := make([]ItemResult, len(due))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, item := range due {
		g.Go(func() error {
			results[i] = d.deliver(gctx, bucket, item)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.IsOK() {
			report.EmailsSent++
		} else {
			report.EmailsFailed++
		}
	}
	report.Results = results
	report.Message = MessageCompleted

	d.log.Info("dispatch: run complete",
		zap.String("slot", report.Slot),
		zap.Int("total", report.TotalReminders),
		zap.Int("sent", report.EmailsSent),
		zap.Int("failed", report.EmailsFailed))
	return report, nil
}

func (d *Dispatcher) deliver(ctx context.Context, bucket timeslot.Bucket, item store.DueReminder) ItemResult {
	result := ItemResult{
		SlotID:     item.SlotID,
		MedicineID: item.MedicineID,
		Medicine:   item.MedicineName,
	}

	label, err := timeslot.Parse(item.TimeLabel)
	if err != nil {
		label = bucket.Label
	}

	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}

	err = d.sender.Send(ctx, notify.Notification{
		RecipientName: item.UserName,
		Email:         item.Email,
		Phone:         item.Phone,
		MedicineName:  item.MedicineName,
		Dosage:        item.Dosage,
		Instructions:  item.Instructions,
		Notes:         item.Notes,
		Slot:          label,
	})
	if err != nil {
		d.log.Warn("dispatch: send reminder",
			zap.String("slot_id", item.SlotID.String()),
			zap.String("medicine_id", item.MedicineID.String()),
			zap.Error(err))
		result.Outcome = outcome.DeliveryFailed(err.Error())
		return result
	}
	result.Outcome = outcome.OK()
	return result
}
