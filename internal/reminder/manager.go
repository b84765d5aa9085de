// Package reminder creates, replaces and cancels the reminder slots of a
// medicine. Slots are the source of truth; the calendar is a best-effort
// projection of them.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/calendar"
	"github.com/pathakanu/medMemo/internal/lock"
	"github.com/pathakanu/medMemo/internal/model"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"go.uber.org/zap"
)

// Store is the persistence the manager needs.
type Store interface {
	GetMedicine(ctx context.Context, id uuid.UUID) (*model.Medicine, error)
	ReplaceSchedule(ctx context.Context, medicineID uuid.UUID, slots []model.ReminderSlot, now time.Time) (int64, error)
	DeactivateSlots(ctx context.Context, medicineID uuid.UUID, now time.Time) (int64, error)
}

// CalendarSync mirrors schedules into an external calendar.
type CalendarSync interface {
	CreateEventsForSchedule(ctx context.Context, sch calendar.Schedule) (calendar.CreateResult, error)
	DeleteEventsForMedicine(ctx context.Context, medicineID, userID uuid.UUID) (calendar.DeleteResult, error)
}

// Manager owns the reminder slot lifecycle.
type Manager struct {
	store    Store
	calendar CalendarSync
	locker   lock.Locker
	log      *zap.Logger
	now      func() time.Time
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocker overrides the per-medicine lock.
func WithLocker(l lock.Locker) Option {
	return func(m *Manager) { m.locker = l }
}

// NewManager returns a Manager. cal may be nil when calendar sync is disabled.
func NewManager(store Store, cal CalendarSync, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		calendar: cal,
		locker:   lock.NewLocal(),
		log:      log.With(zap.String("component", "reminder")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScheduleRequest asks for a new schedule replacing any existing one.
type ScheduleRequest struct {
	MedicineID   uuid.UUID
	UserID       uuid.UUID
	DurationDays int
	Times        timeslot.Selection
}

// Validate reports the first problem with the request.
func (r ScheduleRequest) Validate() error {
	switch {
	case r.MedicineID == uuid.Nil:
		return apperr.Validation("medicineId", "is required")
	case r.UserID == uuid.Nil:
		return apperr.Validation("userId", "is required")
	case r.DurationDays < 1:
		return apperr.Validation("durationDays", "must be at least 1")
	case r.Times.Empty():
		return apperr.Validation("times", "select at least one of morning, noon or night")
	}
	return nil
}

// ScheduleResult describes a completed schedule.
type ScheduleResult struct {
	RemindersCreated int
	ScheduledTimes   []timeslot.Label
	Deactivated      int64
	WindowStart      time.Time
	WindowEnd        time.Time
	Calendar         outcome.Outcome
}

// Schedule replaces the medicine's active slots with one slot per selected
// time of day, active from now for DurationDays days.
func (m *Manager) Schedule(ctx context.Context, req ScheduleRequest) (ScheduleResult, error) {
	if err := req.Validate(); err != nil {
		return ScheduleResult{}, err
	}

	medicine, err := m.store.GetMedicine(ctx, req.MedicineID)
	if err != nil {
		return ScheduleResult{}, err
	}
	if medicine.UserID != req.UserID {
		return ScheduleResult{}, apperr.NotFound("medicine", req.MedicineID.String())
	}

	unlock, err := m.locker.Lock(ctx, "schedule:"+req.MedicineID.String())
	if err != nil {
		return ScheduleResult{}, apperr.Store("lock schedule", err)
	}
	defer unlock()

	now := m.now()
	start := now.UTC()
	end := start.AddDate(0, 0, req.DurationDays)
	labels := req.Times.Labels()

	slots := make([]model.ReminderSlot, 0, len(labels))
	for _, label := range labels {
		slots = append(slots, model.ReminderSlot{
			MedicineID:   medicine.ID,
			UserID:       medicine.UserID,
			TimeLabel:    string(label),
			TriggerHour:  label.TriggerHour(),
			DurationDays: req.DurationDays,
			WindowStart:  start,
			WindowEnd:    end,
			IsActive:     true,
		})
	}

	deactivated, err := m.store.ReplaceSchedule(ctx, medicine.ID, slots, now)
	if err != nil {
		return ScheduleResult{}, err
	}
	m.log.Info("reminder: scheduled",
		zap.String("medicine_id", medicine.ID.String()),
		zap.Int("slots", len(slots)),
		zap.Int64("deactivated", deactivated),
		zap.Int("duration_days", req.DurationDays))

	return ScheduleResult{
		RemindersCreated: len(slots),
		ScheduledTimes:   labels,
		Deactivated:      deactivated,
		WindowStart:      start,
		WindowEnd:        end,
		Calendar:         m.mirrorSchedule(ctx, medicine, req.DurationDays, labels, now),
	}, nil
}

// CancelResult describes a completed cancel.
type CancelResult struct {
	Deactivated int64
	Calendar    outcome.Outcome
}

// Cancel deactivates every active slot of the medicine on behalf of its
// owner. Cancelling a medicine without active slots, or one that no longer
// exists, succeeds and changes nothing.
func (m *Manager) Cancel(ctx context.Context, medicineID, userID uuid.UUID) (CancelResult, error) {
	switch {
	case medicineID == uuid.Nil:
		return CancelResult{}, apperr.Validation("medicineId", "is required")
	case userID == uuid.Nil:
		return CancelResult{}, apperr.Validation("userId", "is required")
	}

	medicine, err := m.store.GetMedicine(ctx, medicineID)
	if err != nil {
		var nf *apperr.NotFoundError
		if errors.As(err, &nf) {
			return CancelResult{Calendar: outcome.CalendarSkipped("medicine not found")}, nil
		}
		return CancelResult{}, err
	}
	if medicine.UserID != userID {
		return CancelResult{}, apperr.NotFound("medicine", medicineID.String())
	}

	unlock, err := m.locker.Lock(ctx, "schedule:"+medicineID.String())
	if err != nil {
		return CancelResult{}, apperr.Store("lock schedule", err)
	}
	defer unlock()

	deactivated, err := m.store.DeactivateSlots(ctx, medicineID, m.now())
	if err != nil {
		return CancelResult{}, err
	}
	if deactivated > 0 {
		m.log.Info("reminder: cancelled",
			zap.String("medicine_id", medicineID.String()),
			zap.Int64("deactivated", deactivated))
	}

	return CancelResult{
		Deactivated: deactivated,
		Calendar:    m.unmirror(ctx, medicine),
	}, nil
}

func (m *Manager) mirrorSchedule(ctx context.Context, medicine *model.Medicine, days int, labels []timeslot.Label, now time.Time) outcome.Outcome {
	if m.calendar == nil {
		return outcome.CalendarSkipped("calendar sync disabled")
	}

	removed, err := m.calendar.DeleteEventsForMedicine(ctx, medicine.ID, medicine.UserID)
	if err != nil {
		m.log.Warn("reminder: remove previous calendar events",
			zap.String("medicine_id", medicine.ID.String()), zap.Error(err))
	}

	created, err := m.calendar.CreateEventsForSchedule(ctx, calendar.Schedule{
		MedicineID:   medicine.ID,
		UserID:       medicine.UserID,
		MedicineName: medicine.Name,
		Dosage:       medicine.Dosage,
		Instructions: medicine.Instructions,
		DurationDays: days,
		Labels:       labels,
		From:         now,
	})
	if err != nil {
		m.log.Warn("reminder: create calendar events",
			zap.String("medicine_id", medicine.ID.String()), zap.Error(err))
		return outcome.CalendarSyncFailed(err.Error())
	}

	result := created.Outcome()
	if result.IsOK() && removed.Outcome().Kind == outcome.KindCalendarSyncFailed {
		return removed.Outcome()
	}
	return result
}

func (m *Manager) unmirror(ctx context.Context, medicine *model.Medicine) outcome.Outcome {
	if m.calendar == nil {
		return outcome.CalendarSkipped("calendar sync disabled")
	}

	removed, err := m.calendar.DeleteEventsForMedicine(ctx, medicine.ID, medicine.UserID)
	if err != nil {
		m.log.Warn("reminder: delete calendar events",
			zap.String("medicine_id", medicine.ID.String()), zap.Error(err))
		return outcome.CalendarSyncFailed(err.Error())
	}
	return removed.Outcome()
}
