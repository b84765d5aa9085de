package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/database/dbtest"
	"github.com/pathakanu/medMemo/internal/notify"
	"github.com/pathakanu/medMemo/internal/outcome"
	"github.com/pathakanu/medMemo/internal/reminder"
	"github.com/pathakanu/medMemo/internal/store"
	"github.com/pathakanu/medMemo/internal/timeslot"
	"go.uber.org/zap"
)

type fakeSource struct {
	calls int32
	items []store.DueReminder
	err   error
	hour  int
}

func (f *fakeSource) DueReminders(_ context.Context, hour int, _ time.Time) ([]store.DueReminder, error) {
	atomic.AddInt32(&f.calls, 1)
	f.hour = hour
	return f.items, f.err
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Notification
	fail map[string]bool
}

func (f *fakeSender) Send(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[n.MedicineName] {
		return &apperr.DeliveryError{Provider: "smtp", Detail: "550 mailbox unavailable"}
	}
	f.sent = append(f.sent, n)
	return nil
}

func at(hour, minute int) func() time.Time {
	return func() time.Time { return time.Date(2025, 3, 14, hour, minute, 0, 0, time.UTC) }
}

func newTestDispatcher(source DueSource, sender notify.Sender, secret string, now func() time.Time) *Dispatcher {
	d := New(source, sender, Config{Secret: secret, Location: time.UTC, Concurrency: 4, SendTimeout: time.Second}, zap.NewNop())
	d.SetClock(now)
	return d
}

func dueItem(name string) store.DueReminder {
	return store.DueReminder{
		SlotID:       uuid.New(),
		MedicineID:   uuid.New(),
		UserID:       uuid.New(),
		TimeLabel:    "morning",
		TriggerHour:  9,
		MedicineName: name,
		Email:        "patient@example.com",
	}
}

func TestRunOutsideScheduledHoursSkipsStore(t *testing.T) {
	t.Parallel()

	for hour := 0; hour < 24; hour++ {
		if hour == 9 || hour == 12 || hour == 20 {
			continue
		}
		source := &fakeSource{}
		d := newTestDispatcher(source, &fakeSender{}, "", at(hour, 0))

		report, err := d.Run(context.Background())
		if err != nil {
			t.Fatalf("hour %d: unexpected error %v", hour, err)
		}
		if report.Message != MessageNotScheduled || report.ScheduledHour != nil {
			t.Fatalf("hour %d: unexpected report %+v", hour, report)
		}
		if source.calls != 0 {
			t.Fatalf("hour %d: store queried %d times", hour, source.calls)
		}
	}
}

func TestRunFailingSenderIsCountedNotRaised(t *testing.T) {
	t.Parallel()
	source := &fakeSource{items: []store.DueReminder{dueItem("Amoxicillin")}}
	sender := &fakeSender{fail: map[string]bool{"Amoxicillin": true}}
	d := newTestDispatcher(source, sender, "", at(9, 0))

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.EmailsSent != 0 || report.EmailsFailed != 1 || report.TotalReminders != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if report.ScheduledHour == nil || *report.ScheduledHour != 9 || report.Slot != "morning" {
		t.Fatalf("unexpected bucket in report %+v", report)
	}
	if got := report.Results[0]; got.Kind != outcome.KindDeliveryFailed || got.Reason == "" {
		t.Fatalf("expected delivery failure result, got %+v", got)
	}
}

func TestRunFansOutAndAggregates(t *testing.T) {
	t.Parallel()
	var items []store.DueReminder
	for i := 0; i < 25; i++ {
		items = append(items, dueItem(fmt.Sprintf("med-%02d", i)))
	}
	sender := &fakeSender{fail: map[string]bool{"med-03": true, "med-17": true}}
	source := &fakeSource{items: items}
	d := newTestDispatcher(source, sender, "", at(20, 59))

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source.hour != 20 {
		t.Fatalf("expected query for hour 20, got %d", source.hour)
	}
	if report.TotalReminders != 25 || report.EmailsSent != 23 || report.EmailsFailed != 2 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if len(sender.sent) != 23 {
		t.Fatalf("expected 23 sends recorded, got %d", len(sender.sent))
	}
	if report.Message != MessageCompleted {
		t.Fatalf("unexpected message %q", report.Message)
	}
}

func TestRunStoreFailureAbortsBatch(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(&fakeSource{err: errors.New("connection refused")}, &fakeSender{}, "", at(12, 0))

	_, err := d.Run(context.Background())
	var se *apperr.StoreError
	if !errors.As(err, &se) {
		t.Fatalf("expected StoreError, got %v", err)
	}
}

func TestRunNothingDue(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(&fakeSource{}, &fakeSender{}, "", at(12, 30))

	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Message != MessageNothingDue || report.TotalReminders != 0 || report.ScheduledHour == nil {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestAuthorize(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(&fakeSource{}, &fakeSender{}, "s3cret", at(9, 0))

	if err := d.Authorize("Bearer s3cret"); err != nil {
		t.Fatalf("expected bearer secret to pass: %v", err)
	}
	if err := d.Authorize("s3cret"); err != nil {
		t.Fatalf("expected bare secret to pass: %v", err)
	}
	for _, header := range []string{"", "Bearer wrong", "Bearer s3cret2"} {
		if err := d.Authorize(header); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("Authorize(%q) = %v, want ErrUnauthorized", header, err)
		}
	}

	open := newTestDispatcher(&fakeSource{}, &fakeSender{}, "", at(9, 0))
	if err := open.Authorize(""); err != nil {
		t.Fatalf("expected no secret to accept everyone: %v", err)
	}
}

func TestRunAgainstScheduledReminders(t *testing.T) {
	db := dbtest.Open(t)
	st := store.New(db, time.Second)
	user, medicine := dbtest.SeedMedicine(t, db, "Levothyroxine")
	scheduledAt := time.Date(2025, 3, 14, 7, 0, 0, 0, time.UTC)

	manager := reminder.NewManager(st, nil, zap.NewNop(), reminder.WithClock(func() time.Time { return scheduledAt }))
	if _, err := manager.Schedule(context.Background(), reminder.ScheduleRequest{
		MedicineID:   medicine.ID,
		UserID:       user.ID,
		DurationDays: 7,
		Times:        timeslot.Selection{Morning: true, Night: true},
	}); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	sender := &fakeSender{}
	d := newTestDispatcher(st, sender, "", at(9, 45))
	report, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.EmailsSent != 1 || len(sender.sent) != 1 {
		t.Fatalf("expected one morning reminder, got %+v", report)
	}
	got := sender.sent[0]
	if got.Email != user.Email || got.MedicineName != "Levothyroxine" || got.Slot != timeslot.Morning || got.RecipientName != user.Name {
		t.Fatalf("unexpected notification %+v", got)
	}

	if _, err := manager.Cancel(context.Background(), medicine.ID, user.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	report, err = d.Run(context.Background())
	if err != nil {
		t.Fatalf("run after cancel: %v", err)
	}
	if report.TotalReminders != 0 {
		t.Fatalf("expected nothing due after cancel, got %+v", report)
	}
}
