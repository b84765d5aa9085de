// Package store is the typed gateway over persisted medicines, reminder
// slots and calendar state. It holds no business rules.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/apperr"
	"github.com/pathakanu/medMemo/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps a gorm connection and bounds every call with a timeout.
type Store struct {
	db      *gorm.DB
	timeout time.Duration
}

// New returns a Store. A non-positive timeout leaves calls bounded only by the caller's context.
func New(db *gorm.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.timeout <= 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	return s.db.WithContext(ctx), cancel
}

// Ping checks the underlying connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apperr.Store("ping", err)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return apperr.Store("ping", sqlDB.PingContext(ctx))
}

// GetMedicine loads a medicine by id.
func (s *Store) GetMedicine(ctx context.Context, id uuid.UUID) (*model.Medicine, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var medicine model.Medicine
	if err := db.First(&medicine, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("medicine", id.String())
		}
		return nil, apperr.Store("get medicine", err)
	}
	return &medicine, nil
}

// ReplaceSchedule deactivates every active slot of the medicine and inserts
// slots in the same transaction, so readers never see both sets active or
// neither. It returns the number of slots deactivated.
func (s *Store) ReplaceSchedule(ctx context.Context, medicineID uuid.UUID, slots []model.ReminderSlot, now time.Time) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var deactivated int64
	err := db.Transaction(func(tx *gorm.DB) error {
		n, err := deactivate(tx, medicineID, now)
		if err != nil {
			return err
		}
		deactivated = n
		if len(slots) == 0 {
			return nil
		}
		return tx.Create(&slots).Error
	})
	if err != nil {
		return 0, apperr.Store("replace schedule", err)
	}
	return deactivated, nil
}

// DeactivateSlots soft-deletes every active slot of the medicine.
func (s *Store) DeactivateSlots(ctx context.Context, medicineID uuid.UUID, now time.Time) (int64, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	n, err := deactivate(db, medicineID, now)
	if err != nil {
		return 0, apperr.Store("deactivate slots", err)
	}
	return n, nil
}

func deactivate(db *gorm.DB, medicineID uuid.UUID, now time.Time) (int64, error) {
	stamp := now.UTC()
	res := db.Model(&model.ReminderSlot{}).
		Where("medicine_id = ? AND is_active = ?", medicineID, true).
		Updates(map[string]any{"is_active": false, "deactivated_at": &stamp})
	return res.RowsAffected, res.Error
}

// DueReminder is an active slot joined with what a notification needs.
type DueReminder struct {
	SlotID       uuid.UUID
	MedicineID   uuid.UUID
	UserID       uuid.UUID
	TimeLabel    string
	TriggerHour  int
	MedicineName string
	Dosage       string
	Instructions string
	Notes        string
	UserName     string
	Email        string
	Phone        string
}

// DueReminders returns active slots with the given trigger hour whose window contains at.
func (s *Store) DueReminders(ctx context.Context, hour int, at time.Time) ([]DueReminder, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	at = at.UTC()
	var due []DueReminder
	err := db.Table("reminder_slots").
		Select(`reminder_slots.id AS slot_id,
			reminder_slots.medicine_id AS medicine_id,
			reminder_slots.user_id AS user_id,
			reminder_slots.time_label AS time_label,
			reminder_slots.trigger_hour AS trigger_hour,
			medicines.name AS medicine_name,
			medicines.dosage AS dosage,
			medicines.instructions AS instructions,
			medicines.notes AS notes,
			COALESCE(users.name, '') AS user_name,
			COALESCE(users.email, '') AS email,
			COALESCE(users.phone, '') AS phone`).
		Joins("JOIN medicines ON medicines.id = reminder_slots.medicine_id").
		Joins("LEFT JOIN users ON users.id = reminder_slots.user_id").
		Where("reminder_slots.is_active = ? AND reminder_slots.trigger_hour = ?", true, hour).
		Where("reminder_slots.window_start <= ? AND reminder_slots.window_end >= ?", at, at).
		Order("reminder_slots.created_at ASC").
		Scan(&due).Error
	if err != nil {
		return nil, apperr.Store("due reminders", err)
	}
	return due, nil
}

// GetToken loads the token of a (user, provider) pair.
func (s *Store) GetToken(ctx context.Context, userID uuid.UUID, provider string) (*model.CalendarToken, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var token model.CalendarToken
	if err := db.Where("user_id = ? AND provider = ?", userID, provider).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("calendar token", userID.String())
		}
		return nil, apperr.Store("get token", err)
	}
	return &token, nil
}

// SaveToken inserts or replaces the token of its (user, provider) pair.
func (s *Store) SaveToken(ctx context.Context, token *model.CalendarToken) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	token.Expiry = token.Expiry.UTC()
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expiry", "updated_at"}),
	}).Create(token).Error
	return apperr.Store("save token", err)
}

// GetEventRecord loads the mirrored event ids of a (medicine, user) pair.
func (s *Store) GetEventRecord(ctx context.Context, medicineID, userID uuid.UUID) (*model.CalendarEventRecord, error) {
	db, cancel := s.conn(ctx)
	defer cancel()

	var record model.CalendarEventRecord
	if err := db.Where("medicine_id = ? AND user_id = ?", medicineID, userID).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("calendar event record", medicineID.String())
		}
		return nil, apperr.Store("get event record", err)
	}
	return &record, nil
}

// SaveEventRecord inserts or replaces the record of its (medicine, user) pair.
func (s *Store) SaveEventRecord(ctx context.Context, record *model.CalendarEventRecord) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "medicine_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"event_ids"}),
	}).Create(record).Error
	return apperr.Store("save event record", err)
}

// DeleteEventRecord hard-deletes the record of a (medicine, user) pair.
func (s *Store) DeleteEventRecord(ctx context.Context, medicineID, userID uuid.UUID) error {
	db, cancel := s.conn(ctx)
	defer cancel()

	err := db.Where("medicine_id = ? AND user_id = ?", medicineID, userID).
		Delete(&model.CalendarEventRecord{}).Error
	return apperr.Store("delete event record", err)
}
