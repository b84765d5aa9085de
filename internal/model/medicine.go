package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Medicine is a user's medicine as rendered in a reminder notification.
type Medicine struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID       uuid.UUID `gorm:"type:char(36);index;not null"`
	Name         string    `gorm:"not null"`
	Dosage       string
	Instructions string    `gorm:"type:text"`
	Notes        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a new id when none is set.
func (m *Medicine) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// ReminderSlot is one daily trigger (morning, noon or night) of a medicine
// schedule. Slots are deactivated, never deleted.
type ReminderSlot struct {
	ID            uuid.UUID  `gorm:"type:char(36);primaryKey"`
	MedicineID    uuid.UUID  `gorm:"type:char(36);index:idx_slot_medicine_active;not null"`
	UserID        uuid.UUID  `gorm:"type:char(36);index;not null"`
	TimeLabel     string     `gorm:"size:16;not null"`
	TriggerHour   int        `gorm:"index:idx_slot_due;not null"`
	DurationDays  int        `gorm:"not null"`
	WindowStart   time.Time  `gorm:"not null"`
	WindowEnd     time.Time  `gorm:"index:idx_slot_due;not null"`
	IsActive      bool       `gorm:"index:idx_slot_medicine_active;index:idx_slot_due;not null"`
	DeactivatedAt *time.Time
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// BeforeCreate assigns a new id when none is set.
func (s *ReminderSlot) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
