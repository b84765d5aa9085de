package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CalendarToken is the OAuth credential for one (user, provider) pair.
type CalendarToken struct {
	ID           uuid.UUID `gorm:"type:char(36);primaryKey"`
	UserID       uuid.UUID `gorm:"type:char(36);uniqueIndex:idx_token_user_provider;not null"`
	Provider     string    `gorm:"size:32;uniqueIndex:idx_token_user_provider;not null"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text"`
	Expiry       time.Time
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a new id when none is set.
func (t *CalendarToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// ExpiredAt reports whether the token is unusable at the given instant,
// treating anything that expires within skew as already expired. A zero
// expiry never expires.
func (t *CalendarToken) ExpiredAt(now time.Time, skew time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.Expiry)
}

// CalendarEventRecord lists the provider event ids mirroring the current
// schedule of a medicine for one user.
type CalendarEventRecord struct {
	ID         uuid.UUID `gorm:"type:char(36);primaryKey"`
	MedicineID uuid.UUID `gorm:"type:char(36);uniqueIndex:idx_event_record_medicine_user;not null"`
	UserID     uuid.UUID `gorm:"type:char(36);uniqueIndex:idx_event_record_medicine_user;not null"`
	EventIDs   []string  `gorm:"serializer:json;type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// BeforeCreate assigns a new id when none is set.
func (r *CalendarEventRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// All returns every model managed by the reminder core, in migration order.
func All() []any {
	return []any{
		&User{},
		&Medicine{},
		&ReminderSlot{},
		&CalendarToken{},
		&CalendarEventRecord{},
	}
}
