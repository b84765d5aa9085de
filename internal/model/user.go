package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User owns medicines and receives their reminders.
type User struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	Name      string
	Email     string `gorm:"index"`
	Phone     string
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// BeforeCreate assigns a new id when none is set.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
