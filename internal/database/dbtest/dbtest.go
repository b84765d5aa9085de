// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pathakanu/medMemo/internal/database"
	"github.com/pathakanu/medMemo/internal/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns a migrated in-memory SQLite database private to the test.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_fk=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite memory: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// SeedMedicine inserts a user with an email address and one medicine owned by them.
func SeedMedicine(t testing.TB, db *gorm.DB, name string) (model.User, model.Medicine) {
	t.Helper()

	user := model.User{
		Name:  "Asha",
		Email: fmt.Sprintf("asha+%s@example.com", uuid.NewString()[:8]),
		Phone: "+15550100",
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	medicine := model.Medicine{
		UserID:       user.ID,
		Name:         name,
		Dosage:       "500 mg",
		Instructions: "Take after food",
		Notes:        "Finish the full course",
	}
	if err := db.Create(&medicine).Error; err != nil {
		t.Fatalf("seed medicine: %v", err)
	}
	return user, medicine
}

// Slots returns every slot of the medicine, active first, then by trigger hour.
func Slots(t testing.TB, db *gorm.DB, medicineID uuid.UUID) []model.ReminderSlot {
	t.Helper()

	var slots []model.ReminderSlot
	if err := db.Where("medicine_id = ?", medicineID).
		Order("is_active DESC, trigger_hour ASC, created_at ASC").
		Find(&slots).Error; err != nil {
		t.Fatalf("fetch slots: %v", err)
	}
	return slots
}
