package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Entry is one persisted wager event.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex;not null"`
	GameID     uint64    `gorm:"index;not null"`
	Type       string    `gorm:"index;not null"`
	White      string
	Black      string
	Winner     string
	Total      string
	Outcome    string
	Replaced   bool
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of the struct name.
func (Entry) TableName() string { return "wager_events" }

// BeforeCreate assigns a random id to new rows.
func (e *Entry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// AutoMigrate performs all schema migrations for the audit store.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Entry{}, &IdempotencyKey{})
}
