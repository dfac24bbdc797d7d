package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrHistoryImmutable is returned by any attempt to change a history entry.
var ErrHistoryImmutable = errors.New("medication history entries are immutable")

// HistoryEntry is an append-only audit record of a dose taken.
type HistoryEntry struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               string     `gorm:"size:36;index;not null" json:"userId"`
	MedicationID         uint       `gorm:"index;not null" json:"medicationId"`
	ReminderMedicationID uint       `gorm:"index;not null" json:"reminderMedicationId"`
	Date                 string     `gorm:"size:10;index;not null" json:"date"`
	ScheduledTime        *string    `gorm:"size:8" json:"scheduleTime,omitempty"`
	Status               DoseStatus `gorm:"size:20;not null" json:"status"`
	Notes                string     `gorm:"type:text" json:"notes"`
	CreatedAt            time.Time  `json:"createdAt"`
}

func (HistoryEntry) TableName() string { return "medication_history" }

// BeforeUpdate rejects updates issued through the model.
func (h *HistoryEntry) BeforeUpdate(tx *gorm.DB) error {
	return ErrHistoryImmutable
}

// BeforeDelete rejects deletes issued through the model.
func (h *HistoryEntry) BeforeDelete(tx *gorm.DB) error {
	return ErrHistoryImmutable
}
