package models

import (
	"time"
)

// ReminderStatus is the aggregate status of a reminder.
type ReminderStatus string

const (
	ReminderStatusPending   ReminderStatus = "pending"
	ReminderStatusCompleted ReminderStatus = "completed"
)

// DoseStatus is the adherence status of a single scheduled dose.
type DoseStatus string

const (
	DoseStatusPending DoseStatus = "pending"
	DoseStatusTaken   DoseStatus = "taken"
	DoseStatusSkipped DoseStatus = "skipped"
	DoseStatusMissed  DoseStatus = "missed"
)

// Valid reports whether s is one of the four dose statuses.
func (s DoseStatus) Valid() bool {
	switch s {
	case DoseStatusPending, DoseStatusTaken, DoseStatusSkipped, DoseStatusMissed:
		return true
	}
	return false
}

// IsTerminal reports whether the dose has been resolved one way or another.
func (s DoseStatus) IsTerminal() bool {
	return s == DoseStatusTaken || s == DoseStatusSkipped || s == DoseStatusMissed
}

// Reminder is the container of the doses due on one calendar date for one user.
// ScheduleID is set when the reminder was materialized from a schedule.
type Reminder struct {
	EngineModel
	UserID      string         `gorm:"size:36;index;not null" json:"userId"`
	Date        string         `gorm:"size:10;index;not null;uniqueIndex:idx_reminder_schedule_date,priority:2" json:"date"`
	Title       string         `gorm:"size:255" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Status      ReminderStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	ScheduleID  *uint          `gorm:"uniqueIndex:idx_reminder_schedule_date,priority:1" json:"scheduleId,omitempty"`

	Medications []ReminderMedication `gorm:"foreignKey:ReminderID;constraint:OnDelete:CASCADE" json:"medications"`
}

// ReminderMedication is one dose of one medication within a reminder.
// TakenAt is set if and only if Status is taken.
type ReminderMedication struct {
	EngineModel
	ReminderID    uint       `gorm:"index;not null" json:"reminderId"`
	MedicationID  uint       `gorm:"index;not null" json:"medicationId"`
	ScheduledTime *string    `gorm:"size:8" json:"scheduleTime,omitempty"`
	Dosage        string     `gorm:"size:100" json:"dosage"`
	Status        DoseStatus `gorm:"size:20;not null;default:'pending'" json:"status"`
	TakenAt       *time.Time `json:"takenAt,omitempty"`
	Notes         string     `gorm:"type:text" json:"notes"`

	Medication Medication `gorm:"foreignKey:MedicationID" json:"-"`
}

// AllTerminal reports whether every dose of the reminder is resolved.
// A reminder without doses is never complete.
func AllTerminal(doses []ReminderMedication) bool {
	if len(doses) == 0 {
		return false
	}
	for _, d := range doses {
		if !d.Status.IsTerminal() {
			return false
		}
	}
	return true
}
