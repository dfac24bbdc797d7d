package models

// Frequency is the recurrence pattern of a schedule.
type Frequency string

const (
	FrequencyDaily         Frequency = "daily"
	FrequencyWeekly        Frequency = "weekly"
	FrequencyEveryOtherDay Frequency = "every_other_day"
	FrequencyMonthly       Frequency = "monthly"
	FrequencyAsNeeded      Frequency = "as_needed"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyEveryOtherDay, FrequencyMonthly, FrequencyAsNeeded:
		return true
	}
	return false
}

// Schedule is a recurring prescription pattern for one medication.
type Schedule struct {
	EngineModel
	MedicationID uint      `gorm:"index;not null" json:"medicationId"`
	UserID       string    `gorm:"size:36;index;not null" json:"userId"`
	Frequency    Frequency `gorm:"size:20;not null" json:"frequency"`
	StartDate    string    `gorm:"size:10;not null" json:"startDate"`
	EndDate      *string   `gorm:"size:10" json:"endDate,omitempty"`
	WhenToTake   string    `gorm:"size:100" json:"whenToTake"`
	Notes        string    `gorm:"type:text" json:"notes"`

	Times []TimeSlot `gorm:"foreignKey:ScheduleID;constraint:OnDelete:CASCADE" json:"times"`
}

func (Schedule) TableName() string { return "medication_schedules" }

// TimeSlot is one time-of-day occurrence within a schedule. Time is nil for
// as-needed doses.
type TimeSlot struct {
	EngineModel
	ScheduleID uint    `gorm:"index;not null" json:"scheduleId"`
	Label      string  `gorm:"size:30" json:"label"`
	Time       *string `gorm:"size:8" json:"time,omitempty"`
	Dosage     string  `gorm:"size:100" json:"dosage,omitempty"`
}

func (TimeSlot) TableName() string { return "medication_schedule_times" }
