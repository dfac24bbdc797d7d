package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/datetime"
	"medication-adherence-server/internal/models"
)

// ScheduleService owns recurring schedule definitions.
type ScheduleService struct {
	base
}

// ScheduleInput describes a schedule and its time slots.
type ScheduleInput struct {
	Frequency  models.Frequency
	StartDate  string
	EndDate    *string
	WhenToTake string
	Notes      string
	TimeSlots  []TimeSlotInput
}

// TimeSlotInput is one time-of-day entry. Either Label or Time may be empty.
type TimeSlotInput struct {
	Label  string
	Time   *string
	Dosage string
}

// SchedulePatch is a partial schedule update. TimeSlots replaces the slot set
// when non-nil. ClearEndDate removes the end date.
type SchedulePatch struct {
	Frequency    *models.Frequency
	StartDate    *string
	EndDate      *string
	ClearEndDate bool
	WhenToTake   *string
	Notes        *string
	TimeSlots    []TimeSlotInput
}

// Clock times assumed for symbolic slots given without a time.
var labelTimes = map[string]string{
	"morning":   "08:00:00",
	"noon":      "12:00:00",
	"afternoon": "14:00:00",
	"evening":   "18:00:00",
	"night":     "21:00:00",
	"bedtime":   "22:00:00",
}

// CreateSchedule stores a schedule with its time slots as one unit.
func (s *ScheduleService) CreateSchedule(ctx context.Context, userID string, medicationID uint, in ScheduleInput) (*models.Schedule, error) {
	var schedule *models.Schedule
	err := s.transaction(ctx, "create schedule", func(tx *gorm.DB) error {
		var err error
		schedule, err = s.createSchedule(tx, userID, medicationID, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *ScheduleService) createSchedule(tx *gorm.DB, userID string, medicationID uint, in ScheduleInput) (*models.Schedule, error) {
	if _, err := ownedMedication(tx, medicationID, userID); err != nil {
		return nil, err
	}
	schedule, err := buildSchedule(in)
	if err != nil {
		return nil, err
	}
	schedule.MedicationID = medicationID
	schedule.UserID = userID

	if err := s.checkDuplicate(tx, schedule, 0); err != nil {
		return nil, err
	}
	if err := tx.Create(schedule).Error; err != nil {
		return nil, apperrors.Storage("create schedule", err)
	}
	return schedule, nil
}

// replaceSchedule overwrites every field and slot of an existing schedule.
func (s *ScheduleService) replaceSchedule(tx *gorm.DB, scheduleID uint, userID string, medicationID uint, in ScheduleInput) (*models.Schedule, error) {
	existing, err := s.ownedSchedule(tx, scheduleID, userID)
	if err != nil {
		return nil, err
	}
	if existing.MedicationID != medicationID {
		return nil, apperrors.NewValidationError("scheduleId", "belongs to another medication")
	}
	next, err := buildSchedule(in)
	if err != nil {
		return nil, err
	}
	next.EngineModel = existing.EngineModel
	next.MedicationID = existing.MedicationID
	next.UserID = existing.UserID
	return s.save(tx, next)
}

// UpdateSchedule applies a partial update. Reminders already materialized
// from the schedule are left as they are.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, scheduleID uint, userID string, patch SchedulePatch) (*models.Schedule, error) {
	var schedule *models.Schedule
	err := s.transaction(ctx, "update schedule", func(tx *gorm.DB) error {
		existing, err := s.ownedSchedule(tx, scheduleID, userID)
		if err != nil {
			return err
		}

		in := ScheduleInput{
			Frequency:  existing.Frequency,
			StartDate:  existing.StartDate,
			EndDate:    existing.EndDate,
			WhenToTake: existing.WhenToTake,
			Notes:      existing.Notes,
			TimeSlots:  slotInputs(existing.Times),
		}
		if patch.Frequency != nil {
			in.Frequency = *patch.Frequency
		}
		if patch.StartDate != nil {
			in.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil {
			in.EndDate = patch.EndDate
		}
		if patch.ClearEndDate {
			in.EndDate = nil
		}
		if patch.WhenToTake != nil {
			in.WhenToTake = *patch.WhenToTake
		}
		if patch.Notes != nil {
			in.Notes = *patch.Notes
		}
		if patch.TimeSlots != nil {
			in.TimeSlots = patch.TimeSlots
		}

		next, err := buildSchedule(in)
		if err != nil {
			return err
		}
		next.EngineModel = existing.EngineModel
		next.MedicationID = existing.MedicationID
		next.UserID = existing.UserID

		schedule, err = s.save(tx, next)
		return err
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (s *ScheduleService) save(tx *gorm.DB, schedule *models.Schedule) (*models.Schedule, error) {
	if err := s.checkDuplicate(tx, schedule, schedule.ID); err != nil {
		return nil, err
	}

	err := tx.Model(&models.Schedule{}).Where("id = ?", schedule.ID).Updates(map[string]any{
		"frequency":    schedule.Frequency,
		"start_date":   schedule.StartDate,
		"end_date":     schedule.EndDate,
		"when_to_take": schedule.WhenToTake,
		"notes":        schedule.Notes,
	}).Error
	if err != nil {
		return nil, apperrors.Storage("update schedule", err)
	}

	if err := tx.Where("schedule_id = ?", schedule.ID).Delete(&models.TimeSlot{}).Error; err != nil {
		return nil, apperrors.Storage("delete time slots", err)
	}
	for i := range schedule.Times {
		schedule.Times[i].ScheduleID = schedule.ID
	}
	if len(schedule.Times) > 0 {
		if err := tx.Create(&schedule.Times).Error; err != nil {
			return nil, apperrors.Storage("create time slots", err)
		}
	}
	return s.ownedSchedule(tx, schedule.ID, schedule.UserID)
}

// GetSchedule returns one schedule with its time slots.
func (s *ScheduleService) GetSchedule(ctx context.Context, scheduleID uint, userID string) (*models.Schedule, error) {
	return s.ownedSchedule(s.db.WithContext(ctx), scheduleID, userID)
}

// ListSchedules returns the schedules of one of the caller's medications.
func (s *ScheduleService) ListSchedules(ctx context.Context, medicationID uint, userID string) ([]models.Schedule, error) {
	db := s.db.WithContext(ctx)
	if _, err := ownedMedication(db, medicationID, userID); err != nil {
		return nil, err
	}
	var schedules []models.Schedule
	err := db.Preload("Times", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("medication_id = ?", medicationID).
		Order("start_date ASC, id ASC").
		Find(&schedules).Error
	if err != nil {
		return nil, apperrors.Storage("list schedules", err)
	}
	return schedules, nil
}

// DeleteSchedule removes a schedule and its time slots. Materialized
// reminders keep existing.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, scheduleID uint, userID string) error {
	return s.transaction(ctx, "delete schedule", func(tx *gorm.DB) error {
		if _, err := s.ownedSchedule(tx, scheduleID, userID); err != nil {
			return err
		}
		if err := tx.Where("schedule_id = ?", scheduleID).Delete(&models.TimeSlot{}).Error; err != nil {
			return apperrors.Storage("delete time slots", err)
		}
		if err := tx.Delete(&models.Schedule{}, scheduleID).Error; err != nil {
			return apperrors.Storage("delete schedule", err)
		}
		return nil
	})
}

func (s *ScheduleService) ownedSchedule(tx *gorm.DB, scheduleID uint, userID string) (*models.Schedule, error) {
	var schedule models.Schedule
	err := tx.Preload("Times", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("id = ? AND user_id = ?", scheduleID, userID).
		First(&schedule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("schedule", scheduleID)
	}
	if err != nil {
		return nil, apperrors.Storage("load schedule", err)
	}
	return &schedule, nil
}

// checkDuplicate rejects a schedule identical to another one of the same
// medication. Overlapping but different schedules are fine.
func (s *ScheduleService) checkDuplicate(tx *gorm.DB, schedule *models.Schedule, exceptID uint) error {
	var candidates []models.Schedule
	q := tx.Preload("Times").
		Where("medication_id = ? AND frequency = ? AND start_date = ?",
			schedule.MedicationID, schedule.Frequency, schedule.StartDate)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Find(&candidates).Error; err != nil {
		return apperrors.Storage("check duplicate schedule", err)
	}

	want := slotSignature(schedule.Times)
	for _, c := range candidates {
		if stringOr(c.EndDate, "") != stringOr(schedule.EndDate, "") {
			continue
		}
		if slotSignature(c.Times) == want {
			return apperrors.NewConflictError("an identical schedule already exists (id %d)", c.ID)
		}
	}
	return nil
}

// buildSchedule validates and normalizes a schedule definition.
func buildSchedule(in ScheduleInput) (*models.Schedule, error) {
	if !in.Frequency.Valid() {
		return nil, apperrors.NewValidationError("frequency", fmt.Sprintf("unknown frequency %q", in.Frequency))
	}
	if in.StartDate == "" {
		return nil, apperrors.NewValidationError("startDate", "is required")
	}
	start, err := datetime.NormalizeDate("startDate", in.StartDate)
	if err != nil {
		return nil, err
	}

	var end *string
	if in.EndDate != nil && *in.EndDate != "" {
		e, err := datetime.NormalizeDate("endDate", *in.EndDate)
		if err != nil {
			return nil, err
		}
		if datetime.CompareDates(e, start) < 0 {
			return nil, apperrors.NewValidationError("endDate", "must not be before startDate")
		}
		end = &e
	}

	if len(in.TimeSlots) == 0 && in.Frequency != models.FrequencyAsNeeded {
		return nil, apperrors.NewValidationError("timeSlots", "at least one time slot is required")
	}

	slots := make([]models.TimeSlot, 0, len(in.TimeSlots))
	for i, slot := range in.TimeSlots {
		field := fmt.Sprintf("timeSlots[%d]", i)
		label := strings.ToLower(strings.TrimSpace(slot.Label))
		var clock *string
		switch {
		case slot.Time != nil && *slot.Time != "":
			t, err := datetime.NormalizeTime(field+".time", *slot.Time)
			if err != nil {
				return nil, err
			}
			clock = &t
		case labelTimes[label] != "" && in.Frequency != models.FrequencyAsNeeded:
			t := labelTimes[label]
			clock = &t
		case in.Frequency != models.FrequencyAsNeeded:
			return nil, apperrors.NewValidationError(field, "needs a time or a known label")
		}
		slots = append(slots, models.TimeSlot{Label: label, Time: clock, Dosage: strings.TrimSpace(slot.Dosage)})
	}

	return &models.Schedule{
		Frequency:  in.Frequency,
		StartDate:  start,
		EndDate:    end,
		WhenToTake: strings.TrimSpace(in.WhenToTake),
		Notes:      in.Notes,
		Times:      slots,
	}, nil
}

func slotInputs(slots []models.TimeSlot) []TimeSlotInput {
	inputs := make([]TimeSlotInput, len(slots))
	for i, slot := range slots {
		inputs[i] = TimeSlotInput{Label: slot.Label, Time: slot.Time, Dosage: slot.Dosage}
	}
	return inputs
}

func slotSignature(slots []models.TimeSlot) string {
	parts := make([]string, len(slots))
	for i, slot := range slots {
		parts[i] = slot.Label + "@" + stringOr(slot.Time, "-") + "#" + slot.Dosage
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}

// IsDue reports whether the schedule produces doses on date.
func IsDue(schedule *models.Schedule, date string) (bool, error) {
	if !datetime.IsCanonicalDate(date) {
		return false, apperrors.NewValidationError("date", fmt.Sprintf("invalid date %q", date))
	}
	if datetime.CompareDates(date, schedule.StartDate) < 0 {
		return false, nil
	}
	if schedule.EndDate != nil && datetime.CompareDates(date, *schedule.EndDate) > 0 {
		return false, nil
	}

	switch schedule.Frequency {
	case models.FrequencyDaily:
		return true, nil
	case models.FrequencyWeekly:
		a, err := datetime.Weekday(schedule.StartDate)
		if err != nil {
			return false, err
		}
		b, err := datetime.Weekday(date)
		if err != nil {
			return false, err
		}
		return a == b, nil
	case models.FrequencyEveryOtherDay:
		days, err := datetime.DaysBetween(schedule.StartDate, date)
		if err != nil {
			return false, err
		}
		return days%2 == 0, nil
	case models.FrequencyMonthly:
		a, err := datetime.DayOfMonth(schedule.StartDate)
		if err != nil {
			return false, err
		}
		b, err := datetime.DayOfMonth(date)
		if err != nil {
			return false, err
		}
		return a == b, nil
	default:
		return false, nil
	}
}
