package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/datetime"
	"medication-adherence-server/internal/models"
)

// ReminderService materializes reminders and serves them back.
type ReminderService struct {
	base
}

// ReminderEntryInput is one requested dose of a new reminder.
type ReminderEntryInput struct {
	MedicationID uint
	ScheduleTime *string
	Dosage       *string
	Notes        string
}

// CreateReminderInput describes an ad hoc reminder.
type CreateReminderInput struct {
	Date        string
	Title       string
	Description string
	Medications []ReminderEntryInput
}

// EntryOutcome reports how one requested dose fared.
type EntryOutcome struct {
	Index                int    `json:"index"`
	MedicationID         uint   `json:"medicationId"`
	OK                   bool   `json:"ok"`
	ReminderMedicationID uint   `json:"reminderMedicationId,omitempty"`
	Error                string `json:"error,omitempty"`
}

// CreateReminderResult is the reminder plus the per-entry outcome list.
// Callers must check Outcomes rather than assume every entry was bound.
type CreateReminderResult struct {
	Reminder *ReminderView  `json:"reminder"`
	Outcomes []EntryOutcome `json:"outcomes"`
}

// ReminderMedicationView is a dose with the medication display fields resolved.
type ReminderMedicationView struct {
	models.ReminderMedication
	Name             string `json:"name"`
	MedicationDosage string `json:"medicationDosage"`
	Icon             string `json:"icon"`
}

// ReminderView is a reminder with its doses.
type ReminderView struct {
	models.Reminder
	Medications []ReminderMedicationView `json:"medications"`
}

// ReminderFilters narrows GetReminders. Zero values mean no filter.
type ReminderFilters struct {
	Date   string
	Status models.ReminderStatus
}

// GenerationResult summarizes a schedule materialization run.
type GenerationResult struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Created     int    `json:"created"`
	Skipped     int    `json:"skipped"`
	ReminderIDs []uint `json:"reminderIds"`
}

const (
	// Sorts doses without a time after timed ones on every dialect.
	noTimeSentinel = "99:99:99"

	reminderOrder = "reminders.date DESC, " +
		"COALESCE((SELECT MIN(rm.scheduled_time) FROM reminder_medications rm WHERE rm.reminder_id = reminders.id), '" +
		noTimeSentinel + "') ASC, reminders.id ASC"
	doseOrder = "COALESCE(scheduled_time, '" + noTimeSentinel + "') ASC, id ASC"
)

// CreateReminder creates a reminder with its doses in one transaction.
// Entries that cannot be bound are skipped and reported; if none can be bound
// nothing is written.
func (s *ReminderService) CreateReminder(ctx context.Context, userID string, in CreateReminderInput) (*CreateReminderResult, error) {
	if strings.TrimSpace(in.Date) == "" {
		return nil, apperrors.NewValidationError("date", "is required")
	}
	date, err := datetime.NormalizeDate("date", in.Date)
	if err != nil {
		return nil, err
	}
	if len(in.Medications) == 0 {
		return nil, apperrors.NewValidationError("medications", "at least one medication entry is required")
	}

	var (
		reminderID uint
		outcomes   []EntryOutcome
	)
	err = s.transaction(ctx, "create reminder", func(tx *gorm.DB) error {
		reminder := models.Reminder{
			UserID:      userID,
			Date:        date,
			Title:       strings.TrimSpace(in.Title),
			Description: in.Description,
			Status:      models.ReminderStatusPending,
		}
		if err := tx.Create(&reminder).Error; err != nil {
			return apperrors.Storage("create reminder", err)
		}
		reminderID = reminder.ID

		outcomes = make([]EntryOutcome, 0, len(in.Medications))
		var failures []string
		for i, entry := range in.Medications {
			outcome := EntryOutcome{Index: i, MedicationID: entry.MedicationID}
			dose, err := s.bindEntry(tx, userID, reminder.ID, entry)
			if err != nil {
				if !apperrors.IsDomain(err) || errors.As(err, new(*apperrors.StorageError)) {
					return err
				}
				outcome.Error = err.Error()
				failures = append(failures, fmt.Sprintf("entry %d: %s", i, err))
				s.log.Warn("skipping reminder medication entry",
					zap.String("user_id", userID),
					zap.Uint("reminder_id", reminder.ID),
					zap.Int("index", i),
					zap.Uint("medication_id", entry.MedicationID),
					zap.Error(err))
			} else {
				outcome.OK = true
				outcome.ReminderMedicationID = dose.ID
			}
			outcomes = append(outcomes, outcome)
		}

		if len(failures) == len(in.Medications) {
			return apperrors.NewValidationError("medications", "no medication entry could be bound: "+strings.Join(failures, "; "))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := s.loadView(s.db.WithContext(ctx), reminderID)
	if err != nil {
		return nil, err
	}
	return &CreateReminderResult{Reminder: view, Outcomes: outcomes}, nil
}

// bindEntry validates one entry and attaches it to the reminder.
func (s *ReminderService) bindEntry(tx *gorm.DB, userID string, reminderID uint, entry ReminderEntryInput) (*models.ReminderMedication, error) {
	if entry.MedicationID == 0 {
		return nil, apperrors.NewValidationError("medicationId", "is required")
	}
	med, err := ownedMedication(tx, entry.MedicationID, userID)
	if err != nil {
		return nil, err
	}

	var scheduled *string
	if entry.ScheduleTime != nil && *entry.ScheduleTime != "" {
		t, err := datetime.NormalizeTime("scheduleTime", *entry.ScheduleTime)
		if err != nil {
			return nil, err
		}
		scheduled = &t
	}

	dose := models.ReminderMedication{
		ReminderID:    reminderID,
		MedicationID:  med.ID,
		ScheduledTime: scheduled,
		Dosage:        stringOr(entry.Dosage, med.Dosage),
		Status:        models.DoseStatusPending,
		Notes:         entry.Notes,
	}
	if err := tx.Omit("Medication").Create(&dose).Error; err != nil {
		return nil, apperrors.Storage("create reminder medication", err)
	}
	return &dose, nil
}

// GetReminders validates the filters and returns a lazy sequence of the
// caller's reminders, newest date first and earliest dose first within a
// date. Each range over the sequence reads storage again page by page, and
// never modifies anything.
func (s *ReminderService) GetReminders(ctx context.Context, userID string, filters ReminderFilters) (iter.Seq2[ReminderView, error], error) {
	date := ""
	if filters.Date != "" {
		var err error
		if date, err = datetime.NormalizeDate("date", filters.Date); err != nil {
			return nil, err
		}
	}
	switch filters.Status {
	case "", models.ReminderStatusPending, models.ReminderStatusCompleted:
	default:
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown reminder status %q", filters.Status))
	}

	pageSize := s.cfg.ReminderPageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	return func(yield func(ReminderView, error) bool) {
		for offset := 0; ; offset += pageSize {
			if err := ctx.Err(); err != nil {
				yield(ReminderView{}, err)
				return
			}

			q := s.withDoses(s.db.WithContext(ctx)).Where("reminders.user_id = ?", userID)
			if date != "" {
				q = q.Where("reminders.date = ?", date)
			}
			if filters.Status != "" {
				q = q.Where("reminders.status = ?", filters.Status)
			}

			var page []models.Reminder
			if err := q.Order(reminderOrder).Limit(pageSize).Offset(offset).Find(&page).Error; err != nil {
				yield(ReminderView{}, apperrors.Storage("list reminders", err))
				return
			}
			for i := range page {
				if !yield(newReminderView(&page[i]), nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
		}
	}, nil
}

// CollectReminders drains a reminder sequence.
func CollectReminders(seq iter.Seq2[ReminderView, error]) ([]ReminderView, error) {
	views := []ReminderView{}
	for view, err := range seq {
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// GetReminder returns one of the caller's reminders.
func (s *ReminderService) GetReminder(ctx context.Context, reminderID uint, userID string) (*ReminderView, error) {
	db := s.db.WithContext(ctx)
	if _, err := ownedReminder(db, reminderID, userID); err != nil {
		return nil, err
	}
	return s.loadView(db, reminderID)
}

// DeleteReminder removes a reminder and its doses. Inventory already
// decremented and history already written stay as they are.
func (s *ReminderService) DeleteReminder(ctx context.Context, reminderID uint, userID string) error {
	return s.transaction(ctx, "delete reminder", func(tx *gorm.DB) error {
		if _, err := ownedReminder(tx, reminderID, userID); err != nil {
			return err
		}
		if err := tx.Where("reminder_id = ?", reminderID).Delete(&models.ReminderMedication{}).Error; err != nil {
			return apperrors.Storage("delete reminder medications", err)
		}
		if err := tx.Delete(&models.Reminder{}, reminderID).Error; err != nil {
			return apperrors.Storage("delete reminder", err)
		}
		return nil
	})
}

// GenerateFromSchedules materializes one reminder per due (schedule, date)
// pair in [from, to]. Pairs materialized earlier are skipped, never rebuilt.
func (s *ReminderService) GenerateFromSchedules(ctx context.Context, userID, from, to string) (*GenerationResult, error) {
	start, err := datetime.NormalizeDate("from", from)
	if err != nil {
		return nil, err
	}
	end := start
	if to != "" {
		if end, err = datetime.NormalizeDate("to", to); err != nil {
			return nil, err
		}
	}
	dates, err := datetime.DateRange(start, end)
	if err != nil {
		return nil, err
	}
	if len(dates) > s.cfg.MaxGenerationDays {
		return nil, apperrors.NewValidationError("to", fmt.Sprintf("window of %d days exceeds the limit of %d", len(dates), s.cfg.MaxGenerationDays))
	}

	result := &GenerationResult{From: start, To: end, ReminderIDs: []uint{}}
	err = s.transaction(ctx, "generate reminders", func(tx *gorm.DB) error {
		var schedules []models.Schedule
		err := tx.Preload("Times", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
			Where("user_id = ? AND frequency <> ?", userID, models.FrequencyAsNeeded).
			Where("start_date <= ?", end).
			Where("(end_date IS NULL OR end_date >= ?)", start).
			Order("id ASC").
			Find(&schedules).Error
		if err != nil {
			return apperrors.Storage("load schedules", err)
		}

		meds := map[uint]*models.Medication{}
		for _, date := range dates {
			for i := range schedules {
				schedule := &schedules[i]
				due, err := IsDue(schedule, date)
				if err != nil {
					return err
				}
				if !due || len(schedule.Times) == 0 {
					continue
				}

				var existing int64
				err = tx.Model(&models.Reminder{}).
					Where("schedule_id = ? AND date = ?", schedule.ID, date).
					Count(&existing).Error
				if err != nil {
					return apperrors.Storage("check materialized reminder", err)
				}
				if existing > 0 {
					result.Skipped++
					continue
				}

				med, ok := meds[schedule.MedicationID]
				if !ok {
					if med, err = ownedMedication(tx, schedule.MedicationID, userID); err != nil {
						return err
					}
					meds[schedule.MedicationID] = med
				}

				id, err := materialize(tx, userID, date, schedule, med)
				if err != nil {
					return err
				}
				result.Created++
				result.ReminderIDs = append(result.ReminderIDs, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("materialized reminders from schedules",
		zap.String("user_id", userID),
		zap.String("from", start),
		zap.String("to", end),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

func materialize(tx *gorm.DB, userID, date string, schedule *models.Schedule, med *models.Medication) (uint, error) {
	scheduleID := schedule.ID
	reminder := models.Reminder{
		UserID:      userID,
		Date:        date,
		Title:       med.Name,
		Description: schedule.WhenToTake,
		Status:      models.ReminderStatusPending,
		ScheduleID:  &scheduleID,
	}
	if err := tx.Create(&reminder).Error; err != nil {
		return 0, apperrors.Storage("create reminder", err)
	}

	doses := make([]models.ReminderMedication, len(schedule.Times))
	for i, slot := range schedule.Times {
		dosage := slot.Dosage
		if dosage == "" {
			dosage = med.Dosage
		}
		doses[i] = models.ReminderMedication{
			ReminderID:    reminder.ID,
			MedicationID:  med.ID,
			ScheduledTime: slot.Time,
			Dosage:        dosage,
			Status:        models.DoseStatusPending,
		}
	}
	if err := tx.Omit("Medication").Create(&doses).Error; err != nil {
		return 0, apperrors.Storage("create reminder medications", err)
	}
	return reminder.ID, nil
}

func (s *ReminderService) withDoses(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Medications", func(db *gorm.DB) *gorm.DB { return db.Order(doseOrder) }).
		Preload("Medications.Medication")
}

func (s *ReminderService) loadView(db *gorm.DB, reminderID uint) (*ReminderView, error) {
	var reminder models.Reminder
	if err := s.withDoses(db).First(&reminder, reminderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("reminder", reminderID)
		}
		return nil, apperrors.Storage("load reminder", err)
	}
	view := newReminderView(&reminder)
	return &view, nil
}

func newReminderView(r *models.Reminder) ReminderView {
	view := ReminderView{Reminder: *r, Medications: make([]ReminderMedicationView, len(r.Medications))}
	for i, dose := range r.Medications {
		view.Medications[i] = ReminderMedicationView{
			ReminderMedication: dose,
			Name:               dose.Medication.Name,
			MedicationDosage:   dose.Medication.Dosage,
			Icon:               dose.Medication.Icon,
		}
	}
	view.Reminder.Medications = nil
	return view
}
