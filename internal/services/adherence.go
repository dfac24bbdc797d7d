package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/datetime"
	"medication-adherence-server/internal/models"
)

// AdherenceService owns the per-dose status state machine and the history it
// produces.
type AdherenceService struct {
	base
	medications *MedicationService
}

// StatusResult is returned after a dose transition.
type StatusResult struct {
	ReminderMedication models.ReminderMedication `json:"reminderMedication"`
	ReminderStatus     models.ReminderStatus     `json:"reminderStatus"`
	Completed          bool                      `json:"completed"`
	RemainingQuantity  *int                      `json:"remainingQuantity,omitempty"`
	LowStock           bool                      `json:"lowStock"`
}

// HistoryFilters narrows ListHistory. Zero values mean no filter.
type HistoryFilters struct {
	MedicationID uint
	From         string
	To           string
}

// StatusCounts tallies doses per status.
type StatusCounts struct {
	Pending int `json:"pending"`
	Taken   int `json:"taken"`
	Skipped int `json:"skipped"`
	Missed  int `json:"missed"`
}

func (c *StatusCounts) add(status models.DoseStatus, n int) {
	switch status {
	case models.DoseStatusPending:
		c.Pending += n
	case models.DoseStatusTaken:
		c.Taken += n
	case models.DoseStatusSkipped:
		c.Skipped += n
	case models.DoseStatusMissed:
		c.Missed += n
	}
}

// Rate is taken over resolved doses, or 0 when nothing is resolved yet.
func (c StatusCounts) Rate() float64 {
	resolved := c.Taken + c.Skipped + c.Missed
	if resolved == 0 {
		return 0
	}
	return float64(c.Taken) / float64(resolved)
}

// MedicationAdherence is the per-medication part of a summary.
type MedicationAdherence struct {
	MedicationID  uint         `json:"medicationId"`
	Name          string       `json:"name"`
	Counts        StatusCounts `json:"counts"`
	AdherenceRate float64      `json:"adherenceRate"`
}

// AdherenceSummary aggregates dose statuses over a date window.
type AdherenceSummary struct {
	From          string                `json:"from"`
	To            string                `json:"to"`
	Counts        StatusCounts          `json:"counts"`
	AdherenceRate float64               `json:"adherenceRate"`
	Medications   []MedicationAdherence `json:"medications"`
}

// SetStatus transitions one dose of a reminder. A transition to taken writes
// a history entry and decrements inventory by one, all in the same
// transaction as the status change and the reminder's completion update.
//
// Any status may follow any other, including taken after taken. Every call
// with taken writes history and decrements again, and leaving taken undoes
// neither.
func (s *AdherenceService) SetStatus(ctx context.Context, reminderID, reminderMedicationID uint, userID string, status models.DoseStatus, notes *string) (*StatusResult, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("status", fmt.Sprintf("unknown status %q: expected pending, taken, skipped or missed", status))
	}

	result := &StatusResult{}
	err := s.transaction(ctx, "set dose status", func(tx *gorm.DB) error {
		// Sibling doses of one reminder serialize here, before any dose is read.
		reminder, err := lockReminder(tx, reminderID, userID)
		if err != nil {
			return err
		}

		var dose models.ReminderMedication
		err = tx.Where("id = ? AND reminder_id = ?", reminderMedicationID, reminderID).First(&dose).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("reminder medication", reminderMedicationID)
		}
		if err != nil {
			return apperrors.Storage("load reminder medication", err)
		}

		updates := map[string]any{"status": status, "taken_at": nil}
		if status == models.DoseStatusTaken {
			updates["taken_at"] = s.now()
		}
		if notes != nil {
			updates["notes"] = *notes
		}
		if err := tx.Model(&dose).Omit("Medication").Updates(updates).Error; err != nil {
			return apperrors.Storage("update reminder medication", err)
		}

		if status == models.DoseStatusTaken {
			entry := models.HistoryEntry{
				UserID:               userID,
				MedicationID:         dose.MedicationID,
				ReminderMedicationID: dose.ID,
				Date:                 reminder.Date,
				ScheduledTime:        dose.ScheduledTime,
				Status:               models.DoseStatusTaken,
				Notes:                stringOr(notes, dose.Notes),
			}
			if err := tx.Create(&entry).Error; err != nil {
				return apperrors.Storage("append history", err)
			}

			inv, err := s.medications.adjustInventory(tx, dose.MedicationID, -1)
			if err != nil {
				return err
			}
			result.RemainingQuantity = &inv.RemainingQuantity
			result.LowStock = inv.IsLowStock()
		}

		completed, err := recomputeCompletion(tx, reminder)
		if err != nil {
			return err
		}
		result.Completed = completed
		result.ReminderStatus = models.ReminderStatusPending
		if completed {
			result.ReminderStatus = models.ReminderStatusCompleted
		}

		if err := tx.First(&result.ReminderMedication, dose.ID).Error; err != nil {
			return apperrors.Storage("reload reminder medication", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug("dose status changed",
		zap.String("user_id", userID),
		zap.Uint("reminder_id", reminderID),
		zap.Uint("reminder_medication_id", reminderMedicationID),
		zap.String("status", string(status)),
		zap.Bool("completed", result.Completed))
	return result, nil
}

// recomputeCompletion sets the reminder to completed exactly when every dose
// under it is terminal, and back to pending otherwise.
func recomputeCompletion(tx *gorm.DB, reminder *models.Reminder) (bool, error) {
	var doses []models.ReminderMedication
	if err := tx.Select("id", "status").Where("reminder_id = ?", reminder.ID).Find(&doses).Error; err != nil {
		return false, apperrors.Storage("load reminder doses", err)
	}
	completed := models.AllTerminal(doses)
	status := models.ReminderStatusPending
	if completed {
		status = models.ReminderStatusCompleted
	}
	if reminder.Status != status {
		if err := tx.Model(reminder).Update("status", status).Error; err != nil {
			return false, apperrors.Storage("update reminder status", err)
		}
	}
	return completed, nil
}

// ListHistory returns the caller's history entries, newest first.
func (s *AdherenceService) ListHistory(ctx context.Context, userID string, filters HistoryFilters) ([]models.HistoryEntry, error) {
	from, to, err := normalizeWindow(filters.From, filters.To, false)
	if err != nil {
		return nil, err
	}

	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if filters.MedicationID != 0 {
		q = q.Where("medication_id = ?", filters.MedicationID)
	}
	if from != "" {
		q = q.Where("date >= ?", from)
	}
	if to != "" {
		q = q.Where("date <= ?", to)
	}

	entries := []models.HistoryEntry{}
	if err := q.Order("date DESC, created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, apperrors.Storage("list history", err)
	}
	return entries, nil
}

type statusCountRow struct {
	MedicationID uint
	Name         string
	Status       models.DoseStatus
	Total        int
}

// AdherenceSummary counts dose statuses of reminders dated within [from, to].
func (s *AdherenceService) AdherenceSummary(ctx context.Context, userID, from, to string) (*AdherenceSummary, error) {
	from, to, err := normalizeWindow(from, to, true)
	if err != nil {
		return nil, err
	}

	var rows []statusCountRow
	err = s.db.WithContext(ctx).
		Table("reminder_medications AS rm").
		Select("rm.medication_id AS medication_id, m.name AS name, rm.status AS status, COUNT(*) AS total").
		Joins("JOIN reminders r ON r.id = rm.reminder_id").
		Joins("JOIN medications m ON m.id = rm.medication_id").
		Where("r.user_id = ? AND r.date >= ? AND r.date <= ?", userID, from, to).
		Group("rm.medication_id, m.name, rm.status").
		Order("rm.medication_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, apperrors.Storage("summarize adherence", err)
	}

	summary := &AdherenceSummary{From: from, To: to, Medications: []MedicationAdherence{}}
	index := map[uint]int{}
	for _, row := range rows {
		summary.Counts.add(row.Status, row.Total)
		i, ok := index[row.MedicationID]
		if !ok {
			i = len(summary.Medications)
			index[row.MedicationID] = i
			summary.Medications = append(summary.Medications, MedicationAdherence{MedicationID: row.MedicationID, Name: row.Name})
		}
		summary.Medications[i].Counts.add(row.Status, row.Total)
	}
	summary.AdherenceRate = summary.Counts.Rate()
	for i := range summary.Medications {
		summary.Medications[i].AdherenceRate = summary.Medications[i].Counts.Rate()
	}
	return summary, nil
}

// normalizeWindow validates an optional (or, with required, mandatory) date window.
func normalizeWindow(from, to string, required bool) (string, string, error) {
	if required && from == "" {
		return "", "", apperrors.NewValidationError("from", "is required")
	}
	var err error
	if from != "" {
		if from, err = datetime.NormalizeDate("from", from); err != nil {
			return "", "", err
		}
	}
	if to != "" {
		if to, err = datetime.NormalizeDate("to", to); err != nil {
			return "", "", err
		}
	} else if required {
		to = from
	}
	if from != "" && to != "" && datetime.CompareDates(to, from) < 0 {
		return "", "", apperrors.NewValidationError("to", "must not be before from")
	}
	return from, to, nil
}
