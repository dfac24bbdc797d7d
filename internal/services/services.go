// Package services implements the medication scheduling and adherence engine:
// the medication catalog, the schedule store, the reminder generator and the
// adherence tracker. Every date that enters a service goes through the
// datetime package first.
package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/models"
)

// Services bundles the engine components sharing one database handle.
type Services struct {
	Medications *MedicationService
	Schedules   *ScheduleService
	Reminders   *ReminderService
	Adherence   *AdherenceService
}

// New wires the engine components.
func New(db *gorm.DB, log *zap.Logger, cfg config.EngineConfig) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	b := base{db: db, log: log, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}

	schedules := &ScheduleService{base: b}
	medications := &MedicationService{base: b, schedules: schedules}
	return &Services{
		Medications: medications,
		Schedules:   schedules,
		Reminders:   &ReminderService{base: b},
		Adherence:   &AdherenceService{base: b, medications: medications},
	}
}

// SetClock replaces the clock of every component. Used by tests.
func (s *Services) SetClock(now func() time.Time) {
	s.Medications.now = now
	s.Schedules.now = now
	s.Reminders.now = now
	s.Adherence.now = now
}

type base struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.EngineConfig
	now func() time.Time
}

// transaction runs fn atomically. Errors from fn are returned as they are;
// a failing commit becomes a StorageError.
func (b *base) transaction(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := b.db.WithContext(ctx).Transaction(fn)
	if err != nil && !apperrors.IsDomain(err) {
		return apperrors.Storage(op, err)
	}
	return err
}

// ownedMedication loads a medication only if it belongs to userID.
func ownedMedication(tx *gorm.DB, id uint, userID string) (*models.Medication, error) {
	var med models.Medication
	err := tx.Where("id = ? AND user_id = ?", id, userID).First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("medication", id)
	}
	if err != nil {
		return nil, apperrors.Storage("load medication", err)
	}
	return &med, nil
}

// ownedReminder loads a reminder, distinguishing a missing reminder from one
// owned by another user.
func ownedReminder(tx *gorm.DB, id uint, userID string) (*models.Reminder, error) {
	var reminder models.Reminder
	err := tx.First(&reminder, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("reminder", id)
	}
	if err != nil {
		return nil, apperrors.Storage("load reminder", err)
	}
	if reminder.UserID != userID {
		return nil, apperrors.NewAuthorizationError("reminder", id)
	}
	return &reminder, nil
}

// lockReminder is ownedReminder under a row lock held until the transaction
// ends. SQLite has no row locks and serializes writers instead.
func lockReminder(tx *gorm.DB, id uint, userID string) (*models.Reminder, error) {
	return ownedReminder(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id, userID)
}

func stringOr(p *string, fallback string) string {
	if p == nil {
		return fallback
	}
	return *p
}
