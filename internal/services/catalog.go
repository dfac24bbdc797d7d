package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/datetime"
	"medication-adherence-server/internal/models"
)

// MedicationService owns medication definitions and their inventory counters.
type MedicationService struct {
	base
	schedules *ScheduleService
}

// MedicationAttrs carries medication attributes. Nil fields are left untouched
// on update and defaulted on create.
type MedicationAttrs struct {
	Name             *string
	Dosage           *string
	Icon             *string
	Color            *string
	Description      *string
	SideEffects      *string
	ActiveIngredient *string
}

// InventoryInput sets inventory fields. Nil fields keep their current value.
type InventoryInput struct {
	RemainingQuantity *int
	Unit              *string
	RefillThreshold   *int
	LastRefillDate    *string
}

// MedicationBundle is a medication together with optional inventory and
// schedule blocks, saved in one transaction. With ScheduleID set the schedule
// block replaces that schedule, otherwise it creates a new one.
type MedicationBundle struct {
	Attrs      MedicationAttrs
	Inventory  *InventoryInput
	Schedule   *ScheduleInput
	ScheduleID *uint
}

// MedicationDetail is a medication with its inventory and schedules merged.
type MedicationDetail struct {
	models.Medication
	LowStock bool `json:"lowStock"`
}

func newDetail(med models.Medication) MedicationDetail {
	return MedicationDetail{
		Medication: med,
		LowStock:   med.Inventory != nil && med.Inventory.IsLowStock(),
	}
}

// CreateMedication creates a medication owned by userID.
func (s *MedicationService) CreateMedication(ctx context.Context, userID string, attrs MedicationAttrs) (*models.Medication, error) {
	var med *models.Medication
	err := s.transaction(ctx, "create medication", func(tx *gorm.DB) error {
		var err error
		med, err = s.createMedication(tx, userID, attrs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return med, nil
}

func (s *MedicationService) createMedication(tx *gorm.DB, userID string, attrs MedicationAttrs) (*models.Medication, error) {
	if attrs.Name == nil || strings.TrimSpace(*attrs.Name) == "" {
		return nil, apperrors.NewValidationError("name", "is required")
	}
	med := models.Medication{
		UserID:           userID,
		Name:             strings.TrimSpace(*attrs.Name),
		Dosage:           stringOr(attrs.Dosage, ""),
		Icon:             stringOr(attrs.Icon, models.DefaultMedicationIcon),
		Color:            stringOr(attrs.Color, models.DefaultMedicationColor),
		Description:      stringOr(attrs.Description, ""),
		SideEffects:      stringOr(attrs.SideEffects, ""),
		ActiveIngredient: stringOr(attrs.ActiveIngredient, ""),
	}
	if med.Icon == "" {
		med.Icon = models.DefaultMedicationIcon
	}
	if med.Color == "" {
		med.Color = models.DefaultMedicationColor
	}
	if err := tx.Create(&med).Error; err != nil {
		return nil, apperrors.Storage("create medication", err)
	}
	return &med, nil
}

// UpdateMedication applies a partial update. It fails with NotFoundError when
// the medication does not belong to userID. Schedules and reminders are not
// touched.
func (s *MedicationService) UpdateMedication(ctx context.Context, id uint, userID string, patch MedicationAttrs) (*models.Medication, error) {
	var med *models.Medication
	err := s.transaction(ctx, "update medication", func(tx *gorm.DB) error {
		var err error
		med, err = s.updateMedication(tx, id, userID, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	return med, nil
}

func (s *MedicationService) updateMedication(tx *gorm.DB, id uint, userID string, patch MedicationAttrs) (*models.Medication, error) {
	med, err := ownedMedication(tx, id, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name", "must not be empty")
		}
		updates["name"] = name
	}
	setIfPresent(updates, "dosage", patch.Dosage)
	setIfPresent(updates, "icon", patch.Icon)
	setIfPresent(updates, "color", patch.Color)
	setIfPresent(updates, "description", patch.Description)
	setIfPresent(updates, "side_effects", patch.SideEffects)
	setIfPresent(updates, "active_ingredient", patch.ActiveIngredient)

	if len(updates) > 0 {
		if err := tx.Model(med).Updates(updates).Error; err != nil {
			return nil, apperrors.Storage("update medication", err)
		}
	}
	return ownedMedication(tx, id, userID)
}

func setIfPresent(updates map[string]any, column string, value *string) {
	if value != nil {
		updates[column] = *value
	}
}

// SaveMedicationBundle creates (id == nil) or updates a medication, its
// inventory and optionally a new schedule, all or nothing.
func (s *MedicationService) SaveMedicationBundle(ctx context.Context, userID string, id *uint, bundle MedicationBundle) (*MedicationDetail, error) {
	if bundle.ScheduleID != nil && bundle.Schedule == nil {
		return nil, apperrors.NewValidationError("schedule", "is required with scheduleId")
	}

	var medID uint
	err := s.transaction(ctx, "save medication", func(tx *gorm.DB) error {
		var med *models.Medication
		var err error
		if id == nil {
			med, err = s.createMedication(tx, userID, bundle.Attrs)
		} else {
			med, err = s.updateMedication(tx, *id, userID, bundle.Attrs)
		}
		if err != nil {
			return err
		}
		medID = med.ID

		if bundle.Inventory != nil {
			if _, err := s.setInventory(tx, med.ID, *bundle.Inventory); err != nil {
				return err
			}
		}
		if bundle.Schedule != nil {
			if bundle.ScheduleID != nil {
				_, err = s.schedules.replaceSchedule(tx, *bundle.ScheduleID, userID, med.ID, *bundle.Schedule)
			} else {
				_, err = s.schedules.createSchedule(tx, userID, med.ID, *bundle.Schedule)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetMedication(ctx, medID, userID)
}

// GetMedication returns a medication with inventory and schedules.
func (s *MedicationService) GetMedication(ctx context.Context, id uint, userID string) (*MedicationDetail, error) {
	var med models.Medication
	err := s.preloadDetail(s.db.WithContext(ctx)).
		Where("id = ? AND user_id = ?", id, userID).
		First(&med).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewNotFoundError("medication", id)
	}
	if err != nil {
		return nil, apperrors.Storage("get medication", err)
	}
	detail := newDetail(med)
	return &detail, nil
}

// ListMedications returns the caller's medications with inventory and
// schedules merged, ordered by name.
func (s *MedicationService) ListMedications(ctx context.Context, userID string) ([]MedicationDetail, error) {
	var meds []models.Medication
	err := s.preloadDetail(s.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		Order("name ASC, id ASC").
		Find(&meds).Error
	if err != nil {
		return nil, apperrors.Storage("list medications", err)
	}
	details := make([]MedicationDetail, len(meds))
	for i, med := range meds {
		details[i] = newDetail(med)
	}
	return details, nil
}

// ListLowStock returns the caller's medications at or below their refill threshold.
func (s *MedicationService) ListLowStock(ctx context.Context, userID string) ([]MedicationDetail, error) {
	var meds []models.Medication
	err := s.preloadDetail(s.db.WithContext(ctx)).
		Joins("JOIN medication_inventory ON medication_inventory.medication_id = medications.id").
		Where("medications.user_id = ?", userID).
		Where("medication_inventory.remaining_quantity <= medication_inventory.refill_threshold").
		Order("medication_inventory.remaining_quantity ASC, medications.id ASC").
		Find(&meds).Error
	if err != nil {
		return nil, apperrors.Storage("list low stock", err)
	}
	details := make([]MedicationDetail, len(meds))
	for i, med := range meds {
		details[i] = newDetail(med)
	}
	return details, nil
}

func (s *MedicationService) preloadDetail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Inventory").
		Preload("Schedules", func(db *gorm.DB) *gorm.DB { return db.Order("start_date ASC, id ASC") }).
		Preload("Schedules.Times", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

// DeleteMedication removes a medication with its schedules and inventory.
// Medications still referenced by reminders or history cannot be deleted.
func (s *MedicationService) DeleteMedication(ctx context.Context, id uint, userID string) error {
	return s.transaction(ctx, "delete medication", func(tx *gorm.DB) error {
		if _, err := ownedMedication(tx, id, userID); err != nil {
			return err
		}

		var refs int64
		if err := tx.Model(&models.ReminderMedication{}).Where("medication_id = ?", id).Count(&refs).Error; err != nil {
			return apperrors.Storage("count reminder references", err)
		}
		if refs > 0 {
			return apperrors.NewConflictError("medication %d is referenced by %d reminder doses", id, refs)
		}
		if err := tx.Model(&models.HistoryEntry{}).Where("medication_id = ?", id).Count(&refs).Error; err != nil {
			return apperrors.Storage("count history references", err)
		}
		if refs > 0 {
			return apperrors.NewConflictError("medication %d has adherence history", id)
		}

		scheduleIDs := tx.Model(&models.Schedule{}).Select("id").Where("medication_id = ?", id)
		if err := tx.Where("schedule_id IN (?)", scheduleIDs).Delete(&models.TimeSlot{}).Error; err != nil {
			return apperrors.Storage("delete time slots", err)
		}
		if err := tx.Where("medication_id = ?", id).Delete(&models.Schedule{}).Error; err != nil {
			return apperrors.Storage("delete schedules", err)
		}
		if err := tx.Where("medication_id = ?", id).Delete(&models.InventoryRecord{}).Error; err != nil {
			return apperrors.Storage("delete inventory", err)
		}
		if err := tx.Delete(&models.Medication{}, id).Error; err != nil {
			return apperrors.Storage("delete medication", err)
		}
		return nil
	})
}

// AdjustInventory changes the remaining quantity by delta and returns the new
// quantity. Underflow clamps to zero. The inventory record is created with
// defaults on first use.
func (s *MedicationService) AdjustInventory(ctx context.Context, medicationID uint, delta int) (int, error) {
	var quantity int
	err := s.transaction(ctx, "adjust inventory", func(tx *gorm.DB) error {
		var med models.Medication
		if err := tx.Select("id").First(&med, medicationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NewNotFoundError("medication", medicationID)
			}
			return apperrors.Storage("load medication", err)
		}
		rec, err := s.adjustInventory(tx, medicationID, delta)
		if err != nil {
			return err
		}
		quantity = rec.RemainingQuantity
		return nil
	})
	return quantity, err
}

// AdjustInventoryForUser is AdjustInventory restricted to the owner.
func (s *MedicationService) AdjustInventoryForUser(ctx context.Context, medicationID uint, userID string, delta int) (*models.InventoryRecord, error) {
	var rec *models.InventoryRecord
	err := s.transaction(ctx, "adjust inventory", func(tx *gorm.DB) error {
		if _, err := ownedMedication(tx, medicationID, userID); err != nil {
			return err
		}
		var err error
		rec, err = s.adjustInventory(tx, medicationID, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// adjustInventory applies delta with a single conditional UPDATE so concurrent
// adjustments of the same medication serialize on the row.
func (s *MedicationService) adjustInventory(tx *gorm.DB, medicationID uint, delta int) (*models.InventoryRecord, error) {
	if err := s.ensureInventory(tx, medicationID); err != nil {
		return nil, err
	}

	err := tx.Model(&models.InventoryRecord{}).
		Where("medication_id = ?", medicationID).
		Update("remaining_quantity", gorm.Expr(
			"CASE WHEN remaining_quantity + ? < 0 THEN 0 ELSE remaining_quantity + ? END", delta, delta,
		)).Error
	if err != nil {
		return nil, apperrors.Storage("adjust inventory", err)
	}

	rec, err := loadInventory(tx, medicationID)
	if err != nil {
		return nil, err
	}
	if delta < 0 && rec.IsLowStock() {
		s.log.Info("medication inventory low",
			zap.Uint("medication_id", medicationID),
			zap.Int("remaining_quantity", rec.RemainingQuantity),
			zap.Int("refill_threshold", rec.RefillThreshold))
	}
	return rec, nil
}

// ensureInventory inserts a default inventory row unless one exists.
func (s *MedicationService) ensureInventory(tx *gorm.DB, medicationID uint) error {
	rec := models.InventoryRecord{
		MedicationID:      medicationID,
		RemainingQuantity: 0,
		Unit:              s.cfg.DefaultInventoryUnit,
		RefillThreshold:   s.cfg.DefaultRefillThreshold,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "medication_id"}},
		DoNothing: true,
	}).Create(&rec).Error
	if err != nil {
		return apperrors.Storage("create inventory", err)
	}
	return nil
}

func loadInventory(tx *gorm.DB, medicationID uint) (*models.InventoryRecord, error) {
	var rec models.InventoryRecord
	if err := tx.Where("medication_id = ?", medicationID).First(&rec).Error; err != nil {
		return nil, apperrors.Storage("load inventory", err)
	}
	return &rec, nil
}

// setInventory overwrites inventory fields from a medication bundle.
func (s *MedicationService) setInventory(tx *gorm.DB, medicationID uint, in InventoryInput) (*models.InventoryRecord, error) {
	if in.RemainingQuantity != nil && *in.RemainingQuantity < 0 {
		return nil, apperrors.NewValidationError("inventory.remainingQuantity", "must not be negative")
	}
	if in.RefillThreshold != nil && *in.RefillThreshold < 0 {
		return nil, apperrors.NewValidationError("inventory.refillThreshold", "must not be negative")
	}

	updates := map[string]any{}
	if in.RemainingQuantity != nil {
		updates["remaining_quantity"] = *in.RemainingQuantity
	}
	if in.Unit != nil && strings.TrimSpace(*in.Unit) != "" {
		updates["unit"] = strings.TrimSpace(*in.Unit)
	}
	if in.RefillThreshold != nil {
		updates["refill_threshold"] = *in.RefillThreshold
	}
	if in.LastRefillDate != nil {
		date, err := datetime.NormalizeDate("inventory.lastRefillDate", *in.LastRefillDate)
		if err != nil {
			return nil, err
		}
		updates["last_refill_date"] = date
	}

	if err := s.ensureInventory(tx, medicationID); err != nil {
		return nil, err
	}
	if len(updates) > 0 {
		err := tx.Model(&models.InventoryRecord{}).Where("medication_id = ?", medicationID).Updates(updates).Error
		if err != nil {
			return nil, apperrors.Storage("update inventory", err)
		}
	}
	return loadInventory(tx, medicationID)
}

// IsLowStock reports whether the medication is at or below its refill
// threshold. Medications without inventory tracking are never low.
func (s *MedicationService) IsLowStock(ctx context.Context, medicationID uint) (bool, error) {
	var rec models.InventoryRecord
	err := s.db.WithContext(ctx).Where("medication_id = ?", medicationID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Storage("load inventory", err)
	}
	return rec.IsLowStock(), nil
}

// RecordRefill adds quantity to the inventory and stamps the refill date.
// An empty date means today.
func (s *MedicationService) RecordRefill(ctx context.Context, medicationID uint, userID string, quantity int, date string) (*models.InventoryRecord, error) {
	if quantity <= 0 {
		return nil, apperrors.NewValidationError("quantity", "must be positive")
	}
	refillDate := datetime.Today(s.now)
	if date != "" {
		var err error
		if refillDate, err = datetime.NormalizeDate("date", date); err != nil {
			return nil, err
		}
	}

	var rec *models.InventoryRecord
	err := s.transaction(ctx, "record refill", func(tx *gorm.DB) error {
		if _, err := ownedMedication(tx, medicationID, userID); err != nil {
			return err
		}
		if _, err := s.adjustInventory(tx, medicationID, quantity); err != nil {
			return err
		}
		err := tx.Model(&models.InventoryRecord{}).
			Where("medication_id = ?", medicationID).
			Update("last_refill_date", refillDate).Error
		if err != nil {
			return apperrors.Storage("stamp refill date", err)
		}
		rec, err = loadInventory(tx, medicationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
