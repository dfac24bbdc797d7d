package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/services"
	"medication-adherence-server/internal/utils"
)

// MedicationHandler serves the medication catalog.
type MedicationHandler struct {
	Svc *services.Services
	Log *zap.Logger
}

// NewMedicationHandler creates a new MedicationHandler.
func NewMedicationHandler(svc *services.Services, log *zap.Logger) *MedicationHandler {
	return &MedicationHandler{Svc: svc, Log: log}
}

// InventoryRequest is the optional inventory block of a medication payload.
type InventoryRequest struct {
	RemainingQuantity *int    `json:"remainingQuantity" binding:"omitempty,gte=0"`
	Unit              *string `json:"unit"`
	RefillThreshold   *int    `json:"refillThreshold" binding:"omitempty,gte=0"`
	LastRefillDate    *string `json:"lastRefillDate" binding:"omitempty,canonical_date"`
}

// MedicationRequest creates or updates a medication together with its
// inventory and one schedule.
type MedicationRequest struct {
	Name             *string           `json:"name"`
	Dosage           *string           `json:"dosage"`
	Icon             *string           `json:"icon"`
	Color            *string           `json:"color"`
	Description      *string           `json:"description"`
	SideEffects      *string           `json:"sideEffects"`
	ActiveIngredient *string           `json:"activeIngredient"`
	Inventory        *InventoryRequest `json:"inventory"`
	Schedule         *ScheduleRequest  `json:"schedule"`
	ScheduleID       *uint             `json:"scheduleId"`
}

func (r *MedicationRequest) bundle() services.MedicationBundle {
	b := services.MedicationBundle{
		Attrs: services.MedicationAttrs{
			Name:             r.Name,
			Dosage:           r.Dosage,
			Icon:             r.Icon,
			Color:            r.Color,
			Description:      r.Description,
			SideEffects:      r.SideEffects,
			ActiveIngredient: r.ActiveIngredient,
		},
		ScheduleID: r.ScheduleID,
	}
	if r.Inventory != nil {
		b.Inventory = &services.InventoryInput{
			RemainingQuantity: r.Inventory.RemainingQuantity,
			Unit:              r.Inventory.Unit,
			RefillThreshold:   r.Inventory.RefillThreshold,
			LastRefillDate:    r.Inventory.LastRefillDate,
		}
	}
	if r.Schedule != nil {
		in := r.Schedule.input()
		b.Schedule = &in
	}
	return b
}

// GetMedications lists the caller's medications with inventory and schedules.
func (h *MedicationHandler) GetMedications(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	meds, err := h.Svc.Medications.ListMedications(c.Request.Context(), userID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Medications fetched successfully", meds)
}

// GetLowStock lists medications at or below their refill threshold.
func (h *MedicationHandler) GetLowStock(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	meds, err := h.Svc.Medications.ListLowStock(c.Request.Context(), userID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Low stock medications fetched successfully", meds)
}

func (h *MedicationHandler) GetMedication(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	med, err := h.Svc.Medications.GetMedication(c.Request.Context(), id, userID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Medication fetched successfully", med)
}

// CreateMedication handles POST /medications.
func (h *MedicationHandler) CreateMedication(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req MedicationRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	med, err := h.Svc.Medications.SaveMedicationBundle(c.Request.Context(), userID, nil, req.bundle())
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Medication created successfully", med)
}

// UpdateMedication handles PUT /medications/:id. Omitted fields keep their
// values; a schedule block replaces scheduleId when given, else adds a schedule.
func (h *MedicationHandler) UpdateMedication(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req MedicationRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	med, err := h.Svc.Medications.SaveMedicationBundle(c.Request.Context(), userID, &id, req.bundle())
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Medication updated successfully", med)
}

func (h *MedicationHandler) DeleteMedication(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Svc.Medications.DeleteMedication(c.Request.Context(), id, userID); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Medication deleted successfully", nil)
}

// AdjustInventoryRequest carries a signed quantity change.
type AdjustInventoryRequest struct {
	Delta *int `json:"delta" binding:"required"`
}

// InventoryResponse reports an inventory record after a change.
type InventoryResponse struct {
	Inventory *models.InventoryRecord `json:"inventory"`
	LowStock  bool                    `json:"lowStock"`
}

// AdjustInventory handles PATCH /medications/:id/inventory.
func (h *MedicationHandler) AdjustInventory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req AdjustInventoryRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	rec, err := h.Svc.Medications.AdjustInventoryForUser(c.Request.Context(), id, userID, *req.Delta)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Inventory adjusted successfully", InventoryResponse{Inventory: rec, LowStock: rec.IsLowStock()})
}

// RefillRequest records a refill of quantity units on date (today if omitted).
type RefillRequest struct {
	Quantity int    `json:"quantity" binding:"required,gt=0"`
	Date     string `json:"date" binding:"omitempty,canonical_date"`
}

// RecordRefill handles POST /medications/:id/refill.
func (h *MedicationHandler) RecordRefill(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req RefillRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	rec, err := h.Svc.Medications.RecordRefill(c.Request.Context(), id, userID, req.Quantity, req.Date)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Refill recorded successfully", InventoryResponse{Inventory: rec, LowStock: rec.IsLowStock()})
}
