package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/services"
	"medication-adherence-server/internal/utils"
)

// ReminderHandler serves reminders and dose status transitions.
type ReminderHandler struct {
	Svc *services.Services
	Log *zap.Logger
}

// NewReminderHandler creates a new ReminderHandler.
func NewReminderHandler(svc *services.Services, log *zap.Logger) *ReminderHandler {
	return &ReminderHandler{Svc: svc, Log: log}
}

// ReminderQuery filters GET /reminders.
type ReminderQuery struct {
	Date   string `form:"date" json:"date" binding:"omitempty,canonical_date"`
	Status string `form:"status" json:"status" binding:"omitempty,oneof=pending completed"`
}

// GetReminders handles GET /reminders?date&status.
func (h *ReminderHandler) GetReminders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var q ReminderQuery
	if !utils.BindQuery(c, &q) {
		return
	}

	seq, err := h.Svc.Reminders.GetReminders(c.Request.Context(), userID, services.ReminderFilters{
		Date:   q.Date,
		Status: models.ReminderStatus(q.Status),
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	reminders, err := services.CollectReminders(seq)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Reminders fetched successfully", reminders)
}

func (h *ReminderHandler) GetReminder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	reminder, err := h.Svc.Reminders.GetReminder(c.Request.Context(), id, userID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Reminder fetched successfully", reminder)
}

// ReminderEntryRequest is one requested dose. Entries are checked one by one
// by the service so a bad entry is reported in the outcomes, not as a 400.
type ReminderEntryRequest struct {
	MedicationID uint    `json:"medicationId"`
	ScheduleTime *string `json:"scheduleTime"`
	Dosage       *string `json:"dosage"`
	Notes        string  `json:"notes"`
}

// CreateReminderRequest represents the request body for an ad hoc reminder.
type CreateReminderRequest struct {
	Date        string                 `json:"date" binding:"required,canonical_date"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Medications []ReminderEntryRequest `json:"medications" binding:"required"`
}

// CreateReminder handles POST /reminders. The response lists an outcome per
// requested entry; entries that could not be bound are skipped.
func (h *ReminderHandler) CreateReminder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateReminderRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	entries := make([]services.ReminderEntryInput, len(req.Medications))
	for i, m := range req.Medications {
		entries[i] = services.ReminderEntryInput{
			MedicationID: m.MedicationID,
			ScheduleTime: m.ScheduleTime,
			Dosage:       m.Dosage,
			Notes:        m.Notes,
		}
	}
	result, err := h.Svc.Reminders.CreateReminder(c.Request.Context(), userID, services.CreateReminderInput{
		Date:        req.Date,
		Title:       req.Title,
		Description: req.Description,
		Medications: entries,
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	message := "Reminder created successfully"
	if len(result.Reminder.Medications) < len(entries) {
		message = "Reminder created with some medication entries skipped"
	}
	utils.Created(c, message, result)
}

func (h *ReminderHandler) DeleteReminder(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Svc.Reminders.DeleteReminder(c.Request.Context(), id, userID); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Reminder deleted successfully", nil)
}

// UpdateStatusRequest transitions one dose.
type UpdateStatusRequest struct {
	Status string  `json:"status" binding:"required"`
	Notes  *string `json:"notes"`
}

// UpdateMedicationStatus handles PUT /reminders/:id/medication/:medId, where
// medId is the id of the reminder medication entry.
func (h *ReminderHandler) UpdateMedicationStatus(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	reminderID, ok := idParam(c, "id")
	if !ok {
		return
	}
	entryID, ok := idParam(c, "medId")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	result, err := h.Svc.Adherence.SetStatus(c.Request.Context(), reminderID, entryID, userID, models.DoseStatus(req.Status), req.Notes)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Medication status updated successfully", result)
}

// GenerateRequest asks for reminders to be materialized from schedules.
type GenerateRequest struct {
	From string `json:"from" binding:"required,canonical_date"`
	To   string `json:"to" binding:"omitempty,canonical_date"`
}

// GenerateReminders handles POST /reminders/generate.
func (h *ReminderHandler) GenerateReminders(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req GenerateRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	result, err := h.Svc.Reminders.GenerateFromSchedules(c.Request.Context(), userID, req.From, req.To)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Reminders generated successfully", result)
}
