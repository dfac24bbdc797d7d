package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/services"
	"medication-adherence-server/internal/utils"
)

// ScheduleHandler serves the recurring schedules of medications.
type ScheduleHandler struct {
	Svc *services.Services
	Log *zap.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(svc *services.Services, log *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{Svc: svc, Log: log}
}

// TimeSlotRequest is one time of day of a schedule.
type TimeSlotRequest struct {
	Label  string  `json:"label"`
	Time   *string `json:"time" binding:"omitempty,clock_time"`
	Dosage string  `json:"dosage"`
}

// ScheduleRequest describes a whole schedule.
type ScheduleRequest struct {
	Frequency  string            `json:"frequency" binding:"required,oneof=daily weekly every_other_day monthly as_needed"`
	StartDate  string            `json:"startDate" binding:"required,canonical_date"`
	EndDate    *string           `json:"endDate" binding:"omitempty,canonical_date"`
	WhenToTake string            `json:"whenToTake"`
	Notes      string            `json:"notes"`
	TimeSlots  []TimeSlotRequest `json:"timeSlots" binding:"dive"`
}

func (r *ScheduleRequest) input() services.ScheduleInput {
	return services.ScheduleInput{
		Frequency:  models.Frequency(r.Frequency),
		StartDate:  r.StartDate,
		EndDate:    r.EndDate,
		WhenToTake: r.WhenToTake,
		Notes:      r.Notes,
		TimeSlots:  slotInputs(r.TimeSlots),
	}
}

func slotInputs(slots []TimeSlotRequest) []services.TimeSlotInput {
	if slots == nil {
		return nil
	}
	inputs := make([]services.TimeSlotInput, len(slots))
	for i, s := range slots {
		inputs[i] = services.TimeSlotInput{Label: s.Label, Time: s.Time, Dosage: s.Dosage}
	}
	return inputs
}

// SchedulePatchRequest is a partial schedule update. An empty endDate or
// clearEndDate removes the end date; timeSlots, when present, replaces all slots.
type SchedulePatchRequest struct {
	Frequency    *string           `json:"frequency" binding:"omitempty,oneof=daily weekly every_other_day monthly as_needed"`
	StartDate    *string           `json:"startDate" binding:"omitempty,canonical_date"`
	EndDate      *string           `json:"endDate"`
	ClearEndDate bool              `json:"clearEndDate"`
	WhenToTake   *string           `json:"whenToTake"`
	Notes        *string           `json:"notes"`
	TimeSlots    []TimeSlotRequest `json:"timeSlots" binding:"omitempty,dive"`
}

func (r *SchedulePatchRequest) patch() services.SchedulePatch {
	p := services.SchedulePatch{
		StartDate:    r.StartDate,
		EndDate:      r.EndDate,
		ClearEndDate: r.ClearEndDate,
		WhenToTake:   r.WhenToTake,
		Notes:        r.Notes,
		TimeSlots:    slotInputs(r.TimeSlots),
	}
	if r.Frequency != nil {
		f := models.Frequency(*r.Frequency)
		p.Frequency = &f
	}
	if r.EndDate != nil && *r.EndDate == "" {
		p.EndDate = nil
		p.ClearEndDate = true
	}
	return p
}

// GetSchedules handles GET /medications/:id/schedules.
func (h *ScheduleHandler) GetSchedules(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	medID, ok := idParam(c, "id")
	if !ok {
		return
	}
	schedules, err := h.Svc.Schedules.ListSchedules(c.Request.Context(), medID, userID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Schedules fetched successfully", schedules)
}

// CreateSchedule handles POST /medications/:id/schedules.
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	medID, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req ScheduleRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	schedule, err := h.Svc.Schedules.CreateSchedule(c.Request.Context(), userID, medID, req.input())
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Schedule created successfully", schedule)
}

// UpdateSchedule handles PUT /schedules/:id. Reminders already generated from
// the schedule are not touched.
func (h *ScheduleHandler) UpdateSchedule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req SchedulePatchRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	schedule, err := h.Svc.Schedules.UpdateSchedule(c.Request.Context(), id, userID, req.patch())
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Schedule updated successfully", schedule)
}

func (h *ScheduleHandler) DeleteSchedule(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.Svc.Schedules.DeleteSchedule(c.Request.Context(), id, userID); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Schedule deleted successfully", nil)
}
