package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medication-adherence-server/internal/services"
	"medication-adherence-server/internal/utils"
)

// AdherenceHandler serves the dose history and adherence summaries.
type AdherenceHandler struct {
	Svc *services.Services
	Log *zap.Logger
}

// NewAdherenceHandler creates a new AdherenceHandler.
func NewAdherenceHandler(svc *services.Services, log *zap.Logger) *AdherenceHandler {
	return &AdherenceHandler{Svc: svc, Log: log}
}

// HistoryQuery filters GET /history.
type HistoryQuery struct {
	MedicationID uint   `form:"medicationId" json:"medicationId"`
	From         string `form:"from" json:"from" binding:"omitempty,canonical_date"`
	To           string `form:"to" json:"to" binding:"omitempty,canonical_date"`
}

// GetHistory handles GET /history.
func (h *AdherenceHandler) GetHistory(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var q HistoryQuery
	if !utils.BindQuery(c, &q) {
		return
	}
	entries, err := h.Svc.Adherence.ListHistory(c.Request.Context(), userID, services.HistoryFilters{
		MedicationID: q.MedicationID,
		From:         q.From,
		To:           q.To,
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "History fetched successfully", entries)
}

// AdherenceQuery selects the window of GET /adherence.
type AdherenceQuery struct {
	From string `form:"from" json:"from" binding:"required,canonical_date"`
	To   string `form:"to" json:"to" binding:"omitempty,canonical_date"`
}

// GetAdherence handles GET /adherence?from&to.
func (h *AdherenceHandler) GetAdherence(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var q AdherenceQuery
	if !utils.BindQuery(c, &q) {
		return
	}
	summary, err := h.Svc.Adherence.AdherenceSummary(c.Request.Context(), userID, q.From, q.To)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Adherence summary fetched successfully", summary)
}
