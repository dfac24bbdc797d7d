package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/middleware"
	"medication-adherence-server/internal/utils"
)

// currentUser returns the authenticated user id, writing a 401 when absent.
func currentUser(c *gin.Context) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
	}
	return userID, ok
}

// idParam parses a positive integer path parameter, writing a 400 on failure.
func idParam(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || id == 0 {
		utils.BadRequest(c, apperrors.NewValidationError(name, "invalid id "+strconv.Quote(raw)).Error())
		return 0, false
	}
	return uint(id), true
}
