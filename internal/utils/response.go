package utils

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medication-adherence-server/internal/apperrors"
)

// ResponseData represents the structure of a standard API response.
type ResponseData struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Success sends a standard success response.
func Success(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, ResponseData{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// Created sends a standard resource created response.
func Created(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, ResponseData{
		Status:  http.StatusCreated,
		Message: message,
		Data:    data,
	})
}

// Error sends a standard error response.
func Error(c *gin.Context, statusCode int, errorMessage string) {
	ErrorWithCode(c, statusCode, "", errorMessage)
}

// ErrorWithCode sends an error response carrying a stable error code.
func ErrorWithCode(c *gin.Context, statusCode int, code, errorMessage string) {
	c.JSON(statusCode, ResponseData{
		Status:  statusCode,
		Message: "An error occurred",
		Error:   errorMessage,
		Code:    code,
	})
}

// BadRequest sends a 400 Bad Request error response.
func BadRequest(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusBadRequest, apperrors.CodeValidation, errorMessage)
}

// Unauthorized sends a 401 Unauthorized error response.
func Unauthorized(c *gin.Context, errorMessage string) {
	Error(c, http.StatusUnauthorized, errorMessage)
}

// Forbidden sends a 403 Forbidden error response.
func Forbidden(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusForbidden, apperrors.CodeForbidden, errorMessage)
}

// NotFound sends a 404 Not Found error response.
func NotFound(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusNotFound, apperrors.CodeNotFound, errorMessage)
}

// InternalServerError sends a 500 Internal Server Error response.
func InternalServerError(c *gin.Context, errorMessage string) {
	ErrorWithCode(c, http.StatusInternalServerError, apperrors.CodeStorageError, errorMessage)
}

// HandleError maps an engine error onto its HTTP status. Storage failures are
// logged with their detail and reported to the client with a generic message.
func HandleError(c *gin.Context, log *zap.Logger, err error) {
	var (
		validation *apperrors.ValidationError
		authz      *apperrors.AuthorizationError
		notFound   *apperrors.NotFoundError
		conflict   *apperrors.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		BadRequest(c, validation.Error())
	case errors.As(err, &authz):
		Forbidden(c, authz.Error())
	case errors.As(err, &notFound):
		NotFound(c, notFound.Error())
	case errors.As(err, &conflict):
		ErrorWithCode(c, http.StatusConflict, apperrors.CodeConflict, conflict.Error())
	default:
		if log != nil {
			log.Error("request failed",
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Error(err))
		}
		InternalServerError(c, "internal server error")
	}
}
