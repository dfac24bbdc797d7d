package utils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) ResponseData {
	t.Helper()
	var resp ResponseData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		msg    string
	}{
		{"validation", apperrors.NewValidationError("date", "is required"), http.StatusBadRequest, apperrors.CodeValidation, "date: is required"},
		{"authorization", apperrors.NewAuthorizationError("reminder", 7), http.StatusForbidden, apperrors.CodeForbidden, ""},
		{"not found", apperrors.NewNotFoundError("medication", 3), http.StatusNotFound, apperrors.CodeNotFound, ""},
		{"conflict", apperrors.NewConflictError("schedule already exists"), http.StatusConflict, apperrors.CodeConflict, "schedule already exists"},
		{"wrapped not found", errors.Join(errors.New("outer"), apperrors.NewNotFoundError("reminder", 1)), http.StatusNotFound, apperrors.CodeNotFound, ""},
		{"storage", apperrors.Storage("load reminder", errors.New("disk on fire")), http.StatusInternalServerError, apperrors.CodeStorageError, "internal server error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, apperrors.CodeStorageError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/reminders", nil)

			HandleError(c, zap.NewNop(), tt.err)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.code, resp.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, resp.Error)
			} else {
				assert.NotEmpty(t, resp.Error)
			}
		})
	}
}

func TestHandleError_StorageDetailIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPut, "/api/v1/reminders/1/medication/2", nil)

	HandleError(c, zap.New(core), apperrors.Storage("update reminder medication", errors.New("database is locked")))

	assert.NotContains(t, rec.Body.String(), "database is locked")
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request failed", entry.Message)
	assert.Contains(t, entry.ContextMap()["error"], "database is locked")
	assert.Equal(t, http.MethodPut, entry.ContextMap()["method"])
}

type sampleRequest struct {
	Date      string  `json:"date" binding:"required,canonical_date"`
	Time      *string `json:"time" binding:"omitempty,clock_time"`
	Frequency string  `json:"frequency" binding:"omitempty,oneof=daily weekly"`
	Quantity  int     `json:"quantity" binding:"omitempty,gt=0"`
}

func TestValidate_CustomTags(t *testing.T) {
	valid := "08:30"
	invalid := "25:00"
	tests := []struct {
		name  string
		req   sampleRequest
		field string
	}{
		{"ok", sampleRequest{Date: "2025-06-13", Time: &valid, Frequency: "daily"}, ""},
		{"missing date", sampleRequest{}, "date"},
		{"bad date", sampleRequest{Date: "2025-02-30"}, "date"},
		{"bad time", sampleRequest{Date: "2025-06-13", Time: &invalid}, "time"},
		{"bad frequency", sampleRequest{Date: "2025-06-13", Frequency: "hourly"}, "frequency"},
		{"negative quantity", sampleRequest{Date: "2025-06-13", Quantity: -1}, "quantity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr *apperrors.ValidationError
			require.ErrorAs(t, FormatValidationError(err), &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestMustRegister_PanicsOnBadRegistration(t *testing.T) {
	v := validator.New()
	assert.NotPanics(t, func() { mustRegister(v, "always", func(validator.FieldLevel) bool { return true }) })
	assert.PanicsWithValue(t, "register  validator: function Key cannot be empty", func() {
		mustRegister(v, "", func(validator.FieldLevel) bool { return true })
	})
}

func TestBindAndValidate(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		ok     bool
		substr string
	}{
		{"valid", `{"date":"2025-06-13","time":"08:00"}`, true, ""},
		{"malformed json", `{"date":`, false, "Invalid request payload"},
		{"bad date", `{"date":"13/06/2025"}`, false, "date: invalid date"},
		{"missing", `{}`, false, "date: is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(rec)
			c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req sampleRequest
			assert.Equal(t, tt.ok, BindAndValidate(c, &req))
			if tt.ok {
				assert.Equal(t, "2025-06-13", req.Date)
				return
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, apperrors.CodeValidation, resp.Code)
			assert.Contains(t, resp.Error, tt.substr)
		})
	}
}

func TestTokens(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:                 "access",
		JWTRefreshSecret:          "refresh",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 24,
	}
	user := &models.User{BaseModel: models.BaseModel{ID: "user-1"}}

	access, refresh, err := GenerateTokens(user, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)

	claims, err := ValidateToken(access, cfg.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Minute)

	claims, err = ValidateToken(refresh, cfg.JWTRefreshSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	_, err = ValidateToken(access, cfg.JWTRefreshSecret)
	assert.Error(t, err, "access token must not validate with the refresh secret")

	again, _, err := GenerateTokens(user, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, access, again)
}
