package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/config"
	"medication-adherence-server/internal/middleware"
	"medication-adherence-server/internal/models"
	"medication-adherence-server/internal/utils"
)

const refreshCookie = "refresh_token"

// AuthHandler issues and revokes the tokens that identify the caller of every
// engine endpoint.
type AuthHandler struct {
	DB  *gorm.DB
	Cfg *config.Config
	Log *zap.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{DB: db, Cfg: cfg, Log: log}
}

// RegisterRequest represents the request body for user registration.
type RegisterRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
}

// Register handles user registration.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	var existing models.User
	err := h.DB.WithContext(c.Request.Context()).Where("email = ?", email).First(&existing).Error
	if err == nil {
		utils.HandleError(c, h.Log, apperrors.NewConflictError("user with this email already exists"))
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		utils.HandleError(c, h.Log, apperrors.Storage("find user", err))
		return
	}

	user := models.User{FirstName: req.FirstName, LastName: req.LastName, Email: email}
	if err := user.SetPassword(req.Password); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		utils.HandleError(c, h.Log, apperrors.Storage("create user", err))
		return
	}

	h.Log.Info("user registered", zap.String("user_id", user.ID))
	utils.Created(c, "User registered successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken  string               `json:"accessToken"`
	RefreshToken string               `json:"refreshToken"`
	User         models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).
		Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.CheckPassword(req.Password)) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, apperrors.Storage("find user", err))
		return
	}

	access, refresh, err := h.issueTokens(c, h.DB, &user)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		User:         user.Sanitize(),
	})
}

// RefreshTokenRequest represents the request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshTokenResponse represents the response body for successful token refresh.
type RefreshTokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// RefreshToken rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	presented, err := c.Cookie(refreshCookie)
	if err != nil || presented == "" {
		var req RefreshTokenRequest
		if !utils.BindAndValidate(c, &req) {
			return
		}
		presented = req.RefreshToken
	}

	claims, err := utils.ValidateToken(presented, h.Cfg.JWTRefreshSecret)
	if err != nil {
		utils.Unauthorized(c, "Invalid refresh token")
		return
	}

	var resp RefreshTokenResponse
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var stored models.RefreshToken
		err := tx.Where("token = ? AND user_id = ?", presented, claims.UserID).First(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !stored.Usable(time.Now())) {
			return errUnusableToken
		}
		if err != nil {
			return apperrors.Storage("find refresh token", err)
		}

		var user models.User
		if err := tx.First(&user, "id = ?", claims.UserID).Error; err != nil {
			return apperrors.Storage("find user", err)
		}
		if err := tx.Model(&stored).Update("is_revoked", true).Error; err != nil {
			return apperrors.Storage("revoke refresh token", err)
		}

		resp.AccessToken, resp.RefreshToken, err = h.issueTokens(c, tx, &user)
		return err
	})
	if errors.Is(err, errUnusableToken) {
		utils.Unauthorized(c, "Refresh token not found, expired, or revoked")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	utils.Success(c, "Access token refreshed successfully", resp)
}

var errUnusableToken = errors.New("refresh token unusable")

// issueTokens signs a new token pair, stores the refresh token and sets it as
// an HTTP-only cookie.
func (h *AuthHandler) issueTokens(c *gin.Context, db *gorm.DB, user *models.User) (string, string, error) {
	access, refresh, err := utils.GenerateTokens(user, h.Cfg)
	if err != nil {
		return "", "", err
	}

	stored := models.RefreshToken{
		UserID:    user.ID,
		Token:     refresh,
		ExpiresAt: time.Now().Add(time.Duration(h.Cfg.JWTRefreshExpirationHours) * time.Hour),
	}
	if err := db.WithContext(c.Request.Context()).Create(&stored).Error; err != nil {
		return "", "", apperrors.Storage("store refresh token", err)
	}

	c.SetCookie(refreshCookie, refresh, h.Cfg.JWTRefreshExpirationHours*60*60, "/", "", !h.Cfg.IsDevelopment(), true)
	return access, refresh, nil
}

// LogoutRequest represents the request body for user logout.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Logout revokes the presented refresh token. Unknown or already revoked
// tokens are not an error.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req LogoutRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	userID, _ := middleware.GetUserIDFromContext(c)

	err := h.DB.WithContext(c.Request.Context()).
		Model(&models.RefreshToken{}).
		Where("token = ? AND user_id = ? AND is_revoked = ?", req.RefreshToken, userID, false).
		Updates(map[string]any{"is_revoked": true, "expires_at": time.Now()}).Error
	if err != nil {
		utils.HandleError(c, h.Log, apperrors.Storage("revoke refresh token", err))
		return
	}

	c.SetCookie(refreshCookie, "", -1, "/", "", !h.Cfg.IsDevelopment(), true)
	utils.Success(c, "Logout successful. Refresh token has been invalidated.", nil)
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var user models.User
	err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.NotFound(c, "User profile not found")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, apperrors.Storage("find user", err))
		return
	}

	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}
