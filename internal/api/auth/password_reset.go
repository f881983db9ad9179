package auth

import (
	"context"
	"net/http"
	"time"

	"saas-portal/internal/domain/users"
	"saas-portal/internal/infra/mail"
	"saas-portal/internal/service/passwordreset"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const forgotPasswordMessage = "If an account with that email exists, you'll receive a reset link."

// resetMailTimeout bounds a reset mail sent after the response.
const resetMailTimeout = 30 * time.Second

// resetFailure maps a failed lookup to what the reset page shows. A used
// token is indistinguishable from one never issued.
func resetFailure(r passwordreset.Reason) gin.H {
	switch r {
	case passwordreset.ReasonExpired:
		return gin.H{"valid": false, "reason": "expired", "error": "This reset link has expired. Please request a new one."}
	default:
		return gin.H{"valid": false, "reason": "invalid", "error": "This reset link is invalid or was already used. Please request a new one."}
	}
}

// POST /forgot-password
func (h *Handler) ForgotPassword(c *gin.Context) {
	var body struct {
		Email  string `json:"email" binding:"required,email"`
		Locale string `json:"locale"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email"})
		return
	}

	ctx := c.Request.Context()
	email := users.NormalizeEmail(body.Email)

	var found int64
	if err := h.d.DB.WithContext(ctx).
		Model(&users.User{}).
		Scopes(users.Credentials).
		Where("email = ?", email).
		Count(&found).Error; err != nil {
		h.d.Log.Error("Failed to look up user for password reset", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": forgotPasswordMessage})
		return
	}

	token, err := h.d.Resets.Issue(ctx, email)
	if err != nil {
		h.d.Log.Error("Failed to issue reset token", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"message": forgotPasswordMessage})
		return
	}

	// Mail goes out in the background so both paths take the same time.
	if found > 0 {
		link := mail.ResetLink(h.d.Config.AppURL, body.Locale, token)
		go h.sendResetMail(context.WithoutCancel(ctx), email, link)
	}

	c.JSON(http.StatusOK, gin.H{"message": forgotPasswordMessage})
}

func (h *Handler) sendResetMail(parent context.Context, email, link string) {
	ctx, cancel := context.WithTimeout(parent, resetMailTimeout)
	defer cancel()

	if err := h.d.Mailer.SendPasswordReset(ctx, email, link); err != nil {
		h.d.Log.Error("Failed to send password reset email",
			zap.Error(err),
			zap.Bool("alert", true),
		)
	}
}

// GET /reset-password/validate?token=
func (h *Handler) ValidateResetToken(c *gin.Context) {
	token := c.Query("token")
	if !passwordreset.ValidTokenFormat(token) {
		c.JSON(http.StatusBadRequest, resetFailure(passwordreset.ReasonNotFound))
		return
	}

	res, err := h.d.Resets.Validate(c.Request.Context(), token)
	if err != nil {
		h.d.Log.Error("Failed to validate reset token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !res.Valid {
		c.JSON(http.StatusBadRequest, resetFailure(res.Reason))
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "email": res.Email})
}

// POST /reset-password
func (h *Handler) ResetPassword(c *gin.Context) {
	var body struct {
		Token    string `json:"token" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if !passwordreset.ValidTokenFormat(body.Token) {
		c.JSON(http.StatusBadRequest, resetFailure(passwordreset.ReasonNotFound))
		return
	}
	if !isPasswordStrong(body.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters with letters and numbers"})
		return
	}

	hashed, err := hashPassword(body.Password)
	if err != nil {
		h.d.Log.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	res, err := h.d.Resets.Reset(c.Request.Context(), body.Token, hashed)
	if err != nil {
		h.d.Log.Error("Failed to reset password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !res.Valid {
		c.JSON(http.StatusBadRequest, resetFailure(res.Reason))
		return
	}

	h.d.Log.Info("Password reset completed", zap.String("email", res.Email))
	c.JSON(http.StatusOK, gin.H{"message": "Password reset successful"})
}
