package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"regexp"
	"time"

	"saas-portal/internal"
	"saas-portal/internal/domain/users"
	"saas-portal/internal/infra/mail"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const verificationTTL = 24 * time.Hour

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

type Handler struct {
	d   *internal.Deps
	now func() time.Time
}

func New(d *internal.Deps) *Handler {
	return &Handler{d: d, now: time.Now}
}

func isPasswordStrong(password string) bool {
	if len(password) < 8 {
		return false
	}
	hasLetter := false
	hasDigit := false
	for _, c := range password {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
			hasLetter = true
		case '0' <= c && c <= '9':
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func isEmailValid(email string) bool {
	return emailPattern.MatchString(email)
}

func generateVerificationToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// POST /register
func (h *Handler) Register(c *gin.Context) {
	var input struct {
		Name     string `json:"name" binding:"required"`
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	email := users.NormalizeEmail(input.Email)
	if !isEmailValid(email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email format"})
		return
	}
	if !isPasswordStrong(input.Password) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Password must be at least 8 characters long and contain both letters and numbers"})
		return
	}

	hashed, err := hashPassword(input.Password)
	if err != nil {
		h.d.Log.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	token, err := generateVerificationToken()
	if err != nil {
		h.d.Log.Error("Failed to generate verification token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	user := users.User{
		Name:           input.Name,
		Email:          email,
		Password:       &hashed,
		SigninProvider: users.ProviderCredentials,
		Role:           users.RoleUser,
	}

	err = h.d.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&users.User{}).
			Where("email = ? AND signin_provider = ?", email, users.ProviderCredentials).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return errEmailTaken
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return tx.Create(&users.VerificationToken{
			UserID:    user.ID,
			Token:     token,
			ExpiresAt: h.now().Add(verificationTTL),
		}).Error
	})
	if errors.Is(err, errEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
		return
	}
	if err != nil {
		h.d.Log.Error("Failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create user"})
		return
	}

	link := mail.VerifyLink(h.d.Config.AppURL, token)
	if err := h.d.Mailer.SendVerification(c.Request.Context(), user.Email, link); err != nil {
		h.d.Log.Error("Failed to send verification email", zap.Error(err), zap.String("user_uuid", user.UUID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send verification email"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "User registered successfully. Please check your email to verify your account."})
}

var errEmailTaken = errors.New("email already registered")

// GET /verify?token=
func (h *Handler) VerifyEmail(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing token"})
		return
	}

	db := h.d.DB.WithContext(c.Request.Context())

	var vt users.VerificationToken
	err := db.Where("token = ?", token).First(&vt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
		return
	}
	if err != nil {
		h.d.Log.Error("Failed to look up verification token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if vt.Expired(h.now()) {
		db.Delete(&vt)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or expired token"})
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&users.User{}).Where("id = ?", vt.UserID).Update("is_verified", true).Error; err != nil {
			return err
		}
		return tx.Delete(&vt).Error
	})
	if err != nil {
		h.d.Log.Error("Failed to verify user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email verified successfully"})
}

// POST /resend-verification
func (h *Handler) ResendVerification(c *gin.Context) {
	var body struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid email"})
		return
	}

	generic := gin.H{"message": "If the account exists and is not verified, a new link was sent."}
	db := h.d.DB.WithContext(c.Request.Context())

	var user users.User
	err := db.Scopes(users.Credentials).Where("email = ?", users.NormalizeEmail(body.Email)).First(&user).Error
	if err != nil || user.IsVerified {
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			h.d.Log.Error("Failed to look up user", zap.Error(err))
		}
		c.JSON(http.StatusOK, generic)
		return
	}

	token, err := generateVerificationToken()
	if err != nil {
		h.d.Log.Error("Failed to generate verification token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).Delete(&users.VerificationToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&users.VerificationToken{
			UserID:    user.ID,
			Token:     token,
			ExpiresAt: h.now().Add(verificationTTL),
		}).Error
	})
	if err != nil {
		h.d.Log.Error("Failed to store verification token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store verification token"})
		return
	}

	if err := h.d.Mailer.SendVerification(c.Request.Context(), user.Email, mail.VerifyLink(h.d.Config.AppURL, token)); err != nil {
		h.d.Log.Error("Failed to send verification email", zap.Error(err), zap.String("user_uuid", user.UUID))
	}

	c.JSON(http.StatusOK, generic)
}

// POST /login
func (h *Handler) Login(c *gin.Context) {
	var input struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var user users.User
	err := h.d.DB.WithContext(c.Request.Context()).
		Scopes(users.Credentials).
		Where("email = ?", users.NormalizeEmail(input.Email)).
		First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.d.Log.Error("Failed to look up user", zap.Error(err))
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !user.HasPassword() ||
		bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(input.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	if !user.IsVerified {
		c.JSON(http.StatusForbidden, gin.H{"error": "Please verify your email before logging in"})
		return
	}

	tokenString, err := h.d.Tokens.Sign(&user)
	if err != nil {
		h.d.Log.Error("Failed to sign token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": tokenString})
}

// POST /change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	userID := c.GetUint("user_id")

	var body struct {
		OldPassword string `json:"old_password" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if !isPasswordStrong(body.NewPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password must be at least 8 characters with letters and numbers"})
		return
	}

	db := h.d.DB.WithContext(c.Request.Context())

	var user users.User
	if err := db.Scopes(users.Active).First(&user, userID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
		return
	}

	if !user.HasPassword() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "This account does not have a password. Sign in with Google instead.",
		})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(*user.Password), []byte(body.OldPassword)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Old password is incorrect"})
		return
	}

	hashed, err := hashPassword(body.NewPassword)
	if err != nil {
		h.d.Log.Error("Failed to hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if err := db.Model(&user).Update("password", hashed).Error; err != nil {
		h.d.Log.Error("Failed to update password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}
