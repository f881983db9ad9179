package users

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"saas-portal/internal"
	"saas-portal/internal/domain/users"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxAvatarSize = 2 << 20

var avatarTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

type Handler struct {
	d *internal.Deps
}

func New(d *internal.Deps) *Handler { return &Handler{d: d} }

type UserDTO struct {
	UUID           string    `json:"uuid"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	AvatarURL      *string   `json:"avatar_url,omitempty"`
	Role           string    `json:"role"`
	SigninProvider string    `json:"signin_provider"`
	IsVerified     bool      `json:"is_verified"`
	HasPassword    bool      `json:"has_password"`
	CreatedAt      time.Time `json:"created_at"`
}

func ToDTO(u *users.User) UserDTO {
	return UserDTO{
		UUID:           u.UUID,
		Email:          u.Email,
		Name:           u.Name,
		AvatarURL:      u.AvatarURL,
		Role:           u.Role,
		SigninProvider: u.SigninProvider,
		IsVerified:     u.IsVerified,
		HasPassword:    u.HasPassword(),
		CreatedAt:      u.CreatedAt,
	}
}

func (h *Handler) current(c *gin.Context) (*users.User, bool) {
	var user users.User
	err := h.d.DB.WithContext(c.Request.Context()).
		Scopes(users.Active).
		First(&user, c.GetUint("user_id")).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}
	if err != nil {
		h.d.Log.Error("Failed to load user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return nil, false
	}
	return &user, true
}

// GET /me
func (h *Handler) GetCurrentUser(c *gin.Context) {
	user, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ToDTO(user))
}

// PUT /me/avatar
func (h *Handler) UploadAvatar(c *gin.Context) {
	if h.d.Storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Uploads are not configured"})
		return
	}

	user, ok := h.current(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("avatar")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	if fh.Size > maxAvatarSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	defer f.Close()

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	ext, allowed := avatarTypes[mime.String()]
	if !allowed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type"})
		return
	}
	if _, err := f.Seek(0, 0); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	key := fmt.Sprintf("avatars/%s%s", user.UUID, ext)
	url, err := h.d.Storage.Put(c.Request.Context(), key, mime.String(), f)
	if err != nil {
		h.d.Log.Error("Failed to upload avatar", zap.Error(err), zap.String("user_uuid", user.UUID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to upload avatar"})
		return
	}

	if err := h.d.DB.WithContext(c.Request.Context()).Model(user).Update("avatar_url", url).Error; err != nil {
		h.d.Log.Error("Failed to store avatar url", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	user.AvatarURL = &url

	c.JSON(http.StatusOK, ToDTO(user))
}
