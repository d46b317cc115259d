package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/security"
)

// AdminAccountHandler manages operator accounts. Routes using it are
// mounted behind the superadmin role middleware.
type AdminAccountHandler struct {
	db *gorm.DB
}

// NewAdminAccountHandler constructs an admin account handler.
func NewAdminAccountHandler(db *gorm.DB) *AdminAccountHandler {
	return &AdminAccountHandler{db: db}
}

type createAdminRequest struct {
	Username   string `json:"username"`    // Unique login name.
	Password   string `json:"password"`    // Plaintext; stored as bcrypt hash.
	Role       string `json:"role"`        // admin or superadmin.
	EnableTOTP bool   `json:"enable_totp"` // Generate a TOTP secret on create.
}

// Create registers a new admin account. When enable_totp is set the
// generated secret is returned once and never echoed again.
func (h *AdminAccountHandler) Create(c *gin.Context) {
	var body createAdminRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	username := strings.TrimSpace(body.Username)
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username is required"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}
	role := body.Role
	if role == "" {
		role = models.RoleAdmin
	}
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or superadmin"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}

	admin := models.Admin{
		Username: username,
		Password: hash,
		Role:     role,
		Active:   true,
	}

	var totpSecret, totpURL string
	if body.EnableTOTP {
		secret, url, errTOTP := security.GenerateTOTPSecret("gymbro-gateway", username)
		if errTOTP != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generate totp secret failed"})
			return
		}
		admin.TOTPSecret = secret
		totpSecret = secret
		totpURL = url
	}

	if errCreate := h.db.WithContext(c.Request.Context()).Create(&admin).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}

	// The enrollment secret is returned exactly once, at creation.
	out := formatAdmin(&admin)
	if totpSecret != "" {
		out["totp_secret"] = totpSecret
		out["totp_url"] = totpURL
	}
	c.JSON(http.StatusCreated, out)
}

// List returns all admin accounts.
func (h *AdminAccountHandler) List(c *gin.Context) {
	var rows []models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Order("id ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list admins failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAdmin(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"admins": out})
}

// Get fetches one admin account by ID.
func (h *AdminAccountHandler) Get(c *gin.Context) {
	admin, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, formatAdmin(admin))
}

type updateAdminRequest struct {
	Role   *string `json:"role"`   // Optional role change.
	Active *bool   `json:"active"` // Optional enable or disable.
}

// Update changes an admin's role or active flag. An admin cannot
// disable their own account.
func (h *AdminAccountHandler) Update(c *gin.Context) {
	admin, ok := h.load(c)
	if !ok {
		return
	}
	var body updateAdminRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{"updated_at": time.Now().UTC()}
	if body.Role != nil {
		if *body.Role != models.RoleAdmin && *body.Role != models.RoleSuperAdmin {
			c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or superadmin"})
			return
		}
		updates["role"] = *body.Role
	}
	if body.Active != nil {
		if !*body.Active && admin.ID == callerAdminID(c) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot disable own account"})
			return
		}
		updates["active"] = *body.Active
	}

	if errSave := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Updates(updates).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type changePasswordRequest struct {
	Password string `json:"password"` // New plaintext password.
}

// ChangePassword replaces an admin's password hash.
func (h *AdminAccountHandler) ChangePassword(c *gin.Context) {
	admin, ok := h.load(c)
	if !ok {
		return
	}
	var body changePasswordRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}
	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	if errSave := h.db.WithContext(c.Request.Context()).
		Model(&models.Admin{}).
		Where("id = ?", admin.ID).
		Update("password", hash).Error; errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes an admin account. Self-deletion is rejected.
func (h *AdminAccountHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	if id == callerAdminID(c) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot delete own account"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Admin{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AdminAccountHandler) load(c *gin.Context) (*models.Admin, bool) {
	id, ok := parseIDParam(c)
	if !ok {
		return nil, false
	}
	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).First(&admin, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return nil, false
	}
	return &admin, true
}

// callerAdminID reads the authenticated admin ID set by the auth
// middleware. Returns zero when unset.
func callerAdminID(c *gin.Context) uint64 {
	if value, exists := c.Get("admin_id"); exists {
		if id, ok := value.(uint64); ok {
			return id
		}
	}
	return 0
}

func formatAdmin(admin *models.Admin) gin.H {
	return gin.H{
		"id":           admin.ID,
		"username":     admin.Username,
		"role":         admin.Role,
		"totp_enabled": admin.TOTPSecret != "",
		"active":       admin.Active,
		"created_at":   admin.CreatedAt,
		"updated_at":   admin.UpdatedAt,
	}
}
