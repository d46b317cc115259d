package models

import "time"

// Admin roles carried in the JWT role claim.
const (
	// RoleAdmin can manage mappings, endpoints, prompts, and settings.
	RoleAdmin = "admin"
	// RoleSuperAdmin can additionally manage admin accounts.
	RoleSuperAdmin = "superadmin"
)

// Admin represents a dashboard operator account.
type Admin struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"`            // Unique login name.
	Password string `gorm:"type:text;not null"`                        // Bcrypt hash.
	Role     string `gorm:"type:varchar(32);not null;default:'admin'"` // Role claim value.

	TOTPSecret string `gorm:"type:text"` // TOTP secret when MFA is enabled.

	Active bool `gorm:"not null;default:true"` // Whether the admin can sign in.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
