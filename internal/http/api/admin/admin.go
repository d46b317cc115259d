package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/config"
	"github.com/gymbro-app/gymbro-gateway/internal/health"
	handlers "github.com/gymbro-app/gymbro-gateway/internal/http/api/admin/handlers"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/security"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, prober *health.Prober) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	versionHandler := handlers.NewVersionHandler()
	r.GET("/v0/version", versionHandler.GetVersion)

	adminGroup := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	adminGroup.POST("/login", authHandler.Login)
	adminGroup.POST("/login/totp", authHandler.LoginTOTP)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(db, jwtCfg))

	mappingHandler := handlers.NewModelMappingHandler(db)
	authed.POST("/model-mappings", mappingHandler.Create)
	authed.GET("/model-mappings", mappingHandler.List)
	authed.GET("/model-mappings/:id", mappingHandler.Get)
	authed.PUT("/model-mappings/:id", mappingHandler.Update)
	authed.DELETE("/model-mappings/:id", mappingHandler.Delete)
	authed.POST("/model-mappings/:id/enable", mappingHandler.Enable)
	authed.POST("/model-mappings/:id/disable", mappingHandler.Disable)
	authed.POST("/model-mappings/:id/block", mappingHandler.Block)
	authed.POST("/model-mappings/:id/unblock", mappingHandler.Unblock)

	endpointHandler := handlers.NewEndpointHandler(db, prober)
	authed.POST("/endpoints", endpointHandler.Create)
	authed.GET("/endpoints", endpointHandler.List)
	authed.GET("/endpoints/:id", endpointHandler.Get)
	authed.PUT("/endpoints/:id", endpointHandler.Update)
	authed.DELETE("/endpoints/:id", endpointHandler.Delete)
	authed.POST("/endpoints/:id/probe", endpointHandler.Probe)

	promptHandler := handlers.NewPromptHandler(db)
	authed.POST("/prompts", promptHandler.Create)
	authed.GET("/prompts", promptHandler.List)
	authed.GET("/prompts/:id", promptHandler.Get)
	authed.PUT("/prompts/:id", promptHandler.Update)
	authed.DELETE("/prompts/:id", promptHandler.Delete)
	authed.POST("/prompts/:id/activate", promptHandler.Activate)

	exerciseHandler := handlers.NewExerciseHandler(db)
	authed.POST("/exercises", exerciseHandler.Create)
	authed.GET("/exercises", exerciseHandler.List)
	authed.GET("/exercises/:id", exerciseHandler.Get)
	authed.DELETE("/exercises/:id", exerciseHandler.Delete)

	settingHandler := handlers.NewSettingHandler(db)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
	authed.DELETE("/settings/:key", settingHandler.Delete)

	usageHandler := handlers.NewUsageHandler(db)
	authed.GET("/usage", usageHandler.List)

	super := authed.Group("")
	super.Use(requireRole(models.RoleSuperAdmin))

	adminAccountHandler := handlers.NewAdminAccountHandler(db)
	super.POST("/admins", adminAccountHandler.Create)
	super.GET("/admins", adminAccountHandler.List)
	super.GET("/admins/:id", adminAccountHandler.Get)
	super.PUT("/admins/:id", adminAccountHandler.Update)
	super.DELETE("/admins/:id", adminAccountHandler.Delete)
	super.PUT("/admins/:id/password", adminAccountHandler.ChangePassword)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin not found"})
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin disabled"})
			return
		}

		c.Set("admin_id", admin.ID)
		c.Set("admin_username", admin.Username)
		c.Set("admin_role", admin.Role)
		c.Next()
	}
}

// requireRole rejects requests whose authenticated admin lacks role.
func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("admin_role")
		current, _ := value.(string)
		if !exists || current != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}
