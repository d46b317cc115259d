// Package app boots the gateway: database, settings snapshot, event
// broker, health prober, and the HTTP surfaces.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/agent"
	"github.com/gymbro-app/gymbro-gateway/internal/broker"
	"github.com/gymbro-app/gymbro-gateway/internal/config"
	"github.com/gymbro-app/gymbro-gateway/internal/db"
	"github.com/gymbro-app/gymbro-gateway/internal/health"
	adminapi "github.com/gymbro-app/gymbro-gateway/internal/http/api/admin"
	chatapi "github.com/gymbro-app/gymbro-gateway/internal/http/api/chat"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/pipeline"
	"github.com/gymbro-app/gymbro-gateway/internal/ratelimit"
	"github.com/gymbro-app/gymbro-gateway/internal/security"
	"github.com/gymbro-app/gymbro-gateway/internal/settings"
)

// upstreamTimeout bounds one upstream completion call end to end.
const upstreamTimeout = 120 * time.Second

// ConfigExists reports whether the config file is present.
func ConfigExists(configPath string) bool {
	_, errStat := os.Stat(configPath)
	return errStat == nil
}

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the gateway with database-backed components and
// blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if _, errRefresh := settings.Refresh(ctx, conn); errRefresh != nil {
		return errRefresh
	}
	if errSeed := ensureDefaultAdmin(ctx, conn); errSeed != nil {
		return errSeed
	}

	jwtConfig, _ := config.LoadJWTConfig(configPath)
	if jwtConfig.Secret == "" {
		return errors.New("jwt secret is required (set jwt.secret or JWT_SECRET)")
	}
	agentConfig, _ := config.LoadAgentConfig(configPath)

	events := broker.New(broker.Options{})
	defer events.Close()

	upstreamClient := &http.Client{Timeout: upstreamTimeout}
	agents := agent.NewRunner(agentConfig.Timeout,
		agent.NewWebSearch(agentConfig.SerpBaseURL, agentConfig.SerpAPIKey, nil),
		agent.NewExerciseLookup(conn),
	)
	pipe := pipeline.New(conn, events, agents, upstreamClient)
	limiter := ratelimit.NewManager(nil, nil, nil)

	prober := health.NewProber(conn, nil)
	prober.Start(ctx)
	defer prober.Stop()

	engine := gin.New()
	engine.Use(gin.Recovery())
	adminapi.RegisterAdminRoutes(engine, conn, jwtConfig, prober)
	chatapi.RegisterChatRoutes(engine, pipe, limiter, jwtConfig)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("gateway listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("server shutdown")
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}

// ensureDefaultAdmin seeds an initial superadmin account when the
// admins table is empty. The generated password is logged exactly once.
func ensureDefaultAdmin(ctx context.Context, conn *gorm.DB) error {
	var count int64
	if errCount := conn.WithContext(ctx).Model(&models.Admin{}).Count(&count).Error; errCount != nil {
		return errCount
	}
	if count > 0 {
		return nil
	}

	raw := make([]byte, 16)
	if _, errRead := rand.Read(raw); errRead != nil {
		return errRead
	}
	password := hex.EncodeToString(raw)
	hash, errHash := security.HashPassword(password)
	if errHash != nil {
		return errHash
	}

	admin := models.Admin{
		Username: "admin",
		Password: hash,
		Role:     models.RoleSuperAdmin,
		Active:   true,
	}
	if errCreate := conn.WithContext(ctx).Create(&admin).Error; errCreate != nil {
		return errCreate
	}
	log.WithField("username", admin.Username).
		WithField("password", password).
		Warn("seeded default superadmin, change the password immediately")
	return nil
}
