package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	internalsettings "github.com/gymbro-app/gymbro-gateway/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
		return migrate(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migrate applies the schema, seeds default settings, and creates indexes.
func migrate(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(
		&models.Admin{},
		&models.ModelMapping{},
		&models.Endpoint{},
		&models.Prompt{},
		&models.Exercise{},
		&models.Usage{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := ensureDefaultSettings(conn); errSeed != nil {
		return errSeed
	}

	// ddl defines an index or DDL statement to apply.
	type ddl struct {
		name string // Human-readable name for error reporting.
		sql  string // SQL to execute.
	}
	ddls := []ddl{
		{
			name: "idx_model_mappings_scope_key_enabled",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_model_mappings_scope_key_enabled
				ON model_mappings (scope_key, is_enabled)
			`,
		},
		{
			name: "idx_endpoints_status_enabled",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_endpoints_status_enabled
				ON endpoints (status, is_enabled)
			`,
		},
		{
			name: "idx_prompts_type_active",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_prompts_type_active
				ON prompts (prompt_type, is_active)
			`,
		},
		{
			name: "idx_usages_requested_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_usages_requested_at
				ON usages (requested_at DESC)
			`,
		},
		{
			name: "idx_usages_model_key_requested_at",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_usages_model_key_requested_at
				ON usages (model_key, requested_at DESC)
			`,
		},
		{
			name: "idx_settings_updated_at_key",
			sql: `
				CREATE INDEX IF NOT EXISTS idx_settings_updated_at_key
				ON settings (updated_at DESC, key DESC)
			`,
		},
	}
	for _, item := range ddls {
		if errDDL := conn.Exec(item.sql).Error; errDDL != nil {
			return fmt.Errorf("db: create index %s: %w", item.name, errDDL)
		}
	}

	return nil
}

// ensureDefaultSettings seeds settings rows consumed by the pipeline.
func ensureDefaultSettings(conn *gorm.DB) error {
	if errEnsure := ensureStringSetting(conn, internalsettings.SiteNameKey, internalsettings.DefaultSiteName); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureStringSetting(conn, internalsettings.OutputProtocolKey, internalsettings.DefaultOutputProtocol); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureStringSetting(conn, internalsettings.DefaultResultModeKey, internalsettings.DefaultResultMode); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureIntSetting(conn, internalsettings.StreamChunkSizeKey, internalsettings.DefaultStreamChunkSize); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureBoolSetting(conn, internalsettings.StrictProtocolKey, internalsettings.DefaultStrictProtocol); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureIntSetting(conn, internalsettings.HealthProbeIntervalSecondsKey, internalsettings.DefaultHealthProbeIntervalSeconds); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureIntSetting(conn, internalsettings.HealthProbeMaxConcurrencyKey, internalsettings.DefaultHealthProbeMaxConcurrency); errEnsure != nil {
		return errEnsure
	}
	if errEnsure := ensureIntSetting(conn, internalsettings.RateLimitKey, internalsettings.DefaultRateLimit); errEnsure != nil {
		return errEnsure
	}
	return nil
}

// ensureStringSetting ensures a string setting exists and defaults when empty.
func ensureStringSetting(conn *gorm.DB, key, value string) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, payload)
}

// ensureIntSetting ensures an integer setting exists and defaults when empty.
func ensureIntSetting(conn *gorm.DB, key string, value int) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, payload)
}

// ensureBoolSetting ensures a boolean setting exists and defaults when empty.
func ensureBoolSetting(conn *gorm.DB, key string, value bool) error {
	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("db: marshal %s setting: %w", key, errMarshal)
	}
	return ensureRawSetting(conn, key, payload)
}

func ensureRawSetting(conn *gorm.DB, key string, rawValue json.RawMessage) error {
	var existing models.Setting
	if errFind := conn.Where("key = ?", key).First(&existing).Error; errFind == nil {
		trimmed := strings.TrimSpace(string(existing.Value))
		if len(existing.Value) == 0 || trimmed == "" || trimmed == "null" {
			if errUpdate := conn.Model(&existing).Updates(map[string]any{
				"value":      rawValue,
				"updated_at": time.Now().UTC(),
			}).Error; errUpdate != nil {
				return fmt.Errorf("db: update %s setting: %w", key, errUpdate)
			}
		}
		return nil
	} else if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: query %s setting: %w", key, errFind)
	}

	setting := models.Setting{
		Key:       key,
		Value:     rawValue,
		UpdatedAt: time.Now().UTC(),
	}
	if errCreate := conn.Create(&setting).Error; errCreate != nil {
		return fmt.Errorf("db: create %s setting: %w", key, errCreate)
	}
	return nil
}
