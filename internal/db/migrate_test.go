package db

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	internalsettings "github.com/gymbro-app/gymbro-gateway/internal/settings"
	"gorm.io/gorm"
)

func openMigrateDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "migrate-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return conn
}

func TestMigrate_SeedsDefaultSettings(t *testing.T) {
	conn := openMigrateDB(t)

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	var setting models.Setting
	if errFind := conn.Where("key = ?", internalsettings.OutputProtocolKey).First(&setting).Error; errFind != nil {
		t.Fatalf("find output protocol setting: %v", errFind)
	}
	var protocol string
	if errUnmarshal := json.Unmarshal(setting.Value, &protocol); errUnmarshal != nil {
		t.Fatalf("unmarshal value: %v", errUnmarshal)
	}
	if protocol != internalsettings.DefaultOutputProtocol {
		t.Fatalf("expected %q, got %q", internalsettings.DefaultOutputProtocol, protocol)
	}

	// Migrate must be idempotent.
	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("second migrate: %v", errMigrate)
	}
}

func TestMigrate_DoesNotOverrideExistingSetting(t *testing.T) {
	conn := openMigrateDB(t)
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("automigrate: %v", errMigrate)
	}
	if errCreate := conn.Create(&models.Setting{
		Key:   internalsettings.DefaultResultModeKey,
		Value: json.RawMessage(`"raw_passthrough"`),
	}).Error; errCreate != nil {
		t.Fatalf("create setting: %v", errCreate)
	}

	if errMigrate := Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	var setting models.Setting
	if errFind := conn.Where("key = ?", internalsettings.DefaultResultModeKey).First(&setting).Error; errFind != nil {
		t.Fatalf("find setting: %v", errFind)
	}
	if string(setting.Value) != `"raw_passthrough"` {
		t.Fatalf("expected preserved value, got %s", string(setting.Value))
	}
}
