package settings

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"gorm.io/gorm"
)

func openSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "settings-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestRefresh_LoadsKnownKeys(t *testing.T) {
	conn := openSettingsDB(t)

	rows := []models.Setting{
		{Key: OutputProtocolKey, Value: json.RawMessage(`"jsonseq_v1"`)},
		{Key: DefaultResultModeKey, Value: json.RawMessage(`"raw_passthrough"`)},
		{Key: StreamChunkSizeKey, Value: json.RawMessage(`128`)},
		{Key: StrictProtocolKey, Value: json.RawMessage(`true`)},
	}
	for _, row := range rows {
		if errCreate := conn.Create(&row).Error; errCreate != nil {
			t.Fatalf("create setting: %v", errCreate)
		}
	}

	snap, err := Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.OutputProtocol != OutputProtocolJSONSeq {
		t.Fatalf("expected protocol=%q, got %q", OutputProtocolJSONSeq, snap.OutputProtocol)
	}
	if snap.ResultMode != ResultModeRawPassthrough {
		t.Fatalf("expected result mode=%q, got %q", ResultModeRawPassthrough, snap.ResultMode)
	}
	if snap.StreamChunkSize != 128 {
		t.Fatalf("expected chunk size 128, got %d", snap.StreamChunkSize)
	}
	if !snap.StrictProtocol {
		t.Fatalf("expected strict protocol enabled")
	}
}

func TestRefresh_IgnoresInvalidValues(t *testing.T) {
	conn := openSettingsDB(t)

	if errCreate := conn.Create(&models.Setting{
		Key:   OutputProtocolKey,
		Value: json.RawMessage(`"not-a-protocol"`),
	}).Error; errCreate != nil {
		t.Fatalf("create setting: %v", errCreate)
	}

	snap, err := Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if snap.OutputProtocol != DefaultOutputProtocol {
		t.Fatalf("expected default protocol, got %q", snap.OutputProtocol)
	}
}

func TestRefresh_VersionIncreases(t *testing.T) {
	conn := openSettingsDB(t)

	first, err := Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second, err := Refresh(context.Background(), conn)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if second.Version <= first.Version {
		t.Fatalf("expected version to increase, got %d then %d", first.Version, second.Version)
	}
	if Current().Version != second.Version {
		t.Fatalf("expected Current to return the latest snapshot")
	}
}
