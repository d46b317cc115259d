package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

func openEndpointDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "prober-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Endpoint{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestProbeEndpointOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-probe" {
			t.Errorf("missing bearer header")
		}
		fmt.Fprint(w, `{"data":[{"id":"grok-2"},{"id":"grok-2-mini"}]}`)
	}))
	defer server.Close()

	conn := openEndpointDB(t)
	endpoint := models.Endpoint{
		Name:     "probe-online",
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		APIKey:   "sk-probe",
		Model:    "grok-2",
	}
	if errCreate := conn.Create(&endpoint).Error; errCreate != nil {
		t.Fatalf("create endpoint: %v", errCreate)
	}

	NewProber(conn, server.Client()).ProbeEndpoint(context.Background(), &endpoint)

	var got models.Endpoint
	if errFind := conn.First(&got, endpoint.ID).Error; errFind != nil {
		t.Fatalf("reload endpoint: %v", errFind)
	}
	if got.Status != models.EndpointStatusOnline {
		t.Fatalf("status %q", got.Status)
	}
	catalog := got.Models()
	if len(catalog) != 2 || catalog[0] != "grok-2" {
		t.Fatalf("model list %v", catalog)
	}
}

func TestProbeEndpointRetryOnceThenOnline(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"claude-x"}]}`)
	}))
	defer server.Close()

	conn := openEndpointDB(t)
	endpoint := models.Endpoint{
		Name:     "probe-retry",
		Provider: models.ProviderAnthropic,
		BaseURL:  server.URL + "/sub",
		APIKey:   "sk-ant",
		Model:    "claude-x",
	}
	if errCreate := conn.Create(&endpoint).Error; errCreate != nil {
		t.Fatalf("create endpoint: %v", errCreate)
	}

	NewProber(conn, server.Client()).ProbeEndpoint(context.Background(), &endpoint)

	if calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls.Load())
	}
	var got models.Endpoint
	if errFind := conn.First(&got, endpoint.ID).Error; errFind != nil {
		t.Fatalf("reload endpoint: %v", errFind)
	}
	if got.Status != models.EndpointStatusOnline {
		t.Fatalf("status after retry %q", got.Status)
	}
}

func TestProbeEndpointOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	conn := openEndpointDB(t)
	endpoint := models.Endpoint{
		Name:     "probe-offline",
		Provider: models.ProviderOpenAI,
		BaseURL:  server.URL,
		Model:    "grok-2",
	}
	if errCreate := conn.Create(&endpoint).Error; errCreate != nil {
		t.Fatalf("create endpoint: %v", errCreate)
	}

	NewProber(conn, server.Client()).ProbeEndpoint(context.Background(), &endpoint)

	var got models.Endpoint
	if errFind := conn.First(&got, endpoint.ID).Error; errFind != nil {
		t.Fatalf("reload endpoint: %v", errFind)
	}
	if got.Status != models.EndpointStatusOffline {
		t.Fatalf("status %q", got.Status)
	}
}
