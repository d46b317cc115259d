package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func openResolverDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "resolver-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.ModelMapping{}, &models.Endpoint{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func createMapping(t *testing.T, conn *gorm.DB, scopeKey, defaultModel string, candidates []string, metadata string) models.ModelMapping {
	t.Helper()
	mapping := models.ModelMapping{
		ScopeType:    models.ScopeTypeModel,
		ScopeKey:     scopeKey,
		DefaultModel: defaultModel,
		IsEnabled:    true,
	}
	if errSet := mapping.SetCandidates(candidates); errSet != nil {
		t.Fatalf("set candidates: %v", errSet)
	}
	if metadata != "" {
		mapping.Metadata = datatypes.JSON(metadata)
	}
	if errCreate := conn.Create(&mapping).Error; errCreate != nil {
		t.Fatalf("create mapping: %v", errCreate)
	}
	return mapping
}

func createEndpoint(t *testing.T, conn *gorm.DB, name, model, status string) models.Endpoint {
	t.Helper()
	endpoint := models.Endpoint{
		Name:      name,
		Provider:  models.ProviderOpenAI,
		BaseURL:   "https://upstream.example/v1",
		APIKey:    "sk-test",
		Model:     model,
		Status:    status,
		IsEnabled: true,
	}
	if errCreate := conn.Create(&endpoint).Error; errCreate != nil {
		t.Fatalf("create endpoint: %v", errCreate)
	}
	return endpoint
}

func TestResolve_MappingDefaultModel(t *testing.T) {
	conn := openResolverDB(t)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x", "grok-x-fast"}, "")
	endpoint := createEndpoint(t, conn, "xai-main", "grok-x", models.EndpointStatusOnline)

	res, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "grok-x" {
		t.Fatalf("expected model=grok-x, got %q", res.Model)
	}
	if res.Endpoint.ID != endpoint.ID {
		t.Fatalf("expected endpoint %d, got %d", endpoint.ID, res.Endpoint.ID)
	}
	if res.MappingID == 0 {
		t.Fatalf("expected mapping id to be set")
	}
}

func TestResolve_CallerSelectedCandidate(t *testing.T) {
	conn := openResolverDB(t)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x", "grok-x-fast"}, "")
	createEndpoint(t, conn, "xai-main", "grok-x", models.EndpointStatusOnline)
	fast := createEndpoint(t, conn, "xai-fast", "grok-x-fast", models.EndpointStatusOnline)

	res, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai", SelectedModel: "grok-x-fast"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "grok-x-fast" {
		t.Fatalf("expected selected candidate, got %q", res.Model)
	}
	if res.Endpoint.ID != fast.ID {
		t.Fatalf("expected endpoint %d, got %d", fast.ID, res.Endpoint.ID)
	}
}

func TestResolve_SelectedModelNotACandidateFallsBack(t *testing.T) {
	conn := openResolverDB(t)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x"}, "")
	createEndpoint(t, conn, "xai-main", "grok-x", models.EndpointStatusOnline)

	res, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai", SelectedModel: "gpt-4o"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Model != "grok-x" {
		t.Fatalf("expected default model, got %q", res.Model)
	}
}

func TestResolve_PreferredEndpointWins(t *testing.T) {
	conn := openResolverDB(t)
	createEndpoint(t, conn, "first", "grok-x", models.EndpointStatusOnline)
	preferred := createEndpoint(t, conn, "second", "grok-x", models.EndpointStatusOnline)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x"},
		`{"preferred_endpoint_id": `+strconv.FormatUint(preferred.ID, 10)+`}`)

	res, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Endpoint.ID != preferred.ID {
		t.Fatalf("expected preferred endpoint %d, got %d", preferred.ID, res.Endpoint.ID)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	conn := openResolverDB(t)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x"}, "")
	createEndpoint(t, conn, "a", "grok-x", models.EndpointStatusOnline)
	createEndpoint(t, conn, "b", "grok-x", models.EndpointStatusOnline)

	r := New(conn)
	first, err := r.Resolve(context.Background(), Request{ModelKey: "xai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), Request{ModelKey: "xai"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Endpoint.ID != second.Endpoint.ID || first.Model != second.Model {
		t.Fatalf("expected deterministic resolution, got %d/%s then %d/%s",
			first.Endpoint.ID, first.Model, second.Endpoint.ID, second.Model)
	}
}

func TestResolve_AllOfflineIsNoHealthyEndpoint(t *testing.T) {
	conn := openResolverDB(t)
	createMapping(t, conn, "xai", "grok-x", []string{"grok-x"}, "")
	createEndpoint(t, conn, "down", "grok-x", models.EndpointStatusOffline)

	_, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai"})
	if !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Fatalf("expected ErrNoHealthyEndpoint, got %v", err)
	}
	if Code(err) != "no_healthy_endpoint" {
		t.Fatalf("expected code no_healthy_endpoint, got %q", Code(err))
	}
}

func TestResolve_BlockedMapping(t *testing.T) {
	conn := openResolverDB(t)
	mapping := createMapping(t, conn, "xai", "grok-x", []string{"grok-x"}, "")
	if errUpdate := conn.Model(&mapping).Update("is_blocked", true).Error; errUpdate != nil {
		t.Fatalf("block mapping: %v", errUpdate)
	}
	createEndpoint(t, conn, "main", "grok-x", models.EndpointStatusOnline)

	_, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai"})
	if !errors.Is(err, ErrBlockedModel) {
		t.Fatalf("expected ErrBlockedModel, got %v", err)
	}
}

func TestResolve_LegacyDirectEndpointFallback(t *testing.T) {
	conn := openResolverDB(t)
	endpoint := createEndpoint(t, conn, "legacy", "deepseek-chat", models.EndpointStatusOnline)

	res, err := New(conn).Resolve(context.Background(), Request{ModelKey: "deepseek-chat"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Endpoint.ID != endpoint.ID {
		t.Fatalf("expected legacy endpoint match, got %d", res.Endpoint.ID)
	}
	if res.MappingID != 0 {
		t.Fatalf("expected no mapping id on legacy fallback")
	}
}

func TestResolve_UnknownKey(t *testing.T) {
	conn := openResolverDB(t)

	_, err := New(conn).Resolve(context.Background(), Request{ModelKey: "nope"})
	if !errors.Is(err, ErrUnknownModelKey) {
		t.Fatalf("expected ErrUnknownModelKey, got %v", err)
	}
	if Code(err) != "unknown_model_key" {
		t.Fatalf("expected code unknown_model_key, got %q", Code(err))
	}
}

func TestResolve_DisabledMappingIgnored(t *testing.T) {
	conn := openResolverDB(t)
	mapping := createMapping(t, conn, "xai", "grok-x", []string{"grok-x"}, "")
	if errUpdate := conn.Model(&mapping).Update("is_enabled", false).Error; errUpdate != nil {
		t.Fatalf("disable mapping: %v", errUpdate)
	}

	_, err := New(conn).Resolve(context.Background(), Request{ModelKey: "xai"})
	if !errors.Is(err, ErrUnknownModelKey) {
		t.Fatalf("expected ErrUnknownModelKey for disabled mapping, got %v", err)
	}
}

