package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"gorm.io/gorm"
)

// Resolution failure sentinels. Each maps to a stable wire code via Code.
var (
	// ErrUnknownModelKey means no mapping and no direct endpoint match.
	ErrUnknownModelKey = errors.New("resolver: unknown model key")
	// ErrNoHealthyEndpoint means the mapping resolved but every candidate
	// endpoint is offline.
	ErrNoHealthyEndpoint = errors.New("resolver: no healthy endpoint")
	// ErrBlockedModel means the mapping was explicitly blocked by an admin.
	ErrBlockedModel = errors.New("resolver: model blocked by admin")
)

// Code returns the stable wire code for a resolution error, or "" when
// the error is not a resolution failure.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnknownModelKey):
		return "unknown_model_key"
	case errors.Is(err, ErrNoHealthyEndpoint):
		return "no_healthy_endpoint"
	case errors.Is(err, ErrBlockedModel):
		return "blocked_model"
	default:
		return ""
	}
}

// Resolution is the outcome of resolving a client model key.
type Resolution struct {
	Endpoint  models.Endpoint // Endpoint to call.
	Model     string          // Upstream model name to request.
	MappingID uint64          // Matched mapping ID, 0 on legacy fallback.
}

// Request carries the resolver inputs.
type Request struct {
	ModelKey       string // Client-supplied model key (required).
	SelectedModel  string // Caller-chosen candidate, optional.
	PreferredScope string // Scope type to try first, optional.
}

// Resolver maps client model keys to concrete endpoints. Resolution is a
// point-in-time snapshot read with no side effects.
type Resolver struct {
	db *gorm.DB
}

// New constructs a Resolver.
func New(conn *gorm.DB) *Resolver {
	return &Resolver{db: conn}
}

// Resolve turns a model key into an (endpoint, upstream model) pair.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	key := strings.TrimSpace(req.ModelKey)
	if key == "" {
		return Resolution{}, fmt.Errorf("%w: empty key", ErrUnknownModelKey)
	}

	mapping, errMapping := r.findMapping(ctx, key, req.PreferredScope)
	if errMapping != nil && !errors.Is(errMapping, gorm.ErrRecordNotFound) {
		return Resolution{}, errMapping
	}

	if mapping != nil {
		if mapping.IsBlocked {
			return Resolution{}, fmt.Errorf("%w: %s", ErrBlockedModel, key)
		}
		model := resolveModelName(mapping, req.SelectedModel)
		if model == "" {
			return Resolution{}, fmt.Errorf("%w: mapping %d has no default model", ErrUnknownModelKey, mapping.ID)
		}
		endpoint, errEndpoint := r.pickEndpoint(ctx, model, mapping)
		if errEndpoint != nil {
			return Resolution{}, errEndpoint
		}
		return Resolution{Endpoint: endpoint, Model: model, MappingID: mapping.ID}, nil
	}

	// Legacy compatibility: treat the key directly as an endpoint model.
	endpoint, errDirect := r.pickEndpoint(ctx, key, nil)
	if errDirect != nil {
		if errors.Is(errDirect, ErrNoHealthyEndpoint) {
			return Resolution{}, errDirect
		}
		return Resolution{}, fmt.Errorf("%w: %s", ErrUnknownModelKey, key)
	}
	return Resolution{Endpoint: endpoint, Model: key}, nil
}

// findMapping loads the active mapping for the key, trying the preferred
// scope type first when one is supplied.
func (r *Resolver) findMapping(ctx context.Context, key, preferredScope string) (*models.ModelMapping, error) {
	scope := strings.TrimSpace(preferredScope)
	if scope != "" {
		var mapping models.ModelMapping
		errFind := r.db.WithContext(ctx).
			Where("scope_type = ? AND scope_key = ? AND is_enabled = ?", scope, key, true).
			First(&mapping).Error
		if errFind == nil {
			return &mapping, nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("resolver: query mapping: %w", errFind)
		}
	}

	var mapping models.ModelMapping
	errFind := r.db.WithContext(ctx).
		Where("scope_key = ? AND is_enabled = ?", key, true).
		Order("id ASC").
		First(&mapping).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, gorm.ErrRecordNotFound
		}
		return nil, fmt.Errorf("resolver: query mapping: %w", errFind)
	}
	return &mapping, nil
}

// resolveModelName picks the upstream model: the caller's explicit choice
// when it is a listed candidate, otherwise the mapping default.
func resolveModelName(mapping *models.ModelMapping, selected string) string {
	chosen := strings.TrimSpace(selected)
	if chosen != "" && chosen != mapping.ScopeKey {
		for _, candidate := range mapping.CandidateList() {
			if candidate == chosen {
				return chosen
			}
		}
	}
	return strings.TrimSpace(mapping.DefaultModel)
}

// pickEndpoint selects an enabled endpoint serving the model. Online
// endpoints win; among equally healthy candidates the mapping's preferred
// endpoint wins, then the lowest ID for determinism.
func (r *Resolver) pickEndpoint(ctx context.Context, model string, mapping *models.ModelMapping) (models.Endpoint, error) {
	var preferredID uint64
	if mapping != nil {
		if id, ok := mapping.PreferredEndpointID(); ok {
			preferredID = id
		}
	}

	var endpoints []models.Endpoint
	if errFind := r.db.WithContext(ctx).
		Where("is_enabled = ?", true).
		Order("id ASC").
		Find(&endpoints).Error; errFind != nil {
		return models.Endpoint{}, fmt.Errorf("resolver: query endpoints: %w", errFind)
	}

	var serving []models.Endpoint
	for _, endpoint := range endpoints {
		if endpoint.Serves(model) {
			serving = append(serving, endpoint)
		}
	}
	if len(serving) == 0 {
		return models.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownModelKey, model)
	}

	best := pickByHealth(serving, preferredID, models.EndpointStatusOnline)
	if best != nil {
		return *best, nil
	}
	// No endpoint is known-online; unknown/checking are still usable, but a
	// set of exclusively offline endpoints is a hard failure, never a
	// silent fallback.
	best = pickByHealth(serving, preferredID, models.EndpointStatusUnknown, models.EndpointStatusChecking)
	if best != nil {
		return *best, nil
	}
	return models.Endpoint{}, fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, model)
}

func pickByHealth(endpoints []models.Endpoint, preferredID uint64, statuses ...string) *models.Endpoint {
	var fallback *models.Endpoint
	for i := range endpoints {
		endpoint := &endpoints[i]
		if !statusIn(endpoint.Status, statuses) {
			continue
		}
		if preferredID != 0 && endpoint.ID == preferredID {
			return endpoint
		}
		if fallback == nil {
			fallback = endpoint
		}
	}
	return fallback
}

func statusIn(status string, statuses []string) bool {
	for _, candidate := range statuses {
		if status == candidate {
			return true
		}
	}
	return false
}
