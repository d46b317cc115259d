// Package health keeps endpoint status columns current by probing each
// enabled upstream's model catalog.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	"github.com/gymbro-app/gymbro-gateway/internal/settings"
)

const (
	probeTimeout  = 10 * time.Second
	retryBackoff  = 500 * time.Millisecond
	maxCatalogLen = 512
)

// Prober runs periodic catalog probes against enabled endpoints.
type Prober struct {
	conn       *gorm.DB
	httpClient *http.Client

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewProber(conn *gorm.DB, httpClient *http.Client) *Prober {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: probeTimeout}
	}
	return &Prober{
		conn:       conn,
		httpClient: httpClient,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the probe loop. Interval and concurrency are re-read
// from the settings snapshot every cycle so admin changes apply without
// a restart.
func (p *Prober) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Stop terminates the loop and waits for the current sweep to finish.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Prober) loop(ctx context.Context) {
	defer close(p.done)
	for {
		interval := time.Duration(settings.Current().HealthProbeIntervalSeconds) * time.Second
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-time.After(interval):
			p.Sweep(ctx)
		}
	}
}

// Sweep probes every enabled endpoint, bounded by the configured
// concurrency.
func (p *Prober) Sweep(ctx context.Context) {
	var endpoints []models.Endpoint
	if errFind := p.conn.WithContext(ctx).Where("is_enabled = ?", true).Find(&endpoints).Error; errFind != nil {
		log.WithError(errFind).Error("health: list endpoints")
		return
	}

	limit := settings.Current().HealthProbeMaxConcurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range endpoints {
		endpoint := endpoints[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.ProbeEndpoint(ctx, &endpoint)
		}()
	}
	wg.Wait()
}

// ProbeEndpoint checks one endpoint's model catalog and persists the
// outcome. The endpoint value's Status, LatencyMS, and ModelList fields
// reflect the result on return.
func (p *Prober) ProbeEndpoint(ctx context.Context, endpoint *models.Endpoint) {
	p.markChecking(ctx, endpoint)

	start := time.Now()
	catalog, err := p.fetchCatalog(ctx, endpoint)
	if err != nil {
		// Catalog probes are idempotent GETs, so one retry is safe.
		select {
		case <-ctx.Done():
		case <-time.After(retryBackoff):
			start = time.Now()
			catalog, err = p.fetchCatalog(ctx, endpoint)
		}
	}
	latency := time.Since(start).Milliseconds()

	updates := map[string]any{"latency_ms": latency}
	if err != nil {
		log.WithError(err).WithField("endpoint", endpoint.Name).Warn("health: probe failed")
		endpoint.Status = models.EndpointStatusOffline
		updates["status"] = models.EndpointStatusOffline
	} else {
		endpoint.Status = models.EndpointStatusOnline
		updates["status"] = models.EndpointStatusOnline
		if raw, errMarshal := json.Marshal(catalog); errMarshal == nil {
			endpoint.ModelList = raw
			updates["model_list"] = raw
		}
	}
	endpoint.LatencyMS = latency

	if errSave := p.conn.WithContext(ctx).Model(&models.Endpoint{}).
		Where("id = ?", endpoint.ID).Updates(updates).Error; errSave != nil {
		log.WithError(errSave).WithField("endpoint", endpoint.Name).Error("health: persist probe result")
	}
}

func (p *Prober) markChecking(ctx context.Context, endpoint *models.Endpoint) {
	if errSave := p.conn.WithContext(ctx).Model(&models.Endpoint{}).
		Where("id = ?", endpoint.ID).Update("status", models.EndpointStatusChecking).Error; errSave != nil {
		log.WithError(errSave).WithField("endpoint", endpoint.Name).Error("health: mark checking")
	}
}

func (p *Prober) fetchCatalog(ctx context.Context, endpoint *models.Endpoint) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, catalogURL(endpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("health: build request: %w", err)
	}
	switch endpoint.Provider {
	case models.ProviderAnthropic:
		req.Header.Set("x-api-key", endpoint.APIKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+endpoint.APIKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("health: catalog status %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if errDecode := json.NewDecoder(resp.Body).Decode(&body); errDecode != nil {
		return nil, fmt.Errorf("health: decode catalog: %w", errDecode)
	}

	catalog := make([]string, 0, len(body.Data))
	for _, entry := range body.Data {
		if entry.ID == "" {
			continue
		}
		catalog = append(catalog, entry.ID)
		if len(catalog) >= maxCatalogLen {
			break
		}
	}
	return catalog, nil
}

func catalogURL(endpoint *models.Endpoint) string {
	base := strings.TrimRight(endpoint.BaseURL, "/")
	if endpoint.Provider == models.ProviderAnthropic {
		return base + "/v1/models"
	}
	return base + "/models"
}
