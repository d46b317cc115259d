package settings

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Runtime is a point-in-time, versioned view of the settings table.
// The pipeline receives a Runtime value explicitly rather than reading
// ambient global state, so resolution and normalization stay testable.
type Runtime struct {
	Version   int64     // Monotonic snapshot version.
	UpdatedAt time.Time // When the snapshot was loaded.

	OutputProtocol  string // thinkingml_v45 or jsonseq_v1.
	ResultMode      string // raw_passthrough, xml_plaintext, or auto.
	StreamChunkSize int    // Synthetic chunk size in runes.
	StrictProtocol  bool   // Whether protocol validation failures are fatal.

	HealthProbeIntervalSeconds int // Endpoint probe interval.
	HealthProbeMaxConcurrency  int // Concurrent endpoint probes.

	RateLimit          int    // Requests per second, 0 = unlimited.
	RateLimitRedis     bool   // Whether the Redis limiter backend is active.
	RateLimitRedisAddr string // Redis address for the limiter.
	RateLimitRedisPass string // Redis password for the limiter.
	RateLimitRedisDB   int    // Redis DB index for the limiter.
	RateLimitRedisPref string // Redis key prefix for the limiter.
}

// DefaultRuntime returns a Runtime populated with code defaults.
func DefaultRuntime() Runtime {
	return Runtime{
		OutputProtocol:             DefaultOutputProtocol,
		ResultMode:                 DefaultResultMode,
		StreamChunkSize:            DefaultStreamChunkSize,
		StrictProtocol:             DefaultStrictProtocol,
		HealthProbeIntervalSeconds: DefaultHealthProbeIntervalSeconds,
		HealthProbeMaxConcurrency:  DefaultHealthProbeMaxConcurrency,
		RateLimit:                  DefaultRateLimit,
		RateLimitRedisPref:         DefaultRateLimitRedisPrefix,
	}
}

var (
	globalSnapshot atomic.Value
	snapshotSeq    atomic.Int64
)

// Current returns the latest runtime snapshot, or defaults before the
// first Refresh.
func Current() Runtime {
	if value := globalSnapshot.Load(); value != nil {
		if snap, ok := value.(Runtime); ok {
			return snap
		}
	}
	return DefaultRuntime()
}

// Refresh loads all settings rows and atomically swaps the snapshot.
func Refresh(ctx context.Context, conn *gorm.DB) (Runtime, error) {
	var rows []models.Setting
	if errFind := conn.WithContext(ctx).Find(&rows).Error; errFind != nil {
		return Current(), errFind
	}

	byKey := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		byKey[row.Key] = row.Value
	}

	snap := DefaultRuntime()
	snap.Version = snapshotSeq.Add(1)
	snap.UpdatedAt = time.Now().UTC()

	if value, ok := stringSetting(byKey, OutputProtocolKey); ok && ValidOutputProtocol(value) {
		snap.OutputProtocol = value
	}
	if value, ok := stringSetting(byKey, DefaultResultModeKey); ok && ValidResultMode(value) {
		snap.ResultMode = value
	}
	if value, ok := intSetting(byKey, StreamChunkSizeKey); ok && value > 0 {
		snap.StreamChunkSize = value
	}
	if value, ok := boolSetting(byKey, StrictProtocolKey); ok {
		snap.StrictProtocol = value
	}
	if value, ok := intSetting(byKey, HealthProbeIntervalSecondsKey); ok && value > 0 {
		snap.HealthProbeIntervalSeconds = value
	}
	if value, ok := intSetting(byKey, HealthProbeMaxConcurrencyKey); ok && value > 0 {
		snap.HealthProbeMaxConcurrency = value
	}
	if value, ok := intSetting(byKey, RateLimitKey); ok && value >= 0 {
		snap.RateLimit = value
	}
	if value, ok := boolSetting(byKey, RateLimitRedisEnabledKey); ok {
		snap.RateLimitRedis = value
	}
	if value, ok := stringSetting(byKey, RateLimitRedisAddrKey); ok {
		snap.RateLimitRedisAddr = value
	}
	if value, ok := stringSetting(byKey, RateLimitRedisPasswordKey); ok {
		snap.RateLimitRedisPass = value
	}
	if value, ok := intSetting(byKey, RateLimitRedisDBKey); ok && value >= 0 {
		snap.RateLimitRedisDB = value
	}
	if value, ok := stringSetting(byKey, RateLimitRedisPrefixKey); ok && value != "" {
		snap.RateLimitRedisPref = value
	}

	globalSnapshot.Store(snap)
	log.WithField("version", snap.Version).Debug("settings snapshot refreshed")
	return snap, nil
}

func stringSetting(byKey map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := byKey[key]
	if !ok || len(raw) == 0 {
		return "", false
	}
	var out string
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return "", false
	}
	return strings.TrimSpace(out), true
}

func intSetting(byKey map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := byKey[key]
	if !ok || len(raw) == 0 {
		return 0, false
	}
	var out int
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return 0, false
	}
	return out, true
}

func boolSetting(byKey map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := byKey[key]
	if !ok || len(raw) == 0 {
		return false, false
	}
	var out bool
	if errUnmarshal := json.Unmarshal(raw, &out); errUnmarshal != nil {
		return false, false
	}
	return out, true
}
