package settings

// DB config keys and defaults for settings.
const (
	// SiteNameKey is the DB config key for the UI site name.
	SiteNameKey = "SITE_NAME"
	// DefaultSiteName is the fallback UI site name.
	DefaultSiteName = "GymBro"

	// OutputProtocolKey selects the structured output protocol.
	OutputProtocolKey = "APP_OUTPUT_PROTOCOL"
	// DefaultOutputProtocol is the fallback output protocol.
	DefaultOutputProtocol = OutputProtocolThinkingML

	// DefaultResultModeKey selects the result mode when the client omits one.
	DefaultResultModeKey = "DEFAULT_RESULT_MODE"
	// DefaultResultMode is the fallback result mode.
	DefaultResultMode = ResultModeAuto

	// StreamChunkSizeKey controls the synthetic chunk size (runes) used
	// when a non-streaming upstream body is degraded to a delta stream.
	StreamChunkSizeKey = "STREAM_CHUNK_SIZE"
	// DefaultStreamChunkSize is the fallback synthetic chunk size.
	DefaultStreamChunkSize = 64

	// StrictProtocolKey makes protocol validation failures fatal to the run.
	StrictProtocolKey = "STRICT_PROTOCOL"
	// DefaultStrictProtocol keeps validation failures non-fatal.
	DefaultStrictProtocol = false

	// HealthProbeIntervalSecondsKey controls the endpoint probe interval.
	HealthProbeIntervalSecondsKey = "HEALTH_PROBE_INTERVAL_SECONDS"
	// DefaultHealthProbeIntervalSeconds is the fallback probe interval.
	DefaultHealthProbeIntervalSeconds = 180
	// HealthProbeMaxConcurrencyKey controls concurrent endpoint probes.
	HealthProbeMaxConcurrencyKey = "HEALTH_PROBE_MAX_CONCURRENCY"
	// DefaultHealthProbeMaxConcurrency is the fallback probe concurrency.
	DefaultHealthProbeMaxConcurrency = 5

	// RateLimitKey controls the default rate limit per second.
	RateLimitKey = "RATE_LIMIT"
	// DefaultRateLimit is the fallback rate limit (0 means unlimited).
	DefaultRateLimit = 0
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
	// DefaultRateLimitRedisPrefix is the fallback Redis key prefix.
	DefaultRateLimitRedisPrefix = "gymbro:rl"
)

// Output protocol identifiers.
const (
	// OutputProtocolThinkingML is the XML-tag structured protocol.
	OutputProtocolThinkingML = "thinkingml_v45"
	// OutputProtocolJSONSeq is the typed-event protocol.
	OutputProtocolJSONSeq = "jsonseq_v1"
)

// Result modes selectable per request or via DEFAULT_RESULT_MODE.
const (
	// ResultModeRawPassthrough forwards upstream frames unmodified.
	ResultModeRawPassthrough = "raw_passthrough"
	// ResultModeXMLPlaintext delivers the normalized delta stream.
	ResultModeXMLPlaintext = "xml_plaintext"
	// ResultModeAuto picks xml_plaintext and degrades gracefully.
	ResultModeAuto = "auto"
)

// ValidOutputProtocol reports whether the value is a known protocol.
func ValidOutputProtocol(value string) bool {
	return value == OutputProtocolThinkingML || value == OutputProtocolJSONSeq
}

// ValidResultMode reports whether the value is a known result mode.
func ValidResultMode(value string) bool {
	switch value {
	case ResultModeRawPassthrough, ResultModeXMLPlaintext, ResultModeAuto:
		return true
	default:
		return false
	}
}
