package config

import (
	"fmt"
	"time"
)

// Snapshot is the validated configuration consumed by the core.
// The core never parses configuration itself; the hosting program builds a
// Snapshot (the Load helper in this package parses YAML for it), validates
// it, and hands it over. A snapshot is immutable after validation; swaps are
// atomic pointer replacements observed by new requests only.
type Snapshot struct {
	// VirtualModels maps virtual-model id to its definition.
	VirtualModels map[string]*VirtualModel `yaml:"virtual_models"`

	// Providers maps provider id to its upstream descriptor.
	Providers map[string]*ProviderSpec `yaml:"providers"`

	// Mappings maps provider id to its field compatibility table.
	// Providers without an entry are treated as fully compatible (pass-through).
	Mappings map[string]*MappingTable `yaml:"mappings"`

	// Scheduler contains admission and concurrency settings.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Strategy contains retry, fallback and circuit-breaker thresholds.
	Strategy StrategyConfig `yaml:"strategy"`

	// Monitoring contains event retention, health scoring and alerting settings.
	Monitoring MonitoringConfig `yaml:"monitoring"`

	// Auth contains token storage and refresh settings.
	Auth AuthConfig `yaml:"auth"`

	// Trace contains per-stage I/O recording settings.
	Trace TraceConfig `yaml:"trace"`

	// Logging contains log level and format settings.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains Prometheus metric naming and bucket settings.
	Metrics MetricsConfig `yaml:"metrics"`
}

// TargetStatus is the administrative status of a target.
type TargetStatus string

const (
	TargetActive      TargetStatus = "active"
	TargetDisabled    TargetStatus = "disabled"
	TargetBlacklisted TargetStatus = "blacklisted"
)

// VirtualModel is a named logical endpoint resolving to one or more targets.
type VirtualModel struct {
	// ID is the unique virtual-model identifier (e.g. "gpt-4-equivalent").
	ID string `yaml:"id"`

	// DisplayName is the human-readable name.
	DisplayName string `yaml:"display_name"`

	// Capabilities tags what the model supports (chat, streaming, vision, tools).
	Capabilities []string `yaml:"capabilities"`

	// Policy is the load-balancing policy for this model
	// (round-robin, weighted, priority, least-connections, health-based, random).
	// Empty means the scheduler's default policy.
	Policy string `yaml:"policy"`

	// Targets is the ordered set of candidate (provider, model) pairs.
	Targets []Target `yaml:"targets"`
}

// Target is a concrete (provider, model) pair with policy attributes.
type Target struct {
	// Provider is the provider id the target belongs to.
	Provider string `yaml:"provider"`

	// Model is the upstream model identifier.
	Model string `yaml:"model"`

	// Weight biases weighted selection. Must be positive; default 1.
	Weight int `yaml:"weight"`

	// Priority orders targets for the priority policy; lower is preferred.
	Priority int `yaml:"priority"`

	// Status is the administrative status (active, disabled, blacklisted).
	Status TargetStatus `yaml:"status"`
}

// Key returns the canonical "provider/model" identifier for the target.
// Selection tiebreaks and exclusion sets are keyed on it.
func (t Target) Key() string {
	return t.Provider + "/" + t.Model
}

// ProviderSpec describes one upstream service.
type ProviderSpec struct {
	// ID is the provider identifier.
	ID string `yaml:"id"`

	// Family is the protocol family: openai, anthropic or qwen.
	Family string `yaml:"family"`

	// BaseURL is the API endpoint base URL.
	BaseURL string `yaml:"base_url"`

	// Auth describes how outbound calls are authenticated.
	Auth AuthDescriptor `yaml:"auth"`

	// SupportsStreaming indicates streaming capability.
	SupportsStreaming bool `yaml:"supports_streaming"`

	// MaxTokensLimit caps max_tokens sent upstream (0 = no cap).
	MaxTokensLimit int `yaml:"max_tokens_limit"`

	// HealthPath is the relative health-probe path.
	HealthPath string `yaml:"health_path"`

	// Timeout is the per-request timeout.
	Timeout time.Duration `yaml:"timeout"`

	// MaxIdleConns is the connection pool size.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// MaxIdleConnsPerHost is the per-host pool size.
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`

	// IdleConnTimeout is how long idle connections are kept.
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// AuthDescriptor selects and parameterises an authentication scheme.
type AuthDescriptor struct {
	// Scheme is one of: none, api-key, bearer, oauth-device-flow.
	Scheme string `yaml:"scheme"`

	// APIKey is the static secret for api-key and bearer schemes.
	APIKey string `yaml:"api_key"`

	// ClientID identifies the OAuth client for the device flow.
	ClientID string `yaml:"client_id"`

	// DeviceAuthURL is the device-authorization endpoint.
	DeviceAuthURL string `yaml:"device_auth_url"`

	// TokenURL is the token endpoint.
	TokenURL string `yaml:"token_url"`

	// Scopes are the OAuth scopes requested during login.
	Scopes []string `yaml:"scopes"`
}

// MappingTable is a per-provider declarative field rewrite.
type MappingTable struct {
	// Provider is the provider id the table applies to.
	Provider string `yaml:"provider"`

	// PassThrough declares the provider fully compatible; mapping is a no-op.
	PassThrough bool `yaml:"pass_through"`

	// PreserveUnknownFields keeps fields with no mapping entry instead of
	// dropping them.
	PreserveUnknownFields bool `yaml:"preserve_unknown_fields"`

	// Request maps core request fields to provider request fields.
	Request []FieldMapping `yaml:"request"`

	// Response maps provider response fields back to core response fields.
	Response []FieldMapping `yaml:"response"`
}

// FieldMapping rewrites one field path, optionally through a named transform.
type FieldMapping struct {
	// Source is the dotted path read from the input.
	Source string `yaml:"source"`

	// Target is the dotted path written to the output.
	Target string `yaml:"target"`

	// Required makes a missing source an InvalidRequest failure.
	Required bool `yaml:"required"`

	// Default is used when the source is absent and not required.
	Default interface{} `yaml:"default"`

	// Transform names a registered transform applied to the value.
	Transform *TransformSpec `yaml:"transform"`
}

// TransformSpec parameterises one of the registered transforms.
// The transform set is closed: mapping, string_transform, array_transform.
// An unknown name is a validation failure, never a runtime one.
type TransformSpec struct {
	// Name is the registered transform name.
	Name string `yaml:"name"`

	// Table is the key→value lookup for the mapping transform.
	Table map[string]string `yaml:"table"`

	// Default is the mapping transform's fallback value.
	Default string `yaml:"default"`

	// Op is the string_transform operation: prefix, suffix, replace, upper, lower.
	Op string `yaml:"op"`

	// Value parameterises prefix/suffix operations.
	Value string `yaml:"value"`

	// Pattern is the regular expression for the replace operation.
	Pattern string `yaml:"pattern"`

	// Replacement is the replacement text for the replace operation.
	Replacement string `yaml:"replacement"`

	// Fields is the per-element sub-mapping for array_transform.
	Fields []FieldMapping `yaml:"fields"`
}

// SchedulerConfig contains admission and concurrency settings.
type SchedulerConfig struct {
	// MaxConcurrency is the global in-flight request bound.
	MaxConcurrency int `yaml:"max_concurrency"`

	// QueueWait is how long admission may block on a saturated semaphore
	// before failing with Backpressure. Zero means fail immediately.
	QueueWait time.Duration `yaml:"queue_wait"`

	// DefaultPolicy is the load-balancing policy used when a virtual model
	// declares none.
	DefaultPolicy string `yaml:"default_policy"`

	// RequestTimeout is the default per-request deadline when the caller's
	// context carries none.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// HealthScoreThreshold is the minimum health score for the health-based
	// policy to consider a target.
	HealthScoreThreshold float64 `yaml:"health_score_threshold"`
}

// StrategyConfig contains the recovery strategy thresholds.
type StrategyConfig struct {
	Retry    RetryConfig    `yaml:"retry"`
	Breaker  BreakerConfig  `yaml:"breaker"`
	Fallback FallbackConfig `yaml:"fallback"`
}

// RetryConfig parameterises exponential backoff retries.
type RetryConfig struct {
	// MaxAttempts is the per-request retry budget.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelay is the first backoff delay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// Multiplier grows the delay per attempt.
	Multiplier float64 `yaml:"multiplier"`

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration `yaml:"max_delay"`

	// Jitter scales each delay by a uniform factor in [0.5, 1.0].
	Jitter bool `yaml:"jitter"`

	// RetryableStatusCodes adds provider-declared retryable HTTP statuses.
	RetryableStatusCodes []int `yaml:"retryable_status_codes"`
}

// BreakerConfig parameterises the per-target circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the failure count that opens a closed circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// VolumeThreshold is the minimum requests in the window before the
	// failure threshold applies.
	VolumeThreshold int `yaml:"volume_threshold"`

	// Window is the rolling monitoring window for failure counting.
	Window time.Duration `yaml:"window"`

	// RecoveryTimeout is how long an open circuit rejects before half-open.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// SuccessThreshold is the consecutive probe successes that close a
	// half-open circuit.
	SuccessThreshold int `yaml:"success_threshold"`

	// HalfOpenAttempts is the probe budget while half-open.
	HalfOpenAttempts int `yaml:"half_open_attempts"`
}

// FallbackConfig parameterises the fallback strategy.
type FallbackConfig struct {
	// EnableCache enables the fingerprint-keyed response cache action.
	EnableCache bool `yaml:"enable_cache"`

	// CacheSize bounds the response cache entry count.
	CacheSize int `yaml:"cache_size"`

	// EnableDegraded enables the canned degraded-service response action.
	EnableDegraded bool `yaml:"enable_degraded"`
}

// MonitoringConfig contains event retention, scoring and alerting settings.
type MonitoringConfig struct {
	// MaxEvents bounds the retained error-event count.
	MaxEvents int `yaml:"max_events"`

	// MaxEventAge bounds retained error-event age.
	MaxEventAge time.Duration `yaml:"max_event_age"`

	// QueueCapacity bounds the event hand-off queue. Producers never block;
	// the oldest unconsumed event is evicted when full.
	QueueCapacity int `yaml:"queue_capacity"`

	// PruneSchedule is a cron expression for retention pruning
	// (e.g. "0 3 * * *"). Empty disables scheduled pruning.
	PruneSchedule string `yaml:"prune_schedule"`

	// HealthWindow is the rolling window for metric aggregation.
	HealthWindow time.Duration `yaml:"health_window"`

	// MinConfidence is the threshold for adaptive pattern suggestions.
	MinConfidence float64 `yaml:"min_confidence"`

	// LearningRate controls the EWMA update of pattern success rates.
	LearningRate float64 `yaml:"learning_rate"`

	// AnomalySigma is the Z-score threshold for anomaly detection.
	AnomalySigma float64 `yaml:"anomaly_sigma"`

	// AnomalyWindow is the per-metric rolling sample count.
	AnomalyWindow int `yaml:"anomaly_window"`

	// Alerts contains alerting thresholds.
	Alerts AlertConfig `yaml:"alerts"`
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	// ErrorRate is the errors-per-minute threshold.
	ErrorRate float64 `yaml:"error_rate"`

	// ConsecutiveErrors is the per-provider consecutive error threshold.
	ConsecutiveErrors int `yaml:"consecutive_errors"`

	// HandlingTime is the average handling-time threshold.
	HandlingTime time.Duration `yaml:"handling_time"`
}

// AuthConfig contains token storage and refresh settings.
type AuthConfig struct {
	// StateDir is where per-provider token files are persisted.
	StateDir string `yaml:"state_dir"`

	// RefreshThreshold is how long before expiry a token is proactively
	// refreshed.
	RefreshThreshold time.Duration `yaml:"refresh_threshold"`
}

// TraceConfig contains per-stage I/O recording settings.
type TraceConfig struct {
	// Enabled turns stage I/O recording on.
	Enabled bool `yaml:"enabled"`

	// Debug records full payloads instead of bounded excerpts.
	Debug bool `yaml:"debug"`

	// MaxExcerpt bounds recorded payload excerpts in bytes.
	MaxExcerpt int `yaml:"max_excerpt"`

	// Buffer is the async write channel size.
	Buffer int `yaml:"buffer"`

	// StorePath is the SQLite trace store path. Empty keeps records in memory.
	StorePath string `yaml:"store_path"`

	// MemoryLimit bounds the in-memory store record count.
	MemoryLimit int `yaml:"memory_limit"`
}

// LoggingConfig contains log settings.
type LoggingConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is one of: json, text.
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus naming and bucket settings.
type MetricsConfig struct {
	// Namespace is the metric namespace (default "janus").
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem.
	Subsystem string `yaml:"subsystem"`

	// RequestDurationBuckets are the histogram buckets in seconds.
	RequestDurationBuckets []float64 `yaml:"request_duration_buckets"`
}

// VirtualModel returns the virtual model with the given id, or nil.
func (s *Snapshot) VirtualModel(id string) *VirtualModel {
	return s.VirtualModels[id]
}

// Provider returns the provider with the given id, or nil.
func (s *Snapshot) Provider(id string) *ProviderSpec {
	return s.Providers[id]
}

// Mapping returns the mapping table for a provider, or nil for pass-through.
func (s *Snapshot) Mapping(provider string) *MappingTable {
	if s.Mappings == nil {
		return nil
	}
	return s.Mappings[provider]
}

// String implements fmt.Stringer for debug logging without dumping secrets.
func (p *ProviderSpec) String() string {
	return fmt.Sprintf("provider{id=%s family=%s url=%s auth=%s}", p.ID, p.Family, p.BaseURL, p.Auth.Scheme)
}
