package config

import "time"

// Default values applied by ApplyDefaults.
const (
	DefaultMaxConcurrency       = 128
	DefaultQueueWait            = 2 * time.Second
	DefaultPolicy               = "round-robin"
	DefaultRequestTimeout       = 120 * time.Second
	DefaultHealthScoreThreshold = 50.0

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 1 * time.Second
	DefaultRetryMultiplier  = 2.0
	DefaultRetryMaxDelay    = 30 * time.Second

	DefaultFailureThreshold = 5
	DefaultVolumeThreshold  = 5
	DefaultBreakerWindow    = 60 * time.Second
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultSuccessThreshold = 2
	DefaultHalfOpenAttempts = 3

	DefaultMaxEvents      = 10000
	DefaultMaxEventAge    = 24 * time.Hour
	DefaultQueueCapacity  = 1024
	DefaultHealthWindow   = 5 * time.Minute
	DefaultMinConfidence  = 0.6
	DefaultLearningRate   = 0.2
	DefaultAnomalySigma   = 2.5
	DefaultAnomalyWindow  = 50
	DefaultAlertErrorRate = 10.0

	DefaultRefreshThreshold = 5 * time.Minute

	DefaultTraceExcerpt = 500
	DefaultTraceBuffer  = 1000
	DefaultTraceMemory  = 10000

	DefaultProviderTimeout     = 60 * time.Second
	DefaultMaxIdleConns        = 100
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// ApplyDefaults fills zero-valued settings with their defaults.
// It mutates the snapshot in place and is called before Validate.
func ApplyDefaults(s *Snapshot) {
	if s.Scheduler.MaxConcurrency == 0 {
		s.Scheduler.MaxConcurrency = DefaultMaxConcurrency
	}
	if s.Scheduler.QueueWait == 0 {
		s.Scheduler.QueueWait = DefaultQueueWait
	}
	if s.Scheduler.DefaultPolicy == "" {
		s.Scheduler.DefaultPolicy = DefaultPolicy
	}
	if s.Scheduler.RequestTimeout == 0 {
		s.Scheduler.RequestTimeout = DefaultRequestTimeout
	}
	if s.Scheduler.HealthScoreThreshold == 0 {
		s.Scheduler.HealthScoreThreshold = DefaultHealthScoreThreshold
	}

	if s.Strategy.Retry.MaxAttempts == 0 {
		s.Strategy.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if s.Strategy.Retry.BaseDelay == 0 {
		s.Strategy.Retry.BaseDelay = DefaultRetryBaseDelay
	}
	if s.Strategy.Retry.Multiplier == 0 {
		s.Strategy.Retry.Multiplier = DefaultRetryMultiplier
	}
	if s.Strategy.Retry.MaxDelay == 0 {
		s.Strategy.Retry.MaxDelay = DefaultRetryMaxDelay
	}

	if s.Strategy.Breaker.FailureThreshold == 0 {
		s.Strategy.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if s.Strategy.Breaker.VolumeThreshold == 0 {
		s.Strategy.Breaker.VolumeThreshold = DefaultVolumeThreshold
	}
	if s.Strategy.Breaker.Window == 0 {
		s.Strategy.Breaker.Window = DefaultBreakerWindow
	}
	if s.Strategy.Breaker.RecoveryTimeout == 0 {
		s.Strategy.Breaker.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if s.Strategy.Breaker.SuccessThreshold == 0 {
		s.Strategy.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}
	if s.Strategy.Breaker.HalfOpenAttempts == 0 {
		s.Strategy.Breaker.HalfOpenAttempts = DefaultHalfOpenAttempts
	}
	if s.Strategy.Fallback.CacheSize == 0 {
		s.Strategy.Fallback.CacheSize = 256
	}

	if s.Monitoring.MaxEvents == 0 {
		s.Monitoring.MaxEvents = DefaultMaxEvents
	}
	if s.Monitoring.MaxEventAge == 0 {
		s.Monitoring.MaxEventAge = DefaultMaxEventAge
	}
	if s.Monitoring.QueueCapacity == 0 {
		s.Monitoring.QueueCapacity = DefaultQueueCapacity
	}
	if s.Monitoring.HealthWindow == 0 {
		s.Monitoring.HealthWindow = DefaultHealthWindow
	}
	if s.Monitoring.MinConfidence == 0 {
		s.Monitoring.MinConfidence = DefaultMinConfidence
	}
	if s.Monitoring.LearningRate == 0 {
		s.Monitoring.LearningRate = DefaultLearningRate
	}
	if s.Monitoring.AnomalySigma == 0 {
		s.Monitoring.AnomalySigma = DefaultAnomalySigma
	}
	if s.Monitoring.AnomalyWindow == 0 {
		s.Monitoring.AnomalyWindow = DefaultAnomalyWindow
	}
	if s.Monitoring.Alerts.ErrorRate == 0 {
		s.Monitoring.Alerts.ErrorRate = DefaultAlertErrorRate
	}
	if s.Monitoring.Alerts.ConsecutiveErrors == 0 {
		s.Monitoring.Alerts.ConsecutiveErrors = 5
	}
	if s.Monitoring.Alerts.HandlingTime == 0 {
		s.Monitoring.Alerts.HandlingTime = 5 * time.Second
	}

	if s.Auth.RefreshThreshold == 0 {
		s.Auth.RefreshThreshold = DefaultRefreshThreshold
	}

	if s.Trace.MaxExcerpt == 0 {
		s.Trace.MaxExcerpt = DefaultTraceExcerpt
	}
	if s.Trace.Buffer == 0 {
		s.Trace.Buffer = DefaultTraceBuffer
	}
	if s.Trace.MemoryLimit == 0 {
		s.Trace.MemoryLimit = DefaultTraceMemory
	}

	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
	if s.Logging.Format == "" {
		s.Logging.Format = "json"
	}

	if s.Metrics.Namespace == "" {
		s.Metrics.Namespace = "janus"
	}
	if len(s.Metrics.RequestDurationBuckets) == 0 {
		// LLM completions are slow; buckets stretch well past the defaults.
		s.Metrics.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}
	}

	for id, vm := range s.VirtualModels {
		if vm.ID == "" {
			vm.ID = id
		}
		for i := range vm.Targets {
			if vm.Targets[i].Weight == 0 {
				vm.Targets[i].Weight = 1
			}
			if vm.Targets[i].Status == "" {
				vm.Targets[i].Status = TargetActive
			}
		}
	}

	for id, p := range s.Providers {
		if p.ID == "" {
			p.ID = id
		}
		if p.Timeout == 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.MaxIdleConns == 0 {
			p.MaxIdleConns = DefaultMaxIdleConns
		}
		if p.MaxIdleConnsPerHost == 0 {
			p.MaxIdleConnsPerHost = DefaultMaxIdleConnsPerHost
		}
		if p.IdleConnTimeout == 0 {
			p.IdleConnTimeout = DefaultIdleConnTimeout
		}
		if p.Auth.Scheme == "" {
			p.Auth.Scheme = "none"
		}
	}
}
