package monitoring

import (
	"math"
	"sync"
)

// AnomalyDetector flags metric samples whose Z-score against a rolling
// window exceeds the configured sigma. Each named metric keeps its own
// window.
type AnomalyDetector struct {
	mu      sync.Mutex
	sigma   float64
	window  int
	samples map[string][]float64
}

// Anomaly describes one flagged sample.
type Anomaly struct {
	Metric string  `json:"metric"`
	Value  float64 `json:"value"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	ZScore float64 `json:"z_score"`
}

// NewAnomalyDetector creates a detector with the given threshold and
// rolling window size.
func NewAnomalyDetector(sigma float64, window int) *AnomalyDetector {
	if window <= 0 {
		window = 50
	}
	return &AnomalyDetector{
		sigma:   sigma,
		window:  window,
		samples: make(map[string][]float64),
	}
}

// Observe records a sample and returns a non-nil Anomaly when it deviates
// beyond the sigma threshold. The window must hold enough history first;
// the first handful of samples never flag.
func (d *AnomalyDetector) Observe(metric string, value float64) *Anomaly {
	d.mu.Lock()
	defer d.mu.Unlock()

	window := d.samples[metric]

	var result *Anomaly
	if len(window) >= 10 {
		mean, stddev := meanStdDev(window)
		if stddev > 0 {
			z := (value - mean) / stddev
			if math.Abs(z) >= d.sigma {
				result = &Anomaly{
					Metric: metric,
					Value:  value,
					Mean:   mean,
					StdDev: stddev,
					ZScore: z,
				}
			}
		}
	}

	window = append(window, value)
	if len(window) > d.window {
		window = window[len(window)-d.window:]
	}
	d.samples[metric] = window
	return result
}

func meanStdDev(samples []float64) (mean, stddev float64) {
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))

	var variance float64
	for _, v := range samples {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(samples))
	return mean, math.Sqrt(variance)
}
