// Package monitoring collects error events and turns them into health
// signals.
//
// Events flow through a bounded queue whose producers never block; under
// overload the oldest unconsumed event is dropped and counted. Retained
// events are pruned by count and age (inline and on a cron schedule) and
// aggregated over a rolling window into metrics, 0-100 health scores,
// adaptive regex patterns with learned success rates, Z-score anomaly
// detection, and threshold alerts.
package monitoring
