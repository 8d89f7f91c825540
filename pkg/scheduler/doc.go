// Package scheduler is the request front door: validation, bounded
// admission, timeouts, and hand-off to the pipeline executor. Admission is
// a counting semaphore; when full, requests wait up to the configured queue
// wait and are then rejected with a backpressure error carrying a
// retry-after hint. A slot is held until the terminal outcome, including
// stream end for streaming requests.
package scheduler
