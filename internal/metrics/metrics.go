// Package metrics records relayer operation counters and exposes them
// in a Prometheus-compatible text format, following the
// hand-rolled-counter style of the pack's own chainadapter/metrics
// package (PrometheusMetrics: per-method stats guarded by a mutex,
// rendered via Export()) rather than depending on the real
// prometheus/client_golang library, which no example in this corpus
// imports either (see DESIGN.md).
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Recorder is the metrics seam the JSON-RPC handler set and signer
// pool report through (spec.md's supplemented component N).
type Recorder interface {
	RecordRequest(method string, duration time.Duration, success bool)
	RecordFeeEstimate(lamports uint64)
	RecordSignerSelection(backend string)
}

type methodStats struct {
	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	totalDuration   time.Duration
}

// Registry is the default Recorder: per-method call counters, a
// running fee-estimate total, and per-backend signer selection
// counts.
type Registry struct {
	mu sync.RWMutex

	methods map[string]*methodStats
	signers map[string]int64

	feeEstimateCount int64
	feeEstimateTotal uint64
}

func NewRegistry() *Registry {
	return &Registry{methods: make(map[string]*methodStats), signers: make(map[string]int64)}
}

func (r *Registry) RecordRequest(method string, duration time.Duration, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.methods[method]
	if !ok {
		s = &methodStats{}
		r.methods[method] = s
	}
	s.totalCalls++
	s.totalDuration += duration
	if success {
		s.successfulCalls++
	} else {
		s.failedCalls++
	}
}

func (r *Registry) RecordFeeEstimate(lamports uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeEstimateCount++
	r.feeEstimateTotal += lamports
}

func (r *Registry) RecordSignerSelection(backend string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signers[backend]++
}

// Export renders counters in a minimal Prometheus text-exposition
// format, sufficient for a scrape target without pulling in the full
// client library.
func (r *Registry) Export() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for method, s := range r.methods {
		fmt.Fprintf(&b, "kora_rpc_requests_total{method=%q} %d\n", method, s.totalCalls)
		fmt.Fprintf(&b, "kora_rpc_requests_success_total{method=%q} %d\n", method, s.successfulCalls)
		fmt.Fprintf(&b, "kora_rpc_requests_failed_total{method=%q} %d\n", method, s.failedCalls)
	}
	fmt.Fprintf(&b, "kora_fee_estimates_total %d\n", r.feeEstimateCount)
	fmt.Fprintf(&b, "kora_fee_estimate_lamports_total %d\n", r.feeEstimateTotal)
	for backend, n := range r.signers {
		fmt.Fprintf(&b, "kora_signer_selections_total{backend=%q} %d\n", backend, n)
	}
	return b.String()
}

// NoopRecorder discards everything, the default when metrics are
// disabled in config.
type NoopRecorder struct{}

func (NoopRecorder) RecordRequest(string, time.Duration, bool) {}
func (NoopRecorder) RecordFeeEstimate(uint64)                  {}
func (NoopRecorder) RecordSignerSelection(string)              {}

var (
	_ Recorder = (*Registry)(nil)
	_ Recorder = NoopRecorder{}
)
