package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for webhook intake and
// reconciliation outcomes.
type Metrics struct {
	mu             sync.Mutex
	requestCount   map[string]int64
	errorCount     map[string]int64
	webhookCount   map[string]int64
	reconcileCount map[string]int64
	lastSync       time.Time
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:   make(map[string]int64),
		errorCount:     make(map[string]int64),
		webhookCount:   make(map[string]int64),
		reconcileCount: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordWebhook counts a webhook delivery outcome (accepted,
// invalid_sender, invalid_signature, duplicate).
func (m *Metrics) RecordWebhook(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookCount[outcome]++
}

// RecordReconcile counts a reconciliation outcome (created, moved,
// skipped, failed).
func (m *Metrics) RecordReconcile(outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileCount[outcome]++
}

// MarkSync records the completion time of a successful reconciliation.
func (m *Metrics) MarkSync(at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSync = at
}

// LastSync returns the time of the last successful reconciliation.
func (m *Metrics) LastSync() time.Time {
	if m == nil {
		return time.Time{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSync
}

// Snapshot returns a copy of all counters for the metrics endpoint.
func (m *Metrics) Snapshot() map[string]map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]map[string]int64{
		"requests":  copyCounts(m.requestCount),
		"errors":    copyCounts(m.errorCount),
		"webhooks":  copyCounts(m.webhookCount),
		"reconcile": copyCounts(m.reconcileCount),
	}
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
