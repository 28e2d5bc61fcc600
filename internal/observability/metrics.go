package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	broadcasts   BroadcastStats
}

// BroadcastStats counts fan-out outcomes.
type BroadcastStats struct {
	Cycles     int64 `json:"cycles"`
	Delivered  int64 `json:"delivered"`
	Replaced   int64 `json:"replaced"`
	Failed     int64 `json:"failed"`
	Subscribed int64 `json:"subscribed"`
	Reaped     int64 `json:"reaped"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
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

// RecordCycle counts one snapshot build + publish.
func (m *Metrics) RecordCycle() {
	m.addBroadcast(func(s *BroadcastStats) { s.Cycles++ })
}

// RecordDelivery counts a frame written to an observer.
func (m *Metrics) RecordDelivery() {
	m.addBroadcast(func(s *BroadcastStats) { s.Delivered++ })
}

// RecordReplaced counts a pending frame superseded by a newer snapshot.
func (m *Metrics) RecordReplaced() {
	m.addBroadcast(func(s *BroadcastStats) { s.Replaced++ })
}

// RecordDeliveryFailure counts an observer dropped after a failed write.
func (m *Metrics) RecordDeliveryFailure() {
	m.addBroadcast(func(s *BroadcastStats) { s.Failed++ })
}

// RecordSubscribe counts an observer registration.
func (m *Metrics) RecordSubscribe() {
	m.addBroadcast(func(s *BroadcastStats) { s.Subscribed++ })
}

// RecordReaped counts an observer dropped for missing heartbeats.
func (m *Metrics) RecordReaped() {
	m.addBroadcast(func(s *BroadcastStats) { s.Reaped++ })
}

// Broadcasts returns a copy of the fan-out counters.
func (m *Metrics) Broadcasts() BroadcastStats {
	if m == nil {
		return BroadcastStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts
}

// Traffic sums the request and error counters.
type Traffic struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

// Totals returns request and error counts across all routes.
func (m *Metrics) Totals() Traffic {
	if m == nil {
		return Traffic{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var t Traffic
	for _, n := range m.requestCount {
		t.Requests += n
	}
	for _, n := range m.errorCount {
		t.Errors += n
	}
	return t
}

func (m *Metrics) addBroadcast(fn func(*BroadcastStats)) {
	if m == nil {
		return
	}
	m.mu.Lock()
	fn(&m.broadcasts)
	m.mu.Unlock()
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
