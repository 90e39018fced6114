package channels

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks gateway activity with lock-free counters. One instance
// lives inside each gateway implementation.
type Metrics struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	messagesFailed   atomic.Uint64
	repliesAwaited   atomic.Uint64
	voiceEvents      atomic.Uint64

	reconnectAttempts atomic.Uint64

	errorsByCode map[ErrorCode]*atomic.Uint64
	errorsMu     sync.RWMutex

	startTime time.Time
}

// NewMetrics creates a zeroed metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{
		errorsByCode: make(map[ErrorCode]*atomic.Uint64),
		startTime:    time.Now(),
	}
}

// RecordMessageSent increments the sent counter.
func (m *Metrics) RecordMessageSent() { m.messagesSent.Add(1) }

// RecordMessageReceived increments the received counter.
func (m *Metrics) RecordMessageReceived() { m.messagesReceived.Add(1) }

// RecordMessageFailed increments the failed counter.
func (m *Metrics) RecordMessageFailed() { m.messagesFailed.Add(1) }

// RecordReplyAwaited increments the await counter.
func (m *Metrics) RecordReplyAwaited() { m.repliesAwaited.Add(1) }

// RecordVoiceEvent increments the voice event counter.
func (m *Metrics) RecordVoiceEvent() { m.voiceEvents.Add(1) }

// RecordReconnectAttempt increments the reconnect counter.
func (m *Metrics) RecordReconnectAttempt() { m.reconnectAttempts.Add(1) }

// RecordError increments the counter for a specific error code.
func (m *Metrics) RecordError(code ErrorCode) {
	m.errorsMu.Lock()
	counter, ok := m.errorsByCode[code]
	if !ok {
		counter = &atomic.Uint64{}
		m.errorsByCode[code] = counter
	}
	m.errorsMu.Unlock()

	counter.Add(1)
}

// Snapshot returns a point-in-time view of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.errorsMu.RLock()
	errs := make(map[ErrorCode]uint64, len(m.errorsByCode))
	for code, counter := range m.errorsByCode {
		errs[code] = counter.Load()
	}
	m.errorsMu.RUnlock()

	return MetricsSnapshot{
		MessagesSent:      m.messagesSent.Load(),
		MessagesReceived:  m.messagesReceived.Load(),
		MessagesFailed:    m.messagesFailed.Load(),
		RepliesAwaited:    m.repliesAwaited.Load(),
		VoiceEvents:       m.voiceEvents.Load(),
		ReconnectAttempts: m.reconnectAttempts.Load(),
		ErrorsByCode:      errs,
		Uptime:            time.Since(m.startTime),
	}
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	MessagesSent      uint64
	MessagesReceived  uint64
	MessagesFailed    uint64
	RepliesAwaited    uint64
	VoiceEvents       uint64
	ReconnectAttempts uint64
	ErrorsByCode      map[ErrorCode]uint64
	Uptime            time.Duration
}
