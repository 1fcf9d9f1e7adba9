package monitor

import (
	"sync"
	"time"
)

// Defaults for a TaskMonitor's health rule.
const (
	DefaultStaleAfter = 5 * time.Minute
	DefaultMaxErrors  = 3
)

// TaskMonitor tracks the health of a recurring background task such as the
// live poller or archive retention.
type TaskMonitor struct {
	name       string
	staleAfter time.Duration
	maxErrors  int

	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	runs              uint64
}

// NewTaskMonitor creates a monitor. A task is stale when it has not
// succeeded within staleAfter.
func NewTaskMonitor(name string, staleAfter time.Duration) *TaskMonitor {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &TaskMonitor{name: name, staleAfter: staleAfter, maxErrors: DefaultMaxErrors}
}

// Name returns the task name.
func (m *TaskMonitor) Name() string { return m.name }

// RecordSuccess records a successful run.
func (m *TaskMonitor) RecordSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.lastError = ""
	m.runs++
}

// RecordFailure records a failed run.
func (m *TaskMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = time.Now()
	m.consecutiveErrors++
	m.runs++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy reports whether the task is working. It is unhealthy when it
// never succeeded, its last success is stale, or it failed more than
// maxErrors times in a row.
func (m *TaskMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *TaskMonitor) healthyLocked() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if time.Since(m.lastSuccess) > m.staleAfter {
		return false
	}
	return m.consecutiveErrors <= m.maxErrors
}

// TaskStatus is a task's state for health checks.
type TaskStatus struct {
	Name              string `json:"name"`
	Healthy           bool   `json:"healthy"`
	Runs              uint64 `json:"runs"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns the current task status.
func (m *TaskMonitor) Status() TaskStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := TaskStatus{
		Name:    m.name,
		Healthy: m.healthyLocked(),
		Runs:    m.runs,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = time.Since(m.lastSuccess).Round(time.Second).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
