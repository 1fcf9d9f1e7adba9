package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestTaskMonitor_RecordSuccess(t *testing.T) {
	m := NewTaskMonitor("poller", time.Minute)
	m.RecordSuccess()

	status := m.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.Name != "poller" {
		t.Errorf("Name = %q, want %q", status.Name, "poller")
	}
	if status.Runs != 1 {
		t.Errorf("Runs = %d, want 1", status.Runs)
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
}

func TestTaskMonitor_RecordFailure(t *testing.T) {
	m := NewTaskMonitor("poller", time.Minute)
	m.RecordFailure(errors.New("upstream timeout"))

	status := m.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "upstream timeout" {
		t.Errorf("LastError = %q, want %q", status.LastError, "upstream timeout")
	}
	if status.Healthy {
		t.Error("Status should be unhealthy before any success")
	}
}

func TestTaskMonitor_IsHealthy(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*TaskMonitor)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*TaskMonitor) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(m *TaskMonitor) {
				m.RecordSuccess()
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(m *TaskMonitor) {
				m.mu.Lock()
				m.lastSuccess = time.Now().Add(-2 * time.Minute)
				m.mu.Unlock()
			},
			expected: false,
		},
		{
			name: "failures within tolerance",
			setup: func(m *TaskMonitor) {
				m.RecordSuccess()
				m.RecordFailure(errors.New("error 1"))
				m.RecordFailure(errors.New("error 2"))
				m.RecordFailure(errors.New("error 3"))
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(m *TaskMonitor) {
				m.RecordSuccess()
				m.RecordFailure(errors.New("error 1"))
				m.RecordFailure(errors.New("error 2"))
				m.RecordFailure(errors.New("error 3"))
				m.RecordFailure(errors.New("error 4"))
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewTaskMonitor("test", time.Minute)
			tt.setup(m)
			if got := m.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTaskMonitor_DefaultStaleAfter(t *testing.T) {
	m := NewTaskMonitor("retention", 0)
	if m.staleAfter != DefaultStaleAfter {
		t.Errorf("staleAfter = %v, want %v", m.staleAfter, DefaultStaleAfter)
	}
}

func TestTaskMonitor_Status(t *testing.T) {
	m := NewTaskMonitor("poller", time.Minute)
	m.RecordSuccess()

	status := m.Status()
	if !status.Healthy {
		t.Error("Status should be healthy")
	}
	if status.LastSuccess == "" {
		t.Error("LastSuccess should be set")
	}
	if status.TimeSinceSuccess == "" {
		t.Error("TimeSinceSuccess should be set")
	}
}
