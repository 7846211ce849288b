package monitoring

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Monitor struct {
	mu             sync.RWMutex
	logger         *zap.Logger
	lastRunSuccess bool
	lastRunTime    time.Time
	lastSummary    string
	successes      int
	failures       int
	now            func() time.Time
}

func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{logger: logger, now: time.Now}
}

func (m *Monitor) RecordSuccess(summary string, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = true
	m.lastRunTime = m.now()
	m.lastSummary = summary
	m.successes++
	m.mu.Unlock()

	m.logger.Info("run completed", zap.String("summary", summary), zap.Duration("took", duration))
}

// RecordPartialFailure logs a degraded run without changing health
func (m *Monitor) RecordPartialFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.failures++
	m.mu.Unlock()

	m.logger.Warn("partial failure", zap.Error(err), zap.Duration("took", duration))
}

func (m *Monitor) RecordCriticalFailure(err error, duration time.Duration) {
	m.mu.Lock()
	m.lastRunSuccess = false
	m.lastRunTime = m.now()
	m.lastSummary = err.Error()
	m.failures++
	m.mu.Unlock()

	m.logger.Error("critical failure", zap.Error(err), zap.Duration("took", duration))
}

func (m *Monitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunTime.IsZero() {
		return true // No runs yet, assume healthy
	}
	return m.lastRunSuccess
}

func (m *Monitor) GetStatusSummary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastRunTime.IsZero() {
		return "No runs yet"
	}

	if m.lastRunSuccess {
		return fmt.Sprintf("Last run: %s (%s)", m.lastRunTime.Format("Jan 2 15:04"), m.lastSummary)
	}
	return fmt.Sprintf("Last run failed: %s (%s)", m.lastRunTime.Format("Jan 2 15:04"), m.lastSummary)
}

// Counts returns the number of successful and failed runs so far
func (m *Monitor) Counts() (successes, failures int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.successes, m.failures
}
