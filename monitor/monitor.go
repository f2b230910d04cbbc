// Package monitor implements the Reconciliation Monitor (component 4.E):
// a periodic cross-collection join between Timer and CompletionLog that
// finds expiries the fleet never successfully completed, classifies why,
// and never auto-retries — an observability surface, not a repair loop.
//
// It also carries the timer/event-log retention janitors (SPEC_FULL
// supplemental features): both are low-frequency MySQL sweeps, so they
// live alongside the reconciliation pass rather than in their own package.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"timerfleet/config"
	"timerfleet/model"
	"timerfleet/store"
)

var logger = logrus.WithFields(logrus.Fields{"component": "monitor"})

// detectionWindow is the lookback for the candidate query (4.E step 1):
// keyspace notifications older than this are assumed already alerted on
// by an earlier poll, so the monitor only re-examines the current window.
const detectionWindow = 5 * time.Minute

type Monitor struct {
	timers       *store.TimerRepo
	completions  *store.CompletionLogRepo
	eventLogs    *store.EventLogRepo
	pollInterval time.Duration
	sweepEvery   time.Duration
	timerTTL     time.Duration
	eventLogTTL  time.Duration

	mu        sync.Mutex
	lastStats model.CompletionStats

	stop     chan struct{}
	stopOnce sync.Once
}

func New(timers *store.TimerRepo, completions *store.CompletionLogRepo, eventLogs *store.EventLogRepo, cfg *config.Config) *Monitor {
	return &Monitor{
		timers:       timers,
		completions:  completions,
		eventLogs:    eventLogs,
		pollInterval: cfg.MonitorPollInterval,
		sweepEvery:   cfg.RetentionSweepInterval,
		timerTTL:     cfg.TimerRetention,
		eventLogTTL:  cfg.EventLogTTL,
		stop:         make(chan struct{}),
	}
}

// Run drives the reconciliation poll and the retention sweep on their own
// tickers until ctx is canceled or Stop is called.
func (m *Monitor) Run(ctx context.Context) {
	pollTicker := time.NewTicker(m.pollInterval)
	sweepTicker := time.NewTicker(m.sweepEvery)
	defer pollTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-pollTicker.C:
			if _, err := m.DetectNow(ctx); err != nil {
				logger.WithError(err).Warn("reconciliation pass failed")
			}
		case <-sweepTicker.C:
			m.runRetentionSweep(ctx)
		}
	}
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// DetectNow runs one reconciliation pass (4.E steps 1-4) immediately,
// independent of the poll ticker; used by tests and by the monitoring
// HTTP route that wants an on-demand check.
func (m *Monitor) DetectNow(ctx context.Context) ([]model.Diagnostic, error) {
	now := time.Now()
	windowStart := now.Add(-detectionWindow)

	candidates, err := m.timers.PendingExpired(ctx, windowStart, now)
	if err != nil {
		return nil, errors.Wrap(err, "monitor: query pending expired timers")
	}

	var diagnostics []model.Diagnostic
	for _, t := range candidates {
		logs, err := m.completions.ByTimer(ctx, t.TimerID)
		if err != nil {
			logger.WithError(err).WithField("timer_id", t.TimerID).Warn("failed to load completion logs")
			continue
		}

		d := classify(t, logs, now)
		diagnostics = append(diagnostics, d)
	}

	m.recordStats(windowStart, now, len(candidates), diagnostics)
	return diagnostics, nil
}

// classify implements 4.E step 3's decision tree against the most recent
// log for a timer (logs arrive ordered by notificationReceivedAt ASC).
func classify(t model.Timer, logs []model.CompletionLog, now time.Time) model.Diagnostic {
	d := model.Diagnostic{TimerID: t.TimerID, DetectedAt: now}

	if len(logs) == 0 {
		d.Class = model.NotificationLost
		return d
	}

	latest := logs[len(logs)-1]

	if latest.Success {
		d.Class = model.CommitDivergence
		return d
	}

	if latest.LockAcquired {
		d.Class = model.ProcessingFailed
		d.ErrorMessage = latest.ErrorMessage
		return d
	}

	if allLockContention(logs) {
		d.Class = model.LockContentionLost
		return d
	}

	d.Class = model.ProcessingFailed
	d.ErrorMessage = latest.ErrorMessage
	return d
}

func allLockContention(logs []model.CompletionLog) bool {
	for _, l := range logs {
		if l.LockAcquired {
			return false
		}
	}
	return true
}

func (m *Monitor) recordStats(windowStart, windowEnd time.Time, candidateCount int, diagnostics []model.Diagnostic) {
	byClass := make(map[model.DiagnosticClass]int64, len(diagnostics))
	for _, d := range diagnostics {
		byClass[d.Class]++
	}

	stats := model.CompletionStats{
		WindowStart:       windowStart,
		WindowEnd:         windowEnd,
		PendingCount:      int64(candidateCount),
		MissedCount:       int64(len(diagnostics)),
		CompletedCount:    int64(candidateCount - len(diagnostics)),
		ByDiagnosticClass: byClass,
	}

	m.mu.Lock()
	m.lastStats = stats
	m.mu.Unlock()
}

// Stats returns the most recent reconciliation pass's summary, backing
// GET /monitoring/completion-stats.
func (m *Monitor) Stats() model.CompletionStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStats
}

func (m *Monitor) runRetentionSweep(ctx context.Context) {
	cutoff := time.Now().Add(-m.timerTTL)
	if n, err := m.timers.DeleteOlderThan(ctx, cutoff); err != nil {
		logger.WithError(err).Warn("timer retention sweep failed")
	} else if n > 0 {
		logger.WithField("deleted", n).Info("timer retention sweep removed expired timers")
	}

	eventLogCutoff := time.Now().Add(-m.eventLogTTL)
	if n, err := m.eventLogs.DeleteOlderThan(ctx, eventLogCutoff); err != nil {
		logger.WithError(err).Warn("event log retention sweep failed")
	} else if n > 0 {
		logger.WithField("deleted", n).Info("event log retention sweep removed expired records")
	}
}
