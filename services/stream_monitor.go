package services

import (
	"context"
	"sync"
	"time"

	"fallguard/metrics"
	"fallguard/models"

	"go.uber.org/zap"
)

// StreamStatus represents the liveness of a sensor stream
type StreamStatus string

const (
	StreamWaiting StreamStatus = "waiting"
	StreamHealthy StreamStatus = "healthy"
	StreamStale   StreamStatus = "stale"
)

// StreamMonitor watches the ingestor for streams that stop delivering
// samples. A silent stream means detection is blind, so it is surfaced once
// per outage.
type StreamMonitor struct {
	ingestor *SensorIngestor
	timeout  time.Duration
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu       sync.RWMutex
	statuses map[models.StreamID]StreamStatus
	staleAt  map[models.StreamID]time.Time
}

// NewStreamMonitor flags a stream stale after timeout without samples
func NewStreamMonitor(ingestor *SensorIngestor, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *StreamMonitor {
	statuses := make(map[models.StreamID]StreamStatus, len(models.Streams))
	for _, id := range models.Streams {
		statuses[id] = StreamWaiting
	}
	interval := timeout / 2
	if interval <= 0 {
		interval = time.Second
	}
	return &StreamMonitor{
		ingestor: ingestor,
		timeout:  timeout,
		interval: interval,
		metrics:  m,
		logger:   logger,
		statuses: statuses,
		staleAt:  make(map[models.StreamID]time.Time),
	}
}

// Run checks stream liveness until ctx is cancelled
func (sm *StreamMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	sm.logger.Info("Stream monitor started", zap.Duration("timeout", sm.timeout))

	for {
		select {
		case <-ctx.Done():
			sm.logger.Info("Stream monitor stopped")
			return
		case now := <-ticker.C:
			sm.Check(now)
		}
	}
}

// Check updates every stream's status as of now
func (sm *StreamMonitor) Check(now time.Time) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, id := range models.Streams {
		lastSeen := sm.ingestor.LastSeen(id)
		if lastSeen.IsZero() {
			continue
		}

		status := sm.statuses[id]
		silent := now.Sub(lastSeen)

		switch {
		case silent > sm.timeout && status != StreamStale:
			sm.statuses[id] = StreamStale
			sm.staleAt[id] = now
			sm.metrics.StreamStale(string(id), true)
			sm.logger.Warn("Sensor stream went silent, falls cannot be detected",
				zap.String("stream", string(id)),
				zap.Time("last_seen", lastSeen),
				zap.Duration("silent_for", silent))

		case silent <= sm.timeout && status != StreamHealthy:
			if status == StreamStale {
				sm.logger.Info("Sensor stream recovered",
					zap.String("stream", string(id)),
					zap.Duration("down_duration", now.Sub(sm.staleAt[id])))
			}
			sm.statuses[id] = StreamHealthy
			delete(sm.staleAt, id)
			sm.metrics.StreamStale(string(id), false)
		}
	}
}

// Status returns the current status of a stream
func (sm *StreamMonitor) Status(id models.StreamID) StreamStatus {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.statuses[id]
}

// Snapshot returns every stream's status keyed by name
func (sm *StreamMonitor) Snapshot() map[string]string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	out := make(map[string]string, len(sm.statuses))
	for id, s := range sm.statuses {
		out[string(id)] = string(s)
	}
	return out
}
