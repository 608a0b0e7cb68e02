package services

import (
	"sync"
	"time"

	"fallguard/metrics"
	"fallguard/models"

	"go.uber.org/zap"
)

// maxClockSkew is how far ahead of the receive time a device timestamp may be
// before it is replaced by the receive time
const maxClockSkew = 2 * time.Second

type streamState struct {
	mu       sync.Mutex
	history  *SensorHistory
	lastSeen time.Time
}

// SensorIngestor keeps a bounded history per sensor stream. It only records
// samples; detection reads them on its own cadence.
type SensorIngestor struct {
	streams map[models.StreamID]*streamState
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewSensorIngestor creates an ingestor for the fused streams with the given
// history capacity
func NewSensorIngestor(capacity int, m *metrics.Metrics, logger *zap.Logger) *SensorIngestor {
	streams := make(map[models.StreamID]*streamState, len(models.Streams))
	for _, id := range models.Streams {
		streams[id] = &streamState{history: NewSensorHistory(capacity)}
	}
	return &SensorIngestor{
		streams: streams,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// OnSample records a sample for a stream. It returns false when the sample
// was dropped.
func (si *SensorIngestor) OnSample(stream models.StreamID, sample models.SensorSample) bool {
	st, ok := si.streams[stream]
	if !ok {
		si.logger.Warn("Dropping sample for unknown stream", zap.String("stream", string(stream)))
		si.metrics.SampleRejected(string(stream), "unknown_stream")
		return false
	}

	if !sample.Valid() {
		si.logger.Debug("Dropping non-finite sample",
			zap.String("stream", string(stream)),
			zap.Float64("x", sample.X),
			zap.Float64("y", sample.Y),
			zap.Float64("z", sample.Z))
		si.metrics.SampleRejected(string(stream), "non_finite")
		return false
	}

	now := si.now()
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = now
	} else if sample.CapturedAt.After(now.Add(maxClockSkew)) {
		// a future sample would hold Latest and reject every later one
		si.logger.Debug("Restamping sample from the future",
			zap.String("stream", string(stream)),
			zap.Time("captured_at", sample.CapturedAt),
			zap.Time("received_at", now))
		sample.CapturedAt = now
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if latest, ok := st.history.Latest(); ok && sample.CapturedAt.Before(latest.CapturedAt) {
		si.logger.Debug("Dropping out-of-order sample",
			zap.String("stream", string(stream)),
			zap.Time("captured_at", sample.CapturedAt),
			zap.Time("latest", latest.CapturedAt))
		si.metrics.SampleRejected(string(stream), "out_of_order")
		return false
	}

	st.history.Push(sample)
	st.lastSeen = now
	si.metrics.SampleAccepted(string(stream))
	return true
}

// Latest returns the most recent sample of a stream
func (si *SensorIngestor) Latest(stream models.StreamID) (models.SensorSample, bool) {
	st, ok := si.streams[stream]
	if !ok {
		return models.SensorSample{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Latest()
}

// History returns a copy of a stream's history, oldest first
func (si *SensorIngestor) History(stream models.StreamID) []models.SensorSample {
	st, ok := si.streams[stream]
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.history.Slice()
}

// LastSeen returns when a sample was last accepted on a stream
func (si *SensorIngestor) LastSeen(stream models.StreamID) time.Time {
	st, ok := si.streams[stream]
	if !ok {
		return time.Time{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSeen
}
