package services

import "fallguard/models"

// SensorHistory is a fixed-capacity ring of the most recent samples of one
// stream. It is not safe for concurrent use; SensorIngestor guards it.
type SensorHistory struct {
	data []models.SensorSample
	pos  int
	full bool
}

// NewSensorHistory creates a history holding at most capacity samples
func NewSensorHistory(capacity int) *SensorHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &SensorHistory{data: make([]models.SensorSample, capacity)}
}

// Push appends a sample, evicting the oldest one when full
func (h *SensorHistory) Push(s models.SensorSample) {
	h.data[h.pos] = s
	h.pos++
	if h.pos >= len(h.data) {
		h.pos = 0
		h.full = true
	}
}

// Len returns the number of samples held
func (h *SensorHistory) Len() int {
	if h.full {
		return len(h.data)
	}
	return h.pos
}

// Cap returns the fixed capacity
func (h *SensorHistory) Cap() int {
	return len(h.data)
}

// Latest returns the most recently pushed sample
func (h *SensorHistory) Latest() (models.SensorSample, bool) {
	if h.Len() == 0 {
		return models.SensorSample{}, false
	}
	i := h.pos - 1
	if i < 0 {
		i = len(h.data) - 1
	}
	return h.data[i], true
}

// Slice returns the samples in arrival order, oldest first
func (h *SensorHistory) Slice() []models.SensorSample {
	out := make([]models.SensorSample, h.Len())
	if h.full {
		n := copy(out, h.data[h.pos:])
		copy(out[n:], h.data[:h.pos])
	} else {
		copy(out, h.data[:h.pos])
	}
	return out
}
