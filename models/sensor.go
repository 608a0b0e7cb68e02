package models

import (
	"math"
	"time"
)

// StreamID identifies one motion-sensor stream of the device
type StreamID string

const (
	StreamAccelerometer StreamID = "accelerometer"
	StreamGyroscope     StreamID = "gyroscope"
)

// Streams lists the streams the fall detector fuses
var Streams = []StreamID{StreamAccelerometer, StreamGyroscope}

// SensorSample represents one 3-axis reading from a sensor stream
type SensorSample struct {
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	CapturedAt time.Time `json:"captured_at"`
}

// Magnitude returns the Euclidean norm of the sample
func (s SensorSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Valid reports whether every axis is a finite number
func (s SensorSample) Valid() bool {
	for _, v := range []float64{s.X, s.Y, s.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// StreamSample is a sample tagged with its stream, as carried by queue messages
type StreamSample struct {
	Stream StreamID `json:"stream"`
	SensorSample
}

// FallEvent is produced once per detection cycle that crosses both thresholds
type FallEvent struct {
	DetectedAt            time.Time `json:"detected_at"`
	AccelerationMagnitude float64   `json:"acceleration_magnitude"`
	RotationMagnitude     float64   `json:"rotation_magnitude"`
}
