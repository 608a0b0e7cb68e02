package models

import (
	"strconv"
	"time"

	"github.com/golang/geo/s2"
)

// Coordinates represents a single position fix
type Coordinates struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Valid reports whether the fix is a finite point on the globe
func (c Coordinates) Valid() bool {
	return s2.LatLngFromDegrees(c.Latitude, c.Longitude).IsValid()
}

// MapLink returns a Google Maps link pointing at the fix
func (c Coordinates) MapLink() string {
	return "https://www.google.com/maps?q=" +
		strconv.FormatFloat(c.Latitude, 'f', -1, 64) + "," +
		strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// LocationFix is a fix as published by the device
type LocationFix struct {
	Coordinates
	CapturedAt time.Time `json:"captured_at"`
}

// UserRef is the identity/contact bundle stored in the persisted session.
// The core never interprets it beyond forwarding it.
type UserRef map[string]any

// UserID returns the userId field if present
func (u UserRef) UserID() string {
	if u == nil {
		return ""
	}
	id, _ := u["userId"].(string)
	return id
}

// PermissionStatus is the outcome of a location permission check
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
)

// EscalationStage represents a state of the alert escalation
type EscalationStage string

const (
	StageIdle               EscalationStage = "idle"
	StageTriggered          EscalationStage = "triggered"
	StageFeedbackDispatched EscalationStage = "feedback_dispatched"
	StagePermissionChecked  EscalationStage = "permission_checked"
	StageLocationAcquired   EscalationStage = "location_acquired"
	StageNotified           EscalationStage = "notified"
	StageCompleted          EscalationStage = "completed"
	StagePermissionDenied   EscalationStage = "permission_denied"
	StageFailed             EscalationStage = "failed"
)

// Terminal reports whether no further transition is possible
func (s EscalationStage) Terminal() bool {
	switch s {
	case StageCompleted, StagePermissionDenied, StageFailed:
		return true
	default:
		return false
	}
}

// Outbound channels of the notified stage
const (
	ChannelRemoteNotifier = "remote_notifier"
	ChannelSMS            = "sms"
)

// StageFailure records why a stage or channel failed
type StageFailure struct {
	Stage   EscalationStage `json:"stage"`
	Channel string          `json:"channel,omitempty"`
	Reason  string          `json:"reason"`
}

// AlertContext is the record threaded through one escalation.
// It is owned by exactly one in-flight escalation.
type AlertContext struct {
	ID         string          `json:"id"`
	FallEvent  FallEvent       `json:"fall_event"`
	Location   *Coordinates    `json:"location,omitempty"`
	MapLink    string          `json:"map_link,omitempty"`
	User       UserRef         `json:"user,omitempty"`
	Stage      EscalationStage `json:"stage"`
	Failures   []StageFailure  `json:"failures,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}

// Fail appends a failure entry
func (a *AlertContext) Fail(stage EscalationStage, channel, reason string) {
	a.Failures = append(a.Failures, StageFailure{Stage: stage, Channel: channel, Reason: reason})
}

// NotificationLocation is the location object of the notification body
type NotificationLocation struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// FallNotification is the JSON body posted to the notification endpoint
type FallNotification struct {
	FallDetected bool                 `json:"fallDetected"`
	Timestamp    string               `json:"timestamp"`
	Location     NotificationLocation `json:"location"`
	GmapLink     string               `json:"gmap_link"`
	UserData     UserRef              `json:"userData"`
}

// NewFallNotification builds the notification body for an escalation that
// acquired a location
func NewFallNotification(ac *AlertContext, now time.Time) FallNotification {
	n := FallNotification{
		FallDetected: true,
		Timestamp:    now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		GmapLink:     ac.MapLink,
		UserData:     ac.User,
	}
	if ac.Location != nil {
		n.Location = NotificationLocation{
			Latitude:  ac.Location.Latitude,
			Longitude: ac.Location.Longitude,
			Accuracy:  ac.Location.Accuracy,
		}
	}
	return n
}
