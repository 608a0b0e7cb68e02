package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fallguard/metrics"
	"fallguard/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrEscalationInProgress is returned when a fall event arrives while
// another escalation holds the slot
var ErrEscalationInProgress = errors.New("escalation already in progress")

// FeedbackSink plays the local alert sound and vibration
type FeedbackSink interface {
	Dispatch(ctx context.Context, ev models.FallEvent) error
}

// PermissionGate checks the location capability
type PermissionGate interface {
	RequestLocation(ctx context.Context) (models.PermissionStatus, error)
}

// Locator returns a single best-effort position fix
type Locator interface {
	Locate(ctx context.Context) (models.Coordinates, error)
}

// Notifier submits the fall notification to the remote endpoint
type Notifier interface {
	Notify(ctx context.Context, n models.FallNotification) error
}

// SMSDispatcher sends the templated SMS containing the map link
type SMSDispatcher interface {
	SendFallSMS(ctx context.Context, mapLink string) error
}

// IdentitySource reads the user identity from the persisted session.
// A nil UserRef with a nil error means no identity is stored.
type IdentitySource interface {
	UserRef(ctx context.Context) (models.UserRef, error)
}

// UserAlerter surfaces escalation problems to the end user
type UserAlerter interface {
	AlertUser(ctx context.Context, title, message string) error
}

// EscalatorConfig bounds every external call of an escalation
type EscalatorConfig struct {
	PermissionTimeout time.Duration
	LocationTimeout   time.Duration
	DispatchTimeout   time.Duration
	FeedbackTimeout   time.Duration
}

// Escalator runs the alert escalation for a fall event. At most one
// escalation is in flight; events arriving meanwhile are dropped.
type Escalator struct {
	config     EscalatorConfig
	feedback   FeedbackSink
	permission PermissionGate
	locator    Locator
	notifier   Notifier
	sms        SMSDispatcher
	identity   IdentitySource
	alerter    UserAlerter
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu     sync.Mutex
	active *models.AlertContext
	wg     sync.WaitGroup
}

// EscalatorDeps are the collaborators of an Escalator. Identity, Alerter and
// Metrics may be nil.
type EscalatorDeps struct {
	Feedback   FeedbackSink
	Permission PermissionGate
	Locator    Locator
	Notifier   Notifier
	SMS        SMSDispatcher
	Identity   IdentitySource
	Alerter    UserAlerter
	Metrics    *metrics.Metrics
}

// NewEscalator wires an Escalator to its collaborators
func NewEscalator(cfg EscalatorConfig, deps EscalatorDeps, logger *zap.Logger) *Escalator {
	return &Escalator{
		config:     cfg,
		feedback:   deps.Feedback,
		permission: deps.Permission,
		locator:    deps.Locator,
		notifier:   deps.Notifier,
		sms:        deps.SMS,
		identity:   deps.Identity,
		alerter:    deps.Alerter,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Active returns the identity and stage of the in-flight escalation, if any.
// Fields written while the escalation runs are not included.
func (e *Escalator) Active() (models.AlertContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return models.AlertContext{}, false
	}
	return models.AlertContext{
		ID:        e.active.ID,
		FallEvent: e.active.FallEvent,
		Stage:     e.active.Stage,
		StartedAt: e.active.StartedAt,
	}, true
}

// Trigger starts an escalation in the background. It returns false when the
// event was dropped because another escalation is in flight.
func (e *Escalator) Trigger(ctx context.Context, ev models.FallEvent) bool {
	ac, ok := e.acquire(ev)
	if !ok {
		return false
	}
	go func() {
		defer e.wg.Done()
		e.run(ctx, ac)
	}()
	return true
}

// Handle runs an escalation to a terminal stage and returns its context
func (e *Escalator) Handle(ctx context.Context, ev models.FallEvent) (*models.AlertContext, error) {
	ac, ok := e.acquire(ev)
	if !ok {
		return nil, ErrEscalationInProgress
	}
	defer e.wg.Done()
	e.run(ctx, ac)
	return ac, nil
}

// Wait blocks until every started escalation has finished
func (e *Escalator) Wait() {
	e.wg.Wait()
}

// acquire claims the slot. The WaitGroup is incremented under the same lock,
// so Wait never observes a claimed slot without its pending run.
func (e *Escalator) acquire(ev models.FallEvent) (*models.AlertContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active != nil {
		e.metrics.FallEventDropped()
		e.logger.Warn("Escalation already in progress, dropping fall event",
			zap.String("active_escalation_id", e.active.ID),
			zap.String("active_stage", string(e.active.Stage)),
			zap.Time("detected_at", ev.DetectedAt))
		return nil, false
	}

	ac := &models.AlertContext{
		ID:        uuid.NewString(),
		FallEvent: ev,
		Stage:     models.StageTriggered,
		StartedAt: e.now(),
	}
	e.active = ac
	e.wg.Add(1)
	return ac, true
}

func (e *Escalator) release() {
	e.mu.Lock()
	e.active = nil
	e.mu.Unlock()
}

// advance moves the context to the next stage. Active reads Stage through
// the slot, so the write happens under the lock.
func (e *Escalator) advance(ac *models.AlertContext, stage models.EscalationStage) {
	e.mu.Lock()
	ac.Stage = stage
	e.mu.Unlock()
	e.logger.Info("Escalation stage reached",
		zap.String("escalation_id", ac.ID),
		zap.String("stage", string(stage)))
}

func (e *Escalator) run(ctx context.Context, ac *models.AlertContext) {
	// An escalation is never cancelled once started; each call has its own deadline.
	ctx = context.WithoutCancel(ctx)
	defer e.release()
	defer e.finish(ac)
	defer e.recoverStage(ac)

	e.logger.Warn("Escalation triggered",
		zap.String("escalation_id", ac.ID),
		zap.Float64("acceleration_magnitude", ac.FallEvent.AccelerationMagnitude),
		zap.Float64("rotation_magnitude", ac.FallEvent.RotationMagnitude))

	e.dispatchFeedback(ctx, ac)
	e.advance(ac, models.StageFeedbackDispatched)

	if !e.checkPermission(ctx, ac) {
		return
	}
	e.advance(ac, models.StagePermissionChecked)

	e.loadIdentity(ctx, ac)

	if !e.acquireLocation(ctx, ac) {
		return
	}
	e.advance(ac, models.StageLocationAcquired)

	e.dispatchAlerts(ctx, ac)
	e.advance(ac, models.StageNotified)
	e.advance(ac, models.StageCompleted)
}

// recoverStage turns a collaborator panic into a Failed escalation. The slot
// is still released and the detector keeps running.
func (e *Escalator) recoverStage(ac *models.AlertContext) {
	p := recover()
	if p == nil {
		return
	}
	stage := ac.Stage
	ac.Fail(stage, "", fmt.Sprintf("panic: %v", p))
	e.advance(ac, models.StageFailed)
	e.logger.Error("Escalation panicked",
		zap.String("escalation_id", ac.ID),
		zap.String("stage", string(stage)),
		zap.Any("panic", p),
		zap.Stack("stack"))
}

// guard calls fn and reports a panic from it as an error
func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}

// dispatchFeedback fires the local feedback without waiting for it
func (e *Escalator) dispatchFeedback(ctx context.Context, ac *models.AlertContext) {
	if e.feedback == nil {
		return
	}
	ev := ac.FallEvent
	id := ac.ID
	go func() {
		fctx, cancel := context.WithTimeout(ctx, e.config.FeedbackTimeout)
		defer cancel()
		err := guard(func() error { return e.feedback.Dispatch(fctx, ev) })
		if err != nil {
			e.logger.Error("Local feedback failed",
				zap.String("escalation_id", id),
				zap.Error(err))
			return
		}
		e.logger.Debug("Local feedback dispatched", zap.String("escalation_id", id))
	}()
}

func (e *Escalator) checkPermission(ctx context.Context, ac *models.AlertContext) bool {
	pctx, cancel := context.WithTimeout(ctx, e.config.PermissionTimeout)
	defer cancel()

	status, err := e.permission.RequestLocation(pctx)
	if err == nil && status == models.PermissionGranted {
		return true
	}

	reason := "location permission denied"
	if err != nil {
		reason = fmt.Sprintf("location permission request failed: %v", err)
	}
	ac.Fail(models.StagePermissionChecked, "", reason)
	e.advance(ac, models.StagePermissionDenied)

	e.logger.Warn("Escalation stopped, location permission not granted",
		zap.String("escalation_id", ac.ID),
		zap.String("reason", reason))
	e.alertUser(ctx, ac, "Location Access Required",
		"This app requires access to your location for fall detection. Please grant location access in settings.")
	return false
}

func (e *Escalator) loadIdentity(ctx context.Context, ac *models.AlertContext) {
	if e.identity == nil {
		return
	}
	ictx, cancel := context.WithTimeout(ctx, e.config.PermissionTimeout)
	defer cancel()

	user, err := e.identity.UserRef(ictx)
	if err != nil {
		e.logger.Warn("Failed to read user identity, continuing without it",
			zap.String("escalation_id", ac.ID),
			zap.Error(err))
		return
	}
	if user == nil {
		e.logger.Info("No user identity stored", zap.String("escalation_id", ac.ID))
		return
	}
	ac.User = user
}

func (e *Escalator) acquireLocation(ctx context.Context, ac *models.AlertContext) bool {
	lctx, cancel := context.WithTimeout(ctx, e.config.LocationTimeout)
	defer cancel()

	coords, err := e.locator.Locate(lctx)
	if err == nil && !coords.Valid() {
		err = fmt.Errorf("%w: invalid coordinates %v,%v", ErrLocationUnavailable, coords.Latitude, coords.Longitude)
	}
	if err != nil {
		ac.Fail(models.StageLocationAcquired, "", err.Error())
		e.advance(ac, models.StageFailed)

		e.logger.Error("Escalation failed, no location acquired",
			zap.String("escalation_id", ac.ID),
			zap.Error(err))
		e.alertUser(ctx, ac, "Location Unavailable",
			"A fall was detected but your location could not be determined. No alert was sent to your emergency contacts.")
		return false
	}

	ac.Location = &coords
	ac.MapLink = coords.MapLink()
	e.logger.Info("Location acquired",
		zap.String("escalation_id", ac.ID),
		zap.String("gmap_link", ac.MapLink))
	return true
}

// dispatchAlerts runs the notifier and the SMS dispatcher concurrently.
// Failures are appended after both finish so only this goroutine writes ac.
func (e *Escalator) dispatchAlerts(ctx context.Context, ac *models.AlertContext) {
	notification := models.NewFallNotification(ac, e.now())
	mapLink := ac.MapLink

	var notifyErr, smsErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, e.config.DispatchTimeout)
		defer cancel()
		notifyErr = guard(func() error { return e.notifier.Notify(dctx, notification) })
	}()

	go func() {
		defer wg.Done()
		dctx, cancel := context.WithTimeout(ctx, e.config.DispatchTimeout)
		defer cancel()
		smsErr = guard(func() error { return e.sms.SendFallSMS(dctx, mapLink) })
	}()

	wg.Wait()

	e.recordDispatch(ac, models.ChannelRemoteNotifier, notifyErr)
	e.recordDispatch(ac, models.ChannelSMS, smsErr)
}

func (e *Escalator) recordDispatch(ac *models.AlertContext, channel string, err error) {
	if err == nil {
		e.logger.Info("Alert channel delivered",
			zap.String("escalation_id", ac.ID),
			zap.String("channel", channel))
		return
	}
	ac.Fail(models.StageNotified, channel, err.Error())
	e.logger.Error("Alert channel failed",
		zap.String("escalation_id", ac.ID),
		zap.String("channel", channel),
		zap.Error(err))
}

func (e *Escalator) alertUser(ctx context.Context, ac *models.AlertContext, title, message string) {
	if e.alerter == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, e.config.DispatchTimeout)
	defer cancel()
	if err := e.alerter.AlertUser(actx, title, message); err != nil {
		e.logger.Error("Failed to alert user",
			zap.String("escalation_id", ac.ID),
			zap.String("title", title),
			zap.Error(err))
	}
}

func (e *Escalator) finish(ac *models.AlertContext) {
	ac.FinishedAt = e.now()

	for _, f := range ac.Failures {
		e.metrics.EscalationFailure(string(f.Stage), f.Channel)
	}
	e.metrics.EscalationFinished(string(ac.Stage))

	e.logger.Info("Escalation finished",
		zap.String("escalation_id", ac.ID),
		zap.String("stage", string(ac.Stage)),
		zap.Duration("duration", ac.FinishedAt.Sub(ac.StartedAt)),
		zap.String("user_id", ac.User.UserID()),
		zap.String("gmap_link", ac.MapLink),
		zap.Any("failures", ac.Failures))
}
