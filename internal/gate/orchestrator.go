package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/notify"
	"plategate/internal/vision"
)

type SessionAPI interface {
	ActiveSession(ctx context.Context, plate string) (*model.ParkingSession, error)
	CheckIn(ctx context.Context, req model.CheckInRequest) (*model.ParkingSession, error)
	CheckOut(ctx context.Context, req model.CheckOutRequest) (*model.CheckOutResult, error)
}

type VehicleRegistry interface {
	VehicleByPlate(ctx context.Context, plate string) (*model.Vehicle, error)
}

type Notifier interface {
	Notify(n model.Notification)
}

type FrameCapturer interface {
	CaptureFrame(ctx context.Context, index int) (model.Frame, error)
}

type DecisionRecorder interface {
	SaveDecision(ctx context.Context, decision model.GateDecision) error
}

type DecisionPublisher interface {
	PublishDecision(ctx context.Context, decision model.GateDecision) error
}

type EvidenceArchive interface {
	Store(ctx context.Context, lotID string, direction model.Direction, plate string, jpegData []byte) (string, error)
}

type Deps struct {
	Sessions  SessionAPI
	Registry  VehicleRegistry
	Notifier  Notifier
	Capturer  FrameCapturer
	Recorder  DecisionRecorder
	Publisher DecisionPublisher
	Evidence  EvidenceArchive
	Logger    *slog.Logger
}

// Orchestrator turns recognized plates into automatic check-in/check-out
// decisions. Each direction runs an independent state machine with a cooldown
// window and a failure latch; a process-wide single-flight guard keeps at
// most one automatic sequence running across all cameras.
type Orchestrator struct {
	deps Deps

	lotID          string
	cooldownWindow time.Duration
	assignments    atomic.Value // Assignments

	cooldown *cooldown
	inFlight atomic.Bool

	mu      sync.Mutex
	enabled map[model.Direction]bool
}

func New(deps Deps, cfg config.GateConfig) *Orchestrator {
	o := &Orchestrator{
		deps:           deps,
		lotID:          cfg.LotID,
		cooldownWindow: cfg.Cooldown,
		cooldown:       newCooldown(),
		enabled: map[model.Direction]bool{
			model.DirectionCheckIn:  true,
			model.DirectionCheckOut: true,
		},
	}
	if o.cooldownWindow <= 0 {
		o.cooldownWindow = 5 * time.Second
	}
	o.assignments.Store(NewAssignments(cfg.Assignments))
	return o
}

// UpdateConfig applies a reloaded gate configuration. The failure latches are
// left untouched: re-enabling a direction stays an explicit operator action.
func (o *Orchestrator) UpdateConfig(cfg config.GateConfig) {
	o.assignments.Store(NewAssignments(cfg.Assignments))
	o.mu.Lock()
	defer o.mu.Unlock()
	if cfg.LotID != "" {
		o.lotID = cfg.LotID
	}
	if cfg.Cooldown > 0 {
		o.cooldownWindow = cfg.Cooldown
	}
}

func (o *Orchestrator) SetAutomaticDetectionEnabled(dir model.Direction, enabled bool) {
	o.mu.Lock()
	o.enabled[dir] = enabled
	o.mu.Unlock()
	if o.deps.Logger != nil {
		o.deps.Logger.Info("automatic detection toggled", "direction", dir, "enabled", enabled)
	}
}

func (o *Orchestrator) IsAutomaticDetectionEnabled(dir model.Direction) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.enabled[dir]
}

// Run consumes gate events until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, in <-chan model.GateEvent) {
	go func() {
		for {
			select {
			case ev := <-in:
				o.HandleEvent(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// HandleEvent runs one event through the gate state machine.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev model.GateEvent) {
	if ev.Plate == "" {
		return
	}
	role, ok := o.currentAssignments().RoleOf(ev.CameraIndex)
	if !ok {
		o.logDebug("event from unassigned camera", "camera", ev.CameraIndex, "plate", ev.Plate)
		return
	}
	dir := role.Direction()
	if !o.IsAutomaticDetectionEnabled(dir) {
		o.logDebug("automatic detection disabled", "direction", dir, "plate", ev.Plate)
		return
	}
	// Single flight: a detection arriving mid-sequence is dropped, not queued.
	// The check runs before the cooldown so a dropped event does not consume
	// the direction's window.
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logDebug("gate sequence in flight, dropping event", "direction", dir, "plate", ev.Plate)
		return
	}
	defer o.inFlight.Store(false)

	if !o.cooldown.allow(dir, time.Now().UTC(), o.window()) {
		o.logDebug("cooldown window active", "direction", dir, "plate", ev.Plate)
		return
	}

	switch dir {
	case model.DirectionCheckIn:
		o.processCheckIn(ctx, ev)
	case model.DirectionCheckOut:
		o.processCheckOut(ctx, ev)
	}
}

func (o *Orchestrator) processCheckIn(ctx context.Context, ev model.GateEvent) {
	session, err := o.deps.Sessions.ActiveSession(ctx, ev.Plate)
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeError,
			fmt.Sprintf("session lookup failed: %v", err))
		return
	}
	if session != nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeAlreadyActive,
			"an active session already exists for this plate")
		return
	}
	vehicle, err := o.deps.Registry.VehicleByPlate(ctx, ev.Plate)
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeError,
			fmt.Sprintf("vehicle registry lookup failed: %v", err))
		return
	}
	if vehicle == nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeUnknownVehicle,
			"vehicle is not registered")
		return
	}
	front, back, err := o.evidenceFrames(ctx, model.DirectionCheckIn, ev.Plate,
		model.RoleFrontEntrance, model.RoleBackEntrance)
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeError, err.Error())
		return
	}
	if _, err := o.deps.Sessions.CheckIn(ctx, model.CheckInRequest{
		Plate:      ev.Plate,
		LotID:      o.lot(),
		FrontImage: front,
		BackImage:  back,
	}); err != nil {
		o.fail(ctx, ev, model.DirectionCheckIn, model.OutcomeError,
			fmt.Sprintf("check-in request failed: %v", err))
		return
	}
	o.notify(model.Notification{
		Severity: notify.SeverityInfo,
		Title:    "Vehicle checked in",
		Message:  fmt.Sprintf("plate %s checked in automatically", ev.Plate),
		Plate:    ev.Plate,
	})
	o.record(ctx, model.GateDecision{
		Timestamp:   time.Now().UTC(),
		Direction:   model.DirectionCheckIn,
		CameraIndex: ev.CameraIndex,
		Plate:       ev.Plate,
		Outcome:     model.OutcomeCheckedIn,
	})
}

func (o *Orchestrator) processCheckOut(ctx context.Context, ev model.GateEvent) {
	session, err := o.deps.Sessions.ActiveSession(ctx, ev.Plate)
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckOut, model.OutcomeError,
			fmt.Sprintf("session lookup failed: %v", err))
		return
	}
	if session == nil {
		o.fail(ctx, ev, model.DirectionCheckOut, model.OutcomeNoSession,
			"no active session for this plate")
		return
	}
	front, back, err := o.evidenceFrames(ctx, model.DirectionCheckOut, ev.Plate,
		model.RoleFrontExit, model.RoleBackExit)
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckOut, model.OutcomeError, err.Error())
		return
	}
	result, err := o.deps.Sessions.CheckOut(ctx, model.CheckOutRequest{
		Plate:      ev.Plate,
		LotID:      o.lot(),
		FrontImage: front,
		BackImage:  back,
	})
	if err != nil {
		o.fail(ctx, ev, model.DirectionCheckOut, model.OutcomeError,
			fmt.Sprintf("check-out request failed: %v", err))
		return
	}
	o.notify(model.Notification{
		Severity: notify.SeverityInfo,
		Title:    "Vehicle checked out",
		Message:  fmt.Sprintf("plate %s checked out, fee %.2f", ev.Plate, result.Fee),
		Plate:    ev.Plate,
	})
	o.record(ctx, model.GateDecision{
		Timestamp:   time.Now().UTC(),
		Direction:   model.DirectionCheckOut,
		CameraIndex: ev.CameraIndex,
		Plate:       ev.Plate,
		Outcome:     model.OutcomeCheckedOut,
		Fee:         result.Fee,
	})
}

// fail latches the direction off and routes the operator to manual entry.
// Repeated automatic misfires at a gate are worse than asking a human to
// intervene once.
func (o *Orchestrator) fail(ctx context.Context, ev model.GateEvent, dir model.Direction, outcome model.Outcome, detail string) {
	o.mu.Lock()
	o.enabled[dir] = false
	o.mu.Unlock()

	if o.deps.Logger != nil {
		o.deps.Logger.Warn("gate processing failed, automatic detection latched off",
			"direction", dir,
			"plate", ev.Plate,
			"outcome", outcome,
			"detail", detail,
		)
	}
	o.notify(model.Notification{
		Severity: notify.SeverityError,
		Title:    "Manual entry required",
		Message:  fmt.Sprintf("automatic %s disabled for plate %s: %s", dir, ev.Plate, detail),
		Plate:    ev.Plate,
	})
	o.record(ctx, model.GateDecision{
		Timestamp:   time.Now().UTC(),
		Direction:   dir,
		CameraIndex: ev.CameraIndex,
		Plate:       ev.Plate,
		Outcome:     outcome,
		Detail:      detail,
	})
}

// evidenceFrames captures one frame from each assigned camera of the
// direction. Archiving is best effort; a capture failure is a processing
// failure.
func (o *Orchestrator) evidenceFrames(ctx context.Context, dir model.Direction, plate string, roles ...model.GateRole) ([]byte, []byte, error) {
	if o.deps.Capturer == nil {
		return nil, nil, nil
	}
	images := make([][]byte, len(roles))
	assignments := o.currentAssignments()
	for i, role := range roles {
		idx, ok := assignments.Camera(role)
		if !ok {
			continue
		}
		frame, err := o.deps.Capturer.CaptureFrame(ctx, idx)
		if err != nil {
			return nil, nil, fmt.Errorf("capture evidence from camera %d: %w", idx, err)
		}
		data, err := vision.EncodeJPEG(frame.Image)
		if err != nil {
			return nil, nil, fmt.Errorf("encode evidence frame: %w", err)
		}
		images[i] = data
		if o.deps.Evidence != nil {
			if _, err := o.deps.Evidence.Store(ctx, o.lot(), dir, plate, data); err != nil && o.deps.Logger != nil {
				o.deps.Logger.Warn("archive evidence frame", "err", err)
			}
		}
	}
	var front, back []byte
	if len(images) > 0 {
		front = images[0]
	}
	if len(images) > 1 {
		back = images[1]
	}
	return front, back, nil
}

func (o *Orchestrator) record(ctx context.Context, decision model.GateDecision) {
	if o.deps.Recorder != nil {
		if err := o.deps.Recorder.SaveDecision(ctx, decision); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warn("save gate decision", "err", err)
		}
	}
	if o.deps.Publisher != nil {
		if err := o.deps.Publisher.PublishDecision(ctx, decision); err != nil && o.deps.Logger != nil {
			o.deps.Logger.Warn("publish gate decision", "err", err)
		}
	}
}

func (o *Orchestrator) notify(n model.Notification) {
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(n)
	}
}

func (o *Orchestrator) currentAssignments() Assignments {
	if v := o.assignments.Load(); v != nil {
		return v.(Assignments)
	}
	return Assignments{}
}

func (o *Orchestrator) lot() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lotID
}

func (o *Orchestrator) window() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cooldownWindow
}

func (o *Orchestrator) logDebug(msg string, args ...any) {
	if o.deps.Logger != nil {
		o.deps.Logger.Debug(msg, args...)
	}
}
