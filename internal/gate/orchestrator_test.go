package gate

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/notify"
)

type fakeSessions struct {
	active      *model.ParkingSession
	activeErr   error
	checkIns    []model.CheckInRequest
	checkInErr  error
	checkOuts   []model.CheckOutRequest
	checkOutErr error
	fee         float64
}

func (f *fakeSessions) ActiveSession(_ context.Context, _ string) (*model.ParkingSession, error) {
	return f.active, f.activeErr
}

func (f *fakeSessions) CheckIn(_ context.Context, req model.CheckInRequest) (*model.ParkingSession, error) {
	if f.checkInErr != nil {
		return nil, f.checkInErr
	}
	f.checkIns = append(f.checkIns, req)
	return &model.ParkingSession{ID: "s1", Plate: req.Plate, LotID: req.LotID}, nil
}

func (f *fakeSessions) CheckOut(_ context.Context, req model.CheckOutRequest) (*model.CheckOutResult, error) {
	if f.checkOutErr != nil {
		return nil, f.checkOutErr
	}
	f.checkOuts = append(f.checkOuts, req)
	return &model.CheckOutResult{SessionID: "s1", Plate: req.Plate, Fee: f.fee}, nil
}

type fakeRegistry struct {
	vehicle *model.Vehicle
	err     error
}

func (f *fakeRegistry) VehicleByPlate(_ context.Context, _ string) (*model.Vehicle, error) {
	return f.vehicle, f.err
}

type fakeNotifier struct {
	notes []model.Notification
}

func (f *fakeNotifier) Notify(n model.Notification) {
	f.notes = append(f.notes, n)
}

func (f *fakeNotifier) hasTitle(title string) bool {
	for _, n := range f.notes {
		if n.Title == title {
			return true
		}
	}
	return false
}

type fakeCapturer struct{}

func (fakeCapturer) CaptureFrame(_ context.Context, index int) (model.Frame, error) {
	return model.Frame{
		CameraIndex: index,
		Image:       image.NewRGBA(image.Rect(0, 0, 32, 24)),
		CapturedAt:  time.Now().UTC(),
	}, nil
}

type fakeRecorder struct {
	decisions []model.GateDecision
}

func (f *fakeRecorder) SaveDecision(_ context.Context, d model.GateDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

func intPtr(v int) *int { return &v }

func testGateConfig(cooldown time.Duration) config.GateConfig {
	return config.GateConfig{
		LotID:    "lot-01",
		Cooldown: cooldown,
		Assignments: config.AssignmentsConfig{
			FrontEntrance: intPtr(0),
			FrontExit:     intPtr(1),
		},
	}
}

func entranceEvent(plate string) model.GateEvent {
	return model.GateEvent{CameraIndex: 0, Plate: plate, Confidence: 0.9, Timestamp: time.Now().UTC()}
}

func exitEvent(plate string) model.GateEvent {
	return model.GateEvent{CameraIndex: 1, Plate: plate, Confidence: 0.9, Timestamp: time.Now().UTC()}
}

func TestCheckInSuccess(t *testing.T) {
	sessions := &fakeSessions{}
	notifier := &fakeNotifier{}
	recorder := &fakeRecorder{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Plate: "30A-123.45", Registered: true}},
		Notifier: notifier,
		Recorder: recorder,
	}, testGateConfig(5*time.Second))

	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))

	if len(sessions.checkIns) != 1 {
		t.Fatalf("check-ins: %d", len(sessions.checkIns))
	}
	if sessions.checkIns[0].LotID != "lot-01" {
		t.Fatalf("lot id: %s", sessions.checkIns[0].LotID)
	}
	if !notifier.hasTitle("Vehicle checked in") {
		t.Fatalf("missing success notification: %+v", notifier.notes)
	}
	if notifier.notes[0].Severity != notify.SeverityInfo {
		t.Fatalf("severity %q", notifier.notes[0].Severity)
	}
	if !o.IsAutomaticDetectionEnabled(model.DirectionCheckIn) {
		t.Fatalf("success must not latch off")
	}
	if len(recorder.decisions) != 1 || recorder.decisions[0].Outcome != model.OutcomeCheckedIn {
		t.Fatalf("decisions: %+v", recorder.decisions)
	}
}

func TestDuplicateCheckInNeverSubmitsSecondRequest(t *testing.T) {
	sessions := &fakeSessions{active: &model.ParkingSession{ID: "s1", Plate: "30A-123.45"}}
	notifier := &fakeNotifier{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Registered: true}},
		Notifier: notifier,
	}, testGateConfig(time.Nanosecond))

	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))

	if len(sessions.checkIns) != 0 {
		t.Fatalf("duplicate check-in submitted")
	}
	if o.IsAutomaticDetectionEnabled(model.DirectionCheckIn) {
		t.Fatalf("expected latch-off after duplicate")
	}
	if !notifier.hasTitle("Manual entry required") {
		t.Fatalf("missing manual fallback notification")
	}
	for _, n := range notifier.notes {
		if n.Title == "Manual entry required" && n.Severity != notify.SeverityError {
			t.Fatalf("fallback severity %q", n.Severity)
		}
	}
}

func TestUnknownVehicleLatchesOff(t *testing.T) {
	sessions := &fakeSessions{}
	recorder := &fakeRecorder{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: nil},
		Notifier: &fakeNotifier{},
		Recorder: recorder,
	}, testGateConfig(5*time.Second))

	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))

	if len(sessions.checkIns) != 0 {
		t.Fatalf("unknown vehicle must not be checked in")
	}
	if o.IsAutomaticDetectionEnabled(model.DirectionCheckIn) {
		t.Fatalf("expected latch-off")
	}
	if len(recorder.decisions) != 1 || recorder.decisions[0].Outcome != model.OutcomeUnknownVehicle {
		t.Fatalf("decisions: %+v", recorder.decisions)
	}
}

func TestCooldownSuppressesSecondEvent(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Registered: true}},
		Notifier: &fakeNotifier{},
	}, testGateConfig(5*time.Second))

	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))

	if len(sessions.checkIns) != 1 {
		t.Fatalf("expected exactly one check-in, got %d", len(sessions.checkIns))
	}
}

func TestLatchOffBlocksUntilExplicitReEnable(t *testing.T) {
	sessions := &fakeSessions{}
	registry := &fakeRegistry{err: errors.New("registry down")}
	o := New(Deps{
		Sessions: sessions,
		Registry: registry,
		Notifier: &fakeNotifier{},
	}, testGateConfig(time.Nanosecond))

	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if o.IsAutomaticDetectionEnabled(model.DirectionCheckIn) {
		t.Fatalf("expected latch-off")
	}

	registry.err = nil
	registry.vehicle = &model.Vehicle{Registered: true}
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if len(sessions.checkIns) != 0 {
		t.Fatalf("latched direction processed an event")
	}

	o.SetAutomaticDetectionEnabled(model.DirectionCheckIn, true)
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if len(sessions.checkIns) != 1 {
		t.Fatalf("re-enabled direction should process events, got %d", len(sessions.checkIns))
	}
}

func TestCheckOutRequiresActiveSession(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{},
		Notifier: &fakeNotifier{},
	}, testGateConfig(5*time.Second))

	o.HandleEvent(context.Background(), exitEvent("30A-123.45"))

	if len(sessions.checkOuts) != 0 {
		t.Fatalf("check-out without session")
	}
	if o.IsAutomaticDetectionEnabled(model.DirectionCheckOut) {
		t.Fatalf("expected latch-off for check-out")
	}
	if !o.IsAutomaticDetectionEnabled(model.DirectionCheckIn) {
		t.Fatalf("check-in direction must be unaffected")
	}
}

func TestCheckOutSuccessIncludesFee(t *testing.T) {
	sessions := &fakeSessions{
		active: &model.ParkingSession{ID: "s1", Plate: "30A-123.45"},
		fee:    12.5,
	}
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{},
		Notifier: notifier,
		Recorder: recorder,
	}, testGateConfig(5*time.Second))

	o.HandleEvent(context.Background(), exitEvent("30A-123.45"))

	if len(sessions.checkOuts) != 1 {
		t.Fatalf("check-outs: %d", len(sessions.checkOuts))
	}
	if !notifier.hasTitle("Vehicle checked out") {
		t.Fatalf("missing success notification")
	}
	if len(recorder.decisions) != 1 || recorder.decisions[0].Fee != 12.5 {
		t.Fatalf("decisions: %+v", recorder.decisions)
	}
}

func TestSingleFlightDropsEventMidSequence(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Registered: true}},
		Notifier: &fakeNotifier{},
	}, testGateConfig(time.Nanosecond))

	o.inFlight.Store(true)
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if len(sessions.checkIns) != 0 {
		t.Fatalf("event processed while a sequence was in flight")
	}

	o.inFlight.Store(false)
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if len(sessions.checkIns) != 1 {
		t.Fatalf("expected processing after sequence completed")
	}
}

func TestDroppedEventDoesNotConsumeCooldown(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Registered: true}},
		Notifier: &fakeNotifier{},
	}, testGateConfig(5*time.Second))

	o.inFlight.Store(true)
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	o.inFlight.Store(false)

	// The dropped event must not have started the cooldown window.
	o.HandleEvent(context.Background(), entranceEvent("30A-123.45"))
	if len(sessions.checkIns) != 1 {
		t.Fatalf("expected one check-in after the sequence completed, got %d", len(sessions.checkIns))
	}
}

func TestEvidenceFramesSingleAssignedRole(t *testing.T) {
	o := New(Deps{
		Sessions: &fakeSessions{},
		Registry: &fakeRegistry{},
		Notifier: &fakeNotifier{},
		Capturer: fakeCapturer{},
	}, testGateConfig(5*time.Second))

	front, back, err := o.evidenceFrames(context.Background(), model.DirectionCheckIn, "30A-123.45", model.RoleFrontEntrance)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(front) == 0 {
		t.Fatalf("expected front evidence frame")
	}
	if back != nil {
		t.Fatalf("no back role requested, got %d bytes", len(back))
	}
}

func TestUnassignedCameraAndEmptyPlateIgnored(t *testing.T) {
	sessions := &fakeSessions{}
	o := New(Deps{
		Sessions: sessions,
		Registry: &fakeRegistry{vehicle: &model.Vehicle{Registered: true}},
		Notifier: &fakeNotifier{},
	}, testGateConfig(time.Nanosecond))

	o.HandleEvent(context.Background(), model.GateEvent{CameraIndex: 7, Plate: "30A-123.45"})
	o.HandleEvent(context.Background(), model.GateEvent{CameraIndex: 0, Plate: ""})

	if len(sessions.checkIns) != 0 {
		t.Fatalf("unexpected check-in: %+v", sessions.checkIns)
	}
}

func TestCooldownWindow(t *testing.T) {
	c := newCooldown()
	base := time.Now()
	if !c.allow(model.DirectionCheckIn, base, 5*time.Second) {
		t.Fatalf("first attempt must pass")
	}
	if c.allow(model.DirectionCheckIn, base.Add(2*time.Second), 5*time.Second) {
		t.Fatalf("attempt 2s later must be blocked by 5s window")
	}
	if !c.allow(model.DirectionCheckOut, base.Add(2*time.Second), 5*time.Second) {
		t.Fatalf("directions have independent cooldowns")
	}
	if !c.allow(model.DirectionCheckIn, base.Add(6*time.Second), 5*time.Second) {
		t.Fatalf("attempt after the window must pass")
	}
}
