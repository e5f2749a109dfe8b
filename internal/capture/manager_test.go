package capture

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/stats"
)

type fakeDevice struct {
	reads  int
	closed bool
	fail   bool
}

func (d *fakeDevice) ReadFrame() (image.Image, error) {
	if d.fail {
		return nil, errors.New("read failed")
	}
	d.reads++
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

type fakeDriver struct {
	devices map[int]*fakeDevice
	opens   int
	failAll bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{devices: make(map[int]*fakeDevice)}
}

func (d *fakeDriver) Devices() ([]model.CameraDevice, error) {
	return []model.CameraDevice{{Index: 0, Name: "entrance"}, {Index: 1, Name: "exit"}}, nil
}

func (d *fakeDriver) Open(index int) (Device, error) {
	if d.failAll {
		return nil, errors.New("device unavailable")
	}
	d.opens++
	dev := &fakeDevice{}
	d.devices[index] = dev
	return dev, nil
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		TargetFPS:           100,
		RecognitionInterval: 3 * time.Second,
		ReadBackoff:         5 * time.Millisecond,
		FrameBuffer:         8,
		RecognitionBuffer:   2,
	}
}

func TestInitializeIdempotent(t *testing.T) {
	driver := newFakeDriver()
	m := NewManager(driver, testCaptureConfig(), nil, nil)
	if !m.Initialize(0) {
		t.Fatalf("initialize failed")
	}
	if !m.Initialize(0) {
		t.Fatalf("second initialize should be no-op success")
	}
	if driver.opens != 1 {
		t.Fatalf("device opened %d times", driver.opens)
	}
}

func TestInitializeFailsWhenDeviceUnavailable(t *testing.T) {
	driver := newFakeDriver()
	driver.failAll = true
	m := NewManager(driver, testCaptureConfig(), nil, nil)
	if m.Initialize(0) {
		t.Fatalf("expected initialize failure")
	}
	if m.IsRunning(0) {
		t.Fatalf("failed initialize must leave no session")
	}
}

func TestStartRequiresInitialize(t *testing.T) {
	m := NewManager(newFakeDriver(), testCaptureConfig(), nil, nil)
	if m.Start(0) {
		t.Fatalf("start without initialize must fail")
	}
}

func TestStopIdempotentAndReleasesDevice(t *testing.T) {
	driver := newFakeDriver()
	m := NewManager(driver, testCaptureConfig(), nil, nil)
	m.Initialize(0)
	if !m.Start(0) {
		t.Fatalf("start failed")
	}
	if !m.IsRunning(0) {
		t.Fatalf("expected running")
	}
	m.Stop(0)
	if m.IsRunning(0) {
		t.Fatalf("expected stopped")
	}
	if !driver.devices[0].closed {
		t.Fatalf("device handle not released")
	}
	m.Stop(0) // second stop is a no-op
}

func TestThrottleInterval(t *testing.T) {
	m := NewManager(newFakeDriver(), testCaptureConfig(), nil, nil)
	m.Initialize(0)
	base := time.Now()

	if !m.shouldRecognize(0, base) {
		t.Fatalf("first frame should pass the throttle")
	}
	if m.shouldRecognize(0, base.Add(1000*time.Millisecond)) {
		t.Fatalf("frame 1000ms later must be throttled at 3000ms interval")
	}
	if !m.shouldRecognize(0, base.Add(3500*time.Millisecond)) {
		t.Fatalf("frame 3500ms later should pass")
	}
}

func TestSetRecognitionIntervalClampsToFloor(t *testing.T) {
	m := NewManager(newFakeDriver(), testCaptureConfig(), nil, nil)
	m.Initialize(0)
	m.SetRecognitionInterval(0, 200*time.Millisecond)
	got, ok := m.RecognitionInterval(0)
	if !ok {
		t.Fatalf("no session")
	}
	if got != config.MinRecognitionInterval {
		t.Fatalf("interval %s, want %s", got, config.MinRecognitionInterval)
	}
}

func TestCaptureFrameSingleShot(t *testing.T) {
	driver := newFakeDriver()
	m := NewManager(driver, testCaptureConfig(), nil, nil)
	if _, err := m.CaptureFrame(context.Background(), 0); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	m.Initialize(0)
	frame, err := m.CaptureFrame(context.Background(), 0)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if frame.CameraIndex != 0 || frame.Image == nil {
		t.Fatalf("bad frame: %+v", frame)
	}
}

func TestCaptureLoopPublishesAndThrottles(t *testing.T) {
	driver := newFakeDriver()
	st := stats.NewStore()
	m := NewManager(driver, testCaptureConfig(), st, nil)
	m.Initialize(0)
	m.Start(0)
	defer m.ReleaseAll()

	select {
	case frame := <-m.Frames():
		if frame.CameraIndex != 0 {
			t.Fatalf("frame from camera %d", frame.CameraIndex)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame published")
	}
	select {
	case <-m.Recognition():
	case <-time.After(2 * time.Second):
		t.Fatalf("first frame should be dispatched to recognition")
	}
	// The 3s throttle admits exactly one dispatch in this window.
	select {
	case <-m.Recognition():
		t.Fatalf("second recognition dispatch inside throttle interval")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReadFailureRetriesWithoutStopping(t *testing.T) {
	driver := newFakeDriver()
	st := stats.NewStore()
	m := NewManager(driver, testCaptureConfig(), st, nil)
	m.Initialize(0)
	driver.devices[0].fail = true
	m.Start(0)
	defer m.ReleaseAll()

	deadline := time.After(2 * time.Second)
	for {
		if cs, _, ok := st.Get(0); ok && cs.ReadFailures >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected repeated read retries")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !m.IsRunning(0) {
		t.Fatalf("read failures must not stop the loop")
	}
}
