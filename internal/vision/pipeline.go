package vision

import (
	"context"
	"image"
	"log/slog"

	"plategate/internal/config"
	"plategate/internal/model"
	"plategate/internal/plate"
	"plategate/internal/stats"
)

type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]model.Detection, error)
}

type Recognizer interface {
	RecognizeCharacters(ctx context.Context, img image.Image) ([]model.CharacterDetection, error)
}

type ReadRecorder interface {
	SavePlateRead(ctx context.Context, read model.PlateRead) error
}

type ReadPublisher interface {
	PublishPlateRead(ctx context.Context, read model.PlateRead) error
}

// CameraLiveness reports whether a camera still has an active capture
// session. Reads for released cameras are discarded, even when the frame was
// dispatched before the release.
type CameraLiveness interface {
	IsRunning(index int) bool
}

// Pipeline turns throttled frames into gate events: plate-region detection,
// crop, character recognition, then classification and formatting. Inference
// failures and unconfident reads both end as "no plate" for that frame.
type Pipeline struct {
	detector   Detector
	recognizer Recognizer
	recorder   ReadRecorder
	publisher  ReadPublisher
	liveness   CameraLiveness
	logger     *slog.Logger
	stats      *stats.Store

	minConfidence float64
	minCropW      int
	minCropH      int
	workers       int

	events chan model.GateEvent
}

func NewPipeline(detector Detector, recognizer Recognizer, cfg config.PipelineConfig, statsStore *stats.Store, logger *slog.Logger) *Pipeline {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.6
	}
	if cfg.MinCropWidth <= 0 {
		cfg.MinCropWidth = 10
	}
	if cfg.MinCropHeight <= 0 {
		cfg.MinCropHeight = 5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	return &Pipeline{
		detector:      detector,
		recognizer:    recognizer,
		logger:        logger,
		stats:         statsStore,
		minConfidence: cfg.MinConfidence,
		minCropW:      cfg.MinCropWidth,
		minCropH:      cfg.MinCropHeight,
		workers:       cfg.Workers,
		events:        make(chan model.GateEvent, 16),
	}
}

// SetRecorder attaches an optional audit sink for accepted plate reads.
func (p *Pipeline) SetRecorder(recorder ReadRecorder) { p.recorder = recorder }

// SetPublisher attaches an optional downstream event publisher.
func (p *Pipeline) SetPublisher(publisher ReadPublisher) { p.publisher = publisher }

// SetLiveness attaches the capture-session check consulted before a read is
// delivered.
func (p *Pipeline) SetLiveness(liveness CameraLiveness) { p.liveness = liveness }

// Events is the plate-detected stream consumed by the gate orchestrator.
func (p *Pipeline) Events() <-chan model.GateEvent { return p.events }

// Run starts the bounded worker pool consuming throttled frames. Backpressure
// lives in the input channel: the capture manager drops frames instead of
// queueing when all workers are busy.
func (p *Pipeline) Run(ctx context.Context, in <-chan model.Frame) {
	for i := 0; i < p.workers; i++ {
		go func() {
			for {
				select {
				case frame := <-in:
					p.Process(ctx, frame)
				case <-ctx.Done():
					return
				}
			}
		}()
	}
}

// Process runs one frame through detection, recognition and formatting.
func (p *Pipeline) Process(ctx context.Context, frame model.Frame) {
	if frame.Image == nil {
		return
	}
	if !p.cameraLive(frame.CameraIndex) {
		// Frames buffered before a Stop get no inference at all.
		return
	}
	regions, err := p.detector.Detect(ctx, frame.Image)
	if err != nil {
		// InferenceFailure: treated as no plate found for this frame.
		if p.logger != nil {
			p.logger.Debug("plate detection failed", "camera", frame.CameraIndex, "err", err)
		}
		return
	}
	found := false
	for _, region := range regions {
		if region.Confidence < p.minConfidence {
			continue
		}
		crop, ok := cropRegion(frame.Image, region.Box, p.minCropW, p.minCropH)
		if !ok {
			continue
		}
		chars, err := p.recognizer.RecognizeCharacters(ctx, crop)
		if err != nil {
			if p.logger != nil {
				p.logger.Debug("character recognition failed", "camera", frame.CameraIndex, "err", err)
			}
			continue
		}
		confident := chars[:0:0]
		for _, c := range chars {
			if c.Confidence >= p.minConfidence {
				confident = append(confident, c)
			}
		}
		formatted, plateType := plate.Format(confident)
		if formatted == "" {
			continue
		}
		found = true
		p.emit(ctx, frame, formatted, plateType, readConfidence(region, confident))
	}
	if !found && p.stats != nil {
		p.stats.RecognitionEmpty(frame.CameraIndex)
	}
}

func (p *Pipeline) emit(ctx context.Context, frame model.Frame, formatted string, plateType model.PlateType, confidence float64) {
	if !p.cameraLive(frame.CameraIndex) {
		// The camera was released while inference ran; its result is discarded.
		if p.logger != nil {
			p.logger.Debug("camera released, discarding read", "camera", frame.CameraIndex, "plate", formatted)
		}
		return
	}
	read := model.PlateRead{
		Timestamp:   frame.CapturedAt,
		CameraIndex: frame.CameraIndex,
		Plate:       formatted,
		PlateType:   plateType,
		Confidence:  confidence,
	}
	if p.stats != nil {
		p.stats.PlateRead(frame.CameraIndex)
	}
	if p.logger != nil {
		p.logger.Info("plate recognized",
			"camera", frame.CameraIndex,
			"plate", formatted,
			"plate_type", plateType,
			"confidence", confidence,
		)
	}
	if p.recorder != nil {
		if err := p.recorder.SavePlateRead(ctx, read); err != nil && p.logger != nil {
			p.logger.Warn("save plate read", "err", err)
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishPlateRead(ctx, read); err != nil && p.logger != nil {
			p.logger.Warn("publish plate read", "err", err)
		}
	}
	ev := model.GateEvent{
		CameraIndex: frame.CameraIndex,
		Plate:       formatted,
		Confidence:  confidence,
		Timestamp:   frame.CapturedAt,
	}
	select {
	case p.events <- ev:
	default:
		if p.logger != nil {
			p.logger.Warn("gate event channel full, dropping event", "camera", frame.CameraIndex, "plate", formatted)
		}
	}
}

func (p *Pipeline) cameraLive(index int) bool {
	return p.liveness == nil || p.liveness.IsRunning(index)
}

// readConfidence is the mean glyph confidence capped by the plate-region
// confidence.
func readConfidence(region model.Detection, chars []model.CharacterDetection) float64 {
	if len(chars) == 0 {
		return region.Confidence
	}
	sum := 0.0
	for _, c := range chars {
		sum += c.Confidence
	}
	mean := sum / float64(len(chars))
	if region.Confidence < mean {
		return region.Confidence
	}
	return mean
}
