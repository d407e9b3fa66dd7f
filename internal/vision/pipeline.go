package vision

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-data/occupancy.report/internal/monitoring"
	"github.com/kestrel-data/occupancy.report/internal/timeutil"
)

// PipelineStage is one step of the escalation pipeline. The sequence is
// linear: idle → captured → transmitted → awaiting_verdict → one of the
// terminal stages, with an auto-reset back to idle.
type PipelineStage string

const (
	StageIdle            PipelineStage = "idle"
	StageCaptured        PipelineStage = "captured"
	StageTransmitted     PipelineStage = "transmitted"
	StageAwaitingVerdict PipelineStage = "awaiting_verdict"
	StageFalsePositive   PipelineStage = "false_positive"
	StageThreatConfirmed PipelineStage = "threat_confirmed"
	StageError           PipelineStage = "error"
)

// Terminal reports whether the stage ends a pipeline run.
func (s PipelineStage) Terminal() bool {
	return s == StageFalsePositive || s == StageThreatConfirmed || s == StageError
}

// Default pipeline timing.
const (
	// DefaultTriggerCooldown bounds how often the expensive classification
	// call runs under continuous suspicious detections.
	DefaultTriggerCooldown = 4 * time.Second
	// DefaultTerminalResetDelay is how long a terminal state with a reason
	// attached is held before the pipeline resets to idle.
	DefaultTerminalResetDelay = 5 * time.Second
)

// Stage baseline progress percentages.
const (
	progressCaptured    = 25
	progressTransmitted = 45
	progressAwaiting    = 65
	progressTerminal    = 90
	progressComplete    = 100
)

// FrameSource returns the latest encoded frame for a camera. An error means
// no frame is obtainable (capture failure).
type FrameSource interface {
	LatestFrame(ctx context.Context, camera string) ([]byte, error)
}

// ClassifierVerdict is the secondary classifier's ruling on an escalation.
type ClassifierVerdict struct {
	FalsePositive bool
	Confidence    float64
	Model         string
	Explanation   string
}

// ThreatClassifier submits a captured frame for slow secondary
// classification. Implementations must honor context cancellation.
type ThreatClassifier interface {
	Classify(ctx context.Context, camera string, frame []byte) (ClassifierVerdict, error)
}

// TransmissionError marks a classification failure where the frame never
// reached the perception service. The pipeline reports it separately from
// a bad or unparseable verdict response.
type TransmissionError struct {
	Err error
}

func (e *TransmissionError) Error() string { return e.Err.Error() }

func (e *TransmissionError) Unwrap() error { return e.Err }

// PipelineState is a read-only snapshot of the pipeline.
type PipelineState struct {
	Camera     string        `json:"camera"`
	Stage      PipelineStage `json:"stage"`
	Progress   int           `json:"progress"`
	Reason     string        `json:"reason,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Model      string        `json:"model,omitempty"`
	RunID      string        `json:"run_id,omitempty"`
}

// AnalysisPipeline drives the bounded escalation sequence for one camera:
// capture a frame, transmit it for classification, await the verdict, land
// in a terminal stage and auto-reset. At most one run is in flight per
// camera, and the displayed progress never regresses mid-run.
type AnalysisPipeline struct {
	camera     string
	frames     FrameSource
	classifier ThreatClassifier
	verdicts   *TrackVerdictCache
	clock      timeutil.Clock
	cooldown   time.Duration
	resetDelay time.Duration
	metrics    *Metrics
	logf       func(format string, v ...interface{})

	mu            sync.Mutex
	stage         PipelineStage
	floor         int
	reason        string
	confidence    *float64
	model         string
	runID         string
	lastCompleted time.Time
	cancelRun     context.CancelFunc
	stopReset     func() bool
}

// PipelineOptions configures an AnalysisPipeline.
type PipelineOptions struct {
	Camera     string
	Frames     FrameSource
	Classifier ThreatClassifier
	// Verdicts receives the camera-level verdict when a run completes.
	// Optional.
	Verdicts *TrackVerdictCache
	Clock    timeutil.Clock
	// Cooldown and ResetDelay default to the package constants.
	Cooldown   time.Duration
	ResetDelay time.Duration
	Metrics    *Metrics
}

// NewAnalysisPipeline creates an idle pipeline for one camera.
func NewAnalysisPipeline(opts PipelineOptions) *AnalysisPipeline {
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultTriggerCooldown
	}
	resetDelay := opts.ResetDelay
	if resetDelay <= 0 {
		resetDelay = DefaultTerminalResetDelay
	}
	return &AnalysisPipeline{
		camera:     opts.Camera,
		frames:     opts.Frames,
		classifier: opts.Classifier,
		verdicts:   opts.Verdicts,
		clock:      clock,
		cooldown:   cooldown,
		resetDelay: resetDelay,
		metrics:    opts.Metrics,
		logf:       monitoring.Scoped("pipeline"),
		stage:      StageIdle,
	}
}

// State returns a snapshot of the pipeline.
func (p *AnalysisPipeline) State() PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineState{
		Camera:     p.camera,
		Stage:      p.stage,
		Progress:   p.progressLocked(),
		Reason:     p.reason,
		Confidence: p.confidence,
		Model:      p.model,
		RunID:      p.runID,
	}
}

// Progress returns the bounded progress indicator: the larger of the
// current stage baseline and the ratcheted floor. It reaches 100 only once
// a human-readable reason is attached (or immediately on error).
func (p *AnalysisPipeline) Progress() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progressLocked()
}

func (p *AnalysisPipeline) progressLocked() int {
	baseline := p.baselineLocked()
	if baseline > p.floor {
		return baseline
	}
	return p.floor
}

func (p *AnalysisPipeline) baselineLocked() int {
	switch p.stage {
	case StageCaptured:
		return progressCaptured
	case StageTransmitted:
		return progressTransmitted
	case StageAwaitingVerdict:
		return progressAwaiting
	case StageError:
		return progressComplete
	case StageFalsePositive, StageThreatConfirmed:
		if p.reason != "" {
			return progressComplete
		}
		return progressTerminal
	default:
		return 0
	}
}

// Trigger starts a new escalation run if the guards allow it. It reports
// whether a run was started; the run itself proceeds on its own goroutine.
//
// Guards: a run already in a non-idle, non-terminal stage blocks re-entry,
// and a new run is only honored once the cooldown has elapsed since the
// last completion. A trigger accepted from a terminal stage performs the
// pending reset immediately and cancels any still-in-flight classification
// request before starting over, so a stale late verdict can never overwrite
// the new run.
func (p *AnalysisPipeline) Trigger() bool {
	p.mu.Lock()

	if p.stage != StageIdle && !p.stage.Terminal() {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PipelineSuppressed.Add(1)
		}
		return false
	}
	if !p.lastCompleted.IsZero() && p.clock.Since(p.lastCompleted) < p.cooldown {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.PipelineSuppressed.Add(1)
		}
		return false
	}

	if p.stopReset != nil {
		p.stopReset()
		p.stopReset = nil
	}
	if p.cancelRun != nil {
		p.cancelRun()
	}
	p.resetFieldsLocked()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancelRun = cancel
	p.runID = uuid.New().String()
	runID := p.runID
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PipelineRuns.Add(1)
	}
	go p.run(ctx, runID)
	return true
}

// Cancel aborts any in-flight run and returns the pipeline to idle. A late
// verdict from the aborted run sees a cleared run ID and is discarded.
func (p *AnalysisPipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelRun != nil {
		p.cancelRun()
		p.cancelRun = nil
	}
	if p.stopReset != nil {
		p.stopReset()
		p.stopReset = nil
	}
	p.resetFieldsLocked()
}

func (p *AnalysisPipeline) run(ctx context.Context, runID string) {
	if !p.advance(runID, StageCaptured) {
		return
	}
	frame, err := p.frames.LatestFrame(ctx, p.camera)
	if err != nil {
		p.fail(runID, "frame capture failed: "+err.Error())
		return
	}

	if !p.advance(runID, StageTransmitted) {
		return
	}
	if !p.advance(runID, StageAwaitingVerdict) {
		return
	}

	verdict, err := p.classifier.Classify(ctx, p.camera, frame)
	if err != nil {
		if ctx.Err() != nil {
			// Superseded by a newer run; its verdict must not land.
			return
		}
		var te *TransmissionError
		if errors.As(err, &te) {
			p.fail(runID, "frame transmission failed: "+err.Error())
			return
		}
		p.fail(runID, "classification request failed: "+err.Error())
		return
	}

	p.complete(runID, verdict)
}

// advance moves to the next stage, ratcheting the progress floor. It
// reports false when the run has been superseded.
func (p *AnalysisPipeline) advance(runID string, stage PipelineStage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.runID != runID {
		return false
	}
	p.stage = stage
	if b := p.baselineLocked(); p.reason == "" && b > p.floor {
		p.floor = b
	}
	return true
}

func (p *AnalysisPipeline) complete(runID string, verdict ClassifierVerdict) {
	stage := StageThreatConfirmed
	if verdict.FalsePositive {
		stage = StageFalsePositive
	}

	reason := verdict.Explanation
	if reason == "" {
		if verdict.FalsePositive {
			reason = "classifier ruled the detection a false positive"
		} else {
			reason = "classifier confirmed the threat"
		}
	}

	p.mu.Lock()
	if p.runID != runID {
		p.mu.Unlock()
		return
	}
	p.stage = stage
	// The floor stops ratcheting once the reason lands; the baseline alone
	// carries the jump to 100.
	p.reason = reason
	conf := verdict.Confidence
	p.confidence = &conf
	p.model = verdict.Model
	p.lastCompleted = p.clock.Now()
	p.cancelRun = nil
	p.scheduleResetLocked()
	p.mu.Unlock()

	if p.verdicts != nil {
		p.verdicts.RecordCameraLevel(p.camera, verdict.FalsePositive)
	}
	if p.metrics != nil {
		if verdict.FalsePositive {
			p.metrics.PipelineFalsePos.Add(1)
		} else {
			p.metrics.PipelineConfirmed.Add(1)
		}
	}
	p.logf("camera %s run %s: %s (confidence %.2f)", p.camera, runID, stage, verdict.Confidence)
}

// fail lands the run in the error stage with a distinct reason. Error is
// terminal at 100 immediately and is never retried automatically.
func (p *AnalysisPipeline) fail(runID, reason string) {
	p.mu.Lock()
	if p.runID != runID {
		p.mu.Unlock()
		return
	}
	p.stage = StageError
	p.reason = reason
	p.lastCompleted = p.clock.Now()
	p.cancelRun = nil
	p.scheduleResetLocked()
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.PipelineErrors.Add(1)
	}
	p.logf("camera %s run %s failed: %s", p.camera, runID, reason)
}

// scheduleResetLocked arms the terminal auto-reset. Called with p.mu held,
// after a reason has been attached.
func (p *AnalysisPipeline) scheduleResetLocked() {
	runID := p.runID
	p.stopReset = p.clock.AfterFunc(p.resetDelay, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.runID != runID || !p.stage.Terminal() {
			return
		}
		p.resetFieldsLocked()
	})
}

// resetFieldsLocked clears all pipeline-local fields back to idle.
func (p *AnalysisPipeline) resetFieldsLocked() {
	p.stage = StageIdle
	p.floor = 0
	p.reason = ""
	p.confidence = nil
	p.model = ""
	p.runID = ""
}
