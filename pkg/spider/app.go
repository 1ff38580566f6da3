// Package spider assembles the robot process: hardware, motion, perception,
// reasoning, command intake and the dashboard.
package spider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-spider/internal/config"
	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/actuator"
	"github.com/teslashibe/go-spider/pkg/autonomy"
	"github.com/teslashibe/go-spider/pkg/camera"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/decision"
	"github.com/teslashibe/go-spider/pkg/detection"
	"github.com/teslashibe/go-spider/pkg/detection/yolo"
	"github.com/teslashibe/go-spider/pkg/gait"
	"github.com/teslashibe/go-spider/pkg/inference"
	"github.com/teslashibe/go-spider/pkg/journal"
	"github.com/teslashibe/go-spider/pkg/perception"
	"github.com/teslashibe/go-spider/pkg/photos"
	"github.com/teslashibe/go-spider/pkg/reasoning"
	"github.com/teslashibe/go-spider/pkg/robot"
	"github.com/teslashibe/go-spider/pkg/status"
	"github.com/teslashibe/go-spider/pkg/stream"
	"github.com/teslashibe/go-spider/pkg/voice"
	"github.com/teslashibe/go-spider/pkg/web"
)

// mockReply satisfies both the inference and the thought prompts.
const mockReply = `{"action": "none", "response": "I am a simulated spider.", "thought": "The simulated room is quiet.", "emotion": "calm"}`

// App owns every component and their goroutines.
type App struct {
	cfg  *config.Config
	log  *slog.Logger
	mock bool

	driver   robot.Driver
	device   *camera.Device
	detector detection.Detector
	provider inference.Provider

	state    *status.Hub
	bus      *actuator.Bus
	engine   *gait.Engine
	pipeline *perception.Pipeline
	archive  *photos.Archive
	drive    *photos.DriveUploader
	journal  *journal.Journal
	reasoner *reasoning.Reasoner
	loop     *decision.Loop
	router   *command.Router
	listener *voice.Listener
	explorer *autonomy.Explorer
	relay    *stream.Relay
	server   *web.Server
	cameras  *camera.Manager

	inputs chan command.Input
	wg     sync.WaitGroup
}

// Option customizes an App, mostly for tests.
type Option func(*App)

// WithMock uses the simulated driver, a synthetic camera and a canned
// reasoning provider.
func WithMock() Option { return func(a *App) { a.mock = true } }

// WithDriver replaces the configured hardware.
func WithDriver(d robot.Driver) Option { return func(a *App) { a.driver = d } }

// WithProvider replaces the configured reasoning endpoint.
func WithProvider(p inference.Provider) Option { return func(a *App) { a.provider = p } }

// WithDetector replaces the YOLO detector.
func WithDetector(d detection.Detector) Option { return func(a *App) { a.detector = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// New validates cfg and returns an uninitialized App.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	a.log = log.Or(a.log).With("component", "spider")
	return a, nil
}

// Init builds every component. Call it after New and before Run.
func (a *App) Init() error {
	a.state = status.NewHub()
	a.state.SetMode(decision.Idle.String())

	if err := a.initHardware(); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	a.initMotion()

	if err := a.initStorage(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.initPerception()

	if err := a.initReasoning(); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	a.initDecision()
	a.initStreaming()

	a.log.Info("initialized",
		"driver", a.cfg.Robot.Driver,
		"mock", a.mock,
		"voice", a.listener != nil,
		"autonomy", a.explorer != nil,
		"drive", a.drive != nil)
	return nil
}

func (a *App) initHardware() error {
	if a.driver != nil {
		return nil
	}
	if a.mock || a.cfg.Robot.Driver == "sim" {
		sim := robot.NewSimDriver()
		sim.SetFrame(syntheticFrame())
		a.driver = sim
		return nil
	}

	fc := robot.FeetechConfig{Port: a.cfg.Robot.Port, BaudRate: a.cfg.Robot.BaudRate}
	copy(fc.IDs[:], a.cfg.Robot.ServoIDs)
	servos, err := robot.NewFeetechDriver(fc)
	if err != nil {
		return err
	}
	if err := servos.Enable(context.Background()); err != nil {
		servos.Close()
		return fmt.Errorf("enable torque: %w", err)
	}

	var cam robot.FrameSource
	if a.cfg.Perception.Enabled {
		a.cameras = camera.NewManager(camera.DefaultConfig())
		dev, err := camera.Open(a.cfg.Perception.Device, a.cameras.Config())
		if err != nil {
			a.log.Warn("camera unavailable", "error", err)
		} else {
			a.device = dev
			a.cameras.OnConfigChange = dev.Apply
			cam = dev
		}
	}
	a.driver = robot.NewHardware(servos, robot.IIODistance{Path: a.cfg.Robot.DistancePath}, cam)
	return nil
}

func (a *App) limits() robot.Limits {
	r := a.cfg.Robot
	return robot.UniformLimits(r.MinAngle, r.MaxAngle, r.MaxStep)
}

func (a *App) initMotion() {
	a.bus = actuator.New(a.driver,
		actuator.WithLimits(a.limits()),
		actuator.WithWriteTimeout(a.cfg.Robot.WriteTimeout),
		actuator.WithRecoveryInterval(a.cfg.Robot.RecoveryInterval),
		actuator.WithSink(a.state),
		actuator.WithLogger(a.log))

	g := a.cfg.Gait
	a.engine = gait.NewEngine(a.bus,
		gait.WithGeometry(gait.Geometry{StepHeight: g.StepHeight, Stride: g.Stride, TurnStep: g.TurnStep}),
		gait.WithHold(g.Hold),
		gait.WithLimits(a.limits()),
		gait.WithLogger(a.log))
}

func (a *App) initStorage() error {
	j, err := journal.Open(a.cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	a.journal = j

	opts := []photos.Option{photos.WithRecorder(j), photos.WithLogger(a.log)}
	if d := a.cfg.Drive; d.Enabled {
		up, err := photos.NewDriveUploader(photos.DriveConfig{
			CredentialsFile: d.CredentialsFile,
			TokenFile:       d.TokenFile,
			FolderID:        d.FolderID,
		})
		if err != nil {
			// photos still land on disk
			a.log.Warn("drive upload disabled", "error", err)
		} else {
			a.drive = up
			opts = append(opts, photos.WithUploader(up))
		}
	}
	archive, err := photos.NewArchive(a.cfg.Storage.ImagesDir, opts...)
	if err != nil {
		return err
	}
	a.archive = archive
	return nil
}

func (a *App) initPerception() {
	p := a.cfg.Perception
	if a.detector == nil && p.Enabled && !a.mock {
		yc := yolo.DefaultConfig()
		yc.ModelPath = p.ModelPath
		yc.ConfidenceThresh = p.Confidence
		det, err := yolo.New(yc)
		if err != nil {
			a.log.Warn("detector unavailable, frames only", "error", err)
		} else {
			a.detector = det
		}
	}
	a.pipeline = perception.New(a.driver, a.detector,
		perception.WithFPS(p.FPS),
		perception.WithFailureThreshold(p.FailureThreshold),
		perception.WithSink(a.state),
		perception.WithPhotoStore(a.archive),
		perception.WithLogger(a.log))
}

func (a *App) initReasoning() error {
	if a.provider == nil {
		p, err := a.newProvider()
		if err != nil {
			return err
		}
		a.provider = p
	}
	a.reasoner = reasoning.New(a.provider, reasoning.WithLogger(a.log))
	return nil
}

func (a *App) newProvider() (inference.Provider, error) {
	if a.mock {
		return inference.NewMock(mockReply), nil
	}
	r := a.cfg.Reasoning
	primary, err := inference.NewClient(
		inference.WithBaseURL(r.BaseURL),
		inference.WithModel(r.Model),
		inference.WithVisionModel(r.Model),
		inference.WithAPIKey(r.APIKey),
		inference.WithTimeout(a.cfg.Decision.ReasoningTimeout),
		inference.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	if r.FallbackURL == "" {
		return primary, nil
	}
	fallback, err := inference.NewClient(
		inference.WithName("fallback"),
		inference.WithBaseURL(r.FallbackURL),
		inference.WithModel(r.FallbackModel),
		inference.WithVisionModel(r.FallbackModel),
		inference.WithTimeout(a.cfg.Decision.ReasoningTimeout),
		inference.WithLogger(a.log))
	if err != nil {
		primary.Close()
		return nil, err
	}
	return inference.NewChain(a.log, primary, fallback)
}

func (a *App) initDecision() {
	g := a.cfg.Gait
	a.loop = decision.New(a.engine,
		decision.WithReasoner(a.reasoner),
		decision.WithPerception(a.pipeline),
		decision.WithSink(a.state),
		decision.WithJournal(a.journal),
		decision.WithQueueSize(a.cfg.Decision.QueueSize),
		decision.WithReasoningTimeout(a.cfg.Decision.ReasoningTimeout),
		decision.WithParams(gait.Params{Steps: g.Steps, Angle: g.TurnAngle}),
		decision.WithLogger(a.log))

	a.router = command.NewRouter(a.log)
	a.inputs = make(chan command.Input, a.cfg.Decision.QueueSize)

	if v := a.cfg.Voice; v.URL != "" {
		a.listener = voice.NewListener(voice.Config{URL: v.URL, WakePhrase: v.WakePhrase, Logger: a.log})
		a.listener.SetHealthSink(a.state)
	}

	if au := a.cfg.Autonomy; au.Enabled {
		a.explorer = autonomy.New(autonomy.Config{
			Interval:      au.Interval,
			ThinkTimeout:  a.cfg.Decision.ReasoningTimeout,
			ActOnThoughts: au.ActOnThoughts,
			ObstacleStop:  au.ObstacleStop,
			DistancePoll:  au.DistancePoll,
		}, a.loop, a.state,
			autonomy.WithThinker(a.reasoner),
			autonomy.WithPerception(a.pipeline),
			autonomy.WithDistanceSensor(a.driver),
			autonomy.WithRecorder(a.journal),
			autonomy.WithLogger(a.log))
	}
}

func (a *App) initStreaming() {
	a.relay = stream.NewRelay(stream.WithLogger(a.log))

	deps := web.Deps{
		Status:   a.state,
		Commands: a.loop,
		Router:   a.router,
		History:  a.journal,
		Photos:   a.archive,
		Stream:   a.relay,
	}
	if a.drive != nil {
		deps.Drive = a.drive
	}
	if a.cameras != nil {
		deps.Camera = a.cameras
	}
	deps.Stats = map[string]web.StatsFunc{
		status.Actuators:  func() any { return a.bus.Stats() },
		status.Perception: func() any { return a.pipeline.Stats() },
	}
	if a.listener != nil {
		deps.Stats[status.Voice] = func() any { return a.listener.Stats() }
	}
	if a.explorer != nil {
		deps.Stats["autonomy"] = func() any { return a.explorer.Stats() }
	}
	w := a.cfg.Web
	a.server = web.NewServer(web.Config{
		Addr:         w.Addr,
		CommandRate:  w.CommandRate,
		CommandBurst: w.CommandBurst,
		Logger:       a.log,
	}, deps)
}

// Submit routes text as if it had been spoken.
func (a *App) Submit(ctx context.Context, text string) error {
	select {
	case a.inputs <- command.Input{Text: text, Source: command.SourceVoice}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the status hub.
func (a *App) State() *status.Hub { return a.state }

// Loop returns the decision loop.
func (a *App) Loop() *decision.Loop { return a.loop }

// Server returns the dashboard server.
func (a *App) Server() *web.Server { return a.server }

func (a *App) goRun(ctx context.Context, name string, fn func(ctx context.Context)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn(ctx)
		a.log.Debug("stopped", "task", name)
	}()
}

// Run starts every component and blocks until ctx is done or the
// dashboard fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.goRun(ctx, "actuators", a.bus.Run)
	a.goRun(ctx, "decision", a.loop.Run)
	if a.cfg.Perception.Enabled {
		a.goRun(ctx, "perception", a.pipeline.Run)
		a.goRun(ctx, "stream", func(ctx context.Context) {
			interval := time.Duration(float64(time.Second) / a.cfg.Perception.FPS)
			stream.Pump(ctx, a.pipeline, interval, a.relay, stream.FrameSinkFunc(a.server.Publish))
		})
	} else {
		a.state.SetHealth(status.Perception, status.Disabled, "perception.enabled is false")
	}

	routed := make(chan command.Command, a.cfg.Decision.QueueSize)
	a.goRun(ctx, "router", func(ctx context.Context) { a.router.Pipe(ctx, a.inputs, routed) })
	a.goRun(ctx, "intake", func(ctx context.Context) { a.loop.Consume(ctx, routed) })

	if a.listener != nil {
		a.goRun(ctx, "voice", func(ctx context.Context) {
			if err := a.listener.Run(ctx, a.inputs); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Error("voice stopped", "error", err)
			}
		})
	}
	if a.explorer != nil {
		a.goRun(ctx, "autonomy", a.explorer.Run)
	}

	a.log.Info("spider is listening", "addr", a.cfg.Web.Addr, "wake_phrase", a.cfg.Voice.WakePhrase)
	err := a.server.Run(ctx)
	cancel()
	a.wg.Wait()
	return err
}

// Shutdown releases hardware and storage. Call it after Run returns.
func (a *App) Shutdown() {
	var errs []error
	if a.relay != nil {
		errs = append(errs, a.relay.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Close())
	}
	if a.driver != nil {
		errs = append(errs, a.driver.Close())
	}
	if a.device != nil {
		errs = append(errs, a.device.Close())
	}
	if a.journal != nil {
		errs = append(errs, a.journal.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown", "error", err)
	}
	a.log.Info("goodbye")
}

// syntheticFrame is the gray test card served by the simulated camera.
func syntheticFrame() []byte {
	img := image.NewGray(image.Rect(0, 0, 160, 120))
	for y := 0; y < 120; y++ {
		for x := 0; x < 160; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y) % 256)})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil
	}
	return buf.Bytes()
}
