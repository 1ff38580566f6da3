// Package web serves the robot dashboard: a JSON API for status,
// commands and history, websocket push for status and camera frames, and
// WebRTC signalling for the low-latency camera relay.
package web

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-spider/internal/log"
	"github.com/teslashibe/go-spider/pkg/camera"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/hub"
	"github.com/teslashibe/go-spider/pkg/journal"
	"github.com/teslashibe/go-spider/pkg/photos"
	"github.com/teslashibe/go-spider/pkg/status"
)

// StatusSource is the status hub.
type StatusSource interface {
	Snapshot() status.RobotState
	Subscribe() (<-chan status.RobotState, func())
}

// Commander accepts commands, normally the decision loop.
type Commander interface {
	Submit(cmd command.Command) error
}

// Router turns free text into a command.
type Router interface {
	Route(raw string, src command.Source) command.Command
}

// History is the decision journal.
type History interface {
	RecentOutcomes(ctx context.Context, limit int) ([]command.Outcome, error)
	RecentPhotos(ctx context.Context, limit int) ([]photos.Photo, error)
	RecentThoughts(ctx context.Context, limit int) ([]journal.Thought, error)
	Ping(ctx context.Context) error
}

// PhotoFiles resolves photo names to files on disk.
type PhotoFiles interface {
	List(limit int) ([]string, error)
	Open(name string) (string, error)
}

// DriveAuth runs the Google Drive OAuth flow.
type DriveAuth interface {
	IsAuthorized() bool
	AuthURL() string
	HandleCallback(ctx context.Context, code string) error
}

// Offerer answers WebRTC offers.
type Offerer interface {
	Answer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// CameraControl adjusts capture settings at runtime.
type CameraControl interface {
	Config() camera.Config
	SetConfig(cfg camera.Config) error
	ApplyPreset(name string) error
}

// StatsFunc returns a JSON-encodable counter snapshot.
type StatsFunc func() any

// Deps are the components the dashboard talks to. Status, Commands and
// Router are required; the rest enable optional endpoints.
type Deps struct {
	Status   StatusSource
	Commands Commander
	Router   Router
	History  History
	Photos   PhotoFiles
	Drive    DriveAuth
	Stream   Offerer
	Camera   CameraControl
	// Stats are served at /api/stats, keyed by subsystem.
	Stats map[string]StatsFunc
}

// Config configures the server.
type Config struct {
	Addr string
	// CommandRate is the sustained number of dashboard commands per
	// second; zero disables limiting. Stop is never limited.
	CommandRate  float64
	CommandBurst int
	// StaticDir, when set, is served at /.
	StaticDir string
	Logger    *slog.Logger
}

// Server is the dashboard server.
type Server struct {
	app     *fiber.App
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	log     *slog.Logger

	statusHub *hub.Hub
	cameraHub *hub.Hub
}

// NewServer builds the app and its routes. Nothing listens until Run.
func NewServer(cfg Config, deps Deps) *Server {
	logger := log.Or(cfg.Logger).With("component", "web")
	s := &Server{
		cfg:       cfg,
		deps:      deps,
		log:       logger,
		statusHub: hub.New("status", cfg.Logger),
		cameraHub: hub.New("camera", cfg.Logger),
	}
	if cfg.CommandRate > 0 {
		burst := max(cfg.CommandBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(cfg.CommandRate), burst)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-spider",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/health", s.handleHealth)
	api.Get("/stats", s.handleStats)
	api.Post("/command", s.handleCommand)
	api.Post("/stop", s.handleStop)
	api.Post("/capture", s.handleCapture)
	api.Get("/decisions", s.handleDecisions)
	api.Get("/thoughts", s.handleThoughts)
	api.Get("/photos", s.handlePhotos)
	api.Get("/photos/:name", s.handlePhotoFile)
	api.Get("/camera", s.handleCameraGet)
	api.Put("/camera", s.handleCameraSet)
	api.Get("/camera/presets", s.handleCameraPresets)
	api.Post("/camera/preset/:name", s.handleCameraPreset)
	api.Get("/drive/auth", s.handleDriveAuth)
	api.Get("/drive/callback", s.handleDriveCallback)
	api.Post("/webrtc/offer", s.handleOffer)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/camera", websocket.New(s.handleCameraWS))

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	s.app = app
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Publish pushes a camera frame to /ws/camera clients.
func (s *Server) Publish(jpeg []byte) { s.cameraHub.BroadcastBinary(jpeg) }

// Clients returns the number of status and camera websocket clients.
func (s *Server) Clients() (status, camera int) {
	return s.statusHub.ClientCount(), s.cameraHub.ClientCount()
}

// Run starts the hubs and the status feed, then listens until ctx is
// done.
func (s *Server) Run(ctx context.Context) error {
	go s.statusHub.Run(ctx)
	go s.cameraHub.Run(ctx)
	go s.feedStatus(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("dashboard listening", "addr", s.cfg.Addr)
		errCh <- s.app.Listen(s.cfg.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(sctx)
	}
}

// feedStatus relays every status update to websocket clients.
func (s *Server) feedStatus(ctx context.Context) {
	updates, cancel := s.deps.Status.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := s.statusHub.BroadcastJSON(statusView(st)); err != nil {
				s.log.Warn("encode status", "error", err)
			}
		}
	}
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
