package web

import (
	"context"
	"errors"
	"maps"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-spider/pkg/camera"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/decision"
	"github.com/teslashibe/go-spider/pkg/hub"
	"github.com/teslashibe/go-spider/pkg/status"
	"github.com/teslashibe/go-spider/pkg/stream"
)

const (
	defaultLimit = 20
	offerTimeout = 10 * time.Second
)

// StatusView is RobotState plus the overall health, as served to clients.
type StatusView struct {
	status.RobotState
	Overall status.Health `json:"overall"`
}

func statusView(st status.RobotState) StatusView {
	return StatusView{RobotState: st, Overall: st.Overall()}
}

// CommandRequest is the body of POST /api/command. Either Text is set,
// or Kind with its fields.
type CommandRequest struct {
	Text      string            `json:"text"`
	Kind      command.Kind      `json:"kind"`
	Direction command.Direction `json:"direction"`
	Magnitude float64           `json:"magnitude"`
	Gesture   string            `json:"gesture"`
}

// CommandResponse acknowledges a queued command.
type CommandResponse struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Pending int    `json:"pending,omitempty"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(statusView(s.deps.Status.Snapshot()))
}

// StatsView is the body of GET /api/stats.
type StatsView struct {
	Components map[string]any `json:"components"`
	Clients    ClientCounts   `json:"clients"`
}

// ClientCounts are the connected websocket clients per feed.
type ClientCounts struct {
	Status int `json:"status"`
	Camera int `json:"camera"`
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	view := StatsView{Components: make(map[string]any, len(s.deps.Stats))}
	for name, fn := range s.deps.Stats {
		view.Components[name] = fn()
	}
	view.Clients.Status, view.Clients.Camera = s.Clients()
	return c.JSON(view)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	st := s.deps.Status.Snapshot()
	components := maps.Clone(st.Health)
	if components == nil {
		components = map[string]status.ComponentHealth{}
	}
	if s.deps.History != nil {
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()
		h := status.ComponentHealth{Status: status.Healthy, Changed: time.Now()}
		if err := s.deps.History.Ping(ctx); err != nil {
			h.Status, h.Detail = status.Failed, err.Error()
		}
		components[status.Journal] = h
	}
	overall := status.RobotState{Health: components}.Overall()
	code := fiber.StatusOK
	if overall == status.Failed {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":     overall,
		"components": components,
	})
}

func (s *Server) handleCommand(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	cmd, err := s.build(req)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if cmd.Kind != command.KindStop && s.limiter != nil && !s.limiter.Allow() {
		return fiber.NewError(fiber.StatusTooManyRequests, "slow down")
	}
	return s.submit(c, cmd)
}

// build turns a request into a command.
func (s *Server) build(req CommandRequest) (command.Command, error) {
	if req.Text != "" {
		return s.deps.Router.Route(req.Text, command.SourceWeb), nil
	}
	switch req.Kind {
	case command.KindMove:
		switch req.Direction {
		case command.Forward, command.Backward, command.Left, command.Right:
			return command.Move(req.Direction, req.Magnitude, command.SourceWeb), nil
		}
		return command.Command{}, errors.New("move needs a direction: forward, backward, left or right")
	case command.KindGesture:
		if req.Gesture == "" {
			return command.Command{}, errors.New("gesture needs a name")
		}
		return command.Gesture(req.Gesture, command.SourceWeb), nil
	case command.KindCapture:
		return command.Capture(command.SourceWeb), nil
	case command.KindStop:
		return command.Stop(command.SourceWeb), nil
	case command.KindQuery:
		return command.Command{}, errors.New("query needs text")
	case "":
		return command.Command{}, errors.New("text or kind required")
	}
	return command.Command{}, errors.New("unknown kind " + string(req.Kind))
}

func (s *Server) submit(c *fiber.Ctx, cmd command.Command) error {
	switch err := s.deps.Commands.Submit(cmd); {
	case errors.Is(err, decision.ErrQueueFull):
		return fiber.NewError(fiber.StatusServiceUnavailable, "command queue is full")
	case errors.Is(err, decision.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, "shutting down")
	case err != nil:
		return err
	}
	resp := CommandResponse{ID: cmd.ID, Command: cmd.String()}
	if p, ok := s.deps.Commands.(interface{ Pending() int }); ok {
		resp.Pending = p.Pending()
	}
	return c.Status(fiber.StatusAccepted).JSON(resp)
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	return s.submit(c, command.Stop(command.SourceWeb))
}

func (s *Server) handleCapture(c *fiber.Ctx) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return fiber.NewError(fiber.StatusTooManyRequests, "slow down")
	}
	return s.submit(c, command.Capture(command.SourceWeb))
}

func (s *Server) handleDecisions(c *fiber.Ctx) error {
	if s.deps.History == nil {
		return fiber.NewError(fiber.StatusNotFound, "no journal")
	}
	out, err := s.deps.History.RecentOutcomes(c.UserContext(), c.QueryInt("limit", defaultLimit))
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) handleThoughts(c *fiber.Ctx) error {
	if s.deps.History == nil {
		return fiber.NewError(fiber.StatusNotFound, "no journal")
	}
	out, err := s.deps.History.RecentThoughts(c.UserContext(), c.QueryInt("limit", defaultLimit))
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) handlePhotos(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultLimit)
	if s.deps.History != nil {
		out, err := s.deps.History.RecentPhotos(c.UserContext(), limit)
		if err != nil {
			return err
		}
		return c.JSON(out)
	}
	if s.deps.Photos == nil {
		return fiber.NewError(fiber.StatusNotFound, "no photo archive")
	}
	names, err := s.deps.Photos.List(limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"names": names})
}

func (s *Server) handlePhotoFile(c *fiber.Ctx) error {
	if s.deps.Photos == nil {
		return fiber.NewError(fiber.StatusNotFound, "no photo archive")
	}
	path, err := s.deps.Photos.Open(c.Params("name"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	c.Type("jpg")
	return c.SendFile(path)
}

func (s *Server) handleCameraGet(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "no camera")
	}
	return c.JSON(s.deps.Camera.Config())
}

func (s *Server) handleCameraSet(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "no camera")
	}
	cfg := s.deps.Camera.Config()
	if err := c.BodyParser(&cfg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if err := s.deps.Camera.SetConfig(cfg); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.deps.Camera.Config())
}

func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	presets := camera.Presets()
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return c.JSON(names)
}

func (s *Server) handleCameraPreset(c *fiber.Ctx) error {
	if s.deps.Camera == nil {
		return fiber.NewError(fiber.StatusNotFound, "no camera")
	}
	if err := s.deps.Camera.ApplyPreset(c.Params("name")); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(s.deps.Camera.Config())
}

func (s *Server) handleDriveAuth(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return fiber.NewError(fiber.StatusNotFound, "drive upload not configured")
	}
	if s.deps.Drive.IsAuthorized() {
		return c.JSON(fiber.Map{"authorized": true})
	}
	return c.Redirect(s.deps.Drive.AuthURL(), fiber.StatusTemporaryRedirect)
}

func (s *Server) handleDriveCallback(c *fiber.Ctx) error {
	if s.deps.Drive == nil {
		return fiber.NewError(fiber.StatusNotFound, "drive upload not configured")
	}
	code := c.Query("code")
	if code == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing code")
	}
	if err := s.deps.Drive.HandleCallback(c.UserContext(), code); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}
	return c.JSON(fiber.Map{"authorized": true})
}

func (s *Server) handleOffer(c *fiber.Ctx) error {
	if s.deps.Stream == nil {
		return fiber.NewError(fiber.StatusNotFound, "camera relay not configured")
	}
	var offer webrtc.SessionDescription
	if err := c.BodyParser(&offer); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid offer: "+err.Error())
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), offerTimeout)
	defer cancel()
	answer, err := s.deps.Stream.Answer(ctx, offer)
	switch {
	case errors.Is(err, stream.ErrBadOffer):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, stream.ErrTooManyPeers):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case err != nil:
		return err
	}
	return c.JSON(answer)
}

func (s *Server) handleStatusWS(c *websocket.Conn) {
	// new clients get the current state before any update
	if err := c.WriteJSON(statusView(s.deps.Status.Snapshot())); err != nil {
		return
	}
	if client := hub.NewClient(s.statusHub, c); client != nil {
		client.Run()
	}
}

func (s *Server) handleCameraWS(c *websocket.Conn) {
	if client := hub.NewClient(s.cameraHub, c); client != nil {
		client.Run()
	}
}
