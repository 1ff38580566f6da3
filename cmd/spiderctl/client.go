package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/teslashibe/go-spider/internal/httpc"
	"github.com/teslashibe/go-spider/pkg/command"
	"github.com/teslashibe/go-spider/pkg/status"
	"github.com/teslashibe/go-spider/pkg/web"
)

// client talks to the dashboard API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string) *client {
	return &client{base: strings.TrimRight(base, "/"), http: httpc.NewClient(httpc.DefaultConnectTimeout)}
}

func (c *client) Status(ctx context.Context) (status.RobotState, error) {
	body, err := httpc.GetJSONBody(ctx, c.http, c.base+"/api/status")
	if err != nil {
		return status.RobotState{}, err
	}
	var v web.StatusView
	if err := json.Unmarshal(body, &v); err != nil {
		return status.RobotState{}, fmt.Errorf("decode status: %w", err)
	}
	return v.RobotState, nil
}

func (c *client) Send(ctx context.Context, text string) error {
	_, err := c.send(ctx, text)
	return err
}

func (c *client) send(ctx context.Context, text string) (web.CommandResponse, error) {
	payload, err := json.Marshal(web.CommandRequest{Text: text})
	if err != nil {
		return web.CommandResponse{}, err
	}
	body, err := httpc.PostJSON(ctx, c.http, c.base+"/api/command", bytes.NewReader(payload))
	if err != nil {
		return web.CommandResponse{}, apiError(body, err)
	}
	var resp web.CommandResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return web.CommandResponse{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

func (c *client) Decisions(ctx context.Context, limit int) ([]command.Outcome, error) {
	body, err := httpc.GetJSONBody(ctx, c.http, fmt.Sprintf("%s/api/decisions?limit=%d", c.base, limit))
	if err != nil {
		return nil, apiError(body, err)
	}
	var out []command.Outcome
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode decisions: %w", err)
	}
	return out, nil
}

// apiError prefers the server's {"error": ...} message.
func apiError(body []byte, err error) error {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("%w: %s", err, e.Error)
	}
	return err
}
