package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const defaultServer = "http://127.0.0.1:8440"

// sessionInfo mirrors the server's session resource.
type sessionInfo struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	State      string    `json:"state"`
	Shell      string    `json:"shell,omitempty"`
	Workdir    string    `json:"workdir,omitempty"`
	Target     string    `json:"target,omitempty"`
	Cols       uint16    `json:"cols"`
	Rows       uint16    `json:"rows"`
	Attached   bool      `json:"attached"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

type sessionList struct {
	Sessions []sessionInfo  `json:"sessions"`
	Stats    map[string]int `json:"stats"`
}

// createRequest mirrors POST /sessions.
type createRequest struct {
	Kind       string            `json:"kind"`
	Shell      string            `json:"shell,omitempty"`
	Workdir    string            `json:"workdir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Cols       uint16            `json:"cols,omitempty"`
	Rows       uint16            `json:"rows,omitempty"`
	TargetName string            `json:"target_name,omitempty"`
}

// execCall mirrors POST /exec.
type execCall struct {
	TargetName string `json:"target_name,omitempty"`
	Command    string `json:"command"`
	TimeoutMS  int64  `json:"timeout_ms,omitempty"`
}

type execResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

type breakerInfo struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	Counts struct {
		Requests       uint32 `json:"requests"`
		TotalSuccesses uint32 `json:"total_successes"`
		TotalFailures  uint32 `json:"total_failures"`
	} `json:"counts"`
}

type poolTarget struct {
	Target  string `json:"target"`
	Idle    int    `json:"idle"`
	InUse   int    `json:"in_use"`
	Breaker string `json:"breaker"`
}

type gatewayStatus struct {
	UptimeSeconds int64          `json:"uptime_seconds"`
	Sessions      map[string]int `json:"sessions"`
	Targets       []poolTarget   `json:"targets"`
	Circuits      []breakerInfo  `json:"circuits"`
}

// apiError mirrors the server's error body.
type apiError struct {
	Message string `json:"error"`
	Kind    string `json:"kind"`
}

// apiClient talks to the termgate REST API.
type apiClient struct {
	base string
	http *resty.Client
}

// newAPIClient builds the resty client. Commands bound their own calls
// with context deadlines; timeout adds a client-wide cap on top when
// the config file sets one.
func newAPIClient(base string, timeout time.Duration) *apiClient {
	c := resty.New().
		SetBaseURL(base).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "termctl/"+version)
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &apiClient{base: base, http: c}
}

// decode unmarshals a 2xx body into out, or turns an error body into a
// readable error.
func decode(resp *resty.Response, out interface{}) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		var apiErr apiError
		if err := sonic.Unmarshal(resp.Body(), &apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Kind)
		}
		return fmt.Errorf("server returned HTTP %d", resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) createSession(ctx context.Context, req createRequest) (*sessionInfo, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(req).Post("/sessions")
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	var info sessionInfo
	if err := decode(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *apiClient) listSessions(ctx context.Context) (*sessionList, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/sessions")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var list sessionList
	if err := decode(resp, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

func (c *apiClient) getSession(ctx context.Context, id string) (*sessionInfo, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/sessions/" + id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var info sessionInfo
	if err := decode(resp, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *apiClient) closeSession(ctx context.Context, id string) error {
	resp, err := c.http.R().SetContext(ctx).Delete("/sessions/" + id)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return decode(resp, nil)
}

func (c *apiClient) exec(ctx context.Context, call execCall) (*execResult, error) {
	resp, err := c.http.R().SetContext(ctx).SetBody(call).Post("/exec")
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	var res execResult
	if err := decode(resp, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *apiClient) status(ctx context.Context) (*gatewayStatus, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/status")
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	var st gatewayStatus
	if err := decode(resp, &st); err != nil {
		return nil, err
	}
	return &st, nil
}
