// Package routing talks to the external geocoding and routing provider.
//
// The provider orders the stops of a transport leg and scores the route.
// Calls are rate limited and time bounded; callers treat any error as
// "no route computed" and keep the vehicle assignment.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds a single routing call.
const DefaultTimeout = 3 * time.Second

// ErrNoProvider is returned by Disabled.
var ErrNoProvider = errors.New("routing: no provider configured")

// Stop is one pickup or dropoff point.
type Stop struct {
	ParticipantID string `json:"participant_id"`
	Address       string `json:"address"`
}

// Request asks for an ordering of stops for one vehicle on one instance.
type Request struct {
	InstanceID string    `json:"instance_id"`
	VehicleID  string    `json:"vehicle_id"`
	DepartAt   time.Time `json:"depart_at"`
	Stops      []Stop    `json:"stops"`
}

// Route is the provider's answer: participant IDs in visiting order and a
// scalar quality score.
type Route struct {
	Stops []string `json:"stops"`
	Score float64  `json:"score"`
}

// Router orders stops for a vehicle.
type Router interface {
	Route(ctx context.Context, req Request) (Route, error)
}

// Client calls an HTTP routing provider.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	timeout    time.Duration
}

// NewClient creates a client for the provider at baseURL that makes at most
// perSecond calls per second.
func NewClient(baseURL string, timeout time.Duration, perSecond float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		timeout:    timeout,
	}
}

// Route posts the stops to /route and returns the ordered result.
// Waiting for the rate limiter counts against the timeout.
func (c *Client) Route(ctx context.Context, req Request) (Route, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return Route{}, fmt.Errorf("routing rate limit: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Route{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/route", bytes.NewReader(body))
	if err != nil {
		return Route{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Route{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Route{}, fmt.Errorf("routing provider returned status %d: %s", resp.StatusCode, string(msg))
	}

	var route Route
	if err := json.NewDecoder(resp.Body).Decode(&route); err != nil {
		return Route{}, fmt.Errorf("decode response: %w", err)
	}
	return route, nil
}

// Disabled is the Router used when no provider is configured.
type Disabled struct{}

// Route always fails with ErrNoProvider.
func (Disabled) Route(context.Context, Request) (Route, error) {
	return Route{}, ErrNoProvider
}
