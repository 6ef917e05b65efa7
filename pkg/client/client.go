package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/rover/pkg/api"
	"github.com/cuemby/rover/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNoGRPC is returned by health checks when the client has no gRPC address
var ErrNoGRPC = errors.New("no gRPC address configured")

// APIError is a non-2xx response from the operator API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("operator API returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the operator API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDialOptions adds gRPC dial options, e.g. a custom dialer in tests
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// WithTimeout sets the per-request timeout (default 10s)
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client talks to a running controller: the HTTP operator API for module
// state and recovery, and the gRPC health service for serving status
type Client struct {
	baseURL  string
	http     *http.Client
	timeout  time.Duration
	dialOpts []grpc.DialOption

	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewClient creates a client for the controller at httpAddr. grpcAddr may
// be empty, in which case Check returns ErrNoGRPC. No connection is made
// until the first call.
func NewClient(httpAddr, grpcAddr string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:  "http://" + httpAddr,
		http:     &http.Client{},
		timeout:  10 * time.Second,
		dialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
	}
	for _, opt := range opts {
		opt(c)
	}

	if grpcAddr != "" {
		conn, err := grpc.NewClient(grpcAddr, c.dialOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC client: %w", err)
		}
		c.conn = conn
		c.health = healthpb.NewHealthClient(conn)
	}
	return c, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Modules returns every supervised module keyed by name
func (c *Client) Modules() (map[string]api.ModuleView, error) {
	var views map[string]api.ModuleView
	if err := c.do(http.MethodGet, "/modules", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// Module returns one module
func (c *Client) Module(name string) (api.ModuleView, error) {
	var view api.ModuleView
	err := c.do(http.MethodGet, "/modules/"+url.PathEscape(name), nil, &view)
	return view, err
}

// Recover forces a recovery strategy on a module
func (c *Client) Recover(name string, strategy types.RecoveryStrategy) (types.FailureEvent, error) {
	var event types.FailureEvent
	q := url.Values{"strategy": {string(strategy)}}
	err := c.do(http.MethodPost, "/modules/"+url.PathEscape(name)+"/recover", q, &event)
	return event, err
}

// Failures returns the supervisor's recent failure events, oldest first
func (c *Client) Failures() ([]types.FailureEvent, error) {
	var events []types.FailureEvent
	err := c.do(http.MethodGet, "/failures", nil, &events)
	return events, err
}

// Report returns the latest system health report
func (c *Client) Report() (types.SystemHealthReport, error) {
	var report types.SystemHealthReport
	err := c.do(http.MethodGet, "/report", nil, &report)
	return report, err
}

// TriggerEmergencyStop latches the system-wide emergency stop
func (c *Client) TriggerEmergencyStop(reason string) (types.EmergencyStop, error) {
	var es types.EmergencyStop
	var q url.Values
	if reason != "" {
		q = url.Values{"reason": {reason}}
	}
	err := c.do(http.MethodPost, "/emergency-stop", q, &es)
	return es, err
}

// ClearEmergencyStop releases the emergency stop
func (c *Client) ClearEmergencyStop() (types.EmergencyStop, error) {
	var es types.EmergencyStop
	err := c.do(http.MethodDelete, "/emergency-stop", nil, &es)
	return es, err
}

// Check asks the gRPC health service for the serving status of a module.
// The empty name is the controller as a whole.
func (c *Client) Check(service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	if c.health == nil {
		return healthpb.HealthCheckResponse_UNKNOWN, ErrNoGRPC
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) do(method, path string, query url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach controller: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var body struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &body) != nil || body.Error == "" {
			body.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: body.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
