// Package client is a Go client for a remote dispatcher's HTTP API.
//
// Usage:
//
//	c, err := client.New("http://localhost:8080")
//
//	// Schedule a confirmation email an hour from now.
//	j, err := c.Create(ctx, "order-42", job.QueueEmailConfirm,
//	    client.At(time.Now().Add(time.Hour)))
//
//	// Follow its lifecycle.
//	events, err := c.Watch(ctx, stream.JobTopic(j.ID.String()))
//	for evt := range events {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/delayed"
	"github.com/xraph/delayed/api"
	"github.com/xraph/delayed/id"
	"github.com/xraph/delayed/job"
	"github.com/xraph/delayed/stream"
)

// Client talks to the dispatcher's REST and websocket endpoints.
type Client struct {
	base        *url.URL
	http        *http.Client
	logger      *slog.Logger
	watchBuffer int
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("delayed/client: %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses back to the dispatcher's sentinel
// errors so callers can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return delayed.ErrJobNotFound
	case http.StatusConflict:
		return delayed.ErrJobAlreadyExists
	default:
		return nil
	}
}

// New creates a client for the server at baseURL ("http://host:port").
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("delayed/client: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("delayed/client: unsupported scheme %q", u.Scheme)
	}

	c := &Client{
		base:        u,
		http:        &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
		watchBuffer: 64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateOption configures a Create call.
type CreateOption func(*api.CreateJobRequest)

// At schedules the job for t instead of now.
func At(t time.Time) CreateOption {
	return func(r *api.CreateJobRequest) {
		utc := t.UTC()
		r.RunAt = &utc
	}
}

// Create schedules a job for actorID on queue q.
func (c *Client) Create(ctx context.Context, actorID string, q job.Queue, opts ...CreateOption) (*job.Job, error) {
	req := api.CreateJobRequest{ActorID: actorID, Queue: q}
	for _, opt := range opts {
		opt(&req)
	}

	var j job.Job
	if err := c.do(ctx, http.MethodPost, "/v1/jobs", nil, req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Get returns a job by ID.
func (c *Client) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var j job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID.String(), nil, nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// List returns jobs matching opts.
func (c *Client) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", string(opts.State))
	}
	if opts.Queue != "" {
		q.Set("queue", opts.Queue.String())
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}

	var jobs []*job.Job
	if err := c.do(ctx, http.MethodGet, "/v1/jobs", q, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// Run asks the server to attempt jobID now and returns the outcome with
// the job as it stands afterwards.
func (c *Client) Run(ctx context.Context, jobID id.JobID) (*api.RunResponse, error) {
	var resp api.RunResponse
	if err := c.do(ctx, http.MethodPost, "/v1/jobs/"+jobID.String()+"/run", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep triggers an out-of-schedule sweep and returns how many attempts
// it started.
func (c *Client) Sweep(ctx context.Context) (int, error) {
	var resp api.SweepResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sweep", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Dispatched, nil
}

// Stats returns job counts by state.
func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns nil when the server and its store are reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Watch streams events for topic until ctx is done or the server closes
// the feed. The returned channel is closed when the stream ends; events
// arriving while the channel is full are dropped.
func (c *Client) Watch(ctx context.Context, topic string) (<-chan *stream.Event, error) {
	if err := stream.ValidateTopic(topic); err != nil {
		return nil, err
	}

	u := *c.base
	u.Path += "/v1/stream"
	u.RawQuery = url.Values{"topic": {topic}}.Encode()
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}

	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("delayed/client: websocket dial: %w", err)
	}

	ch := make(chan *stream.Event, c.watchBuffer)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		defer conn.Close()

		for {
			data, readErr := wsutil.ReadServerText(conn)
			if readErr != nil {
				if ctx.Err() == nil && !isClosed(readErr) {
					c.logger.Warn("stream read error",
						slog.String("topic", topic),
						slog.String("error", readErr.Error()),
					)
				}
				return
			}

			var evt stream.Event
			if unmarshalErr := json.Unmarshal(data, &evt); unmarshalErr != nil {
				c.logger.Warn("invalid stream event", slog.String("error", unmarshalErr.Error()))
				continue
			}
			select {
			case ch <- &evt:
			default:
				c.logger.Debug("stream event dropped", slog.String("type", string(evt.Type)))
			}
		}
	}()

	return ch, nil
}

func isClosed(err error) bool {
	var closed wsutil.ClosedError
	return errors.As(err, &closed) || errors.Is(err, io.EOF)
}

// do sends one JSON request and decodes a 2xx body into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.base
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("delayed/client: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("delayed/client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delayed/client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("delayed/client: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}

	var body api.ErrorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return apiErr
}
