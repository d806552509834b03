// Package inference talks to the detection/report backend and normalizes
// what it returns.
package inference

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

	"github.com/auraa-fs/cropscan/internal/logger"
	"github.com/auraa-fs/cropscan/pkg/types"
)

var log = logger.For("Inference")

const (
	// DefaultDetectTimeout bounds a single detection request.
	DefaultDetectTimeout = 5 * time.Second
	// DefaultCallTimeout bounds uploads, reports and model management calls.
	DefaultCallTimeout = 90 * time.Second

	maxResponseBytes = 8 << 20
)

// Client calls the backend API rooted at a base URL.
type Client struct {
	baseURL       string
	http          *http.Client
	detectTimeout time.Duration
	callTimeout   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithDetectTimeout sets the per-request timeout for Detect.
func WithDetectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.detectTimeout = d
		}
	}
}

// WithCallTimeout sets the timeout for every call other than Detect.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// NewClient returns a client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{},
		detectTimeout: DefaultDetectTimeout,
		callTimeout:   DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string { return c.baseURL }

type detectRequest struct {
	Frame string `json:"frame"`
}

type detectResponse struct {
	Success    *bool          `json:"success"`
	Detections []RawDetection `json:"detections"`
	FrameSize  []int          `json:"frame_size"` // [height, width]
	Error      string         `json:"error"`
}

// Detect sends one encoded frame to /stream/detect and returns normalized
// boxes. Any failure is a *TransportError.
func (c *Client) Detect(ctx context.Context, frame types.EncodedFrame) ([]types.DetectionBox, error) {
	ctx, cancel := context.WithTimeout(ctx, c.detectTimeout)
	defer cancel()

	var resp detectResponse
	if err := c.doJSON(ctx, "detect", http.MethodPost, "/stream/detect", detectRequest{Frame: frame.Data}, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, &TransportError{Op: "detect", Err: backendError(resp.Error)}
	}

	w, h := frame.Width, frame.Height
	if len(resp.FrameSize) == 2 && resp.FrameSize[0] > 0 && resp.FrameSize[1] > 0 {
		h, w = resp.FrameSize[0], resp.FrameSize[1]
	}

	boxes := Normalize(resp.Detections, w, h)
	if dropped := len(resp.Detections) - len(boxes); dropped > 0 {
		log.Debug("dropped %d invalid detections", dropped)
	}
	return boxes, nil
}

// Health fetches the backend status document.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.detectTimeout)
	defer cancel()

	var out map[string]any
	if err := c.doJSON(ctx, "health", http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doJSON performs a JSON round trip. body may be nil. Non-2xx responses and
// undecodable bodies become *TransportError.
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, op, out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &env)
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: backendError(env.Error)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed response: %w", err)}
	}
	return nil
}

var errBackend = errors.New("backend error")

func backendError(msg string) error {
	if msg == "" {
		return errBackend
	}
	return fmt.Errorf("%w: %s", errBackend, msg)
}
