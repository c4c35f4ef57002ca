package meshy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/meshypipe/internal/ctxkeys"
	"github.com/BaSui01/meshypipe/internal/metrics"
	"github.com/BaSui01/meshypipe/internal/pool"
	"github.com/BaSui01/meshypipe/internal/retry"
	"github.com/BaSui01/meshypipe/internal/tlsutil"
	"github.com/BaSui01/meshypipe/types"
)

// ClientConfig configures the Meshy task client.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	RequestTimeout    time.Duration
	DownloadTimeout   time.Duration
	ChunkSize         int
	MaxRetries        int
	RetryInitialDelay time.Duration
	RequestsPerSecond float64
}

// Client wraps the create/get/download endpoints of the three task kinds.
// One Client (and its connection pool) is shared by a whole pipeline run.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	retryer retry.Retryer
	buffers *pool.Pool[*[]byte]
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the shared hardened client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Meshy task client.
func NewClient(cfg ClientConfig, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 300 * time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256 * 1024
	}

	c := &Client{
		cfg:     cfg,
		http:    tlsutil.SecureHTTPClient(),
		buffers: pool.NewBufferPool(cfg.ChunkSize),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "meshy"))

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	c.retryer = retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.RetryInitialDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryIf:      types.IsRetryable,
	}, c.logger)

	return c
}

// =============================================================================
// Request types
// =============================================================================

// GenerationRequest creates an image-to-3d or multi-image-to-3d task.
type GenerationRequest struct {
	ImagePaths    []string
	Topology      string
	AIModel       string
	ShouldTexture bool
}

// RiggingRequest creates a rigging task from a finished generation task.
type RiggingRequest struct {
	InputTaskID  string
	HeightMeters float64
}

// AnimationRequest applies one action to a rigged character.
type AnimationRequest struct {
	RiggingTaskID string
	ActionID      string
}

type imageTo3DBody struct {
	ImageURL      string `json:"image_url"`
	ShouldTexture bool   `json:"should_texture"`
	Topology      string `json:"topology"`
	AIModel       string `json:"ai_model"`
}

type multiImageTo3DBody struct {
	ImageURLs     []string `json:"image_urls"`
	ShouldTexture bool     `json:"should_texture"`
	Topology      string   `json:"topology"`
	AIModel       string   `json:"ai_model"`
}

type riggingBody struct {
	InputTaskID  string  `json:"input_task_id"`
	HeightMeters float64 `json:"height_meters"`
}

type animationBody struct {
	RiggingTaskID string `json:"rigging_task_id"`
	ActionID      any    `json:"action_id"`
}

// GenerationEndpoint selects the endpoint for n reference images.
func GenerationEndpoint(n int) (string, error) {
	switch {
	case n == 1:
		return EndpointImageTo3D, nil
	case n >= 2 && n <= MaxImages:
		return EndpointMultiImageTo3D, nil
	case n == 0:
		return "", types.NewError(types.ErrInvalidInput, "at least one reference image is required")
	default:
		return "", types.Errorf(types.ErrInvalidInput, "Meshy multi-image-to-3d supports at most %d images (got %d)", MaxImages, n)
	}
}

// GenerationMode returns the human label of the endpoint used for n images.
func GenerationMode(n int) string {
	if n == 1 {
		return "image-to-3d"
	}
	return "multi-image-to-3d"
}

// =============================================================================
// Task operations
// =============================================================================

// CreateGenerationTask embeds the images as data URIs and submits them.
func (c *Client) CreateGenerationTask(ctx context.Context, req *GenerationRequest) (TaskRef, error) {
	endpoint, err := GenerationEndpoint(len(req.ImagePaths))
	if err != nil {
		return TaskRef{}, err
	}

	uris := make([]string, 0, len(req.ImagePaths))
	for _, p := range req.ImagePaths {
		uri, err := DataURI(p)
		if err != nil {
			return TaskRef{}, err
		}
		uris = append(uris, uri)
	}

	var body any
	if endpoint == EndpointImageTo3D {
		body = imageTo3DBody{
			ImageURL:      uris[0],
			ShouldTexture: req.ShouldTexture,
			Topology:      req.Topology,
			AIModel:       req.AIModel,
		}
	} else {
		body = multiImageTo3DBody{
			ImageURLs:     uris,
			ShouldTexture: req.ShouldTexture,
			Topology:      req.Topology,
			AIModel:       req.AIModel,
		}
	}
	return c.createTask(ctx, KindGeneration, endpoint, body)
}

// CreateRiggingTask submits a rigging task.
func (c *Client) CreateRiggingTask(ctx context.Context, req *RiggingRequest) (TaskRef, error) {
	return c.createTask(ctx, KindRigging, EndpointRigging, riggingBody{
		InputTaskID:  req.InputTaskID,
		HeightMeters: req.HeightMeters,
	})
}

// CreateAnimationTask submits an animation task. Numeric action IDs are sent
// as JSON numbers; anything else is sent as a string.
func (c *Client) CreateAnimationTask(ctx context.Context, req *AnimationRequest) (TaskRef, error) {
	var actionID any = req.ActionID
	// The animations endpoint types action_id as an integer.
	if _, err := strconv.ParseInt(req.ActionID, 10, 64); err == nil {
		actionID = json.Number(req.ActionID)
	}
	return c.createTask(ctx, KindAnimation, EndpointAnimations, animationBody{
		RiggingTaskID: req.RiggingTaskID,
		ActionID:      actionID,
	})
}

// GetTask fetches one status snapshot.
func (c *Client) GetTask(ctx context.Context, ref TaskRef) (*Task, error) {
	url := c.cfg.BaseURL + ref.Path()
	obj, err := c.doJSON(ctx, http.MethodGet, url, string(ref.Kind), nil)
	if err != nil {
		return nil, err
	}
	task := decodeTask(ref.Kind, obj)
	if task.ID == "" {
		task.ID = ref.ID
	}
	return task, nil
}

func (c *Client) createTask(ctx context.Context, kind TaskKind, endpoint string, body any) (TaskRef, error) {
	obj, err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, string(kind), body)
	if err != nil {
		return TaskRef{}, err
	}
	id, err := taskIDFromCreate(obj)
	if err != nil {
		return TaskRef{}, err
	}
	c.metrics.RecordTaskCreated(string(kind))
	c.logger.Debug("task created", zap.String("kind", string(kind)), zap.String("task_id", id))
	return TaskRef{Kind: kind, Endpoint: endpoint, ID: id}, nil
}

// =============================================================================
// Transport
// =============================================================================

func (c *Client) doJSON(ctx context.Context, method, url, label string, payload any) (map[string]any, error) {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, types.NewError(types.ErrInvalidInput, "encode request body").WithCause(err)
		}
	}

	resp, err := retry.DoWithResultTyped(c.retryer, ctx, func() (rawResponse, error) {
		return c.roundTrip(ctx, method, url, label, body)
	})
	if err != nil {
		return nil, asPipelineError(ctx, err)
	}
	return decodeObject(method, url, resp.status, resp.body)
}

// rawResponse is a 2xx reply before JSON decoding.
type rawResponse struct {
	status int
	body   []byte
}

func (c *Client) roundTrip(ctx context.Context, method, url, label string, body []byte) (rawResponse, error) {
	if err := c.wait(ctx); err != nil {
		return rawResponse{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		return rawResponse{}, types.Errorf(types.ErrInvalidInput, "build request %s %s", method, url).WithCause(err)
	}
	c.authorize(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordHTTPRequest(method, label, 0, time.Since(start))
		return rawResponse{}, transportError(ctx, method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.metrics.RecordHTTPRequest(method, label, resp.StatusCode, time.Since(start))
	c.logger.Debug("meshy request", append(contextFields(ctx),
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)...)
	if err != nil {
		return rawResponse{}, transportError(ctx, method, url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rawResponse{}, types.UpstreamError(method, url, resp.StatusCode, data)
	}
	return rawResponse{status: resp.StatusCode, body: data}, nil
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return types.NewError(types.ErrCanceled, "rate limiter wait aborted").WithCause(err)
	}
	return nil
}

// contextFields adds the run and stage carried by ctx to log entries.
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if id, ok := ctxkeys.RunID(ctx); ok {
		fields = append(fields, zap.String("run_id", id))
	}
	if stage, ok := ctxkeys.Stage(ctx); ok {
		fields = append(fields, zap.String("stage", stage))
	}
	return fields
}

// transportError classifies a failure that produced no HTTP status.
func transportError(ctx context.Context, method, url string, err error) error {
	if ctx.Err() != nil {
		return types.Errorf(types.ErrCanceled, "%s %s canceled", method, url).WithCause(ctx.Err())
	}
	return types.Errorf(types.ErrUpstream, "%s %s request failed", method, url).
		WithCause(err).
		WithRetryable(true)
}

// asPipelineError maps errors escaping the retryer onto *types.Error.
func asPipelineError(ctx context.Context, err error) error {
	var pe *types.Error
	if errors.As(err, &pe) {
		return err
	}
	if ctx.Err() != nil {
		return types.NewError(types.ErrCanceled, "operation canceled").WithCause(err)
	}
	return types.NewError(types.ErrUpstream, fmt.Sprintf("meshy request failed: %v", err))
}
