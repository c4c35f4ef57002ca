package meshy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/meshypipe/internal/ctxkeys"
	"github.com/BaSui01/meshypipe/internal/metrics"
	"github.com/BaSui01/meshypipe/types"
)

type capturedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

// recordingServer answers every request with status/body and keeps what it saw.
func recordingServer(t *testing.T, status int, body string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &c.Body))
		}
		seen = append(seen, c)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate ...func(*ClientConfig)) *Client {
	t.Helper()
	cfg := ClientConfig{BaseURL: srv.URL + "/", APIKey: "secret-token", RetryInitialDelay: time.Millisecond}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewClient(cfg, WithHTTPClient(srv.Client()), WithLogger(zaptest.NewLogger(t)))
}

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, "view"+string(rune('a'+i))+".png")
		require.NoError(t, os.WriteFile(paths[i], []byte("img"), 0o644))
	}
	return paths
}

func TestGenerationEndpoint(t *testing.T) {
	ep, err := GenerationEndpoint(1)
	require.NoError(t, err)
	assert.Equal(t, EndpointImageTo3D, ep)

	for n := 2; n <= 4; n++ {
		ep, err := GenerationEndpoint(n)
		require.NoError(t, err)
		assert.Equal(t, EndpointMultiImageTo3D, ep)
	}

	for _, n := range []int{0, 5, 9} {
		_, err := GenerationEndpoint(n)
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
	}

	assert.Equal(t, "image-to-3d", GenerationMode(1))
	assert.Equal(t, "multi-image-to-3d", GenerationMode(3))
}

func TestClient_CreateGenerationTask_SingleImage(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, `{"result":"gen-1"}`)
	client := newTestClient(t, srv)

	ref, err := client.CreateGenerationTask(t.Context(), &GenerationRequest{
		ImagePaths:    writeImages(t, 1),
		Topology:      "quad",
		AIModel:       "meshy-5",
		ShouldTexture: true,
	})
	require.NoError(t, err)
	assert.Equal(t, TaskRef{Kind: KindGeneration, Endpoint: EndpointImageTo3D, ID: "gen-1"}, ref)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, EndpointImageTo3D, req.Path)
	assert.Equal(t, "Bearer secret-token", req.Auth)
	assert.True(t, strings.HasPrefix(req.Body["image_url"].(string), "data:image/png;base64,"))
	assert.NotContains(t, req.Body, "image_urls")
	assert.Equal(t, true, req.Body["should_texture"])
	assert.Equal(t, "quad", req.Body["topology"])
	assert.Equal(t, "meshy-5", req.Body["ai_model"])
}

func TestClient_CreateGenerationTask_MultiImage(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusAccepted, `{"id":"gen-2"}`)
	client := newTestClient(t, srv)

	ref, err := client.CreateGenerationTask(t.Context(), &GenerationRequest{
		ImagePaths: writeImages(t, 3),
		Topology:   "triangle",
		AIModel:    "meshy-4",
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-2", ref.ID)
	assert.Equal(t, EndpointMultiImageTo3D, ref.Endpoint)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, EndpointMultiImageTo3D, req.Path)
	assert.Len(t, req.Body["image_urls"], 3)
	assert.Equal(t, false, req.Body["should_texture"])
}

func TestClient_CreateGenerationTask_TooManyImagesMakesNoCall(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, `{"result":"x"}`)
	client := newTestClient(t, srv)

	_, err := client.CreateGenerationTask(t.Context(), &GenerationRequest{ImagePaths: writeImages(t, 5)})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
	assert.Empty(t, *seen)
}

func TestClient_CreateRiggingAndAnimationBodies(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, `{"result":"t"}`)
	client := newTestClient(t, srv)

	_, err := client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "gen-1", HeightMeters: 1.8})
	require.NoError(t, err)
	_, err = client.CreateAnimationTask(t.Context(), &AnimationRequest{RiggingTaskID: "rig-1", ActionID: "123"})
	require.NoError(t, err)
	_, err = client.CreateAnimationTask(t.Context(), &AnimationRequest{RiggingTaskID: "rig-1", ActionID: "wave_01"})
	require.NoError(t, err)

	require.Len(t, *seen, 3)
	assert.Equal(t, EndpointRigging, (*seen)[0].Path)
	assert.Equal(t, "gen-1", (*seen)[0].Body["input_task_id"])
	assert.Equal(t, 1.8, (*seen)[0].Body["height_meters"])

	assert.Equal(t, EndpointAnimations, (*seen)[1].Path)
	assert.Equal(t, "rig-1", (*seen)[1].Body["rigging_task_id"])
	assert.Equal(t, float64(123), (*seen)[1].Body["action_id"])
	assert.Equal(t, "wave_01", (*seen)[2].Body["action_id"])
}

func TestClient_HTTPErrorCarriesStatusAndPreview(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError} {
		srv, _ := recordingServer(t, status, "  quota exceeded for key  \n")
		client := newTestClient(t, srv)

		_, err := client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "g"})
		require.Error(t, err)
		assert.Equal(t, types.ErrUpstream, types.GetErrorCode(err))
		assert.Equal(t, status, types.HTTPStatusOf(err))
		msg := err.Error()
		assert.Contains(t, msg, "POST "+srv.URL+EndpointRigging)
		assert.Contains(t, msg, fmt.Sprintf("failed (%d)", status))
		assert.True(t, strings.HasSuffix(msg, ": quota exceeded for key"), msg)
	}
}

func TestClient_HTTPErrorPreviewIsTruncated(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusBadGateway, strings.Repeat("x", 2000))
	client := newTestClient(t, srv)

	_, err := client.GetTask(t.Context(), TaskRef{Kind: KindGeneration, Endpoint: EndpointImageTo3D, ID: "g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), strings.Repeat("x", types.PreviewLimit))
	assert.NotContains(t, err.Error(), strings.Repeat("x", types.PreviewLimit+1))
}

func TestClient_NonJSONResponse(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, "<html>maintenance</html>")
	client := newTestClient(t, srv)

	_, err := client.GetTask(t.Context(), TaskRef{Kind: KindRigging, Endpoint: EndpointRigging, ID: "r1"})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidResponse, types.GetErrorCode(err))
	assert.Equal(t, http.StatusOK, types.HTTPStatusOf(err))
	assert.Contains(t, err.Error(), "GET "+srv.URL+"/openapi/v1/rigging/r1 returned non-JSON response (200): <html>maintenance</html>")

	_, err = client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "gen-1", HeightMeters: 1.7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POST "+srv.URL+"/openapi/v1/rigging returned non-JSON response (200): <html>maintenance</html>")
}

func TestClient_GetTask(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusOK, `{"status":"succeeded","progress":100,"rigged_character_glb_url":"https://cdn/r.glb"}`)
	client := newTestClient(t, srv)

	task, err := client.GetTask(t.Context(), TaskRef{Kind: KindRigging, Endpoint: EndpointRigging, ID: "r1"})
	require.NoError(t, err)
	assert.Equal(t, "r1", task.ID, "the reference ID fills in a missing id field")
	assert.Equal(t, StatusSucceeded, task.Status)
	assert.Equal(t, "100", task.Progress)
	assert.Equal(t, "https://cdn/r.glb", task.ResultURL("rigged_character_glb_url"))

	require.Len(t, *seen, 1)
	assert.Equal(t, http.MethodGet, (*seen)[0].Method)
	assert.Equal(t, "Bearer secret-token", (*seen)[0].Auth)
}

func TestClient_NoRetryByDefault(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusServiceUnavailable, "down")
	client := newTestClient(t, srv)

	_, err := client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "g"})
	require.Error(t, err)
	assert.Len(t, *seen, 1)
}

func TestClient_RetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"result":"rig-9"}`)
	}))
	t.Cleanup(srv.Close)
	client := newTestClient(t, srv, func(c *ClientConfig) { c.MaxRetries = 3 })

	ref, err := client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "g"})
	require.NoError(t, err)
	assert.Equal(t, "rig-9", ref.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	srv, seen := recordingServer(t, http.StatusBadRequest, "bad image")
	client := newTestClient(t, srv, func(c *ClientConfig) { c.MaxRetries = 3 })

	_, err := client.CreateRiggingTask(t.Context(), &RiggingRequest{InputTaskID: "g"})
	require.Error(t, err)
	assert.Len(t, *seen, 1)
}

func TestClient_RecordsMetrics(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, `{"result":"anim-1"}`)
	collector := metrics.NewCollector("test", zaptest.NewLogger(t))
	client := NewClient(
		ClientConfig{BaseURL: srv.URL, APIKey: "k"},
		WithHTTPClient(srv.Client()),
		WithMetrics(collector),
	)

	_, err := client.CreateAnimationTask(t.Context(), &AnimationRequest{RiggingTaskID: "r", ActionID: "1"})
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(collector.Registry(), "test_tasks_created_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_RequestLogCarriesRunAndStage(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusOK, `{"id":"t-1","status":"PENDING"}`)
	core, logs := observer.New(zapcore.DebugLevel)
	client := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "secret-token"},
		WithHTTPClient(srv.Client()), WithLogger(zap.New(core)))

	ctx := ctxkeys.WithStage(ctxkeys.WithRunID(t.Context(), "run-42"), "POLL_GENERATE")
	_, err := client.GetTask(ctx, TaskRef{Kind: KindGeneration, Endpoint: EndpointImageTo3D, ID: "t-1"})
	require.NoError(t, err)

	entries := logs.FilterMessage("meshy request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "run-42", fields["run_id"])
	assert.Equal(t, "POLL_GENERATE", fields["stage"])
	assert.Equal(t, "meshy", fields["component"])
}
