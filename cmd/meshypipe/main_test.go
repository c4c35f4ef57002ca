package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/meshypipe/meshy"
	"github.com/BaSui01/meshypipe/testutil"
	"github.com/BaSui01/meshypipe/testutil/mocks"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, getenv func(string) string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	// A missing dotenv file is ignored; pointing at one keeps the test
	// independent of the working directory.
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
	code := run(testutil.TestContext(t), args, &stdout, &stderr, getenv)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

var apiKeyEnv = testutil.Env("MESHY_API_KEY", mocks.APIKey)

func TestRun_Version(t *testing.T) {
	res := runCLI(t, apiKeyEnv, "--version")
	assert.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stdout, "meshypipe dev")
	assert.Contains(t, res.stdout, "Git Commit: unknown")
}

func TestRun_Help(t *testing.T) {
	res := runCLI(t, apiKeyEnv, "--help")
	assert.Equal(t, exitOK, res.code)
	assert.Contains(t, res.stderr, "Usage:")
	assert.Contains(t, res.stderr, "-poll-interval")
}

func TestRun_FlagSyntaxError(t *testing.T) {
	res := runCLI(t, apiKeyEnv, "--poll-interval", "soon")
	assert.Equal(t, exitUsage, res.code)

	res = runCLI(t, apiKeyEnv, "stray")
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "ERROR: unexpected arguments")
}

func TestRun_DryRunMakesNoNetworkCalls(t *testing.T) {
	srv := mocks.NewMeshyServer(t)
	dir := t.TempDir()
	images := testutil.WriteImages(t, dir, 2)
	outDir := filepath.Join(dir, "glb")

	res := runCLI(t, apiKeyEnv,
		"--base-url", srv.URL(),
		"--image", images[0], "--image", images[1],
		"--asset-id", "agent1",
		"--output-dir", outDir,
		"--rig", "--action", "Walk=123",
		"--dry-run",
	)

	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, 0, srv.Calls())
	assert.Contains(t, res.stdout, "Dry run summary:\n")
	assert.Contains(t, res.stdout, "- generation_mode: multi-image-to-3d\n")
	assert.Contains(t, res.stdout, "- output_dir: "+outDir+"\n")
	assert.Contains(t, res.stdout, "- animation actions: Walk=123\n")
	assert.Contains(t, res.stdout, "- No Meshy API calls were made.\n")
	assert.NoDirExists(t, outDir)
}

func TestRun_ValidationErrors(t *testing.T) {
	dir := t.TempDir()
	image := testutil.WriteImages(t, dir, 1)[0]
	five := testutil.WriteImages(t, dir, 5)

	tests := []struct {
		name   string
		getenv func(string) string
		args   []string
		want   string
	}{
		{
			name: "missing image",
			args: []string{"--image", filepath.Join(dir, "nope.png"), "--asset-id", "a"},
			want: "ERROR: Missing image files",
		},
		{
			name: "five images",
			args: []string{"--image", five[0], "--image", five[1], "--image", five[2], "--image", five[3], "--image", five[4], "--asset-id", "a"},
			want: "ERROR: Meshy multi-image-to-3d supports at most 4 images",
		},
		{
			name: "actions without rig",
			args: []string{"--image", image, "--asset-id", "a", "--action", "Walk=1"},
			want: "ERROR: --action/--actions-json requires --rig",
		},
		{
			name:   "missing credential",
			getenv: testutil.Env(),
			args:   []string{"--image", image, "--asset-id", "a", "--dry-run"},
			want:   "ERROR: Missing API key. Set environment variable MESHY_API_KEY",
		},
		{
			name: "invalid topology",
			args: []string{"--image", image, "--asset-id", "a", "--topology", "ngon"},
			want: `invalid topology "ngon"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := tt.getenv
			if getenv == nil {
				getenv = apiKeyEnv
			}
			res := runCLI(t, getenv, append(tt.args, "--output-dir", filepath.Join(dir, "out"))...)
			assert.Equal(t, exitError, res.code)
			assert.Contains(t, res.stderr, tt.want)
		})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	srv := mocks.NewMeshyServer(t).WithRiggingStatuses("IN_PROGRESS", "SUCCEEDED")
	dir := t.TempDir()
	image := testutil.WriteImages(t, dir, 1)[0]
	outDir := filepath.Join(dir, "glb")
	manifestPath := filepath.Join(dir, "out", "agent1.json")
	metricsPath := filepath.Join(dir, "metrics", "meshypipe.prom")

	res := runCLI(t, apiKeyEnv,
		"--base-url", srv.URL(),
		"--image", image,
		"--asset-id", "agent1",
		"--output-dir", outDir,
		"--rig", "--action", "Walk=123",
		"--poll-interval", "0.01",
		"--manifest-out", manifestPath,
		"--metrics-out", metricsPath,
		"--log-level", "warn",
	)
	require.Equal(t, exitOK, res.code, res.stderr)

	assert.Contains(t, res.stdout, "[rigging] status=IN_PROGRESS progress=50\n")
	assert.Contains(t, res.stdout, "Meshy pipeline completed successfully.\n")
	for _, name := range []string{"agent1_generated.glb", "agent1_rigged.glb", "agent1_Walk.glb"} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}

	manifest := testutil.ReadJSONFile(t, manifestPath)
	assert.Equal(t, "agent1", manifest["asset_id"])
	assert.Equal(t, []any{image}, manifest["images"])
	assert.NotEmpty(t, manifest["run_id"])
	downloads := manifest["downloads"].(map[string]any)
	assert.Len(t, downloads, 3)

	prom, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "meshypipe_tasks_created_total")
}

func TestRun_UpstreamErrorExitsNonZero(t *testing.T) {
	srv := mocks.NewMeshyServer(t).
		WithFailure(http.MethodPost, meshy.EndpointImageTo3D, http.StatusInternalServerError, "upstream exploded")
	dir := t.TempDir()
	image := testutil.WriteImages(t, dir, 1)[0]

	res := runCLI(t, apiKeyEnv,
		"--base-url", srv.URL(),
		"--image", image,
		"--asset-id", "agent1",
		"--output-dir", filepath.Join(dir, "glb"),
	)
	assert.Equal(t, exitError, res.code)
	assert.Contains(t, res.stderr, "ERROR: POST "+srv.URL()+meshy.EndpointImageTo3D+" failed (500): upstream exploded")
	assert.NotContains(t, res.stdout, "completed successfully")
}

func TestRun_ConfigFileAndFlagPrecedence(t *testing.T) {
	srv := mocks.NewMeshyServer(t)
	dir := t.TempDir()
	image := testutil.WriteImages(t, dir, 1)[0]
	cfgPath := testutil.WriteFile(t, dir, "meshypipe.yaml", []byte(`
meshy:
  base_url: `+srv.URL()+`
  topology: triangle
  ai_model: meshy-4
  should_texture: false
poll:
  interval: 10ms
log:
  level: error
`))

	res := runCLI(t, apiKeyEnv,
		"--config", cfgPath,
		"--ai-model", "meshy-5",
		"--image", image,
		"--asset-id", "agent1",
		"--output-dir", filepath.Join(dir, "glb"),
	)
	require.Equal(t, exitOK, res.code, res.stderr)

	reqs := srv.Requests()
	require.NotEmpty(t, reqs)
	body := reqs[0].Body
	assert.Equal(t, "triangle", body["topology"], "from the config file")
	assert.Equal(t, "meshy-5", body["ai_model"], "explicit flags win")
	assert.Equal(t, false, body["should_texture"])
}

func TestRun_CanceledContext(t *testing.T) {
	srv := mocks.NewMeshyServer(t).WithGenerationStatuses("IN_PROGRESS")
	dir := t.TempDir()
	image := testutil.WriteImages(t, dir, 1)[0]

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{
		"--env-file", filepath.Join(dir, "none.env"),
		"--base-url", srv.URL(),
		"--image", image,
		"--asset-id", "agent1",
		"--output-dir", filepath.Join(dir, "glb"),
		"--poll-interval", "30",
	}, &stdout, &stderr, apiKeyEnv)

	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr.String(), "ERROR: generation polling canceled")
}

func TestSecondsDuration(t *testing.T) {
	var d time.Duration
	v := secondsDuration{&d}

	require.NoError(t, v.Set("10"))
	assert.Equal(t, 10*time.Second, d)
	require.NoError(t, v.Set("2.5"))
	assert.Equal(t, 2500*time.Millisecond, d)
	require.NoError(t, v.Set("1m30s"))
	assert.Equal(t, 90*time.Second, d)
	assert.Equal(t, "90", v.String())
	assert.Error(t, v.Set("soon"))
}
