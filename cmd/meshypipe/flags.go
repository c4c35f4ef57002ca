package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/meshypipe/config"
	"github.com/BaSui01/meshypipe/pipeline"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// secondsDuration accepts plain seconds ("10", "2.5") or a Go duration ("90s").
type secondsDuration struct{ d *time.Duration }

func (s secondsDuration) String() string {
	if s.d == nil {
		return ""
	}
	return strconv.FormatFloat(s.d.Seconds(), 'f', -1, 64)
}

func (s secondsDuration) Set(v string) error {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*s.d = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q (use seconds or a value like 90s)", v)
	}
	*s.d = d
	return nil
}

// cliFlags holds every command-line flag. Flags that mirror config keys only
// override the loaded config when given explicitly.
type cliFlags struct {
	images      stringList
	actions     stringList
	formats     stringList
	assetID     string
	actionsJSON string
	manifestOut string
	rig         bool
	dryRun      bool
	version     bool
	configPath  string
	envFile     string

	outputDir    string
	apiKeyEnv    string
	topology     string
	aiModel      string
	noTexture    bool
	pollInterval time.Duration
	pollTimeout  time.Duration
	heightMeters float64
	baseURL      string
	maxRetries   int
	logLevel     string
	metricsOut   string
}

func newFlagSet(stderr io.Writer) (*flag.FlagSet, *cliFlags) {
	defaults := config.DefaultConfig()
	f := &cliFlags{
		pollInterval: defaults.Poll.Interval,
		pollTimeout:  defaults.Poll.Timeout,
	}

	fs := flag.NewFlagSet("meshypipe", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Var(&f.images, "image", "Reference image path (repeatable). Use 1 image for image-to-3d, 2-4 for multi-image")
	fs.StringVar(&f.assetID, "asset-id", "", "Asset identifier prefix (example: agent1)")
	fs.StringVar(&f.outputDir, "output-dir", defaults.Meshy.OutputDir, "Output directory for downloaded GLBs")
	fs.StringVar(&f.apiKeyEnv, "api-key-env", defaults.Meshy.APIKeyEnv, "Environment variable containing the Meshy API key")
	fs.StringVar(&f.topology, "topology", defaults.Meshy.Topology, "Mesh topology for the generation task: triangle, quad")
	fs.StringVar(&f.aiModel, "ai-model", defaults.Meshy.AIModel, "Meshy generation model: meshy-5, meshy-4")
	fs.BoolVar(&f.noTexture, "no-texture", false, "Disable texture generation")
	fs.Var(secondsDuration{&f.pollInterval}, "poll-interval", "Polling interval in seconds")
	fs.Var(secondsDuration{&f.pollTimeout}, "poll-timeout", "Polling timeout in seconds")
	fs.BoolVar(&f.rig, "rig", false, "Create a rigging task after generation")
	fs.Float64Var(&f.heightMeters, "height-meters", defaults.Meshy.HeightMeters, "Height hint for the rigging task")
	fs.Var(&f.actions, "action", "Animation mapping CLIP=ACTION_ID (repeatable), requires --rig")
	fs.StringVar(&f.actionsJSON, "actions-json", "", "Optional JSON file with an object mapping clip->action_id")
	fs.StringVar(&f.manifestOut, "manifest-out", "", "Optional output JSON manifest for task IDs and downloaded files")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Validate inputs and print planned actions without calling the Meshy API")
	fs.Var(&f.formats, "format", "Extra model format to download besides glb, e.g. fbx (repeatable)")
	fs.StringVar(&f.baseURL, "base-url", defaults.Meshy.BaseURL, "Meshy API base URL")
	fs.IntVar(&f.maxRetries, "max-retries", defaults.HTTP.MaxRetries, "Retries for 429/5xx and transport errors (0 disables)")
	fs.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	fs.StringVar(&f.envFile, "env-file", "", "Dotenv file to load (default from config, .env)")
	fs.StringVar(&f.logLevel, "log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&f.metricsOut, "metrics-out", "", "Write Prometheus metrics in text format to this file when the run ends")
	fs.BoolVar(&f.version, "version", false, "Print version information and exit")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `meshypipe - generate, rig and animate GLBs from reference images with the Meshy API

Usage:
  meshypipe --image front.png [--image side.png ...] --asset-id NAME [options]

Examples:
  meshypipe --image ref.png --asset-id agent1 --dry-run
  meshypipe --image ref.png --asset-id agent1 --rig --action Walk=123 --manifest-out out/agent1.json

Options:`)
		fs.PrintDefaults()
	}

	return fs, f
}

// applyTo overlays explicitly set flags onto cfg.
func (f *cliFlags) applyTo(cfg *config.Config, fs *flag.FlagSet) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "output-dir":
			cfg.Meshy.OutputDir = f.outputDir
		case "api-key-env":
			cfg.Meshy.APIKeyEnv = f.apiKeyEnv
		case "topology":
			cfg.Meshy.Topology = f.topology
		case "ai-model":
			cfg.Meshy.AIModel = f.aiModel
		case "no-texture":
			cfg.Meshy.ShouldTexture = !f.noTexture
		case "poll-interval":
			cfg.Poll.Interval = f.pollInterval
		case "poll-timeout":
			cfg.Poll.Timeout = f.pollTimeout
		case "height-meters":
			cfg.Meshy.HeightMeters = f.heightMeters
		case "base-url":
			cfg.Meshy.BaseURL = f.baseURL
		case "max-retries":
			cfg.HTTP.MaxRetries = f.maxRetries
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "metrics-out":
			cfg.Metrics.TextfilePath = f.metricsOut
		}
	})
}

// options combines run flags with the effective config.
func (f *cliFlags) options(cfg *config.Config) *pipeline.Options {
	return &pipeline.Options{
		ImagePaths:    f.images,
		AssetID:       f.assetID,
		OutputDir:     cfg.Meshy.OutputDir,
		APIKeyEnv:     cfg.Meshy.APIKeyEnv,
		Topology:      cfg.Meshy.Topology,
		AIModel:       cfg.Meshy.AIModel,
		ShouldTexture: cfg.Meshy.ShouldTexture,
		Rig:           f.rig,
		HeightMeters:  cfg.Meshy.HeightMeters,
		Actions:       f.actions,
		ActionsFile:   f.actionsJSON,
		ManifestOut:   f.manifestOut,
		Formats:       f.formats,
	}
}
