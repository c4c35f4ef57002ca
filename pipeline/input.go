package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BaSui01/meshypipe/meshy"
	"github.com/BaSui01/meshypipe/types"
)

// Options is the raw run request as collected from flags and config.
type Options struct {
	ImagePaths    []string
	AssetID       string
	OutputDir     string
	APIKeyEnv     string
	Topology      string
	AIModel       string
	ShouldTexture bool
	Rig           bool
	HeightMeters  float64
	// Actions holds repeated "Clip=ActionId" entries.
	Actions     []string
	ActionsFile string
	ManifestOut string
	// Formats lists extra model_urls keys to download besides glb.
	Formats []string
}

// Plan is a validated run. Paths are absolute.
type Plan struct {
	Images        []string
	AssetID       string
	OutputDir     string
	Endpoint      string
	Mode          string
	Topology      string
	AIModel       string
	ShouldTexture bool
	Rig           bool
	HeightMeters  float64
	Actions       *ActionMap
	ManifestOut   string
	Formats       []string

	apiKey string
}

// APIKey returns the bearer token resolved during validation.
func (p *Plan) APIKey() string { return p.apiKey }

var formatPattern = regexp.MustCompile(`^[a-z0-9]+$`)

// Validate checks opts without touching the network or creating directories.
// getenv resolves the credential variable.
func Validate(opts *Options, getenv func(string) string) (*Plan, error) {
	if len(opts.ImagePaths) == 0 {
		return nil, types.NewError(types.ErrInvalidInput, "at least one --image is required")
	}

	images := make([]string, 0, len(opts.ImagePaths))
	var missing []string
	for _, p := range opts.ImagePaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidInput, "resolve image path %s", p).WithCause(err)
		}
		if info, err := os.Stat(abs); err != nil || info.IsDir() {
			missing = append(missing, abs)
			continue
		}
		images = append(images, abs)
	}
	if len(missing) > 0 {
		return nil, types.Errorf(types.ErrInvalidInput, "Missing image files: [%s]", strings.Join(missing, ", "))
	}
	endpoint, err := meshy.GenerationEndpoint(len(images))
	if err != nil {
		return nil, err
	}

	assetID := strings.TrimSpace(opts.AssetID)
	if assetID == "" {
		return nil, types.NewError(types.ErrInvalidInput, "--asset-id is required")
	}
	if strings.ContainsAny(assetID, `/\`) {
		return nil, types.Errorf(types.ErrInvalidInput, "--asset-id %q must not contain path separators", assetID)
	}

	outputDir, err := filepath.Abs(opts.OutputDir)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidInput, "resolve output directory %s", opts.OutputDir).WithCause(err)
	}

	actions, err := ParseActions(opts.Actions)
	if err != nil {
		return nil, err
	}
	if opts.ActionsFile != "" {
		path, err := filepath.Abs(opts.ActionsFile)
		if err != nil {
			return nil, types.Errorf(types.ErrInvalidInput, "resolve actions file %s", opts.ActionsFile).WithCause(err)
		}
		fromFile, err := LoadActionsFile(path)
		if err != nil {
			return nil, err
		}
		actions.Merge(fromFile)
	}
	if actions.Len() > 0 && !opts.Rig {
		return nil, types.NewError(types.ErrInvalidInput, "--action/--actions-json requires --rig")
	}
	if err := checkClipFileNames(actions); err != nil {
		return nil, err
	}

	formats, err := normalizeFormats(opts.Formats)
	if err != nil {
		return nil, err
	}

	var manifestOut string
	if opts.ManifestOut != "" {
		if manifestOut, err = filepath.Abs(opts.ManifestOut); err != nil {
			return nil, types.Errorf(types.ErrInvalidInput, "resolve manifest path %s", opts.ManifestOut).WithCause(err)
		}
	}

	apiKey := strings.TrimSpace(getenv(opts.APIKeyEnv))
	if apiKey == "" {
		return nil, types.Errorf(types.ErrMissingCredential,
			"Missing API key. Set environment variable %s with your Meshy bearer token.", opts.APIKeyEnv)
	}

	return &Plan{
		Images:        images,
		AssetID:       assetID,
		OutputDir:     outputDir,
		Endpoint:      endpoint,
		Mode:          meshy.GenerationMode(len(images)),
		Topology:      opts.Topology,
		AIModel:       opts.AIModel,
		ShouldTexture: opts.ShouldTexture,
		Rig:           opts.Rig,
		HeightMeters:  opts.HeightMeters,
		Actions:       actions,
		ManifestOut:   manifestOut,
		Formats:       formats,
		apiKey:        apiKey,
	}, nil
}

// normalizeFormats lower-cases, de-duplicates and drops glb, which is always
// downloaded.
// checkClipFileNames rejects clips whose animation files would share a name.
func checkClipFileNames(actions *ActionMap) error {
	seen := make(map[string]string, actions.Len())
	for _, clip := range actions.Clips() {
		safe := SafeClipName(clip)
		if prev, ok := seen[safe]; ok {
			return types.Errorf(types.ErrInvalidInput,
				"animation clips %q and %q both map to file name suffix %q", prev, clip, safe)
		}
		seen[safe] = clip
	}
	return nil
}

func normalizeFormats(in []string) ([]string, error) {
	seen := map[string]bool{"glb": true}
	var out []string
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if !formatPattern.MatchString(f) {
			return nil, types.Errorf(types.ErrInvalidInput, "invalid --format %q", f)
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// Summary prints the dry-run report.
func (p *Plan) Summary(w io.Writer) {
	fmt.Fprintln(w, "Dry run summary:")
	fmt.Fprintf(w, "- images: [%s]\n", strings.Join(p.Images, ", "))
	fmt.Fprintf(w, "- asset_id: %s\n", p.AssetID)
	fmt.Fprintf(w, "- output_dir: %s\n", p.OutputDir)
	fmt.Fprintf(w, "- generation_mode: %s\n", p.Mode)
	fmt.Fprintf(w, "- rigging: %t\n", p.Rig)
	if len(p.Formats) > 0 {
		fmt.Fprintf(w, "- extra formats: %s\n", strings.Join(p.Formats, ", "))
	}
	fmt.Fprintf(w, "- animation actions: %s\n", p.Actions.String())
	fmt.Fprintln(w, "- No Meshy API calls were made.")
}
