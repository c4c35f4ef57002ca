package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/BaSui01/meshypipe/types"
)

// ActionMap associates clip names with Meshy action IDs. Keys are unique and
// iterate in insertion order; overwriting a key keeps its original position.
type ActionMap struct {
	clips  []string
	values map[string]string
}

// NewActionMap creates an empty mapping.
func NewActionMap() *ActionMap {
	return &ActionMap{values: make(map[string]string)}
}

// ParseAction splits "Clip=ActionId" on the first '='. Both sides are trimmed
// and must be non-empty.
func ParseAction(s string) (clip, actionID string, err error) {
	clip, actionID, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", types.Errorf(types.ErrInvalidInput, "action mapping %q must be in ClipName=ActionId format", s)
	}
	clip = strings.TrimSpace(clip)
	actionID = strings.TrimSpace(actionID)
	if clip == "" || actionID == "" {
		return "", "", types.Errorf(types.ErrInvalidInput, "invalid action mapping %q; both clip and action ID are required", s)
	}
	return clip, actionID, nil
}

// Set adds or overwrites one mapping.
func (m *ActionMap) Set(clip, actionID string) {
	if _, ok := m.values[clip]; !ok {
		m.clips = append(m.clips, clip)
	}
	m.values[clip] = actionID
}

// Merge copies other into m; entries of other win.
func (m *ActionMap) Merge(other *ActionMap) {
	if other == nil {
		return
	}
	for _, clip := range other.clips {
		m.Set(clip, other.values[clip])
	}
}

// Get returns the action ID of clip.
func (m *ActionMap) Get(clip string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.values[clip]
	return v, ok
}

// Len returns the number of clips.
func (m *ActionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.clips)
}

// Clips returns the clip names in iteration order.
func (m *ActionMap) Clips() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.clips...)
}

// String renders the mapping as "Walk=123, Run=456", or "(none)".
func (m *ActionMap) String() string {
	if m.Len() == 0 {
		return "(none)"
	}
	parts := make([]string, 0, len(m.clips))
	for _, clip := range m.clips {
		parts = append(parts, clip+"="+m.values[clip])
	}
	return strings.Join(parts, ", ")
}

// ParseActions builds a mapping from repeated "Clip=ActionId" flags.
func ParseActions(specs []string) (*ActionMap, error) {
	m := NewActionMap()
	for _, s := range specs {
		clip, id, err := ParseAction(s)
		if err != nil {
			return nil, err
		}
		m.Set(clip, id)
	}
	return m, nil
}

// LoadActionsFile reads a JSON object of clip -> action ID. Key order is
// preserved. String, number and boolean values are accepted and stringified.
func LoadActionsFile(path string) (*ActionMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.Errorf(types.ErrIO, "read actions file %s", path).WithCause(err)
	}
	m, err := decodeActions(data)
	if err != nil {
		return nil, types.Errorf(types.ErrInvalidInput, "--actions-json %s must be a JSON object clip->action_id", path).WithCause(err)
	}
	return m, nil
}

func decodeActions(data []byte) (*ActionMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errors.New("top-level value is not an object")
	}

	m := NewActionMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		clip := keyTok.(string)

		var raw any
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		var id string
		switch v := raw.(type) {
		case string:
			id = strings.TrimSpace(v)
		case json.Number:
			id = v.String()
		case bool:
			id = strconv.FormatBool(v)
		default:
			return nil, fmt.Errorf("clip %q: action ID must be a string or number", clip)
		}
		if strings.TrimSpace(clip) == "" || id == "" {
			return nil, fmt.Errorf("clip %q: both clip and action ID are required", clip)
		}
		m.Set(clip, id)
	}

	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after the JSON object")
	}
	return m, nil
}
