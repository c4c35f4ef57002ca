package meshy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/BaSui01/meshypipe/types"
)

// Meshy OpenAPI endpoints, relative to the base URL.
const (
	EndpointImageTo3D      = "/openapi/v1/image-to-3d"
	EndpointMultiImageTo3D = "/openapi/v1/multi-image-to-3d"
	EndpointRigging        = "/openapi/v1/rigging"
	EndpointAnimations     = "/openapi/v1/animations"
)

// MaxImages is the upper bound accepted by multi-image-to-3d.
const MaxImages = 4

// TaskKind identifies which of the three remote task families a task belongs to.
type TaskKind string

const (
	KindGeneration TaskKind = "generation"
	KindRigging    TaskKind = "rigging"
	KindAnimation  TaskKind = "animation"
)

// Status is a normalized (trimmed, upper-case) task status.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSucceeded  Status = "SUCCEEDED"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// ParseStatus normalizes a raw status value. A missing value yields "".
func ParseStatus(v any) Status {
	if v == nil {
		return ""
	}
	return Status(strings.ToUpper(strings.TrimSpace(fmt.Sprint(v))))
}

// IsTerminal reports whether no further transitions can occur.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// TaskRef points at a created task.
type TaskRef struct {
	Kind     TaskKind `json:"kind"`
	Endpoint string   `json:"endpoint"`
	ID       string   `json:"task_id"`
}

// Path returns the status path of the task, relative to the base URL.
func (r TaskRef) Path() string {
	return r.Endpoint + "/" + url.PathEscape(r.ID)
}

// Task is one status snapshot of a remote task.
type Task struct {
	ID       string
	Kind     TaskKind
	Status   Status
	Progress string
	// Raw is the full decoded payload, kept for manifests and result lookups.
	Raw map[string]any
}

// Succeeded reports whether the task finished successfully.
func (t *Task) Succeeded() bool {
	return t != nil && t.Status == StatusSucceeded
}

// ModelURL returns model_urls[format] of a generation task, or "".
func (t *Task) ModelURL(format string) string {
	urls, _ := t.Raw["model_urls"].(map[string]any)
	s, _ := urls[format].(string)
	return s
}

// ResultURL looks key up at the top level and then inside a "result" object.
// Rigging and animation payloads have used both layouts.
func (t *Task) ResultURL(key string) string {
	if s, ok := t.Raw[key].(string); ok && s != "" {
		return s
	}
	nested, _ := t.Raw["result"].(map[string]any)
	s, _ := nested[key].(string)
	return s
}

// FailureMessage returns task_error.message when the service reported one.
func (t *Task) FailureMessage() string {
	taskErr, _ := t.Raw["task_error"].(map[string]any)
	msg, _ := taskErr["message"].(string)
	return strings.TrimSpace(msg)
}

func decodeObject(method, rawURL string, status int, data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, types.Errorf(types.ErrInvalidResponse, "%s %s returned non-JSON response (%d): %s",
			method, rawURL, status, types.Preview(data)).
			WithHTTPStatus(status).
			WithCause(err)
	}
	return obj, nil
}

func decodeTask(kind TaskKind, obj map[string]any) *Task {
	task := &Task{
		Kind:     kind,
		Status:   ParseStatus(obj["status"]),
		Progress: "-",
		Raw:      obj,
	}
	if id, ok := obj["id"]; ok && id != nil {
		task.ID = fmt.Sprint(id)
	}
	if p, ok := obj["progress"]; ok && p != nil {
		task.Progress = fmt.Sprint(p)
	}
	return task
}

// taskIDFromCreate extracts the new task ID: "result" when it is a string,
// otherwise "id".
func taskIDFromCreate(obj map[string]any) (string, error) {
	if s, ok := obj["result"].(string); ok && s != "" {
		return s, nil
	}
	if id, ok := obj["id"]; ok && id != nil {
		if s := fmt.Sprint(id); s != "" {
			return s, nil
		}
	}
	raw, _ := json.Marshal(obj)
	return "", types.Errorf(types.ErrInvalidResponse, "task response missing id/result: %s", types.Preview(raw))
}
