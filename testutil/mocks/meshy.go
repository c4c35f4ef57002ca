// =============================================================================
// 🧊 MeshyServer - Meshy OpenAPI 模拟服务
// =============================================================================
// 基于 httptest 的 Meshy API 模拟，支持脚本化任务状态、错误注入和调用记录
//
// 使用方法:
//
//	srv := mocks.NewMeshyServer(t).
//	    WithGenerationStatuses("PENDING", "SUCCEEDED").
//	    WithFailure(http.MethodPost, meshy.EndpointRigging, 500, "boom")
//	client := meshy.NewClient(meshy.ClientConfig{BaseURL: srv.URL(), APIKey: mocks.APIKey})
// =============================================================================
package mocks

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/BaSui01/meshypipe/meshy"
)

// APIKey is the bearer token the mock server accepts.
const APIKey = "msy-test-key"

// RecordedRequest is one request seen by the mock.
type RecordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type failure struct {
	status int
	body   string
}

// =============================================================================
// 🎯 MeshyServer 结构
// =============================================================================

// MeshyServer 是 Meshy API 的模拟实现
type MeshyServer struct {
	mu     sync.Mutex
	server *httptest.Server

	// 脚本化状态（最后一个状态会重复）
	statuses map[meshy.TaskKind][]string
	// 每个任务的查询次数
	polls map[string]int
	// 已创建任务的类型
	tasks map[string]meshy.TaskKind

	// 错误注入: "METHOD path-prefix" -> failure
	failures map[string]failure

	// 响应形态
	omitRigURL      bool
	omitAnimURL     bool
	nestedResults   bool
	useIDField      bool
	modelFormats    []string
	failureMessages map[meshy.TaskKind]string

	// 调用记录
	requests []RecordedRequest
	seq      int
}

// =============================================================================
// 🔧 构造函数和 Builder 方法
// =============================================================================

// NewMeshyServer 启动模拟服务，测试结束时自动关闭
func NewMeshyServer(t *testing.T) *MeshyServer {
	t.Helper()

	m := &MeshyServer{
		statuses: map[meshy.TaskKind][]string{
			meshy.KindGeneration: {"SUCCEEDED"},
			meshy.KindRigging:    {"SUCCEEDED"},
			meshy.KindAnimation:  {"SUCCEEDED"},
		},
		polls:           make(map[string]int),
		tasks:           make(map[string]meshy.TaskKind),
		failures:        make(map[string]failure),
		modelFormats:    []string{"glb", "fbx", "usdz"},
		failureMessages: make(map[meshy.TaskKind]string),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.server.Close)
	return m
}

// URL 返回服务根地址
func (m *MeshyServer) URL() string {
	return m.server.URL
}

// Client 返回与服务匹配的 HTTP 客户端
func (m *MeshyServer) Client() *http.Client {
	return m.server.Client()
}

// WithGenerationStatuses 设置生成任务的状态序列
func (m *MeshyServer) WithGenerationStatuses(statuses ...string) *MeshyServer {
	return m.withStatuses(meshy.KindGeneration, statuses)
}

// WithRiggingStatuses 设置绑骨任务的状态序列
func (m *MeshyServer) WithRiggingStatuses(statuses ...string) *MeshyServer {
	return m.withStatuses(meshy.KindRigging, statuses)
}

// WithAnimationStatuses 设置动画任务的状态序列
func (m *MeshyServer) WithAnimationStatuses(statuses ...string) *MeshyServer {
	return m.withStatuses(meshy.KindAnimation, statuses)
}

func (m *MeshyServer) withStatuses(kind meshy.TaskKind, statuses []string) *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[kind] = statuses
	return m
}

// WithTaskError 为失败任务附加 task_error.message
func (m *MeshyServer) WithTaskError(kind meshy.TaskKind, message string) *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failureMessages[kind] = message
	return m
}

// WithFailure 让匹配 method 与路径前缀的请求返回 status
func (m *MeshyServer) WithFailure(method, pathPrefix string, status int, body string) *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method+" "+pathPrefix] = failure{status: status, body: body}
	return m
}

// WithoutRiggedURL 绑骨成功时不返回 rigged_character_glb_url
func (m *MeshyServer) WithoutRiggedURL() *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitRigURL = true
	return m
}

// WithoutAnimationURL 动画成功时不返回 animation_glb_url
func (m *MeshyServer) WithoutAnimationURL() *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.omitAnimURL = true
	return m
}

// WithNestedResults 把绑骨/动画的下载地址放进 result 对象
func (m *MeshyServer) WithNestedResults() *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nestedResults = true
	return m
}

// WithIDField 创建接口以 {"id": ...} 而不是 {"result": ...} 返回任务 ID
func (m *MeshyServer) WithIDField() *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useIDField = true
	return m
}

// WithModelFormats 设置生成结果 model_urls 中的格式
func (m *MeshyServer) WithModelFormats(formats ...string) *MeshyServer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelFormats = formats
	return m
}

// =============================================================================
// 📊 调用记录
// =============================================================================

// Calls 返回收到的请求总数
func (m *MeshyServer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// CallsTo 返回匹配 method 与路径前缀的请求数
func (m *MeshyServer) CallsTo(method, pathPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			n++
		}
	}
	return n
}

// Requests 返回全部请求记录的副本
func (m *MeshyServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// =============================================================================
// 🌐 请求处理
// =============================================================================

var createEndpoints = map[string]meshy.TaskKind{
	meshy.EndpointImageTo3D:      meshy.KindGeneration,
	meshy.EndpointMultiImageTo3D: meshy.KindGeneration,
	meshy.EndpointRigging:        meshy.KindRigging,
	meshy.EndpointAnimations:     meshy.KindAnimation,
}

func (m *MeshyServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := RecordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
	if raw, _ := io.ReadAll(r.Body); len(raw) > 0 {
		_ = json.Unmarshal(raw, &rec.Body)
	}
	m.requests = append(m.requests, rec)

	if rec.Auth != "Bearer "+APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}
	for key, f := range m.failures {
		method, prefix, _ := strings.Cut(key, " ")
		if r.Method == method && strings.HasPrefix(r.URL.Path, prefix) {
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
	}

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/files/"):
		w.Header().Set("Content-Type", "model/gltf-binary")
		_, _ = io.WriteString(w, "asset:"+strings.TrimPrefix(r.URL.Path, "/files/"))

	case r.Method == http.MethodPost:
		kind, ok := createEndpoints[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		m.seq++
		id := fmt.Sprintf("%s-%d", kind, m.seq)
		m.tasks[id] = kind
		if m.useIDField {
			writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"result": id})

	case r.Method == http.MethodGet:
		idx := strings.LastIndex(r.URL.Path, "/")
		id := r.URL.Path[idx+1:]
		kind, ok := m.tasks[id]
		if !ok || createEndpoints[r.URL.Path[:idx]] != kind {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, m.snapshot(kind, id))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MeshyServer) snapshot(kind meshy.TaskKind, id string) map[string]any {
	script := m.statuses[kind]
	i := m.polls[id]
	if i >= len(script) {
		i = len(script) - 1
	}
	m.polls[id]++
	status := script[i]

	task := map[string]any{"id": id, "status": status}
	switch status {
	case "SUCCEEDED":
		task["progress"] = 100
	case "PENDING":
		task["progress"] = 0
	case "IN_PROGRESS":
		task["progress"] = 50
	}
	if status == "FAILED" || status == "CANCELED" {
		if msg := m.failureMessages[kind]; msg != "" {
			task["task_error"] = map[string]any{"message": msg}
		}
		return task
	}
	if status != "SUCCEEDED" {
		return task
	}

	fileURL := func(ext string) string { return fmt.Sprintf("%s/files/%s.%s", m.server.URL, id, ext) }
	results := map[string]any{}
	switch kind {
	case meshy.KindGeneration:
		urls := map[string]any{}
		for _, f := range m.modelFormats {
			urls[f] = fileURL(f)
		}
		task["model_urls"] = urls
	case meshy.KindRigging:
		if !m.omitRigURL {
			results["rigged_character_glb_url"] = fileURL("glb")
		}
	case meshy.KindAnimation:
		if !m.omitAnimURL {
			results["animation_glb_url"] = fileURL("glb")
		}
	}
	if m.nestedResults {
		task["result"] = results
	} else {
		for k, v := range results {
			task[k] = v
		}
	}
	return task
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
