package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	registry *prometheus.Registry

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 任务指标
	tasksCreated  *prometheus.CounterVec
	taskPolls     *prometheus.CounterVec
	tasksFinished *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	// 下载指标
	downloadBytes *prometheus.CounterVec
	downloads     *prometheus.CounterVec

	// 状态机指标
	stageTransitions *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，所有指标注册到私有 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of Meshy API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Meshy API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	c.tasksCreated = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Total number of remote tasks created",
		},
		[]string{"kind"},
	)

	c.taskPolls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_polls_total",
			Help:      "Total number of task status fetches",
		},
		[]string{"kind"},
	)

	c.tasksFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks that reached a terminal status or timed out",
		},
		[]string{"kind", "status"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock time from first poll to terminal status",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"kind", "status"},
	)

	c.downloadBytes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total bytes written to disk by downloads",
		},
		[]string{"kind"},
	)

	c.downloads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of downloads",
		},
		[]string{"kind", "status"},
	)

	c.stageTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_transitions_total",
			Help:      "Total number of pipeline stage transitions",
		},
		[]string{"from", "to"},
	)

	return c
}

// Registry 返回私有 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录一次 API 请求；status 为 0 表示传输层失败
func (c *Collector) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// =============================================================================
// 🧊 任务指标记录
// =============================================================================

// RecordTaskCreated 记录任务创建
func (c *Collector) RecordTaskCreated(kind string) {
	if c == nil {
		return
	}
	c.tasksCreated.WithLabelValues(kind).Inc()
}

// RecordTaskPoll 记录一次状态查询
func (c *Collector) RecordTaskPoll(kind string) {
	if c == nil {
		return
	}
	c.taskPolls.WithLabelValues(kind).Inc()
}

// RecordTaskFinished 记录任务结束（终态或 TIMEOUT）
func (c *Collector) RecordTaskFinished(kind, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(kind, status).Inc()
	c.taskDuration.WithLabelValues(kind, status).Observe(duration.Seconds())
}

// RecordDownload 记录下载结果
func (c *Collector) RecordDownload(kind string, bytes int64, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.downloads.WithLabelValues(kind, status).Inc()
	if bytes > 0 {
		c.downloadBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordStageTransition 记录状态机迁移
func (c *Collector) RecordStageTransition(from, to string) {
	if c == nil {
		return
	}
	c.stageTransitions.WithLabelValues(from, to).Inc()
}

// =============================================================================
// 💾 导出
// =============================================================================

// WriteTextfile 以 Prometheus 文本格式写出全部指标（原子替换）
func (c *Collector) WriteTextfile(path string) error {
	if c == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "error"
	}
}
