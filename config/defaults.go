// =============================================================================
// 📦 meshypipe 默认配置
// =============================================================================
// 默认值与原命令行工具保持一致
// =============================================================================
package config

import "time"

// DefaultBaseURL is the Meshy API root.
const DefaultBaseURL = "https://api.meshy.ai"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Meshy:     DefaultMeshyConfig(),
		Poll:      DefaultPollConfig(),
		HTTP:      DefaultHTTPConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		EnvFile:   ".env",
	}
}

// DefaultMeshyConfig 返回默认 Meshy 配置
func DefaultMeshyConfig() MeshyConfig {
	return MeshyConfig{
		BaseURL:       DefaultBaseURL,
		APIKeyEnv:     "MESHY_API_KEY",
		Topology:      "quad",
		AIModel:       "meshy-5",
		ShouldTexture: true,
		HeightMeters:  1.75,
		OutputDir:     "assets/glb",
	}
}

// DefaultPollConfig 返回默认轮询配置
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval: 10 * time.Second,
		Timeout:  time.Hour,
	}
}

// DefaultHTTPConfig 返回默认 HTTP 配置
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		RequestTimeout:    120 * time.Second,
		DownloadTimeout:   300 * time.Second,
		MaxRetries:        0,
		RetryInitialDelay: time.Second,
		RequestsPerSecond: 0,
		ChunkSize:         256 * 1024,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "meshypipe",
		SampleRate:   1.0,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "meshypipe",
	}
}
