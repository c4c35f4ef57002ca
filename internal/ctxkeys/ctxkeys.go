// Package ctxkeys holds the context keys shared across meshypipe packages.
package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	runIDKey contextKey = "run_id"
	stageKey contextKey = "stage"
)

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithStage 设置当前流水线阶段
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// Stage 获取当前流水线阶段
func Stage(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(stageKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
