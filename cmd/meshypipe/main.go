// =============================================================================
// meshypipe 主入口
// =============================================================================
// 参考图 → Meshy 生成 → 轮询 → 下载 →（可选）绑骨 →（可选）逐个动作生成
//
// 使用方法:
//
//	meshypipe --image ref.png --asset-id agent1 --dry-run
//	meshypipe --image front.png --image side.png --asset-id agent1 --rig \
//	    --action Walk=123 --manifest-out out/agent1.json
//	meshypipe --version
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/meshypipe/config"
	"github.com/BaSui01/meshypipe/internal/metrics"
	"github.com/BaSui01/meshypipe/internal/telemetry"
	"github.com/BaSui01/meshypipe/meshy"
	"github.com/BaSui01/meshypipe/pipeline"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.Getenv)
	stop()
	os.Exit(code)
}

// run is the whole CLI; getenv resolves the API key variable.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs, flags := newFlagSet(stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "ERROR: unexpected arguments: %v\n", fs.Args())
		return exitUsage
	}
	if flags.version {
		printVersion(stdout)
		return exitOK
	}

	// 加载配置
	loader := config.NewLoader()
	if flags.configPath != "" {
		loader = loader.WithConfigPath(flags.configPath)
	}
	if flags.envFile != "" {
		loader = loader.WithDotEnv(flags.envFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fail(stderr, err)
	}
	flags.applyTo(cfg, fs)
	if err := cfg.Validate(); err != nil {
		return fail(stderr, err)
	}

	// 初始化日志
	logger := initLogger(cfg.Log, stderr)
	defer logger.Sync()

	plan, err := pipeline.Validate(flags.options(cfg), getenv)
	if err != nil {
		return fail(stderr, err)
	}

	if flags.dryRun {
		plan.Summary(stdout)
		return exitOK
	}

	if err := execute(ctx, cfg, plan, stdout, logger); err != nil {
		return fail(stderr, err)
	}

	fmt.Fprintln(stdout, "Meshy pipeline completed successfully.")
	fmt.Fprintln(stdout, "Note: Meshy API assets have limited retention; keep downloaded files in source control/artifact storage.")
	return exitOK
}

// execute wires telemetry, metrics and the Meshy client, then runs the plan.
func execute(ctx context.Context, cfg *config.Config, plan *pipeline.Plan, stdout io.Writer, logger *zap.Logger) error {
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	instruments, err := telemetry.NewStageInstruments()
	if err != nil {
		logger.Warn("stage instruments unavailable", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	defer func() {
		if err := collector.WriteTextfile(cfg.Metrics.TextfilePath); err != nil {
			logger.Warn("failed to write metrics", zap.Error(err))
		}
	}()

	client := meshy.NewClient(meshy.ClientConfig{
		BaseURL:           cfg.Meshy.BaseURL,
		APIKey:            plan.APIKey(),
		RequestTimeout:    cfg.HTTP.RequestTimeout,
		DownloadTimeout:   cfg.HTTP.DownloadTimeout,
		ChunkSize:         cfg.HTTP.ChunkSize,
		MaxRetries:        cfg.HTTP.MaxRetries,
		RetryInitialDelay: cfg.HTTP.RetryInitialDelay,
		RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
	}, meshy.WithMetrics(collector), meshy.WithLogger(logger))

	poller := meshy.NewPoller(cfg.Poll.Interval, cfg.Poll.Timeout, stdout,
		meshy.WithPollLogger(logger),
		meshy.WithPollMetrics(collector),
	)

	driver := pipeline.NewDriver(client, poller,
		pipeline.WithOutput(stdout),
		pipeline.WithDriverLogger(logger),
		pipeline.WithDriverMetrics(collector),
		pipeline.WithInstruments(instruments),
	)

	logger.Info("Starting meshypipe",
		zap.String("version", Version),
		zap.String("run_id", driver.RunID()),
		zap.String("base_url", cfg.Meshy.BaseURL),
	)

	_, err = driver.Run(ctx, plan)
	return err
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "ERROR: %v\n", err)
	return exitError
}

// =============================================================================
// 📋 版本
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "meshypipe %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

// initLogger builds the zap logger. The "stderr" output path is bound to the
// given writer so run stays testable.
func initLogger(cfg config.LogConfig, stderr io.Writer) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// 输出目标
	var sinks []zapcore.WriteSyncer
	var paths []string
	for _, p := range cfg.OutputPaths {
		if p == "stderr" {
			sinks = append(sinks, zapcore.Lock(zapcore.AddSync(stderr)))
			continue
		}
		paths = append(paths, p)
	}
	if len(paths) > 0 {
		ws, _, err := zap.Open(paths...)
		if err != nil {
			fmt.Fprintf(stderr, "WARN: cannot open log outputs %v: %v\n", paths, err)
		} else {
			sinks = append(sinks, ws)
		}
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(zapcore.AddSync(stderr)))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.NewAtomicLevelAt(level))
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
}
