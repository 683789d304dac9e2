package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/ValgulNecron/kasuki-cache/internal/cache"
	"github.com/ValgulNecron/kasuki-cache/internal/config"
	"github.com/ValgulNecron/kasuki-cache/internal/fingerprint"
	"github.com/ValgulNecron/kasuki-cache/internal/logging"
	"github.com/ValgulNecron/kasuki-cache/internal/server"
	"github.com/ValgulNecron/kasuki-cache/internal/server/routes"
	"github.com/ValgulNecron/kasuki-cache/internal/version"
	"github.com/ValgulNecron/kasuki-cache/internal/warmup"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["upstreams"] = config.UpstreamNames(cfg.Upstreams)
		fields["warmups"] = len(cfg.Warmups)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 日志 → 缓存存储 → FetcherRegistry → 预热任务 → Fiber server，
	// 所有上游共享同一个存储实例，各自使用独立命名空间。
	store, err := cache.NewStore(cache.Backend(cfg.Global.StoreBackend), cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	registry, err := server.NewFetcherRegistry(cfg, store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建上游注册表失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler, err := buildScheduler(cfg, registry, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建预热任务失败: %v\n", err)
		return 1
	}
	go scheduler.Run(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["upstreams"] = config.UpstreamNames(cfg.Upstreams)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["store_backend"] = cfg.Global.StoreBackend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("kasuki-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 KASUKI_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("KASUKI_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// buildWarmupJobs 将 [[Warmup]] 配置转换为预热任务，变量在校验阶段已确认是 JSON 对象。
func buildWarmupJobs(warmups []config.WarmupConfig) ([]warmup.Job, error) {
	jobs := make([]warmup.Job, 0, len(warmups))
	for _, w := range warmups {
		vars, err := w.DecodeVariables()
		if err != nil {
			return nil, fmt.Errorf("warmup %s %s: %w", w.Upstream, w.Operation, err)
		}
		jobs = append(jobs, warmup.Job{
			Upstream: w.Upstream,
			Request:  fingerprint.NewRequest(w.Operation, vars),
		})
	}
	return jobs, nil
}

func buildScheduler(cfg *config.Config, registry *server.FetcherRegistry, logger *logrus.Logger) (*warmup.Scheduler, error) {
	jobs, err := buildWarmupJobs(cfg.Warmups)
	if err != nil {
		return nil, err
	}
	return warmup.NewScheduler(registry, jobs, cfg.Global.WarmupInterval.DurationValue(), logger)
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.FetcherRegistry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, registry)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
