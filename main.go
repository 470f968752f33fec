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

	"github.com/any-hub/imagehub/internal/config"
	"github.com/any-hub/imagehub/internal/logging"
	"github.com/any-hub/imagehub/internal/prefetch"
	"github.com/any-hub/imagehub/internal/server"
	"github.com/any-hub/imagehub/internal/server/routes"
	"github.com/any-hub/imagehub/internal/version"
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
		fields["storage_path"] = cfg.Global.StoragePath
		fields["prefetch"] = len(cfg.Global.Prefetch)
		fields["trusted_hosts"] = cfg.Global.TrustedHosts
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	return serve(cfg, opts.configPath, logger)
}

// serve 按“注册表（宿主/缓存/下载器/管理器）→ 预取 → Fiber server”的顺序启动，
// 所有请求共享同一组缓存与下载器实例；收到 SIGINT/SIGTERM 后依次关闭。
func serve(cfg *config.Config, configPath string, logger *logrus.Logger) int {
	registry, err := server.Bootstrap(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化图片管理器失败: %v\n", err)
		return 1
	}
	defer registry.Close()
	registry.Start()

	fields := logging.BaseFields("startup", configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["conditional_requests"] = cfg.Global.ConditionalRequests
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefetcher, err := startPrefetch(ctx, cfg, registry, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "解析预取列表失败: %v\n", err)
		return 1
	}
	if prefetcher != nil {
		defer prefetcher.Stop()
	}

	if err := startHTTPServer(ctx, cfg, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("image-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+config.EnvConfigPath+" 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		configPath:  config.ResolvePath(configFlag),
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startPrefetch 在后台预热配置中的图片，列表为空时返回 nil。
func startPrefetch(ctx context.Context, cfg *config.Config, registry *server.Registry, logger *logrus.Logger) (*prefetch.Prefetcher, error) {
	resources, err := cfg.Global.PrefetchResources()
	if err != nil || len(resources) == 0 {
		return nil, err
	}
	p := prefetch.New(registry.Manager, resources, prefetch.Config{
		MaxConcurrent: cfg.Global.PrefetchConcurrency,
		Logger:        logger,
	})
	go p.Start(ctx, nil)
	return p, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *server.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, registry)

	go func() {
		<-ctx.Done()
		logger.WithField("action", "shutdown").Info("收到退出信号")
		_ = app.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
