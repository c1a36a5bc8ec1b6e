package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/imghub/internal/cache"
	"github.com/any-hub/imghub/internal/conditional"
	"github.com/any-hub/imghub/internal/config"
	"github.com/any-hub/imghub/internal/imaging"
	"github.com/any-hub/imghub/internal/logging"
	"github.com/any-hub/imghub/internal/proxy"
	"github.com/any-hub/imghub/internal/server"
	"github.com/any-hub/imghub/internal/server/routes"
	"github.com/any-hub/imghub/internal/upstream"
	"github.com/any-hub/imghub/internal/version"
)

// shutdownTimeout 限制优雅退出时等待在途请求的时长。
const shutdownTimeout = 10 * time.Second

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
		fields["listen_port"] = cfg.Global.ListenPort
		fields["cache_enabled"] = cfg.Cache.Enabled
		fields["cache_dir"] = cfg.Cache.Dir
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 磁盘缓存 → 处理链 → Fiber server”顺序，
	// 所有请求共享同一个缓存实例与上游 client。
	var store cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.NewStore(cache.Options{
			Dir:           cfg.Cache.Dir,
			MaxBytes:      cfg.Cache.MaxBytes,
			MaxAge:        cfg.Cache.MaxAge.DurationValue(),
			SweepInterval: cfg.Cache.EvictionInterval.DurationValue(),
			Logger:        logger,
		})
		if err != nil {
			fmt.Fprintf(stdErr, "初始化缓存目录失败: %v\n", err)
			return 1
		}
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Store: store,
		Fetcher: upstream.NewFetcher(
			server.NewUpstreamClient(cfg.Upstream),
			upstream.WithMaxBytes(cfg.Upstream.MaxSourceBytes),
			upstream.WithUserAgent(version.UserAgent()),
		),
		Codec:        imaging.NewCodec(),
		Builder:      conditional.NewBuilder(cfg.Cache.CacheControlMaxAge.DurationValue()),
		Logger:       logger,
		MaxDimension: cfg.Global.MaxDimension,
	})
	if err != nil {
		closeStore(store, logger)
		fmt.Fprintf(stdErr, "构建请求处理器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_enabled"] = cfg.Cache.Enabled
	fields["cache_dir"] = cfg.Cache.Dir
	fields["max_dimension"] = cfg.Global.MaxDimension
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = startHTTPServer(ctx, cfg, proxy.NewForwarder(handler, logger), handler, logger)
	closeStore(store, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
// 路径为空时由 config.Load 决定是否读取默认文件。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("imghub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 IMGHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("IMGHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startHTTPServer 启动监听，直到 ctx 取消后优雅关闭。
func startHTTPServer(
	ctx context.Context,
	cfg *config.Config,
	handler server.ImageHandler,
	stats routes.StatsSource,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    handler,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatsRoutes(app, stats)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.WithField("action", "shutdown").Info("Fiber 服务停止")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}

func closeStore(store cache.Store, logger *logrus.Logger) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).WithField("action", "shutdown").Warn("cache_close_failed")
	}
}
