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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/iconcache/internal/config"
	"github.com/any-hub/iconcache/internal/feed"
	"github.com/any-hub/iconcache/internal/fetch"
	"github.com/any-hub/iconcache/internal/iconcache"
	"github.com/any-hub/iconcache/internal/item"
	"github.com/any-hub/iconcache/internal/logging"
	"github.com/any-hub/iconcache/internal/metrics"
	"github.com/any-hub/iconcache/internal/server"
	"github.com/any-hub/iconcache/internal/server/routes"
	"github.com/any-hub/iconcache/internal/version"
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
		fields["feeds"] = config.FeedNames(cfg.Feeds)
		fields["support_directory"] = cfg.Global.SupportDirectory
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts.configPath, logger); err != nil {
		fmt.Fprintf(stdErr, "服务运行失败: %v\n", err)
		return 1
	}
	return 0
}

// serve 按“配置 → 数据库 → 图标协调器 → 目录恢复 → 订阅同步 → Fiber server”顺序启动，
// ctx 取消后依次关闭 HTTP、worker 与数据库。
func serve(ctx context.Context, cfg *config.Config, configPath string, logger *logrus.Logger) error {
	store, err := item.Open(cfg.Global.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	client := fetch.NewClient(cfg)
	coord, err := iconcache.NewCoordinator(iconcache.Options{
		Config:    cfg,
		Fetcher:   client,
		Workers:   cfg.Global.Workers,
		IdleDelay: cfg.Global.IdleDelay.DurationValue(),
		Logger:    logger,
		Metrics:   metrics.NewRefresh(registry),
	})
	if err != nil {
		return fmt.Errorf("初始化图标缓存失败: %w", err)
	}
	defer func() {
		if err := coord.Stop(); err != nil {
			logger.WithError(err).Warn("icon workers stop failed")
		}
	}()

	catalog := item.NewCatalog(store, coord, logger)
	restored, err := catalog.Load(ctx)
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}

	syncer := feed.NewSyncer(client, catalog, logger)
	go syncer.Run(ctx, cfg.Feeds, cfg.Global.FeedRefreshInterval.DurationValue())

	fields := logging.BaseFields("startup", configPath)
	fields["feeds"] = len(cfg.Feeds)
	fields["items"] = restored
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_dir"] = coord.Dir().Root()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	return startHTTPServer(ctx, cfg, catalog, coord, registry, logger)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("iconcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ICON_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ICON_CACHE_CONFIG")
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

func startHTTPServer(ctx context.Context, cfg *config.Config, catalog *item.Catalog, coord *iconcache.Coordinator, registry *prometheus.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Catalog:     catalog,
		Coordinator: coord,
		ListenPort:  port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, coord, catalog, registry)

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

	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
