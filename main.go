package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/any-hub/offline-hub/internal/admin"
	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/clients"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/fetch"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
)

// cliMode 表示 CLI 选择的子命令。
type cliMode string

const (
	modeServe   cliMode = "serve"
	modeInstall cliMode = "install"
	modeCheck   cliMode = "check-config"
	modeVersion cliMode = "version"
)

// cliOptions 汇总 CLI 解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath string
	mode       cliMode
}

// configEnv 可覆盖默认配置路径，优先级低于 --config。
const configEnv = "OFFLINE_HUB_CONFIG"

const shutdownTimeout = 10 * time.Second

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
	if opts.mode == "" {
		// --help 已输出用法。
		os.Exit(0)
	}
	os.Exit(run(opts))
}

// parseCLIFlags 用 cobra 解析子命令与参数，并结合环境变量计算最终的配置路径。
// 不带子命令时等同于 serve。
func parseCLIFlags(args []string) (cliOptions, error) {
	var (
		opts       cliOptions
		configFlag string
	)

	pick := func(mode cliMode) func(*cobra.Command, []string) error {
		return func(*cobra.Command, []string) error {
			opts.mode = mode
			return nil
		}
	}

	root := &cobra.Command{
		Use:           "offline-hub",
		Short:         "Offline content cache with versioned precaching",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          pick(modeServe),
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	root.AddCommand(
		&cobra.Command{Use: "serve", Short: "预缓存、激活并启动代理服务", Args: cobra.NoArgs, RunE: pick(modeServe)},
		&cobra.Command{Use: "install", Short: "执行一次预缓存与清理后退出", Args: cobra.NoArgs, RunE: pick(modeInstall)},
		&cobra.Command{Use: "check-config", Short: "仅校验配置与清单后退出", Args: cobra.NoArgs, RunE: pick(modeCheck)},
		&cobra.Command{Use: "version", Short: "显示版本信息", Args: cobra.NoArgs, RunE: pick(modeVersion)},
	)

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.mode == modeVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	m, err := manifest.Load(cfg.Content.ManifestPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载清单失败: %v\n", err)
		return 1
	}

	if opts.mode == modeCheck {
		fields := logging.BaseFields("check_config", opts.configPath)
		for k, v := range logging.GenerationFields(cfg.Content.Version, len(m.Groups)) {
			fields[k] = v
		}
		fields["resources"] = m.ResourceCount()
		fields["storage_driver"] = cfg.Global.StorageDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	rt, err := newService(cfg, m, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer rt.close()

	fields := logging.BaseFields("startup", opts.configPath)
	for k, v := range logging.GenerationFields(cfg.Content.Version, len(m.Groups)) {
		fields[k] = v
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["admin_port"] = cfg.Global.AdminPort
	fields["storage_driver"] = cfg.Global.StorageDriver
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 预缓存完成前不接受请求，激活完成后旧代际才算清理完毕。
	if err := rt.installAndActivate(ctx); err != nil {
		fmt.Fprintf(stdErr, "预缓存失败: %v\n", err)
		return 1
	}

	if opts.mode == modeInstall {
		return 0
	}

	if err := rt.serve(ctx); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有一次进程运行的全部组件，启动顺序为
// 清单 → 缓存存储 → 指标 → 客户端通道 → 生命周期 → Fiber/管理监听。
type service struct {
	cfg      *config.Config
	logger   *logrus.Logger
	store    cache.Store
	registry *prometheus.Registry
	hub      *clients.Hub
	worker   *lifecycle.Worker
}

func newService(cfg *config.Config, m *manifest.Manifest, logger *logrus.Logger) (*service, error) {
	settings, err := lifecycle.NewSettings(
		cfg.Content.Version,
		cfg.Content.Origin,
		cfg.Content.FontCache,
		cfg.Content.FontOrigins,
		cfg.Global.InstallConcurrency,
	)
	if err != nil {
		return nil, err
	}

	store, err := cache.Open(cache.Driver(cfg.Global.StorageDriver), cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collected := metrics.New(registry)

	fetcher, err := fetch.NewHTTPFetcher(server.NewUpstreamClient(cfg), settings.Origin)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := clients.NewHub(logger, collected)
	worker, err := lifecycle.New(lifecycle.Options{
		Settings: settings,
		Manifest: m,
		Store:    store,
		Fetcher:  fetcher,
		Clients:  hub,
		State:    lifecycle.NewState(),
		Logger:   logger,
		Metrics:  collected,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	hub.SetHandler(worker.OnClientMessage)

	return &service{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		hub:      hub,
		worker:   worker,
	}, nil
}

func (rt *service) installAndActivate(ctx context.Context) error {
	report, err := rt.worker.Install(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdOut, "precached %d resources (%d failed)\n", report.Stored(), report.Failed())

	activated, err := rt.worker.Activate(ctx)
	if err != nil {
		// 无法枚举旧缓存组不影响新代际提供服务。
		rt.logger.WithField("action", "activate").WithError(err).Warn("activate_incomplete")
	}
	if len(activated.Deleted) > 0 {
		fmt.Fprintf(stdOut, "reaped %d obsolete groups\n", len(activated.Deleted))
	}
	return nil
}

func (rt *service) serve(ctx context.Context) error {
	hosts, err := server.NewHostRegistry(rt.cfg)
	if err != nil {
		return fmt.Errorf("构建 Host 路由失败: %w", err)
	}

	port := rt.cfg.Global.ListenPort
	handler := proxy.NewHandler(rt.worker, rt.logger)
	app, err := server.NewApp(server.AppOptions{
		Logger:     rt.logger,
		Registry:   hosts,
		Handler:    proxy.NewForwarder(handler, rt.logger),
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterContentRoutes(app, rt.worker)

	errCh := make(chan error, 2)

	var adminSrv *http.Server
	if rt.cfg.Global.AdminEnabled() {
		adminRouter, err := admin.NewRouter(admin.Options{
			Logger:     rt.logger,
			Gatherer:   rt.registry,
			Generation: rt.worker,
			Clients:    rt.hub,
			Store:      rt.store,
		})
		if err != nil {
			return err
		}
		adminSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", rt.cfg.Global.AdminPort),
			Handler:           adminRouter,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			rt.logger.WithFields(logrus.Fields{"action": "listen", "port": rt.cfg.Global.AdminPort}).Info("管理服务启动")
			if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("admin listener: %w", err)
			}
		}()
	}

	go func() {
		rt.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		rt.logger.WithField("action", "shutdown").Info("收到退出信号")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		rt.logger.WithField("action", "shutdown").WithError(err).Warn("fiber_shutdown_failed")
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			rt.logger.WithField("action", "shutdown").WithError(err).Warn("admin_shutdown_failed")
		}
	}
	return serveErr
}

// close 关闭客户端连接，等待后台字体写入后释放存储。
func (rt *service) close() {
	rt.hub.Close()
	rt.worker.Wait()
	if err := rt.store.Close(); err != nil {
		rt.logger.WithField("action", "shutdown").WithError(err).Warn("store_close_failed")
	}
}
