// registry-agent 注册配置中的端点、订阅配置中的服务，并通过管理接口暴露运行状态。
//
// 配置从 registry-agent.yaml 读取，可用 REGISTRY_AGENT_ 前缀的环境变量覆盖，
// 例如 REGISTRY_AGENT_REGISTRY_ADDRESS=10.0.0.1:8500,10.0.0.2:8500。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ceyewan/consul-registry/breaker"
	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/config"
	"github.com/ceyewan/consul-registry/internal/admin"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/registry"
	"github.com/ceyewan/consul-registry/schedule"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "registry-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	loader, err := config.New(&config.Config{
		Name:      "registry-agent",
		EnvPrefix: "REGISTRY_AGENT",
		Defaults:  defaultSettings(),
	})
	if err != nil {
		return err
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	var cfg AppConfig
	if err := loader.Unmarshal(&cfg); err != nil {
		return err
	}

	logger, err := clog.New(&cfg.Log, clog.WithNamespace("registry-agent"))
	if err != nil {
		return err
	}
	defer logger.Flush()
	go watchLogLevel(ctx, loader, logger)

	meter, err := metrics.New(&cfg.Metrics, metrics.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = meter.Shutdown(shutdownCtx)
	}()

	scheduler := schedule.NewManager(schedule.WithLogger(logger), schedule.WithMeter(meter))
	defer scheduler.Close()

	watchdog, err := schedule.NewClockWatchdog(scheduler, &cfg.Watchdog)
	if err != nil {
		return err
	}
	if err := watchdog.Start(); err != nil {
		return err
	}
	defer watchdog.Stop()

	brk, err := breaker.New(&cfg.Breaker, breaker.WithLogger(logger), breaker.WithMeter(meter))
	if err != nil {
		return err
	}

	reg, err := registry.New(&cfg.Registry,
		registry.WithLogger(logger),
		registry.WithMeter(meter),
		registry.WithScheduler(scheduler),
		registry.WithBreaker(brk))
	if err != nil {
		return err
	}
	defer reg.Destroy()

	if err := applyEndpoints(ctx, reg, &cfg, logger); err != nil {
		return err
	}

	srv, err := admin.New(&cfg.Admin, reg, admin.WithLogger(logger), admin.WithMeter(meter))
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	logger.Info("registry agent started",
		clog.Int("registered", len(cfg.Register)),
		clog.Int("subscribed", len(cfg.Subscribe)))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("admin server stopped", clog.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown failed", clog.Error(err))
	}
	unregisterAll(shutdownCtx, reg, &cfg, logger)
	logger.Info("registry agent stopped")
	return nil
}

// watchLogLevel 配置文件中的 log.level 变化时调整日志级别
func watchLogLevel(ctx context.Context, loader config.Loader, logger clog.Logger) {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		logger.Warn("watch log level failed", clog.Error(err))
		return
	}
	for ev := range ch {
		level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
		if err != nil {
			logger.Warn("invalid log level", clog.Any("value", ev.Value))
			continue
		}
		if err := logger.SetLevel(level); err == nil {
			logger.Info("log level changed", clog.String("level", level.String()))
		}
	}
}
