package main

import (
	"context"

	"github.com/ceyewan/consul-registry/breaker"
	"github.com/ceyewan/consul-registry/clog"
	"github.com/ceyewan/consul-registry/internal/admin"
	"github.com/ceyewan/consul-registry/metrics"
	"github.com/ceyewan/consul-registry/registry"
	"github.com/ceyewan/consul-registry/schedule"
	"github.com/ceyewan/consul-registry/xerrors"
)

// AppConfig 进程配置
type AppConfig struct {
	Log      clog.Config             `mapstructure:"log"`
	Metrics  metrics.Config          `mapstructure:"metrics"`
	Registry registry.Config         `mapstructure:"registry"`
	Breaker  breaker.Config          `mapstructure:"breaker"`
	Watchdog schedule.WatchdogConfig `mapstructure:"watchdog"`
	Admin    admin.Config            `mapstructure:"admin"`

	// Register 启动时注册的端点，退出时注销
	Register []string `mapstructure:"register"`

	// Subscribe 启动时订阅的端点，变化记录到日志
	Subscribe []string `mapstructure:"subscribe"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"log.level":            "info",
		"log.format":           "json",
		"log.output":           "stdout",
		"metrics.enabled":      true,
		"metrics.service_name": "registry-agent",
		"admin.addr":           ":9090",
	}
}

// parseEndpoints 解析端点列表，任何一个无效都返回错误
func parseEndpoints(raws []string) ([]*registry.Endpoint, error) {
	eps := make([]*registry.Endpoint, 0, len(raws))
	for _, raw := range raws {
		ep, err := registry.ParseEndpoint(raw)
		if err != nil {
			return nil, xerrors.Config(err)
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// applyEndpoints 注册并订阅配置中的端点
func applyEndpoints(ctx context.Context, reg registry.Registry, cfg *AppConfig, logger clog.Logger) error {
	providers, err := parseEndpoints(cfg.Register)
	if err != nil {
		return err
	}
	queries, err := parseEndpoints(cfg.Subscribe)
	if err != nil {
		return err
	}

	for _, ep := range providers {
		if err := reg.Register(ctx, ep); err != nil {
			return err
		}
	}

	listener := registry.NewListener(func(query *registry.Endpoint, eps []*registry.Endpoint) {
		addrs := make([]string, len(eps))
		for i, ep := range eps {
			addrs[i] = ep.Address()
		}
		logger.Info("service instances",
			clog.String("interface", query.Interface()),
			clog.Strings("addresses", addrs))
	})
	for _, q := range queries {
		if err := reg.Subscribe(ctx, q, listener); err != nil {
			return err
		}
	}
	return nil
}

// unregisterAll 注销配置中的端点，失败只记录日志
func unregisterAll(ctx context.Context, reg registry.Registry, cfg *AppConfig, logger clog.Logger) {
	eps, err := parseEndpoints(cfg.Register)
	if err != nil {
		return
	}
	for _, ep := range eps {
		if err := reg.Unregister(ctx, ep); err != nil {
			logger.Warn("unregister failed", clog.String("endpoint", ep.String()), clog.Error(err))
		}
	}
}
