package registry

import (
	"os"
	"strings"
	"time"

	"github.com/ceyewan/consul-registry/consul"
	"github.com/ceyewan/consul-registry/xerrors"
)

// AddressEnv 未配置地址时读取的环境变量
const AddressEnv = "REGISTRY_ADDRESS"

// DefaultGroup 默认根分组
const DefaultGroup = "dubbo"

// Config Registry 组件配置
type Config struct {
	// Address Agent 地址，逗号分隔的 host[:port] 列表，为空时读取 REGISTRY_ADDRESS
	Address string `json:"address" yaml:"address" mapstructure:"address"`

	// Group 根分组，参与服务名的计算，默认 "dubbo"
	Group string `json:"group" yaml:"group" mapstructure:"group"`

	// Datacenter 查询时使用的数据中心，为空表示 Agent 所在的数据中心
	Datacenter string `json:"datacenter" yaml:"datacenter" mapstructure:"datacenter"`

	// RetryPeriod 重试任务周期，默认 30s
	RetryPeriod time.Duration `json:"retry_period" yaml:"retry_period" mapstructure:"retry_period"`

	// CheckPeriod 订阅检查任务周期，默认 30s
	CheckPeriod time.Duration `json:"check_period" yaml:"check_period" mapstructure:"check_period"`

	// TTLPeriod TTL 心跳任务周期，默认 10s，需小于 Client.TTL
	TTLPeriod time.Duration `json:"ttl_period" yaml:"ttl_period" mapstructure:"ttl_period"`

	// Client Agent 客户端配置
	Client consul.ClientConfig `json:"client" yaml:"client" mapstructure:"client"`

	// EnableCache 是否缓存 Lookup 结果，默认关闭
	EnableCache bool `json:"enable_cache" yaml:"enable_cache" mapstructure:"enable_cache"`

	// CacheExpiration 缓存过期时间，默认 10s
	CacheExpiration time.Duration `json:"cache_expiration" yaml:"cache_expiration" mapstructure:"cache_expiration"`
}

// validate 填充默认值并解析地址
func (c *Config) validate() ([]consul.AgentAddress, error) {
	if c.Address == "" {
		c.Address = os.Getenv(AddressEnv)
	}
	if strings.TrimSpace(c.Address) == "" {
		return nil, xerrors.Config(ErrNoRegistryAddress)
	}
	seeds, err := consul.ParseAddresses(c.Address)
	if err != nil {
		return nil, xerrors.Config(xerrors.Wrapf(err, "parse registry address %q", c.Address))
	}

	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = 30 * time.Second
	}
	if c.CheckPeriod <= 0 {
		c.CheckPeriod = 30 * time.Second
	}
	if c.TTLPeriod <= 0 {
		c.TTLPeriod = 10 * time.Second
	}
	if c.CacheExpiration <= 0 {
		c.CacheExpiration = 10 * time.Second
	}
	return seeds, nil
}
