package metrics

// Config 指标系统配置
//
// 典型配置（YAML）：
//
//	metrics:
//	  enabled: true
//	  service_name: "registry-agent"
//	  version: "v1.0.0"
type Config struct {
	// Enabled 为 false 时 New 返回空实现，所有操作都是空操作
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// ServiceName 作为 OpenTelemetry Resource 的 service.name
	ServiceName string `mapstructure:"service_name" yaml:"service_name" json:"service_name"`

	// Version 作为 OpenTelemetry Resource 的 service.version
	Version string `mapstructure:"version" yaml:"version" json:"version"`
}

func (c *Config) validate() {
	if c.ServiceName == "" {
		c.ServiceName = "consul-registry"
	}
}
