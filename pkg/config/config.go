package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 定义整个应用的配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Etcd      EtcdConfig      `mapstructure:"etcd"`
	DNS       DNSConfig       `mapstructure:"dns"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Client    ClientConfig    `mapstructure:"client"`
	Service   ServiceConfig   `mapstructure:"service"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 注册中心监听配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	// Driver 可选 sqlite、mysql、etcd、memory
	Driver string `mapstructure:"driver"`
	// Path sqlite数据库文件路径
	Path string `mapstructure:"path"`
	// DSN mysql连接串
	DSN string `mapstructure:"dsn"`
}

// EtcdConfig etcd配置
type EtcdConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    string        `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Prefix         string        `mapstructure:"prefix"`
}

// DNSConfig DNS服务配置
type DNSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port"`
	Domain        string `mapstructure:"domain"`
	TTL           uint32 `mapstructure:"ttl"`
}

// HeartbeatConfig 心跳过期配置，Timeout为0时不做过期处理
type HeartbeatConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// RateLimitConfig 限流配置，RPS为0时关闭
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ClientConfig 服务进程访问注册中心的配置
type ClientConfig struct {
	RegistryAddress string        `mapstructure:"registry_address"`
	RegistryPort    int           `mapstructure:"registry_port"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryCount      int           `mapstructure:"retry_count"`
}

// ServiceConfig 注册到注册中心的服务进程自身配置
type ServiceConfig struct {
	Name              string        `mapstructure:"name"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	AdvertiseAddress  string        `mapstructure:"advertise_address"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Attempts        int           `mapstructure:"attempts"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RegistryAddr 返回注册中心的 host:port
func (c ClientConfig) RegistryAddr() string {
	return fmt.Sprintf("%s:%d", c.RegistryAddress, c.RegistryPort)
}

// LoadConfig 从 .env、配置文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// .env 中的变量只补充进程环境，不覆盖已存在的变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("读取.env文件错误: %w", err)
	}

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/service-registry")
		v.SetConfigName("config")
	}
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 未指定路径且找不到配置文件时不返回错误
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 从环境变量读取配置
	v.SetEnvPrefix("SR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 注册中心默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 55555)

	// 存储默认配置
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "service_registry.db")
	v.SetDefault("storage.dsn", "")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.request_timeout", "3s")
	v.SetDefault("etcd.prefix", "/service-registry/")

	// DNS默认配置
	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 5353)
	v.SetDefault("dns.domain", "service.local")
	v.SetDefault("dns.ttl", 5)

	// 心跳默认配置
	v.SetDefault("heartbeat.timeout", "0s")
	v.SetDefault("heartbeat.sweep_interval", "30s")

	// 限流默认配置
	v.SetDefault("ratelimit.rps", 0)
	v.SetDefault("ratelimit.burst", 50)

	// 客户端默认配置
	v.SetDefault("client.registry_address", "127.0.0.1")
	v.SetDefault("client.registry_port", 55555)
	v.SetDefault("client.timeout", "3s")
	v.SetDefault("client.retry_count", 1)

	// 服务进程默认配置
	v.SetDefault("service.name", "")
	v.SetDefault("service.host", "0.0.0.0")
	v.SetDefault("service.port", 2224)
	v.SetDefault("service.advertise_address", "")
	v.SetDefault("service.heartbeat_interval", "0s")

	// 网关默认配置
	v.SetDefault("gateway.attempts", 3)
	v.SetDefault("gateway.breaker_timeout", "10s")
	v.SetDefault("gateway.breaker_failures", 5)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// bindEnvVariables 绑定沿用下来的环境变量名
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("server.host", "SR_SERVER_HOST", "SR_HOST")
	_ = v.BindEnv("server.port", "SR_SERVER_PORT", "SR_PORT")
	_ = v.BindEnv("storage.path", "SR_STORAGE_PATH", "SR_DB_NAME")
	_ = v.BindEnv("client.registry_address", "SR_CLIENT_REGISTRY_ADDRESS", "SR_ADDRESS")
	_ = v.BindEnv("client.registry_port", "SR_CLIENT_REGISTRY_PORT", "SR_PORT")
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("注册中心端口配置无效: %d", config.Server.Port)
	}

	switch config.Storage.Driver {
	case "sqlite":
		if config.Storage.Path == "" {
			return fmt.Errorf("sqlite存储路径不能为空")
		}
	case "mysql":
		if config.Storage.DSN == "" {
			return fmt.Errorf("mysql连接串不能为空")
		}
	case "etcd":
		if len(config.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd端点不能为空")
		}
	case "memory":
	default:
		return fmt.Errorf("不支持的存储驱动: %s", config.Storage.Driver)
	}

	if config.DNS.Enabled && config.DNS.Domain == "" {
		return fmt.Errorf("DNS域名后缀不能为空")
	}

	if config.Heartbeat.Timeout > 0 && config.Heartbeat.SweepInterval <= 0 {
		return fmt.Errorf("启用心跳过期时清理间隔必须大于0")
	}

	return nil
}
