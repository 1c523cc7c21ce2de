// internal/config/config.go
package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是所有进程共享的配置，来源优先级：环境变量 > 配置文件 > 默认值
type Config struct {
	DownloadDir      string            `mapstructure:"download_dir"`
	DataDir          string            `mapstructure:"data_dir"`
	Store            string            `mapstructure:"store"`
	MaxRunning       int               `mapstructure:"max_running"`
	ChunkSize        int               `mapstructure:"chunk_size"`
	SpeedLimit       int64             `mapstructure:"speed_limit"`
	ProgressInterval time.Duration     `mapstructure:"progress_interval"`
	ConnectTimeout   time.Duration     `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration     `mapstructure:"read_timeout"`
	Headers          map[string]string `mapstructure:"headers"`

	HTTP   HTTPConfig   `mapstructure:"http"`
	Redis  RedisConfig  `mapstructure:"redis"`
	OBS    OBSConfig    `mapstructure:"obs"`
	Stream StreamConfig `mapstructure:"stream"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type OBSConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	AK       string `mapstructure:"ak"`
	SK       string `mapstructure:"sk"`
	Bucket   string `mapstructure:"bucket"`
	// Prefix 会加在对象键前面
	Prefix string `mapstructure:"prefix"`
	// RemoveLocal 为 true 时上传成功后删除本地文件
	RemoveLocal bool `mapstructure:"remove_local"`
}

// Enabled 判断是否配置了 OBS 上传
func (c OBSConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type StreamConfig struct {
	Name  string `mapstructure:"name"`
	Group string `mapstructure:"group"`
}

// 支持的记录存储
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// legacyEnv 保留原来直接读取的环境变量名
var legacyEnv = map[string]string{
	"redis.addr":     "REDIS_ADDR",
	"redis.password": "REDIS_PASSWORD",
	"obs.endpoint":   "OBS_ENDPOINT",
	"obs.ak":         "OBS_AK",
	"obs.sk":         "OBS_SK",
	"obs.bucket":     "OBS_BUCKET",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download_dir", "downloads")
	v.SetDefault("data_dir", "data")
	v.SetDefault("store", StoreSQLite)
	v.SetDefault("max_running", 4)
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("speed_limit", 0)
	v.SetDefault("progress_interval", 500*time.Millisecond)
	v.SetDefault("connect_timeout", 15*time.Second)
	v.SetDefault("read_timeout", 60*time.Second)
	v.SetDefault("headers", map[string]string{})
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("obs.endpoint", "")
	v.SetDefault("obs.ak", "")
	v.SetDefault("obs.sk", "")
	v.SetDefault("obs.bucket", "")
	v.SetDefault("obs.prefix", "")
	v.SetDefault("stream.name", "download_tasks")
	v.SetDefault("stream.group", "fetcher_workers")
}

// Load 读取配置，path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FETCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envName := "FETCHER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", legacy, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("未知的存储类型: %q", c.Store)
	}
	if c.MaxRunning < 1 {
		return fmt.Errorf("max_running 必须大于 0，当前为 %d", c.MaxRunning)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("chunk_size 必须大于 0，当前为 %d", c.ChunkSize)
	}
	if c.SpeedLimit < 0 || c.ProgressInterval < 0 || c.ReadTimeout < 0 || c.ConnectTimeout < 0 {
		return fmt.Errorf("speed_limit 和各项超时不能为负数")
	}
	if c.DownloadDir == "" {
		return fmt.Errorf("download_dir 不能为空")
	}
	return nil
}

// HTTPHeaders 把配置的请求头转换成 http.Header
func (c *Config) HTTPHeaders() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, val := range c.Headers {
		h.Set(k, val)
	}
	return h
}
