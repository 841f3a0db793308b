package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Compositor CompositorConfig `mapstructure:"compositor"`
	Render     RenderConfig     `mapstructure:"render"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

type ProcessingConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueTimeout  int `mapstructure:"queue_timeout"`
}

// ClassifierConfig 涂抹分类器训练参数
type ClassifierConfig struct {
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	Hidden1      int     `mapstructure:"hidden1"`
	Hidden2      int     `mapstructure:"hidden2"`
	StallChecks  int     `mapstructure:"stall_checks"`
	MaxRestarts  int     `mapstructure:"max_restarts"`
	Threshold    float64 `mapstructure:"threshold"`
	Seed         uint64  `mapstructure:"seed"`
}

// CompositorConfig 泊松融合参数
type CompositorConfig struct {
	DilationKernel   int     `mapstructure:"dilation_kernel"`
	TrimMargin       int     `mapstructure:"trim_margin"`
	Tolerance        float64 `mapstructure:"tolerance"`
	MaxIterations    int     `mapstructure:"max_iterations"`
	ConditionLimit   float64 `mapstructure:"condition_limit"`
	ParallelChannels bool    `mapstructure:"parallel_channels"`
}

type RenderConfig struct {
	MaskColor string `mapstructure:"mask_color"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CLONEKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.log_level", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_types", []string{"image/jpeg", "image/png", "image/jpg"})

	v.SetDefault("processing.max_concurrent", 2)
	v.SetDefault("processing.queue_timeout", 30)

	v.SetDefault("classifier.epochs", 1000)
	v.SetDefault("classifier.learning_rate", 0.01)
	v.SetDefault("classifier.hidden1", 16)
	v.SetDefault("classifier.hidden2", 32)
	v.SetDefault("classifier.stall_checks", 10)
	v.SetDefault("classifier.max_restarts", 5)
	v.SetDefault("classifier.threshold", 0.6)
	v.SetDefault("classifier.seed", 0)

	v.SetDefault("compositor.dilation_kernel", 3)
	v.SetDefault("compositor.trim_margin", 3)
	v.SetDefault("compositor.tolerance", 1e-8)
	v.SetDefault("compositor.max_iterations", 0)
	v.SetDefault("compositor.condition_limit", 1e8)
	v.SetDefault("compositor.parallel_channels", true)

	v.SetDefault("render.mask_color", "#00FF00")
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg"},
		},
		Processing: ProcessingConfig{
			MaxConcurrent: 2,
			QueueTimeout:  30,
		},
		Classifier: ClassifierConfig{
			Epochs:       1000,
			LearningRate: 0.01,
			Hidden1:      16,
			Hidden2:      32,
			StallChecks:  10,
			MaxRestarts:  5,
			Threshold:    0.6,
		},
		Compositor: CompositorConfig{
			DilationKernel:   3,
			TrimMargin:       3,
			Tolerance:        1e-8,
			MaxIterations:    0,
			ConditionLimit:   1e8,
			ParallelChannels: true,
		},
		Render: RenderConfig{
			MaskColor: "#00FF00",
		},
	}
}
