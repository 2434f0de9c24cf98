package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`
	Feed    FeedConfig    `yaml:"feed"`
	Storage StorageConfig `yaml:"storage"`
	Engine  EngineConfig  `yaml:"engine"`
	Confirm ConfirmConfig `yaml:"confirm"`
	Sim     SimConfig     `yaml:"sim"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Alert   AlertConfig   `yaml:"alert"`
}

// FeedConfig 数据通道订阅参数。
type FeedConfig struct {
	Transport      string   `yaml:"transport"` // ws | kafka
	Address        string   `yaml:"address"`   // ws URL 或逗号分隔的 broker 列表
	Topics         []string `yaml:"topics"`
	Symbols        []string `yaml:"symbols"` // 为空表示订阅全部品种
	QueueSize      int      `yaml:"queueSize"`
	KafkaTopic     string   `yaml:"kafkaTopic"`
	KafkaGroupID   string   `yaml:"kafkaGroupId"`
	PongWaitMs     int      `yaml:"pongWaitMs"`
	DialTimeoutMs  int      `yaml:"dialTimeoutMs"`
	ReconnectMinMs int      `yaml:"reconnectMinMs"`
	ReconnectMaxMs int      `yaml:"reconnectMaxMs"`
}

type StorageConfig struct {
	Driver         string `yaml:"driver"` // redis | mongo
	RedisAddr      string `yaml:"redisAddr"`
	RedisPassword  string `yaml:"redisPassword"`
	RedisDB        int    `yaml:"redisDb"`
	MongoURL       string `yaml:"mongoUrl"`
	MongoDatabase  string `yaml:"mongoDatabase"`
	TickNamespace  string `yaml:"tickNamespace"`
	BarNamespace   string `yaml:"barNamespace"`
	StreamMaxLen   int64  `yaml:"streamMaxLen"`
	MaxRetries     int    `yaml:"maxRetries"`
	RetryBackoffMs int    `yaml:"retryBackoffMs"`
	DialTimeoutMs  int    `yaml:"dialTimeoutMs"`
}

// EngineConfig 消费循环参数。pip 相关项、迟到窗口和 dropDuplicates 支持热更新。
type EngineConfig struct {
	TickIntervalMs    int                `yaml:"tickIntervalMs"`
	IdleWaitMs        int                `yaml:"idleWaitMs"`
	StatsIntervalMs   int                `yaml:"statsIntervalMs"`
	ShutdownTimeoutMs int                `yaml:"shutdownTimeoutMs"`
	LateWindowMinutes int                `yaml:"lateWindowMinutes"`
	FlushGraceMs      int                `yaml:"flushGraceMs"`
	MaxClockSkewSec   int                `yaml:"maxClockSkewSec"` // 消息时间允许领先本机时钟的秒数
	SymbolCapacity    int                `yaml:"symbolCapacity"`
	LargeGapPips      float64            `yaml:"largeGapPips"`
	PipOverrides      map[string]float64 `yaml:"pipOverrides"`
	DropDuplicates    bool               `yaml:"dropDuplicates"`
	LossAlertMin      int64              `yaml:"lossAlertMin"`
}

type ConfirmConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// SimConfig 压测发布端参数。
type SimConfig struct {
	Listen        string             `yaml:"listen"` // ws 发布端监听地址（/ticks、/confirm）
	Rate          float64            `yaml:"rate"`
	DurationSec   int                `yaml:"durationSec"` // 0 表示直到中断
	Symbols       []string           `yaml:"symbols"`
	BasePrices    map[string]float64 `yaml:"basePrices"`
	LargeMoveProb float64            `yaml:"largeMoveProb"`
	EmitBars      bool               `yaml:"emitBars"`
	QueueSize     int                `yaml:"queueSize"`
}

type LogConfig struct {
	Level      string   `yaml:"level"`
	Format     string   `yaml:"format"` // json | console
	Outputs    []string `yaml:"outputs"`
	OutputFile string   `yaml:"outputFile"`
	ErrorFile  string   `yaml:"errorFile"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"` // 为空表示不启动
}

type AlertConfig struct {
	ThrottleSec int      `yaml:"throttleSec"`
	Channels    []string `yaml:"channels"` // log、console
}

// Default 返回带默认值的配置，YAML 中缺失的字段保持默认。
func Default() AppConfig {
	return AppConfig{
		Env: "dev",
		Feed: FeedConfig{
			Transport:      "ws",
			Address:        "ws://127.0.0.1:5556/ticks",
			Topics:         []string{"TICK", "BAR"},
			QueueSize:      100000,
			KafkaTopic:     "ticks",
			KafkaGroupID:   "tick-gap",
			PongWaitMs:     60000,
			DialTimeoutMs:  5000,
			ReconnectMinMs: 100,
			ReconnectMaxMs: 10000,
		},
		Storage: StorageConfig{
			Driver:         "redis",
			RedisAddr:      "127.0.0.1:6379",
			MongoDatabase:  "tickgap",
			TickNamespace:  "tick_gaps",
			BarNamespace:   "bar_gaps",
			StreamMaxLen:   100000,
			MaxRetries:     3,
			RetryBackoffMs: 50,
			DialTimeoutMs:  5000,
		},
		Engine: EngineConfig{
			TickIntervalMs:    250,
			IdleWaitMs:        5,
			StatsIntervalMs:   10000,
			ShutdownTimeoutMs: 10000,
			LateWindowMinutes: 1,
			FlushGraceMs:      1000,
			MaxClockSkewSec:   300,
			SymbolCapacity:    256,
			LargeGapPips:      1,
			LossAlertMin:      10,
		},
		Confirm: ConfirmConfig{
			Enabled:   false,
			Address:   "ws://127.0.0.1:5556/confirm",
			TimeoutMs: 500,
		},
		Sim: SimConfig{
			Listen:        ":5556",
			Rate:          1000,
			Symbols:       []string{"EURUSD", "GBPUSD", "USDJPY"},
			LargeMoveProb: 0.05,
			QueueSize:     10000,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"stdout"},
		},
		Metrics: MetricsConfig{Listen: ":9101"},
		Alert:   AlertConfig{ThrottleSec: 60, Channels: []string{"log"}},
	}
}

// Load reads YAML config from path over Default() and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
// envFiles 默认为 .env，文件不存在时忽略；已存在的环境变量优先。
func LoadWithEnvOverrides(path string, envFiles ...string) (AppConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return AppConfig{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("TG_FEED_ADDRESS"); v != "" {
		cfg.Feed.Address = v
	}
	if v := os.Getenv("TG_FEED_SYMBOLS"); v != "" {
		cfg.Feed.Symbols = splitList(v)
	}
	if v := os.Getenv("TG_REDIS_ADDR"); v != "" {
		cfg.Storage.RedisAddr = v
	}
	if v := os.Getenv("TG_REDIS_PASSWORD"); v != "" {
		cfg.Storage.RedisPassword = v
	}
	if v := os.Getenv("TG_MONGO_URL"); v != "" {
		cfg.Storage.MongoURL = v
	}
	if v := os.Getenv("TG_CONFIRM_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.New("TG_CONFIRM_ENABLED must be a boolean")
		}
		cfg.Confirm.Enabled = b
	}
	return nil
}

// splitList 解析逗号分隔列表，去掉空项。
func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Brokers Kafka broker 列表。
func (f FeedConfig) Brokers() []string { return splitList(f.Address) }
