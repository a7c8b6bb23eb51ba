// Package config 服务的 YAML 配置：交易所凭据、轮询节奏、日志、
// 指标和告警。敏感字段可以用环境变量覆盖，配置文件里就不用放密钥。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"algo-trader-go/exchange"
	"algo-trader-go/infrastructure/logger"
)

// AppConfig 主配置。
type AppConfig struct {
	Env       string                 `yaml:"env"`
	Log       logger.Config          `yaml:"log"`
	Metrics   MetricsConfig          `yaml:"metrics"`
	Alerts    AlertConfig            `yaml:"alerts"`
	Polling   PollingConfig          `yaml:"polling"`
	Exchanges []exchange.Credentials `yaml:"exchanges"`
	Symbols   []string               `yaml:"symbols"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 空则不开指标端口
}

type AlertConfig struct {
	ThrottleSeconds int `yaml:"throttleSeconds"`
}

// PollingConfig 后台任务调度的最小/最大间隔（秒）。
type PollingConfig struct {
	MinDelaySeconds int `yaml:"minDelaySeconds"`
	MaxDelaySeconds int `yaml:"maxDelaySeconds"`
}

// Default 返回带保守默认值的配置。
func Default() AppConfig {
	return AppConfig{
		Env:     "dev",
		Log:     logger.DefaultConfig(),
		Alerts:  AlertConfig{ThrottleSeconds: 60},
		Polling: PollingConfig{MinDelaySeconds: 0, MaxDelaySeconds: 5},
	}
}

// Load 从 path 读 YAML 并做基本校验。
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

// LoadWithEnvOverrides 读配置后用环境变量覆盖凭据：
// AT_<EXCHANGE>_KEY、AT_<EXCHANGE>_SECRET、AT_<EXCHANGE>_PASSPHRASE。
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	for i := range cfg.Exchanges {
		prefix := "AT_" + envName(cfg.Exchanges[i].Exchange)
		if v := os.Getenv(prefix + "_KEY"); v != "" {
			cfg.Exchanges[i].Key = v
		}
		if v := os.Getenv(prefix + "_SECRET"); v != "" {
			cfg.Exchanges[i].Secret = v
		}
		if v := os.Getenv(prefix + "_PASSPHRASE"); v != "" {
			cfg.Exchanges[i].Passphrase = v
		}
	}
	return cfg, Validate(cfg)
}

// envName 交易所名转环境变量段：非字母数字换成下划线。
func envName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return strings.ToUpper(mapped)
}

// Validate 检查必填项。
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if len(cfg.Exchanges) == 0 {
		return errors.New("at least one exchange is required")
	}
	seen := make(map[string]bool)
	for i, c := range cfg.Exchanges {
		if c.Exchange == "" {
			return fmt.Errorf("exchanges[%d]: exchange name is required", i)
		}
		key := strings.ToLower(c.Exchange) + "|" + c.Key
		if seen[key] {
			return fmt.Errorf("exchanges[%d]: duplicate entry for %s", i, c.Exchange)
		}
		seen[key] = true
	}
	if cfg.Polling.MinDelaySeconds < 0 {
		return errors.New("polling.minDelaySeconds must be >= 0")
	}
	if cfg.Polling.MaxDelaySeconds < cfg.Polling.MinDelaySeconds {
		return errors.New("polling.maxDelaySeconds must be >= minDelaySeconds")
	}
	if cfg.Alerts.ThrottleSeconds < 0 {
		return errors.New("alerts.throttleSeconds must be >= 0")
	}
	return nil
}
