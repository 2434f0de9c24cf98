package config

import "fmt"

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

func invalidf(format string, args ...interface{}) error {
	return ErrInvalid(fmt.Sprintf(format, args...))
}

// Validate ensures required fields are present; returns the first violation.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if err := validateFeed(cfg.Feed); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if err := validateEngine(cfg.Engine); err != nil {
		return err
	}
	if cfg.Confirm.Enabled && cfg.Confirm.Address == "" {
		return ErrInvalid("confirm.address is required when confirm is enabled")
	}
	if cfg.Confirm.TimeoutMs <= 0 {
		return ErrInvalid("confirm.timeoutMs must be > 0")
	}
	if cfg.Sim.Rate <= 0 {
		return ErrInvalid("sim.rate must be > 0")
	}
	if cfg.Sim.LargeMoveProb < 0 || cfg.Sim.LargeMoveProb > 1 {
		return ErrInvalid("sim.largeMoveProb must be within [0,1]")
	}
	if cfg.Sim.DurationSec < 0 {
		return ErrInvalid("sim.durationSec must be >= 0")
	}
	for sym, p := range cfg.Sim.BasePrices {
		if p <= 0 {
			return invalidf("sim.basePrices.%s must be > 0", sym)
		}
	}
	if cfg.Alert.ThrottleSec < 0 {
		return ErrInvalid("alert.throttleSec must be >= 0")
	}
	for _, ch := range cfg.Alert.Channels {
		switch ch {
		case "log", "console":
		default:
			return invalidf("alert.channels: unknown channel %q", ch)
		}
	}
	return nil
}

func validateFeed(f FeedConfig) error {
	switch f.Transport {
	case "ws", "kafka":
	default:
		return invalidf("feed.transport must be ws or kafka, got %q", f.Transport)
	}
	if f.Address == "" {
		return ErrInvalid("feed.address is required")
	}
	if f.Transport == "kafka" && f.KafkaTopic == "" {
		return ErrInvalid("feed.kafkaTopic is required for kafka transport")
	}
	if len(f.Topics) == 0 {
		return ErrInvalid("feed.topics must not be empty")
	}
	if f.QueueSize <= 0 {
		return ErrInvalid("feed.queueSize must be > 0")
	}
	if f.DialTimeoutMs < 0 || f.PongWaitMs < 0 {
		return ErrInvalid("feed timeouts must be >= 0")
	}
	if f.ReconnectMinMs <= 0 || f.ReconnectMaxMs < f.ReconnectMinMs {
		return ErrInvalid("feed.reconnectMinMs must be > 0 and <= reconnectMaxMs")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case "", "redis":
		if s.RedisAddr == "" {
			return ErrInvalid("storage.redisAddr is required for redis driver")
		}
	case "mongo":
		if s.MongoURL == "" {
			return ErrInvalid("storage.mongoUrl is required for mongo driver")
		}
	default:
		return invalidf("storage.driver must be redis or mongo, got %q", s.Driver)
	}
	if s.TickNamespace == "" || s.BarNamespace == "" {
		return ErrInvalid("storage.tickNamespace/barNamespace is required")
	}
	if s.TickNamespace == s.BarNamespace {
		return ErrInvalid("storage.tickNamespace and barNamespace must differ")
	}
	if s.MaxRetries < 1 {
		return ErrInvalid("storage.maxRetries must be >= 1")
	}
	if s.RetryBackoffMs < 0 || s.StreamMaxLen < 0 {
		return ErrInvalid("storage.retryBackoffMs/streamMaxLen must be >= 0")
	}
	return nil
}

func validateEngine(e EngineConfig) error {
	if e.TickIntervalMs <= 0 {
		return ErrInvalid("engine.tickIntervalMs must be > 0")
	}
	if e.IdleWaitMs <= 0 {
		return ErrInvalid("engine.idleWaitMs must be > 0")
	}
	if e.LateWindowMinutes < 0 {
		return ErrInvalid("engine.lateWindowMinutes must be >= 0")
	}
	if e.MaxClockSkewSec <= 0 {
		return ErrInvalid("engine.maxClockSkewSec must be > 0")
	}
	if e.FlushGraceMs < 0 {
		return ErrInvalid("engine.flushGraceMs must be >= 0")
	}
	if e.SymbolCapacity <= 0 {
		return ErrInvalid("engine.symbolCapacity must be > 0")
	}
	if e.LargeGapPips <= 0 {
		return ErrInvalid("engine.largeGapPips must be > 0")
	}
	for sym, pip := range e.PipOverrides {
		if pip <= 0 {
			return invalidf("engine.pipOverrides.%s must be > 0", sym)
		}
	}
	if e.LossAlertMin < 0 {
		return ErrInvalid("engine.lossAlertMin must be >= 0")
	}
	return nil
}
