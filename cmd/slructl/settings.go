package main

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/slrukit/pkg/cache/xslru"
	"github.com/omeyang/slrukit/pkg/config/xconf"
	"github.com/omeyang/slrukit/pkg/grammar/xscanner"
	"github.com/omeyang/slrukit/pkg/observability/xlog"
)

const (
	flagConfig    = "config"
	flagLogLevel  = "log-level"
	flagLogFormat = "log-format"
	flagLogFile   = "log-file"

	defaultCacheCapacity = 64
)

// settings 是配置文件的完整结构。
type settings struct {
	Log       logSettings       `koanf:"log"`
	Cache     cacheSettings     `koanf:"cache"`
	Languages xscanner.Registry `koanf:"languages"`
}

type logSettings struct {
	Level    string              `koanf:"level"`
	Format   string              `koanf:"format"`
	File     string              `koanf:"file"`
	Rotation xlog.RotationConfig `koanf:"rotation"`
}

type cacheSettings struct {
	Capacity       int     `koanf:"capacity"`
	ProtectedRatio float64 `koanf:"protected_ratio"`
}

func defaultSettings() settings {
	return settings{
		Log: logSettings{Level: "info", Format: "text"},
		Cache: cacheSettings{
			Capacity:       defaultCacheCapacity,
			ProtectedRatio: xslru.DefaultProtectedRatio,
		},
	}
}

// decodeSettings 在默认值之上解码配置并校验。
func decodeSettings(cfg xconf.Config) (settings, error) {
	s := defaultSettings()
	if cfg != nil {
		if err := cfg.Unmarshal("", &s); err != nil {
			return s, err
		}
	}
	return s, s.validate()
}

// validate 返回全部校验错误的合并结果。
func (s settings) validate() error {
	var errs []error
	if _, err := xlog.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(s.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: %w: %q", xlog.ErrUnknownFormat, s.Log.Format))
	}
	if s.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity: %w", xslru.ErrInvalidCapacity))
	}
	if r := s.Cache.ProtectedRatio; math.IsNaN(r) || r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("cache.protected_ratio: %w", xslru.ErrInvalidProtectedRatio))
	}
	if err := s.Languages.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("languages: %w", err))
	}
	return errors.Join(errs...)
}

// env 是一次命令执行的运行环境。
type env struct {
	cfg      xconf.Config // 未指定 --config 时为 nil
	settings settings
	logger   xlog.LoggerWithLevel
	cleanup  func() error
}

func (e *env) close() {
	if e.cleanup != nil {
		_ = e.cleanup()
	}
}

// setup 加载配置并按"命令行 > 配置文件 > 默认值"构建日志。
func setup(cmd *cli.Command) (*env, error) {
	var cfg xconf.Config
	if path := cmd.String(flagConfig); path != "" {
		c, err := xconf.New(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	s, err := decodeSettings(cfg)
	if err != nil {
		return nil, err
	}

	logCfg := s.Log
	if cmd.IsSet(flagLogLevel) {
		logCfg.Level = cmd.String(flagLogLevel)
	}
	if cmd.IsSet(flagLogFormat) {
		logCfg.Format = cmd.String(flagLogFormat)
	}
	if cmd.IsSet(flagLogFile) {
		logCfg.File = cmd.String(flagLogFile)
	}

	logger, cleanup, err := xlog.New().
		SetOutput(cmd.Root().ErrWriter).
		SetLevelString(logCfg.Level).
		SetFormat(logCfg.Format).
		SetRotation(logCfg.File, logCfg.Rotation).
		Build()
	if err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return &env{cfg: cfg, settings: s, logger: logger, cleanup: cleanup}, nil
}
