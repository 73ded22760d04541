package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/slrukit/pkg/cache/xslru"
	"github.com/omeyang/slrukit/pkg/config/xconf"
	"github.com/omeyang/slrukit/pkg/grammar/xscanner"
	"github.com/omeyang/slrukit/pkg/observability/xlog"
)

// usageError 表示参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// isCLIUsageError 识别 urfave/cli 产生的参数解析错误。
func isCLIUsageError(err error) bool {
	msg := err.Error()
	for _, s := range []string{
		"flag provided but not defined",
		"invalid value",
		"No help topic for",
		"Required flag",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createSimulateCommand(),
		createScanCommand(),
		createWatchCommand(),
		createValidateCommand(),
	}
}

func langFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "lang",
		Aliases: []string{"l"},
		Usage:   "语言 ID（配置文件 languages 下的键）",
	}
}

func createScanCommand() *cli.Command {
	return &cli.Command{
		Name:      "scan",
		Usage:     "用配置中的语言规则扫描文件",
		ArgsUsage: "<files...>",
		Flags: []cli.Flag{
			langFlag(),
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			lang, files, err := scanArgs(cmd)
			if err != nil {
				return err
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			p, err := newProvider(e)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			return scanFiles(ctx, cmd.Root().Writer, p, lang, files, cmd.Bool("json"))
		},
	}
}

func createWatchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "扫描文件，配置变更时重载规则并重新扫描，直到收到信号",
		ArgsUsage: "<files...>",
		Flags: []cli.Flag{
			langFlag(),
			&cli.BoolFlag{Name: "json", Usage: "以 JSON 输出"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			lang, files, err := scanArgs(cmd)
			if err != nil {
				return err
			}
			if cmd.String(flagConfig) == "" {
				return usagef("watch 需要 --config")
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			p, err := newProvider(e)
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			return watchFiles(ctx, cmd.Root().Writer, e, p, lang, files, cmd.Bool("json"))
		},
	}
}

func createValidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "校验配置文件",
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.String(flagConfig) == "" {
				return usagef("validate 需要 --config")
			}
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			s := e.settings
			fmt.Fprintf(cmd.Root().Writer, "ok: %s (capacity=%d protected_ratio=%g languages=%s)\n",
				e.cfg.Path(), s.Cache.Capacity, s.Cache.ProtectedRatio,
				strings.Join(s.Languages.Languages(), ","))
			return nil
		},
	}
}

func scanArgs(cmd *cli.Command) (string, []string, error) {
	lang := cmd.String("lang")
	if lang == "" {
		return "", nil, usagef("缺少 --lang")
	}
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return "", nil, usagef("至少需要一个文件")
	}
	return lang, files, nil
}

func newProvider(e *env) (*xscanner.Provider, error) {
	return xscanner.NewProvider(e.settings.Languages, e.settings.Cache.Capacity,
		xslru.WithProtectedRatio(e.settings.Cache.ProtectedRatio),
		xslru.WithLogger(e.logger),
	)
}

type fileTokens struct {
	File   string           `json:"file"`
	Tokens []xscanner.Token `json:"tokens"`
}

// scanFiles 依次扫描文件并输出 Token。任一文件失败时继续扫描其余文件，返回合并错误。
func scanFiles(ctx context.Context, w io.Writer, p *xscanner.Provider, lang string, files []string, asJSON bool) error {
	var errs []error
	enc := json.NewEncoder(w)
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		tokens, err := p.Tokenize(ctx, lang, string(src))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		if asJSON {
			if err := enc.Encode(fileTokens{File: file, Tokens: tokens}); err != nil {
				return err
			}
			continue
		}
		for _, tok := range tokens {
			fmt.Fprintf(w, "%s:%d\t%s\t%q\n", file, tok.Offset, tok.Kind, tok.Text)
		}
	}
	return errors.Join(errs...)
}

// watchFiles 先扫描一次，之后每次配置变更重载规则并重新扫描，直到 ctx 取消。
// 重载失败只记录日志，继续使用旧规则。
func watchFiles(ctx context.Context, w io.Writer, e *env, p *xscanner.Provider, lang string, files []string, asJSON bool) error {
	// 输出可能来自回调 goroutine，串行化写入。
	var mu sync.Mutex
	rescan := func() {
		mu.Lock()
		defer mu.Unlock()
		if err := scanFiles(ctx, w, p, lang, files, asJSON); err != nil {
			e.logger.Warn(ctx, "scan failed", xlog.Err(err))
		}
	}

	watcher, err := xconf.Watch(e.cfg, func(cfg xconf.Config, err error) {
		if err != nil {
			e.logger.Warn(ctx, "config reload failed", xlog.Err(err))
			return
		}
		s, err := decodeSettings(cfg)
		if err != nil {
			e.logger.Warn(ctx, "config invalid, keeping previous rules", xlog.Err(err))
			return
		}
		if err := p.Reload(s.Languages); err != nil {
			e.logger.Warn(ctx, "reload rules failed", xlog.Err(err))
			return
		}
		e.logger.Info(ctx, "rules reloaded", xlog.Count(int64(len(s.Languages))))
		rescan()
	})
	if err != nil {
		return err
	}

	rescan()
	watcher.StartAsync()
	<-ctx.Done()
	return watcher.Stop()
}

// setupSignalHandler 设置信号处理。
// 设计决策: 第一次信号优雅取消，第二次信号强制退出（退出码 130 = 128 + SIGINT）。
func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()

		<-sigCh
		signal.Stop(sigCh)
		os.Exit(130)
	}()
}
