// slructl 是 xslru 分段 LRU 缓存的命令行工具：负载模拟、词法扫描与配置校验。
//
// 用法:
//
//	slructl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config      配置文件路径（yaml/json）
//	    --log-level   日志级别 debug/info/warn/error（覆盖配置文件）
//	    --log-format  日志格式 text/json（覆盖配置文件）
//	    --log-file    日志文件路径，按大小轮转（覆盖配置文件）
//
// 命令:
//
//	simulate          对缓存施加并发负载，校验销毁语义并输出统计（JSON）
//	scan <files...>   用配置中的语言规则扫描文件
//	watch <files...>  同 scan，配置文件变更时自动重载并重新扫描，直到收到信号
//	validate          校验配置文件
//
// 退出码:
//
//	0: 成功
//	1: 执行失败（包括配置无效、销毁语义校验失败）
//	2: 参数错误
//
// 配置文件示例:
//
//	log:
//	  level: info
//	  format: json
//	cache:
//	  capacity: 64
//	  protected_ratio: 0.5
//	languages:
//	  ini:
//	    - name: comment
//	      pattern: ';[^\n]*'
//	    - name: key
//	      pattern: '[A-Za-z_]\w*'
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
)

func main() {
	os.Exit(run(os.Args))
}

// createApp 创建 CLI 应用。
func createApp() *cli.Command {
	return &cli.Command{
		Name:    "slructl",
		Usage:   "SLRU 缓存负载模拟与词法扫描工具",
		Version: fmt.Sprintf("%s (commit: %s)", Version, GitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "配置文件路径（yaml/json）",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "日志级别 debug/info/warn/error",
			},
			&cli.StringFlag{
				Name:  flagLogFormat,
				Usage: "日志格式 text/json",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "日志文件路径（按大小轮转）",
			},
		},
		Commands: createCommands(),
		// 设计决策: 禁止 urfave/cli 直接调用 os.Exit，由 run() 统一映射退出码。
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

func run(args []string) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	return exitCode(createApp().Run(ctx, args))
}

// exitCode 将命令错误映射为退出码并输出错误信息。
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var usageErr *usageError
	if errors.As(err, &usageErr) {
		fmt.Fprintf(os.Stderr, "参数错误: %v\n", usageErr)
		return 2
	}
	if isCLIUsageError(err) {
		// flag 解析器已向 stderr 输出详情
		return 2
	}
	fmt.Fprintf(os.Stderr, "错误: %v\n", err)
	return 1
}
