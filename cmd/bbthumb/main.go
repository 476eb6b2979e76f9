package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/John-Robertt/bbthumb/internal/app/run"
	"github.com/John-Robertt/bbthumb/internal/config"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/fsx"
	"github.com/John-Robertt/bbthumb/internal/infra/logx"
)

const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "run":
		if code := runCmd(args[1:]); code != 0 {
			os.Exit(code)
		}
	default:
		fmt.Fprintf(os.Stderr, "未知命令：%q\n\n", args[0])
		printUsage()
		os.Exit(exitUsage)
	}
}

func runCmd(args []string) int {
	for _, a := range args {
		if isHelp(a) {
			printRunUsage()
			return exitOK
		}
	}

	cli, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printRunUsage()
		return exitUsage
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return exitFailed
	}

	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		emitReport(reportForConfigError(cli, err))
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logx.New(os.Stderr, eff.LogLevel)

	progressW, interactive := pickProgressWriter()
	var obs run.Observer
	if interactive {
		obs = newProgressUI(progressW)
	}

	rr := run.ExecuteWithObserver(ctx, eff, logger, obs)

	// apply：必须写入 <output_dir>/.bbthumb/report.json；dry-run 禁止落盘。
	if eff.Apply {
		if err := writeReportFile(eff.OutputDir, rr); err != nil {
			fmt.Fprintf(os.Stderr, "写入 report.json 失败：%v\n", err)
			emitReport(rr)
			return exitFailed
		}
	}

	emitReport(rr)
	if interactive {
		emitLocations(progressW, eff)
	}
	return exitCode(rr)
}

func exitCode(rr domain.RunReport) int {
	switch {
	case rr.Cancelled:
		return exitCancelled
	case rr.CrawlErrorCode != "" || rr.Summary.Failed > 0:
		return exitFailed
	default:
		return exitOK
	}
}

// parseRunArgs 解析 run 子命令参数。支持 "--name value" 与 "--name=value" 两种写法。
func parseRunArgs(args []string) (config.CLIArgs, error) {
	var cli config.CLIArgs

	for i := 0; i < len(args); i++ {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			if cli.Target != "" {
				return config.CLIArgs{}, fmt.Errorf("重复的 target：%q 与 %q", cli.Target, a)
			}
			cli.Target = a
			continue
		}

		name, val, hasVal := strings.Cut(a, "=")
		if name == "--apply" {
			switch {
			case !hasVal, val == "true":
				cli.Apply = true
			case val == "false":
				cli.Apply = false
			default:
				return config.CLIArgs{}, fmt.Errorf("--apply 只能是 true 或 false，实际是 %q", val)
			}
			cli.ApplySet = true
			continue
		}

		if !hasVal {
			if i+1 >= len(args) {
				return config.CLIArgs{}, fmt.Errorf("%s 需要一个值", name)
			}
			i++
			val = args[i]
		}
		if strings.TrimSpace(val) == "" {
			return config.CLIArgs{}, fmt.Errorf("%s 不能为空", name)
		}

		var err error
		switch name {
		case "--collection":
			cli.CollectionID, err = strconv.ParseInt(val, 10, 64)
			if err == nil && cli.CollectionID <= 0 {
				err = errors.New("必须为正整数")
			}
		case "--cookie":
			cli.Cookie = val
		case "--from":
			cli.From = val
		case "--to":
			cli.To = val
		case "--output-dir", "-o":
			cli.OutputDir = val
		case "--format":
			cli.ImageFormat = val
		case "--max-qps":
			cli.MaxQPS, err = strconv.ParseFloat(val, 64)
		case "--concurrency":
			cli.Concurrency, err = strconv.Atoi(val)
		case "--max-pages":
			cli.MaxPages, err = strconv.Atoi(val)
		case "--log-level":
			cli.LogLevel = val
		default:
			return config.CLIArgs{}, fmt.Errorf("未知参数 %q", name)
		}
		if err != nil {
			return config.CLIArgs{}, fmt.Errorf("%s 的值 %q 不合法：%v", name, val, err)
		}
	}
	return cli, nil
}

func isHelp(s string) bool {
	return s == "-h" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprint(os.Stdout, `用法：
  bbthumb run [target] [选项]

命令：
  run    抓取 UP 主（或合集）的投稿并截取缩略图（默认 dry-run）

使用 "bbthumb run --help" 查看详细说明。
`)
}

func printRunUsage() {
	fmt.Fprint(os.Stdout, `用法：
  bbthumb run [target] [选项]

target：
  空间链接 https://space.bilibili.com/<mid>、合集链接 .../lists/<sid>、视频链接或纯数字 mid
  （未给出时读取当前目录的 bbthumb.json / bbthumb.yaml）

选项：
  --collection <sid>   只抓取该合集
  --cookie <cookie>    登录态 Cookie（也可用环境变量 BBTHUMB_COOKIE）
  --from <YYYY-MM-DD>  起始日期（含当天）
  --to <YYYY-MM-DD>    结束日期（含当天）
  -o, --output-dir     输出目录（默认 ./output）
  --format             webp|jpg|png（默认 webp）
  --max-qps            目录请求频率上限（默认 4，范围 1-20）
  --concurrency        雪碧图并发上限（默认 5，范围 1-10）
  --max-pages          最多翻页数（默认 0 不限）
  --log-level          debug|info|warn|error（默认 info）
  --apply              实际下载并写出缩略图（默认 dry-run）；支持 --apply=false 覆盖配置
  -h, --help           显示帮助
`)
}

func emitReport(rr domain.RunReport) {
	summary := func() {
		fmt.Fprintf(os.Stderr, "完成：videos=%d processed=%d skipped=%d failed=%d samples=%d written=%d\n",
			rr.Summary.Videos, rr.Summary.Processed, rr.Summary.Skipped, rr.Summary.Failed,
			rr.Summary.Samples, rr.Summary.SamplesWritten,
		)
	}

	if isTTY(os.Stdout) {
		summary()
		if rr.CrawlErrorCode != "" {
			fmt.Fprintf(os.Stderr, "抓取中止 %s: %s\n", rr.CrawlErrorCode, rr.CrawlError)
		}
		if rr.Cancelled {
			fmt.Fprintln(os.Stderr, "已取消：未处理到的视频不在报告中")
		}
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			fmt.Fprintf(os.Stderr, "%s %s: %s\n", it.BVID, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 必须且仅输出一个 RunReport JSON（日志/摘要走 stderr）。
	enc := json.NewEncoder(os.Stdout)
	_ = enc.Encode(rr)
	summary()
}

func reportForConfigError(cli config.CLIArgs, err error) domain.RunReport {
	now := time.Now().UTC()
	rr := domain.RunReport{
		RunID:          uuid.NewString(),
		From:           cli.From,
		To:             cli.To,
		OutputDir:      cli.OutputDir,
		DryRun:         !(cli.ApplySet && cli.Apply),
		CrawlErrorCode: config.Code(err),
		CrawlError:     err.Error(),
		StartedAt:      now,
		FinishedAt:     now,
	}
	rr.Finalize()
	return rr
}

func reportPath(outputDir string) string {
	return filepath.Join(outputDir, ".bbthumb", "report.json")
}

func writeReportFile(outputDir string, rr domain.RunReport) error {
	b, err := json.MarshalIndent(rr, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	return fsx.WriteFileAtomic(reportPath(outputDir), b)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	// 进度输出只在交互终端启用；默认走 stderr（不污染 stdout JSON）。
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	// 某些环境（例如仅重定向 stderr）下，stdout 仍是 TTY：退化输出到 stdout。
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}

func emitLocations(w io.Writer, eff config.EffectiveConfig) {
	if w == nil {
		return
	}
	if eff.Apply {
		fmt.Fprintf(w, "report: %s\n", reportPath(eff.OutputDir))
	}
	fmt.Fprintf(w, "out: %s\n", eff.OutputDir)
}
