package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/imgx"
)

const (
	// ErrCodeNotFound 表示未给出目标且 cwd 下没有配置文件。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeMissingTarget 表示未给出目标，且配置文件也缺少 target 字段。
	ErrCodeMissingTarget = "config_missing_target"
)

const (
	DefaultMaxQPS      = 4
	DefaultConcurrency = 5
	DefaultOutputDir   = "output"
	DefaultMinDuration = 10
	DefaultMinBytes    = 500
	DefaultLogLevel    = "info"

	// EnvCookie 是凭据的环境变量（优先级低于 CLI，高于配置文件）。
	EnvCookie = "BBTHUMB_COOKIE"

	dateLayout = "2006-01-02"
)

// 配置文件按顺序查找，找到第一个即停止。
var fileNames = []string{"bbthumb.json", "bbthumb.yaml", "bbthumb.yml"}

// 通过可替换的函数指针，让测试不依赖真实环境变量。
var getenv = os.Getenv

// CLIArgs 是 CLI 暴露的参数。字符串/数字的零值表示“未指定”；
// apply 需要区分 --apply=false 与未指定，所以保留 ApplySet。
type CLIArgs struct {
	Target       string
	CollectionID int64
	Cookie       string
	From         string
	To           string
	OutputDir    string
	ImageFormat  string
	MaxQPS       float64
	Concurrency  int
	MaxPages     int
	LogLevel     string

	Apply    bool
	ApplySet bool
}

// FileConfig 对应 bbthumb.json / bbthumb.yaml 的解析结构。
type FileConfig struct {
	Target       string       `json:"target" yaml:"target"`
	CollectionID int64        `json:"collection_id" yaml:"collection_id"`
	Cookie       string       `json:"cookie" yaml:"cookie"`
	From         string       `json:"from" yaml:"from"`
	To           string       `json:"to" yaml:"to"`
	MaxQPS       float64      `json:"max_qps" yaml:"max_qps"`
	Concurrency  int          `json:"concurrency" yaml:"concurrency"`
	OutputDir    string       `json:"output_dir" yaml:"output_dir"`
	ImageFormat  string       `json:"image_format" yaml:"image_format"`
	MinDuration  int          `json:"min_duration" yaml:"min_duration"`
	MinBytes     int64        `json:"min_bytes" yaml:"min_bytes"`
	MaxPages     int          `json:"max_pages" yaml:"max_pages"`
	Apply        *bool        `json:"apply" yaml:"apply"`
	LogLevel     string       `json:"log_level" yaml:"log_level"`
	Proxy        *ProxyConfig `json:"proxy" yaml:"proxy"`
	Redis        *RedisConfig `json:"redis" yaml:"redis"`
}

type ProxyConfig struct {
	URL string `json:"url" yaml:"url"`
}

// RedisConfig 配置共享 ledger；Addr 为空表示使用文件 ledger。
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// EffectiveConfig 是合并并规范化后的最终配置。构造后不再修改，按值传给各组件。
type EffectiveConfig struct {
	Target       string
	CollectionID int64
	Cookie       string

	// Window 是本地时区的闭区间：From 当天 00:00:00 到 To 当天 23:59:59；未指定的一端不限。
	Window   domain.Window
	FromText string
	ToText   string

	MaxQPS      float64
	Concurrency int
	OutputDir   string
	ImageFormat imgx.Format
	MinDuration int
	MinBytes    int64
	MaxPages    int
	Apply       bool
	LogLevel    string
	ProxyURL    string
	Redis       *RedisConfig

	// ConfigPath 是实际读取的配置文件（未读取时为空）。
	ConfigPath string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingTarget:
		return fmt.Sprintf("%s：配置文件 %q 缺少必填字段 target", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数、环境变量合并为最终配置。
//
// 发现规则：
// 1) CLI 给了 target：<cwd>/bbthumb.{json,yaml,yml} 可选
// 2) CLI 没给 target：配置文件必选，且其中必须包含 target
//
// 覆盖优先级：CLI > 环境变量（仅 cookie）> 配置文件 > 默认值。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	fc, cfgPath, exists, err := discover(cwdAbs)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	if strings.TrimSpace(cli.Target) == "" {
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: filepath.Join(cwdAbs, fileNames[0]), Err: os.ErrNotExist}
		}
		if strings.TrimSpace(fc.Target) == "" {
			return EffectiveConfig{}, &Error{Code: ErrCodeMissingTarget, Path: cfgPath}
		}
	}
	if !exists {
		cfgPath = ""
	}
	return merge(cwdAbs, cli, fc, cfgPath)
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) (EffectiveConfig, error) {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	eff := EffectiveConfig{ConfigPath: cfgPath}

	eff.Target = firstString(cli.Target, fc.Target)
	eff.CollectionID = fc.CollectionID
	if cli.CollectionID != 0 {
		eff.CollectionID = cli.CollectionID
	}
	if eff.CollectionID < 0 {
		return invalid("collection_id 不能为负数：%d", eff.CollectionID)
	}
	eff.Cookie = firstString(cli.Cookie, getenv(EnvCookie), fc.Cookie)

	// 日期窗口：本地时区，From 取当天开始，To 取当天 23:59:59。
	eff.FromText = firstString(cli.From, fc.From)
	eff.ToText = firstString(cli.To, fc.To)
	if eff.FromText != "" {
		d, err := time.ParseInLocation(dateLayout, eff.FromText, time.Local)
		if err != nil {
			return invalid("from 必须是 YYYY-MM-DD：%q", eff.FromText)
		}
		eff.Window.Start = d
	}
	if eff.ToText != "" {
		d, err := time.ParseInLocation(dateLayout, eff.ToText, time.Local)
		if err != nil {
			return invalid("to 必须是 YYYY-MM-DD：%q", eff.ToText)
		}
		eff.Window.End = time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, time.Local)
	}
	if !eff.Window.Start.IsZero() && !eff.Window.End.IsZero() && eff.Window.End.Before(eff.Window.Start) {
		return invalid("to（%s）早于 from（%s）", eff.ToText, eff.FromText)
	}

	// QPS 与并发：超出范围截断。
	eff.MaxQPS = fc.MaxQPS
	if cli.MaxQPS != 0 {
		eff.MaxQPS = cli.MaxQPS
	}
	if eff.MaxQPS == 0 {
		eff.MaxQPS = DefaultMaxQPS
	}
	eff.MaxQPS = clampF(eff.MaxQPS, 1, 20)

	eff.Concurrency = fc.Concurrency
	if cli.Concurrency != 0 {
		eff.Concurrency = cli.Concurrency
	}
	if eff.Concurrency == 0 {
		eff.Concurrency = DefaultConcurrency
	}
	eff.Concurrency = clampI(eff.Concurrency, 1, 10)

	eff.OutputDir = absCleanFrom(cwdAbs, firstString(cli.OutputDir, fc.OutputDir, DefaultOutputDir))

	f, err := imgx.ParseFormat(firstString(cli.ImageFormat, fc.ImageFormat))
	if err != nil {
		return invalid("%v", err)
	}
	eff.ImageFormat = f

	eff.MinDuration = fc.MinDuration
	if eff.MinDuration <= 0 {
		eff.MinDuration = DefaultMinDuration
	}
	eff.MinBytes = fc.MinBytes
	if eff.MinBytes <= 0 {
		eff.MinBytes = DefaultMinBytes
	}

	eff.MaxPages = fc.MaxPages
	if cli.MaxPages != 0 {
		eff.MaxPages = cli.MaxPages
	}
	if eff.MaxPages < 0 {
		return invalid("max_pages 不能为负数：%d", eff.MaxPages)
	}

	// apply：CLI > config > 默认 false
	if cli.ApplySet {
		eff.Apply = cli.Apply
	} else if fc.Apply != nil {
		eff.Apply = *fc.Apply
	}

	eff.LogLevel = strings.ToLower(firstString(cli.LogLevel, fc.LogLevel, DefaultLogLevel))
	switch eff.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log_level 只能是 debug/info/warn/error：%q", eff.LogLevel)
	}

	if fc.Proxy != nil {
		eff.ProxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if eff.ProxyURL != "" {
		u, err := url.Parse(eff.ProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("proxy.url 无效：%q", eff.ProxyURL)
		}
	}

	if fc.Redis != nil && strings.TrimSpace(fc.Redis.Addr) != "" {
		r := *fc.Redis
		r.Addr = strings.TrimSpace(r.Addr)
		if r.DB < 0 {
			return invalid("redis.db 不能为负数：%d", r.DB)
		}
		eff.Redis = &r
	}
	return eff, nil
}

// discover 依次尝试 fileNames，返回第一个存在的配置文件。
func discover(cwdAbs string) (fc FileConfig, path string, exists bool, err error) {
	for _, name := range fileNames {
		path = filepath.Join(cwdAbs, name)
		fc, exists, err = readFileConfig(path)
		if err != nil || exists {
			return fc, path, exists, err
		}
	}
	return FileConfig{}, filepath.Join(cwdAbs, fileNames[0]), false, nil
}

// readFileConfig 读取并按扩展名解析配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &fc)
	default:
		err = json.Unmarshal(b, &fc)
	}
	if err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

func firstString(vs ...string) string {
	for _, v := range vs {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
