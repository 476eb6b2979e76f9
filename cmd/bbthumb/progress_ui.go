package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/bbthumb/internal/app/run"
	"github.com/John-Robertt/bbthumb/internal/config"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/ledger"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是一个“简洁版”的交互终端进度输出。
//
// 设计目标：
// - 所有过程信息写到 stderr（或 fallback 到 stdout），不污染 stdout 的 JSON 输出契约
// - 事件驱动：run 层只发事件，CLI 决定如何展示
// - keepalive：长时间无视频完成时也会定期输出一行，降低等待焦虑
type progressUI struct {
	w io.Writer

	mu          sync.Mutex
	startedAt   time.Time
	lastPrinted time.Time

	// last 是 run 层给出的最新进度快照；ticker 只读它，不自己计数。
	last run.Progress

	keepaliveThreshold time.Duration
	tickerInterval     time.Duration

	stopCh        chan struct{}
	tickerStarted bool
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{
		w:                  w,
		keepaliveThreshold: 6 * time.Second,
		tickerInterval:     2 * time.Second,
	}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig) {
	now := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startedAt.IsZero() {
		p.startedAt = now
	}

	mode := "dry-run"
	modeHint := " (只抓取目录与规划采样点，不下载/不写入)"
	if eff.Apply {
		mode = "apply"
		modeHint = ""
	}

	fmt.Fprintf(p.w, "[%s] bbthumb run (%s)\n", now.Format("15:04:05"), mode)
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  target: %s\n", truncate(eff.Target, 120))
	if eff.CollectionID > 0 {
		fmt.Fprintf(p.w, "  collection: %d\n", eff.CollectionID)
	}
	fmt.Fprintf(p.w, "  mode: %s%s\n", mode, modeHint)
	fmt.Fprintf(p.w, "  window: %s ~ %s\n", orDash(eff.FromText), orDash(eff.ToText))
	fmt.Fprintf(p.w, "  cookie: %s\n", onOff(strings.TrimSpace(eff.Cookie) != ""))
	fmt.Fprintf(p.w, "  max_qps: %g  concurrency: %d  max_pages: %s\n", eff.MaxQPS, eff.Concurrency, formatMaxPages(eff.MaxPages))
	fmt.Fprintf(p.w, "  format: %s  min_duration: %ds  min_bytes: %d\n", eff.ImageFormat, eff.MinDuration, eff.MinBytes)
	fmt.Fprintf(p.w, "  proxy: %s\n", formatProxy(eff.ProxyURL))
	fmt.Fprintf(p.w, "  ledger: %s\n", formatLedger(eff))

	fmt.Fprintln(p.w, "输出:")
	fmt.Fprintf(p.w, "  out: %s\n", eff.OutputDir)
	if eff.Apply {
		fmt.Fprintf(p.w, "  report: %s\n", reportPath(eff.OutputDir))
	}
	fmt.Fprintln(p.w)

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch name {
	case "target":
		if sid := intField(fields, "collection_id"); sid > 0 {
			fmt.Fprintf(p.w, "目标: mid=%d collection=%d (%s)\n", intField(fields, "creator_id"), sid, formatShortDuration(dur))
		} else {
			fmt.Fprintf(p.w, "目标: mid=%d (%s)\n", intField(fields, "creator_id"), formatShortDuration(dur))
		}
	case "page":
		fmt.Fprintf(p.w, "目录: page=%d kept=%d (%s)\n", intField(fields, "page"), intField(fields, "kept"), formatShortDuration(dur))
	case "crawl":
		videos := intField(fields, "videos")
		early := ""
		if b, _ := fields["early_exit"].(bool); b {
			early = " early_exit"
		}
		fmt.Fprintf(p.w, "抓取: videos=%d pages=%d%s (%s)\n\n", videos, intField(fields, "pages"), early, formatShortDuration(dur))
		if videos > 0 && !p.tickerStarted {
			p.startTickerLocked()
		}
	case "extract":
		p.stopTickerLocked()
		fmt.Fprintf(p.w, "\n截取: samples=%d written=%d skipped=%d failed=%d (%s)\n",
			intField(fields, "samples"), intField(fields, "written"), intField(fields, "skipped"), intField(fields, "failed"),
			formatShortDuration(dur),
		)
	default:
		// 兜底：未知阶段也不要静默（便于调试/演进）。
		fmt.Fprintf(p.w, "%s (%s)\n", name, formatShortDuration(dur))
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var written, skipped, planned int
	for _, s := range res.Samples {
		switch s.Status {
		case domain.SampleStatusWritten:
			written++
		case domain.SampleStatusSkipped:
			skipped++
		case domain.SampleStatusPlanned:
			planned++
		}
	}

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] %s FAIL %s: %s (%s)\n",
			idx, total, res.BVID, res.ErrorCode, truncate(res.ErrorMsg, 160), formatShortDuration(dur),
		)
	case domain.StatusSkipped:
		reason := res.ErrorMsg
		if reason == "" {
			reason = "已全部完成"
		}
		fmt.Fprintf(p.w, "[%d/%d] %s SKIP (%s) (%s)\n", idx, total, res.BVID, truncate(reason, 80), formatShortDuration(dur))
	default:
		if planned > 0 {
			fmt.Fprintf(p.w, "[%d/%d] %s PLAN samples=%d %s (%s)\n",
				idx, total, res.BVID, planned, truncate(res.Title, 40), formatShortDuration(dur),
			)
		} else {
			fmt.Fprintf(p.w, "[%d/%d] %s OK written=%d skipped=%d %s (%s)\n",
				idx, total, res.BVID, written, skipped, truncate(res.Title, 40), formatShortDuration(dur),
			)
		}
	}

	p.lastPrinted = time.Now()
}

func (p *progressUI) OnProgress(pr run.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = pr
}

func (p *progressUI) startTickerLocked() {
	p.stopCh = make(chan struct{})
	p.tickerStarted = true

	interval := p.tickerInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	threshold := p.keepaliveThreshold
	if threshold <= 0 {
		threshold = 6 * time.Second
	}
	stop := p.stopCh

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-t.C:
				p.mu.Lock()
				if time.Since(p.lastPrinted) > threshold {
					fmt.Fprintln(p.w, formatProgress(p.last, time.Since(p.startedAt)))
					p.lastPrinted = time.Now()
				}
				p.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

func (p *progressUI) stopTickerLocked() {
	if !p.tickerStarted {
		return
	}
	close(p.stopCh)
	p.tickerStarted = false
}

func formatProgress(pr run.Progress, elapsed time.Duration) string {
	cur := pr.Current
	if cur == "" {
		cur = "-"
	}
	return fmt.Sprintf("进度: videos=%d/%d samples=%d/%d ok=%d fail=%d skip=%d current=%s elapsed=%s",
		pr.VideosDone, pr.Videos, pr.SamplesDone, pr.Samples,
		pr.SamplesWritten, pr.SamplesFailed, pr.SamplesSkipped, cur, formatElapsed(elapsed),
	)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func formatMaxPages(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func formatLedger(eff config.EffectiveConfig) string {
	if eff.Redis != nil {
		return fmt.Sprintf("redis (%s, db=%d)", eff.Redis.Addr, eff.Redis.DB)
	}
	return "file (" + ledger.FilePath(eff.OutputDir) + ")"
}

func formatProxy(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "off"
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "on (" + truncate(raw, 120) + ")"
	}
	auth := "off"
	if u.User != nil {
		auth = "on"
	}
	return fmt.Sprintf("on (%s://%s, auth=%s)", u.Scheme, u.Host, auth)
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func formatShortDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	sec := int(d.Seconds())
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func intField(fields map[string]any, key string) int {
	if fields == nil {
		return 0
	}
	v, ok := fields[key]
	if !ok {
		return 0
	}
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	case uint:
		return int(x)
	case uint32:
		return int(x)
	case uint64:
		return int(x)
	default:
		return 0
	}
}
