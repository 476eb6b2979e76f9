package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"

	"github.com/John-Robertt/bbthumb/internal/bili"
	"github.com/John-Robertt/bbthumb/internal/config"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/index"
	"github.com/John-Robertt/bbthumb/internal/infra/fsx"
	"github.com/John-Robertt/bbthumb/internal/infra/httpx"
	"github.com/John-Robertt/bbthumb/internal/infra/imgx"
	"github.com/John-Robertt/bbthumb/internal/infra/ledger"
	"github.com/John-Robertt/bbthumb/internal/infra/logx"
	"github.com/John-Robertt/bbthumb/internal/infra/retry"
	"github.com/John-Robertt/bbthumb/internal/infra/throttle"
	"github.com/John-Robertt/bbthumb/internal/locate"
	"github.com/John-Robertt/bbthumb/internal/sample"
	"github.com/John-Robertt/bbthumb/internal/thumb"
)

// Env 是一次运行用到的外部资源。NewEnv 按配置构造；测试可以直接填字段
// （例如指向 httptest 的 API、零翻页等待、零退避）。
type Env struct {
	API    *bili.Client
	Ledger ledger.Ledger
	Logger log.Logger

	PageDelay time.Duration
	Catalog   retry.Policy
	Thumbnail retry.Policy

	// Now 为测试注入时钟；nil 时使用 time.Now。
	Now func() time.Time
}

// NewEnv 构造共享 HTTP client、平台客户端与 ledger。dry-run 下 ledger 只读。
func NewEnv(ctx context.Context, eff config.EffectiveConfig, logger log.Logger) (Env, error) {
	hc := httpx.NewClient(httpx.Options{
		Cookie:   eff.Cookie,
		ProxyURL: eff.ProxyURL,
	})
	lg, err := openLedger(ctx, eff)
	if err != nil {
		return Env{}, err
	}
	return Env{
		API:       bili.New(hc),
		Ledger:    lg,
		Logger:    logger,
		PageDelay: index.DefaultPageDelay,
		Catalog:   retry.Catalog,
		Thumbnail: retry.Thumbnail,
	}, nil
}

func openLedger(ctx context.Context, eff config.EffectiveConfig) (ledger.Ledger, error) {
	readOnly := !eff.Apply
	if eff.Redis != nil && strings.TrimSpace(eff.Redis.Addr) != "" {
		r, err := ledger.OpenRedis(ctx, ledger.RedisOptions{
			Addr:     eff.Redis.Addr,
			Password: eff.Redis.Password,
			DB:       eff.Redis.DB,
		}, eff.OutputDir, readOnly)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	f, err := ledger.OpenFile(ledger.FilePath(eff.OutputDir), readOnly)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Execute 执行一次完整流程：解析目标 -> 抓取目录 -> 采样 -> 截取。
func Execute(ctx context.Context, eff config.EffectiveConfig, logger log.Logger) domain.RunReport {
	return ExecuteWithObserver(ctx, eff, logger, nil)
}

// ExecuteWithObserver 与 Execute 相同，但会把进度事件发给 obs（obs 可为 nil）。
func ExecuteWithObserver(ctx context.Context, eff config.EffectiveConfig, logger log.Logger, obs Observer) domain.RunReport {
	if obs == nil {
		obs = nopObserver{}
	}
	startedAt := time.Now()
	obs.OnStart(eff)

	env, err := NewEnv(ctx, eff, logger)
	if err != nil {
		rr := newReport(eff, startedAt)
		rr.CrawlErrorCode = domain.ErrCodeIOFailed
		rr.CrawlError = "打开 ledger 失败：" + err.Error()
		rr.FinishedAt = time.Now()
		rr.Finalize()
		return rr
	}
	defer func() { _ = env.Ledger.Close() }()

	return execute(ctx, eff, env, obs, startedAt)
}

// ExecuteEnv 使用调用方提供的 Env 执行；env.Ledger 由调用方负责关闭。
func ExecuteEnv(ctx context.Context, eff config.EffectiveConfig, env Env, obs Observer) domain.RunReport {
	if obs == nil {
		obs = nopObserver{}
	}
	startedAt := time.Now()
	if env.Now != nil {
		startedAt = env.Now()
	}
	obs.OnStart(eff)
	return execute(ctx, eff, env, obs, startedAt)
}

func newReport(eff config.EffectiveConfig, startedAt time.Time) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		From:      eff.FromText,
		To:        eff.ToText,
		OutputDir: eff.OutputDir,
		DryRun:    !eff.Apply,
		StartedAt: startedAt,
	}
}

func execute(ctx context.Context, eff config.EffectiveConfig, env Env, obs Observer, startedAt time.Time) domain.RunReport {
	now := env.Now
	if now == nil {
		now = time.Now
	}
	lh := log.NewHelper(logx.OrNop(env.Logger))
	if env.Ledger == nil {
		env.Ledger = nopLedger{}
	}

	rr := newReport(eff, startedAt)
	finish := func() domain.RunReport {
		rr.FinishedAt = now()
		rr.Finalize()
		return rr
	}

	// 1) 目标
	t0 := time.Now()
	target, err := resolveTarget(ctx, eff, env.API)
	if err != nil {
		if ctx.Err() != nil {
			rr.Cancelled = true
			return finish()
		}
		rr.CrawlErrorCode = ErrorCode(err)
		rr.CrawlError = err.Error()
		lh.Errorw("msg", "目标解析失败", "target", eff.Target, "err", err)
		return finish()
	}
	rr.CreatorID = strconv.FormatInt(target.CreatorID, 10)
	if target.CollectionID > 0 {
		rr.CollectionID = strconv.FormatInt(target.CollectionID, 10)
	}
	obs.OnPhaseDone("target", map[string]any{
		"creator_id":    target.CreatorID,
		"collection_id": target.CollectionID,
	}, time.Since(t0))

	// 2) 目录抓取
	ix := index.New(env.API, throttle.New(eff.MaxQPS), env.Logger)
	ix.PageDelay = env.PageDelay
	ix.Catalog = env.Catalog
	ix.Thumbnail = env.Thumbnail
	ix.Now = env.Now

	crawlStart := time.Now()
	opt := index.Options{
		Window:   eff.Window,
		MaxPages: eff.MaxPages,
		OnPage: func(page, kept int) {
			obs.OnPhaseDone("page", map[string]any{"page": page, "kept": kept}, time.Since(crawlStart))
		},
	}
	var res index.Result
	if target.CollectionID > 0 {
		res, err = ix.CrawlCollection(ctx, target.CreatorID, target.CollectionID, opt)
	} else {
		res, err = ix.Crawl(ctx, target.CreatorID, opt)
	}
	if err != nil {
		if ctx.Err() != nil || ErrorCode(err) == domain.ErrCodeCancelled {
			rr.Cancelled = true
		} else {
			// 页级失败只终止抓取；已拿到的视频照常处理。
			rr.CrawlErrorCode = ErrorCode(err)
			rr.CrawlError = err.Error()
			lh.Errorw("msg", "目录抓取中止", "mid", target.CreatorID, "videos", len(res.Videos), "err", err)
		}
	}
	obs.OnPhaseDone("crawl", map[string]any{
		"videos":     len(res.Videos),
		"pages":      res.Pages,
		"early_exit": res.EarlyExit,
	}, time.Since(crawlStart))
	if rr.Cancelled {
		return finish()
	}

	// 3) 采样 + 截取
	p := &processor{
		eff:    eff,
		ex:     thumb.New(ix, env.API, thumb.Options{Format: eff.ImageFormat, MinBytes: eff.MinBytes, Concurrency: eff.Concurrency, Retry: env.Thumbnail}, env.Logger),
		ledger: env.Ledger,
		log:    lh,
		obs:    obs,
		now:    now,
		start:  time.Now(),
	}
	p.prog.Videos = len(res.Videos)

	rr.Items = make([]domain.ItemResult, 0, len(res.Videos))
	for i, v := range res.Videos {
		if ctx.Err() != nil {
			rr.Cancelled = true
			break
		}
		itemStart := time.Now()
		item, cancelled := p.video(ctx, v)
		rr.Items = append(rr.Items, item)
		p.prog.VideosDone++
		obs.OnItemDone(i+1, len(res.Videos), item, time.Since(itemStart))
		if cancelled {
			rr.Cancelled = true
			break
		}
	}
	obs.OnPhaseDone("extract", map[string]any{
		"videos":  p.prog.VideosDone,
		"samples": p.prog.SamplesDone,
		"written": p.prog.SamplesWritten,
		"skipped": p.prog.SamplesSkipped,
		"failed":  p.prog.SamplesFailed,
	}, time.Since(p.start))

	return finish()
}

func resolveTarget(ctx context.Context, eff config.EffectiveConfig, api *bili.Client) (locate.Target, error) {
	t, err := locate.Parse(eff.Target)
	if err != nil {
		return locate.Target{}, err
	}
	if eff.CollectionID > 0 {
		t.CollectionID = eff.CollectionID
	}
	sid := t.CollectionID
	t, err = locate.ResolveOwner(ctx, t, api)
	if err != nil {
		return locate.Target{}, err
	}
	t.CollectionID = sid
	return t, nil
}

type processor struct {
	eff    config.EffectiveConfig
	ex     *thumb.Extractor
	ledger ledger.Ledger
	log    *log.Helper
	obs    Observer
	now    func() time.Time
	start  time.Time
	prog   Progress
}

// video 处理一个视频的全部采样点。第二个返回值表示处理途中被取消。
func (p *processor) video(ctx context.Context, v domain.VideoRecord) (domain.ItemResult, bool) {
	d := sample.ParseDuration(v.DurationText)
	item := domain.ItemResult{
		BVID:        v.BVID,
		Title:       v.Title,
		PublishedAt: v.CreatedAt.Local().Format(time.RFC3339),
		Duration:    v.DurationText,
		DurationSec: d,
		Samples:     []domain.SampleResult{},
	}

	points := sample.Points(d, p.eff.MinDuration)
	if len(points) == 0 {
		item.Status = domain.StatusSkipped
		item.ErrorMsg = fmt.Sprintf("时长 %q 不足 %d 秒，不采样", v.DurationText, minDuration(p.eff.MinDuration))
		return item, false
	}
	p.prog.Samples += len(points)

	cancelled := false
	for i, at := range points {
		sr := p.sample(ctx, v, i+1, at)
		item.Samples = append(item.Samples, sr)

		p.prog.SamplesDone++
		switch sr.Status {
		case domain.SampleStatusWritten:
			p.prog.SamplesWritten++
		case domain.SampleStatusSkipped:
			p.prog.SamplesSkipped++
		case domain.SampleStatusFailed:
			p.prog.SamplesFailed++
		}
		p.prog.Current = v.BVID
		p.prog.Elapsed = time.Since(p.start)
		p.obs.OnProgress(p.prog)

		// 取消后的下一个采样点会被记为 cancelled，然后停止。
		if sr.ErrorCode == domain.ErrCodeCancelled {
			cancelled = true
			break
		}
	}

	if p.eff.Apply {
		if err := p.ledger.Flush(context.WithoutCancel(ctx)); err != nil {
			p.log.Warnw("msg", "ledger 落盘失败", "bvid", v.BVID, "err", err)
		}
	}

	summarize(&item)
	return item, cancelled
}

func (p *processor) sample(ctx context.Context, v domain.VideoRecord, ordinal int, at float64) domain.SampleResult {
	name := OutputName(v, ordinal, p.eff.ImageFormat)
	path := filepath.Join(p.eff.OutputDir, name)
	sr := domain.SampleResult{Ordinal: ordinal, At: at, Path: path}

	if err := ctx.Err(); err != nil {
		sr.Status = domain.SampleStatusFailed
		sr.ErrorCode = domain.ErrCodeCancelled
		sr.ErrorMsg = err.Error()
		return sr
	}

	if size, ok := p.alreadyDone(ctx, name, path); ok {
		sr.Status = domain.SampleStatusSkipped
		sr.Bytes = size
		return sr
	}

	// dry-run：只给出计划，不下载也不写盘。
	if !p.eff.Apply {
		sr.Status = domain.SampleStatusPlanned
		return sr
	}

	res, err := p.ex.Extract(ctx, domain.ThumbnailRequest{BVID: v.BVID, At: at, OutputPath: path})
	if err != nil {
		sr.Status = domain.SampleStatusFailed
		sr.ErrorCode = ErrorCode(err)
		sr.ErrorMsg = err.Error()
		if ctx.Err() != nil {
			sr.ErrorCode = domain.ErrCodeCancelled
		}
		var de *thumb.DegenerateOutputError
		if errors.As(err, &de) {
			sr.Bytes = de.Size
		}
		return sr
	}
	sr.Status = domain.SampleStatusWritten
	sr.Bytes = res.Bytes

	entry := ledger.Entry{BVID: v.BVID, At: at, Path: path, Bytes: res.Bytes, Done: p.now().UTC()}
	if err := p.ledger.Mark(ctx, name, entry); err != nil {
		p.log.Warnw("msg", "ledger 记录失败", "bvid", v.BVID, "path", path, "err", err)
	}
	return sr
}

// alreadyDone 报告 name 是否已完成：ledger 有记录，且文件仍在、大小合格。
func (p *processor) alreadyDone(ctx context.Context, name, path string) (int64, bool) {
	if _, ok, err := p.ledger.Lookup(ctx, name); err != nil {
		p.log.Warnw("msg", "ledger 查询失败", "path", path, "err", err)
		return 0, false
	} else if !ok {
		return 0, false
	}
	size, ok, err := fsx.RegularSize(path)
	if err != nil || !ok {
		return 0, false
	}
	floor := p.eff.MinBytes
	if floor <= 0 {
		floor = thumb.DefaultMinBytes
	}
	return size, size >= floor
}

// summarize 由采样点结果推出视频状态：
// - 任一采样点失败 -> failed（取第一个失败原因）
// - 全部跳过 -> skipped
// - 其余 -> processed
func summarize(item *domain.ItemResult) {
	failed, skipped := 0, 0
	var first *domain.SampleResult
	for i := range item.Samples {
		s := &item.Samples[i]
		switch s.Status {
		case domain.SampleStatusFailed:
			failed++
			if first == nil {
				first = s
			}
		case domain.SampleStatusSkipped:
			skipped++
		}
	}
	switch {
	case failed > 0:
		item.Status = domain.StatusFailed
		item.ErrorCode = first.ErrorCode
		item.ErrorMsg = fmt.Sprintf("%d/%d 个采样点失败：%s", failed, len(item.Samples), first.ErrorMsg)
	case skipped == len(item.Samples):
		item.Status = domain.StatusSkipped
	default:
		item.Status = domain.StatusProcessed
	}
}

// OutputName 返回采样点的输出文件名：<YYYY-MM-DD>_<bvid>(<ordinal>)<ext>，日期取本地时区。
func OutputName(v domain.VideoRecord, ordinal int, f imgx.Format) string {
	if f == "" {
		f = imgx.FormatWEBP
	}
	return fmt.Sprintf("%s_%s(%d)%s", v.CreatedAt.Local().Format("2006-01-02"), v.BVID, ordinal, f.Ext())
}

// ErrorCode 把错误映射为 report 中的 error_code。
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var (
		authErr   *bili.AuthError
		thrErr    *bili.ThrottledError
		sigErr    *bili.SignatureError
		signErr   *bili.SignError
		apiErr    *bili.APIError
		netErr    *bili.NetworkError
		statusErr *bili.HTTPStatusError
		valErr    *thumb.ValidationError
		degErr    *thumb.DegenerateOutputError
		locErr    *locate.Error
	)
	switch {
	case errors.As(err, &authErr):
		return domain.ErrCodeAuthFailed
	case errors.As(err, &thrErr):
		return domain.ErrCodeThrottled
	case errors.As(err, &sigErr), errors.As(err, &signErr):
		return domain.ErrCodeSignatureRejected
	case errors.As(err, &apiErr):
		return domain.ErrCodeAPIError
	case errors.As(err, &netErr), errors.As(err, &statusErr):
		return domain.ErrCodeNetworkFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.ErrCodeCancelled
	case errors.As(err, &valErr):
		return domain.ErrCodeValidationFailed
	case errors.Is(err, thumb.ErrContentNotFound):
		return domain.ErrCodeContentNotFound
	case errors.As(err, &degErr):
		return domain.ErrCodeDegenerateOutput
	case errors.As(err, &locErr):
		return domain.ErrCodeTargetInvalid
	default:
		return domain.ErrCodeIOFailed
	}
}

func minDuration(v int) int {
	if v <= 0 {
		return sample.DefaultMinDuration
	}
	return v
}

// nopLedger 不记录任何内容（Env 未提供 ledger 时使用）。
type nopLedger struct{}

func (nopLedger) Lookup(context.Context, string) (ledger.Entry, bool, error) {
	return ledger.Entry{}, false, nil
}
func (nopLedger) Mark(context.Context, string, ledger.Entry) error { return nil }
func (nopLedger) Flush(context.Context) error                     { return nil }
func (nopLedger) Close() error                                     { return nil }
