// Package index 实现投稿目录抓取：签名、限速、翻页与 early exit。
package index

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/John-Robertt/bbthumb/internal/bili"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/logx"
	"github.com/John-Robertt/bbthumb/internal/infra/retry"
	"github.com/John-Robertt/bbthumb/internal/infra/throttle"
)

// DefaultPageDelay 是每页响应后的固定等待（目录接口比其他接口更容易触发风控）。
const DefaultPageDelay = 3 * time.Second

// Indexer 抓取一个 UP 主（或一个合集）的投稿列表。
//
// 约束：
// - 只有目录/合集请求经过 Limiter；cid 查询不限速
// - 每次翻页前检查 ctx；取消时返回已收集的记录与 ctx.Err()
// - 页级失败终止整个抓取，返回已收集的记录与错误
type Indexer struct {
	API       *bili.Client
	Limiter   *throttle.Limiter
	Catalog   retry.Policy
	Thumbnail retry.Policy
	PageDelay time.Duration

	// Now 为测试注入时钟；nil 时使用 time.Now。
	Now func() time.Time

	log *log.Helper
}

// New 返回带默认翻页等待与重试策略的 Indexer。
func New(api *bili.Client, limiter *throttle.Limiter, logger log.Logger) *Indexer {
	return &Indexer{
		API:       api,
		Limiter:   limiter,
		Catalog:   retry.Catalog,
		Thumbnail: retry.Thumbnail,
		PageDelay: DefaultPageDelay,
		log:       log.NewHelper(logx.OrNop(logger)),
	}
}

// Options 控制一次抓取。
type Options struct {
	Window   domain.Window
	MaxPages int // <=0 表示不限

	// OnPage 在每页处理完后回调（page 从 1 开始，kept 为累计保留条数）。
	OnPage func(page, kept int)
}

// Result 是一次抓取的产出。
type Result struct {
	Videos    []domain.VideoRecord
	Pages     int
	EarlyExit bool
}

// PageError 表示第 Page 页抓取失败（含签名 key 派生失败，此时 Page=0）。
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	if e.Page == 0 {
		return "派生签名 key 失败：" + e.Err.Error()
	}
	return fmt.Sprintf("第 %d 页抓取失败：%v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// Crawl 按发布时间倒序翻页抓取 mid 的投稿。
//
// 停止条件：
// - 遇到第一条 CreatedAt < Window.Start 的记录（early exit，该记录不保留）
// - 空页（正常结束）
// - 达到 MaxPages
// - 任意页级错误或 ctx 结束
//
// 晚于 Window.End 的记录跳过，但不触发停止。
func (ix *Indexer) Crawl(ctx context.Context, mid int64, opt Options) (Result, error) {
	var res Result
	if err := ctx.Err(); err != nil {
		return res, err
	}

	key, err := retry.Value(ctx, ix.Catalog, bili.Retryable, func(ctx context.Context) (string, error) {
		return ix.API.DeriveKey(ctx)
	})
	if err != nil {
		return res, ix.abort(ctx, 0, err)
	}

	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		if opt.MaxPages > 0 && page > opt.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		videos, err := retry.Value(ctx, ix.Catalog, bili.Retryable, func(ctx context.Context) ([]domain.VideoRecord, error) {
			if err := ix.Limiter.Acquire(ctx); err != nil {
				return nil, err
			}
			return ix.API.SearchArchives(ctx, key, mid, page, ix.now())
		})
		if err != nil {
			return res, ix.abort(ctx, page, err)
		}
		res.Pages = page

		if len(videos) == 0 {
			ix.logger().Infow("msg", "目录已到末尾", "mid", mid, "page", page)
			break
		}

		for _, v := range videos {
			if opt.Window.Before(v.CreatedAt) {
				res.EarlyExit = true
				break
			}
			if opt.Window.After(v.CreatedAt) {
				continue
			}
			if _, dup := seen[v.BVID]; dup {
				continue
			}
			seen[v.BVID] = struct{}{}
			res.Videos = append(res.Videos, v)
		}
		ix.logger().Infow("msg", "目录翻页", "mid", mid, "page", page, "entries", len(videos), "kept", len(res.Videos))
		if opt.OnPage != nil {
			opt.OnPage(page, len(res.Videos))
		}
		if res.EarlyExit {
			ix.logger().Infow("msg", "早于起始日期，停止翻页", "mid", mid, "page", page)
			break
		}
		if opt.MaxPages > 0 && page >= opt.MaxPages {
			break
		}
		if err := ix.pause(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// CrawlCollection 抓取合集 seasonID 的全部条目并按窗口过滤。
//
// 合集顺序由 UP 主决定，不能假设按时间倒序，因此没有 early exit：
// 空页或 page*PageSize >= total 时停止。请求不签名，但同样限速并在翻页间等待。
func (ix *Indexer) CrawlCollection(ctx context.Context, mid, seasonID int64, opt Options) (Result, error) {
	var res Result
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		if opt.MaxPages > 0 && page > opt.MaxPages {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		sp, err := retry.Value(ctx, ix.Catalog, bili.Retryable, func(ctx context.Context) (bili.SeasonPage, error) {
			if err := ix.Limiter.Acquire(ctx); err != nil {
				return bili.SeasonPage{}, err
			}
			return ix.API.SeasonArchives(ctx, mid, seasonID, page)
		})
		if err != nil {
			return res, ix.abort(ctx, page, err)
		}
		res.Pages = page
		if len(sp.Videos) == 0 {
			break
		}

		for _, v := range sp.Videos {
			if !opt.Window.Contains(v.CreatedAt) {
				continue
			}
			if _, dup := seen[v.BVID]; dup {
				continue
			}
			seen[v.BVID] = struct{}{}
			res.Videos = append(res.Videos, v)
		}
		ix.logger().Infow("msg", "合集翻页", "season_id", seasonID, "page", page, "entries", len(sp.Videos), "kept", len(res.Videos), "total", sp.Total)
		if opt.OnPage != nil {
			opt.OnPage(page, len(res.Videos))
		}
		if sp.Total > 0 && page*bili.PageSize >= sp.Total {
			break
		}
		if opt.MaxPages > 0 && page >= opt.MaxPages {
			break
		}
		if err := ix.pause(ctx); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ResolveContentID 查询 bvid 的 cid。未找到返回 ok=false（不是错误）；
// 只有网络类失败（重试一次后）才返回 err。
func (ix *Indexer) ResolveContentID(ctx context.Context, bvid string) (int64, bool, error) {
	type out struct {
		cid int64
		ok  bool
	}
	o, err := retry.Value(ctx, ix.Thumbnail, bili.Retryable, func(ctx context.Context) (out, error) {
		cid, ok, err := ix.API.PageList(ctx, bvid)
		return out{cid: cid, ok: ok}, err
	})
	if err != nil {
		return 0, false, err
	}
	return o.cid, o.ok, nil
}

func (ix *Indexer) abort(ctx context.Context, page int, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ix.logger().Errorw("msg", "目录抓取终止", "page", page, "err", err)
	return &PageError{Page: page, Err: err}
}

func (ix *Indexer) pause(ctx context.Context) error {
	if ix.PageDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(ix.PageDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ix *Indexer) now() time.Time {
	if ix.Now != nil {
		return ix.Now()
	}
	return time.Now()
}

var nopLog = log.NewHelper(logx.Nop())

func (ix *Indexer) logger() *log.Helper {
	if ix.log == nil {
		return nopLog
	}
	return ix.log
}
