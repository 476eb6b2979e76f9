// Package thumb 从雪碧图中截取指定时间点的缩略图。
package thumb

import (
	"context"
	"errors"
	"image"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/semaphore"

	"github.com/John-Robertt/bbthumb/internal/bili"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/fsx"
	"github.com/John-Robertt/bbthumb/internal/infra/imgx"
	"github.com/John-Robertt/bbthumb/internal/infra/logx"
	"github.com/John-Robertt/bbthumb/internal/infra/retry"
)

const (
	// DefaultMinBytes 是输出文件的最小合法大小。
	DefaultMinBytes = 500
	// DefaultConcurrency 是雪碧图相关请求的并发上限。
	DefaultConcurrency = 5
)

// Resolver 把 bvid 解析为 cid。
type Resolver interface {
	ResolveContentID(ctx context.Context, bvid string) (cid int64, ok bool, err error)
}

// Source 提供雪碧图元数据与图片下载（*bili.Client 实现了它）。
type Source interface {
	VideoShot(ctx context.Context, bvid string, cid int64) (domain.SpriteSheet, error)
	FetchImage(ctx context.Context, rawURL string) ([]byte, error)
}

// Options 配置 Extractor。
type Options struct {
	Format      imgx.Format
	MinBytes    int64
	Concurrency int
	Retry       retry.Policy
}

// Extractor 负责一次截取的完整流程：cid -> 元数据 -> 定位 -> 校准 -> 裁切 -> 落盘 -> 大小校验。
//
// 约束：
// - 所有失败都以 *Error 返回，不 panic，不中断批处理
// - 雪碧图请求不经过目录限速器，但受 Concurrency 信号量约束
// - 元数据每次调用重新获取（不跨调用缓存）
type Extractor struct {
	resolver Resolver
	source   Source
	opt      Options
	sem      *semaphore.Weighted
	log      *log.Helper
}

// Result 描述一次成功截取。
type Result struct {
	Path  string
	Bytes int64
	Tile  int
	Sheet int
}

// New 构造 Extractor；零值选项取默认（webp、500 字节、并发 5、缩略图重试策略）。
func New(resolver Resolver, source Source, opt Options, logger log.Logger) *Extractor {
	if opt.Format == "" {
		opt.Format = imgx.FormatWEBP
	}
	if opt.MinBytes <= 0 {
		opt.MinBytes = DefaultMinBytes
	}
	if opt.Concurrency <= 0 {
		opt.Concurrency = DefaultConcurrency
	}
	if opt.Retry.Attempts <= 0 {
		opt.Retry = retry.Thumbnail
	}
	return &Extractor{
		resolver: resolver,
		source:   source,
		opt:      opt,
		sem:      semaphore.NewWeighted(int64(opt.Concurrency)),
		log:      log.NewHelper(logx.OrNop(logger)),
	}
}

// Format 返回输出格式。
func (e *Extractor) Format() imgx.Format { return e.opt.Format }

// Extract 执行一次截取并写出 req.OutputPath。
func (e *Extractor) Extract(ctx context.Context, req domain.ThumbnailRequest) (Result, error) {
	res, err := e.extract(ctx, req)
	if err != nil {
		var te *Error
		if !errors.As(err, &te) {
			err = &Error{BVID: req.BVID, At: req.At, Stage: StageResolve, Err: err}
		}
		if !errors.Is(err, context.Canceled) {
			e.log.Errorw("msg", "截取失败", "bvid", req.BVID, "at", req.At, "path", req.OutputPath, "err", err)
		}
		return Result{}, err
	}
	e.log.Infow("msg", "截取完成", "bvid", req.BVID, "at", req.At, "path", res.Path, "bytes", res.Bytes)
	return res, nil
}

func (e *Extractor) extract(ctx context.Context, req domain.ThumbnailRequest) (Result, error) {
	fail := func(stage Stage, err error) (Result, error) {
		return Result{}, &Error{BVID: req.BVID, At: req.At, Stage: stage, Err: err}
	}
	if req.BVID == "" || req.OutputPath == "" {
		return fail(StageResolve, errors.New("bvid 与 output_path 不能为空"))
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fail(StageResolve, err)
	}
	defer e.sem.Release(1)

	cid, ok, err := e.resolver.ResolveContentID(ctx, req.BVID)
	if err != nil {
		return fail(StageResolve, err)
	}
	if !ok {
		return fail(StageResolve, ErrContentNotFound)
	}

	sheet, err := retry.Value(ctx, e.opt.Retry, bili.Retryable, func(ctx context.Context) (domain.SpriteSheet, error) {
		return e.source.VideoShot(ctx, req.BVID, cid)
	})
	if err != nil {
		return fail(StageManifest, err)
	}
	if err := Validate(sheet); err != nil {
		return fail(StageValidate, err)
	}

	tile := Locate(sheet.Index, req.At)
	sheetIdx, logical := Place(sheet, tile)

	// 响应体不完整时同样按网络失败重试一次。
	img, err := retry.Value(ctx, e.opt.Retry, bili.Retryable, func(ctx context.Context) (image.Image, error) {
		raw, err := e.source.FetchImage(ctx, sheet.SheetURLs[sheetIdx])
		if err != nil {
			return nil, err
		}
		img, err := imgx.Decode(raw)
		if err != nil {
			return nil, &bili.NetworkError{Op: "雪碧图解码", Err: err}
		}
		return img, nil
	})
	if err != nil {
		return fail(StageDownload, err)
	}

	b := img.Bounds()
	rect := Calibrate(sheet, logical, b.Dx(), b.Dy())
	crop, err := imgx.CropRGB(img, rect)
	if err != nil {
		return fail(StageCrop, err)
	}
	out, err := imgx.Encode(crop, e.opt.Format)
	if err != nil {
		return fail(StageEncode, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageWrite, err)
	}
	if err := fsx.WriteFileAtomic(req.OutputPath, out); err != nil {
		return fail(StageWrite, err)
	}

	size, _, err := fsx.RegularSize(req.OutputPath)
	if err != nil {
		return fail(StageVerify, err)
	}
	if size < e.opt.MinBytes {
		e.log.Warnw("msg", "裁切结果过小", "bvid", req.BVID, "at", req.At, "path", req.OutputPath,
			"bytes", size, "crop", rect.String(), "sheet_size", b.Size().String())
		return fail(StageVerify, &DegenerateOutputError{Path: req.OutputPath, Size: size, Min: e.opt.MinBytes})
	}
	return Result{Path: req.OutputPath, Bytes: size, Tile: tile, Sheet: sheetIdx}, nil
}
