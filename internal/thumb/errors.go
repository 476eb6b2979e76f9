package thumb

import (
	"errors"
	"fmt"
)

// ErrContentNotFound 表示 bvid 查不到 cid（视频失效或不可见）。
var ErrContentNotFound = errors.New("未找到 cid")

// ValidationError 表示雪碧图元数据缺少必需字段（或字段为 0）。不会写出任何文件。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("雪碧图元数据无效：%s 缺失或为 0", e.Field)
	}
	return fmt.Sprintf("雪碧图元数据无效：%s %s", e.Field, e.Reason)
}

// DegenerateOutputError 表示写出的文件小于阈值（通常是空白/错位裁切）。
// 文件保留在磁盘上，但这次截取按失败处理。
type DegenerateOutputError struct {
	Path string
	Size int64
	Min  int64
}

func (e *DegenerateOutputError) Error() string {
	return fmt.Sprintf("输出图片过小：%s（%d 字节，阈值 %d）", e.Path, e.Size, e.Min)
}

// Stage 标记 Extract 失败的环节。
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageManifest Stage = "manifest"
	StageValidate Stage = "validate"
	StageDownload Stage = "download"
	StageCrop     Stage = "crop"
	StageEncode   Stage = "encode"
	StageWrite    Stage = "write"
	StageVerify   Stage = "verify"
)

// Error 是 Extract 返回的唯一失败类型：带上 bvid、时间点与环节，便于手工重试。
type Error struct {
	BVID  string
	At    float64
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("截取失败 bvid=%s at=%.2f stage=%s：%v", e.BVID, e.At, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
