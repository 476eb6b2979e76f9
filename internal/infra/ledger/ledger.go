// Package ledger 记录已经成功写出的缩略图，让重跑时跳过已完成的输出。
//
// 约束：
// - 只有“成功且通过大小校验”的输出才会被 Mark
// - ledger 命中但文件已不在磁盘上时，调用方仍应重新生成
package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrReadOnly 表示 dry-run 下拒绝写入。
var ErrReadOnly = errors.New("ledger: read-only")

// Entry 是一条完成记录。
type Entry struct {
	BVID  string    `json:"bvid"`
	At    float64   `json:"at"`
	Path  string    `json:"path"`
	Bytes int64     `json:"bytes"`
	Done  time.Time `json:"done_at"`
}

// Ledger 是完成记录存储。key 为输出文件名（同一 output_dir 内唯一）。
type Ledger interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Mark(ctx context.Context, key string, e Entry) error
	// Flush 把尚未持久化的记录落盘（Redis 实现为 no-op）。
	Flush(ctx context.Context) error
	Close() error
}
