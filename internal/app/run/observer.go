package run

import (
	"time"

	"github.com/John-Robertt/bbthumb/internal/config"
	"github.com/John-Robertt/bbthumb/internal/domain"
)

// Observer 用于把“抓取进度/阶段/视频结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）。
// - 所有事件都来自编排流程所在的单个 goroutine；实现若另起 ticker，需要自己加锁。
type Observer interface {
	// OnStart 在 ExecuteWithObserver 开始时调用（应尽量早，保证用户 1 秒内看到输出）。
	OnStart(eff config.EffectiveConfig)
	// OnPhaseDone 在阶段结束/就绪时调用。阶段名：target、page（每页一次）、crawl、extract。
	OnPhaseDone(name string, fields map[string]any, dur time.Duration)
	// OnItemDone 在某个视频的全部采样点处理完后调用（idx 从 1 开始）。
	OnItemDone(idx, total int, res domain.ItemResult, dur time.Duration)
	// OnProgress 在每个采样点处理完后调用；计数器只由 run 维护。
	OnProgress(p Progress)
}

// Progress 是采样点粒度的进度快照。
type Progress struct {
	Videos     int
	VideosDone int

	Samples        int
	SamplesDone    int
	SamplesWritten int
	SamplesSkipped int
	SamplesFailed  int

	Current string
	Elapsed time.Duration
}

type nopObserver struct{}

func (nopObserver) OnStart(config.EffectiveConfig)                        {}
func (nopObserver) OnPhaseDone(string, map[string]any, time.Duration)     {}
func (nopObserver) OnItemDone(int, int, domain.ItemResult, time.Duration) {}
func (nopObserver) OnProgress(Progress)                                   {}
