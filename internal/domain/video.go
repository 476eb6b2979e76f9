package domain

import "time"

// VideoRecord 描述目录接口返回的一条投稿（只保留后续流程需要的字段）。
//
// 不变量（实现必须遵守）：
// - 同一次抓取内 BVID 唯一
// - 产出后不可修改；orchestrator 用完即丢
type VideoRecord struct {
	BVID         string
	Title        string
	DurationText string // "3:45" / "1:23:45"
	CreatedAt    time.Time
	PlayCount    int64
	SourceURL    string
}

// VideoURL 返回视频详情页 URL。
func VideoURL(bvid string) string {
	return "https://www.bilibili.com/video/" + bvid
}

// Window 是发布时间过滤窗口（两端闭区间）。零值端点表示不限。
type Window struct {
	Start time.Time
	End   time.Time
}

// Before 报告 t 是否早于窗口起点（触发 early exit 的条件）。
func (w Window) Before(t time.Time) bool {
	return !w.Start.IsZero() && t.Before(w.Start)
}

// After 报告 t 是否晚于窗口终点（跳过，但不终止翻页）。
func (w Window) After(t time.Time) bool {
	return !w.End.IsZero() && t.After(w.End)
}

// Contains 报告 t 是否落在 [Start, End] 内。
func (w Window) Contains(t time.Time) bool {
	return !w.Before(t) && !w.After(t)
}
