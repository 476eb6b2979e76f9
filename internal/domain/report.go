package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusProcessed = "processed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

const (
	SampleStatusPlanned = "planned"
	SampleStatusWritten = "written"
	SampleStatusSkipped = "skipped"
	SampleStatusFailed  = "failed"
)

const (
	ErrCodeAuthFailed        = "auth_failed"
	ErrCodeThrottled         = "throttled"
	ErrCodeSignatureRejected = "signature_rejected"
	ErrCodeAPIError          = "api_error"
	ErrCodeNetworkFailed     = "network_failed"
	ErrCodeValidationFailed  = "validation_failed"
	ErrCodeContentNotFound   = "content_not_found"
	ErrCodeDegenerateOutput  = "degenerate_output"
	ErrCodeIOFailed          = "io_failed"
	ErrCodeCancelled         = "cancelled"
	ErrCodeConfigNotFound    = "config_not_found"
	ErrCodeConfigInvalid     = "config_invalid"
	ErrCodeTargetInvalid     = "target_invalid"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID        string `json:"run_id"`
	CreatorID    string `json:"creator_id"`
	CollectionID string `json:"collection_id"`
	From         string `json:"from"`
	To           string `json:"to"`
	OutputDir    string `json:"output_dir"`
	DryRun       bool   `json:"dry_run"`

	// Cancelled 表示运行被调用方取消（不是失败）；未处理到的视频不会出现在 Items 中。
	Cancelled bool `json:"cancelled"`

	// CrawlErrorCode/CrawlError 记录目录抓取被中止的原因；Items 仍包含中止前已拿到的视频。
	CrawlErrorCode string `json:"crawl_error_code"`
	CrawlError     string `json:"crawl_error"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Summary ReportSummary `json:"summary"`
	Items   []ItemResult  `json:"items"`
}

type ReportSummary struct {
	Videos    int `json:"videos"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	Samples        int `json:"samples"`
	SamplesWritten int `json:"samples_written"`
	SamplesSkipped int `json:"samples_skipped"`
	SamplesFailed  int `json:"samples_failed"`
}

// ItemResult 对应一个视频。
type ItemResult struct {
	BVID        string `json:"bvid"`
	Title       string `json:"title"`
	PublishedAt string `json:"published_at"`
	Duration    string `json:"duration"`
	DurationSec int    `json:"duration_sec"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Samples []SampleResult `json:"samples"`
}

// SampleResult 对应一个采样点（即一张输出图）。
type SampleResult struct {
	Ordinal int     `json:"ordinal"`
	At      float64 `json:"at"`
	Path    string  `json:"path"`
	Bytes   int64   `json:"bytes"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) 每个 item 内 samples 按 ordinal 稳定排序；items 保持抓取顺序（发布时间倒序）
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	var s ReportSummary
	for i := range r.Items {
		it := &r.Items[i]
		if it.Samples == nil {
			it.Samples = []SampleResult{}
		}
		sort.SliceStable(it.Samples, func(a, b int) bool { return it.Samples[a].Ordinal < it.Samples[b].Ordinal })

		s.Videos++
		switch it.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
		for _, smp := range it.Samples {
			s.Samples++
			switch smp.Status {
			case SampleStatusWritten:
				s.SamplesWritten++
			case SampleStatusSkipped:
				s.SamplesSkipped++
			case SampleStatusFailed:
				s.SamplesFailed++
			}
		}
	}
	r.Summary = s
}

// MarshalJSON 保证 items 永远输出为数组（nil slice 会被编码成 null）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Items == nil {
		a.Items = []ItemResult{}
	}
	return json.Marshal(a)
}
