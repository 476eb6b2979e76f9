package domain

// SampleSet 是一个视频的截图时间点（秒），严格升序，且 0 <= t < 时长。
type SampleSet []float64
