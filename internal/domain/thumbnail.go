package domain

// ThumbnailRequest 是一次截取请求：对 BVID 在 At 秒处截一张图，写到 OutputPath。
// 一次性消费，不复用。
type ThumbnailRequest struct {
	BVID       string
	At         float64
	OutputPath string
}
