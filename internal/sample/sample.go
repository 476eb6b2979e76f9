// Package sample 根据视频时长计算截图采样点（纯函数，无 I/O）。
package sample

import (
	"math"
	"strconv"
	"strings"

	"github.com/John-Robertt/bbthumb/internal/domain"
)

// DefaultMinDuration 是默认的最短处理时长（秒）；更短的视频不采样。
const DefaultMinDuration = 10

// ParseDuration 把 "分:秒" 或 "时:分:秒" 解析为秒数。
// 其他形态或含非数字内容一律返回 0。
func ParseDuration(text string) int {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0
	}

	total := 0
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || total > (math.MaxInt-n)/60 {
			return 0
		}
		total = total*60 + n
	}
	return total
}

// Count 返回时长 d（秒）对应的采样点数量。
//
// - d < 60：2
// - 60 <= d < 3600：4
// - d >= 3600：max(4, floor(d/1800))，即每半小时一个点
func Count(d int) int {
	switch {
	case d < 60:
		return 2
	case d < 3600:
		return 4
	default:
		return max(4, d/1800)
	}
}

// Points 返回时长 d（秒）的采样时间点，升序。
//
// 约束：
// - d < minDuration 返回空切片（minDuration<=0 时使用 DefaultMinDuration）
// - t_i = d*i/(N+1)，i=1..N，天然避开片头片尾各 1/(N+1)
func Points(d, minDuration int) domain.SampleSet {
	if minDuration <= 0 {
		minDuration = DefaultMinDuration
	}
	if d < minDuration {
		return domain.SampleSet{}
	}

	n := Count(d)
	out := make(domain.SampleSet, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, float64(d)*float64(i)/float64(n+1))
	}
	return out
}
