package bili

import (
	"encoding/json"
	"strings"

	"github.com/John-Robertt/bbthumb/internal/domain"
)

// DefaultGrid 是接口未声明行列数时的默认值（10x10）。
const DefaultGrid = 10

// shotFields 覆盖 videoshot 两代响应里出现过的全部字段名。
//
// 两种形态：
//   - 旧版：data.pvdata 是对象（或对象的 JSON 字符串），字段都在 pvdata 内
//   - 新版：字段平铺在 data 上，pvdata 是指向 .bin 的 URL 字符串
type shotFields struct {
	ImgXLen   flexInt   `json:"img_x_len"`
	ImgWidth  flexInt   `json:"img_width"`
	ImgYLen   flexInt   `json:"img_y_len"`
	ImgHeight flexInt   `json:"img_height"`
	XCount    flexInt   `json:"img_x_count"`
	YCount    flexInt   `json:"img_y_count"`
	Image     []string  `json:"image"`
	Images    []string  `json:"images"`
	Index     []float64 `json:"index"`
}

// ParseVideoShot 把 videoshot 的 data 归一化为 SpriteSheet。
//
// 约束：
// - 纯函数，不做字段校验（缺失字段保持 0/nil，由调用方报告 ValidationError）
// - 行列数缺失时按 DefaultGrid 处理
func ParseVideoShot(data json.RawMessage) (domain.SpriteSheet, error) {
	if len(data) == 0 || string(data) == "null" {
		return domain.SpriteSheet{}, nil
	}

	var root struct {
		shotFields
		PvData json.RawMessage `json:"pvdata"`
	}
	if err := json.Unmarshal(data, &root); err != nil {
		return domain.SpriteSheet{}, &NetworkError{Op: "videoshot 解码", Err: err}
	}

	f := root.shotFields
	if nested, ok := nestedPvData(root.PvData); ok {
		f = nested
	}
	return f.sheet(), nil
}

// nestedPvData 识别旧版形态：pvdata 为对象，或是内容为对象的 JSON 字符串。
func nestedPvData(raw json.RawMessage) (shotFields, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return shotFields{}, false
	}
	if strings.HasPrefix(s, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return shotFields{}, false
		}
		s = strings.TrimSpace(inner)
	}
	if !strings.HasPrefix(s, "{") {
		return shotFields{}, false
	}
	var f shotFields
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return shotFields{}, false
	}
	return f, true
}

func (f shotFields) sheet() domain.SpriteSheet {
	s := domain.SpriteSheet{
		TileWidth:  firstNonZero(f.ImgXLen, f.ImgWidth),
		TileHeight: firstNonZero(f.ImgYLen, f.ImgHeight),
		Columns:    firstNonZero(f.XCount, DefaultGrid),
		Rows:       firstNonZero(f.YCount, DefaultGrid),
		Index:      f.Index,
	}
	urls := f.Image
	if len(urls) == 0 {
		urls = f.Images
	}
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			s.SheetURLs = append(s.SheetURLs, u)
		}
	}
	return s
}

func firstNonZero(vs ...flexInt) int {
	for _, v := range vs {
		if v > 0 {
			return int(v)
		}
	}
	return 0
}
