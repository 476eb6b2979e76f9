package thumb

import (
	"image"
	"math"
	"sort"

	"github.com/John-Robertt/bbthumb/internal/domain"
)

// Validate 检查雪碧图元数据是否可用于定位与裁切。
func Validate(s domain.SpriteSheet) error {
	switch {
	case s.TileWidth <= 0:
		return &ValidationError{Field: "tile_width"}
	case s.TileHeight <= 0:
		return &ValidationError{Field: "tile_height"}
	case s.Columns <= 0:
		return &ValidationError{Field: "columns"}
	case s.Rows <= 0:
		return &ValidationError{Field: "rows"}
	case len(s.SheetURLs) == 0:
		return &ValidationError{Field: "sheet_urls"}
	case len(s.Index) == 0:
		return &ValidationError{Field: "index"}
	}
	for i := 1; i < len(s.Index); i++ {
		if s.Index[i] < s.Index[i-1] {
			return &ValidationError{Field: "index", Reason: "不是非递减序列"}
		}
	}
	return nil
}

// Locate 返回满足 index[i] <= at 的最大 i（二分查找），结果不小于 0。
func Locate(index []float64, at float64) int {
	i := sort.Search(len(index), func(i int) bool { return index[i] > at }) - 1
	if i < 0 {
		return 0
	}
	return i
}

// Place 把全局 tile 序号映射到 (sheet 序号, 逻辑坐标矩形)。
// sheet 序号超出 SheetURLs 时取最后一张。
func Place(s domain.SpriteSheet, tile int) (sheet int, logical image.Rectangle) {
	per := s.TilesPerSheet()
	sheet = tile / per
	if last := len(s.SheetURLs) - 1; sheet > last {
		sheet = last
	}
	offset := tile % per
	col, row := offset%s.Columns, offset/s.Columns
	x, y := col*s.TileWidth, row*s.TileHeight
	return sheet, image.Rect(x, y, x+s.TileWidth, y+s.TileHeight)
}

// Calibrate 把逻辑坐标换算为实际像素坐标。
//
// 部分雪碧图的实际分辨率是声明值的整数倍：
// scaleX = actualW / (TileWidth*Columns)，scaleY 同理；原点与宽高分别乘以比例后向下取整。
// 比例为 1 时也走同一计算。
func Calibrate(s domain.SpriteSheet, logical image.Rectangle, actualW, actualH int) image.Rectangle {
	sx := float64(actualW) / float64(s.TileWidth*s.Columns)
	sy := float64(actualH) / float64(s.TileHeight*s.Rows)
	x := int(math.Floor(float64(logical.Min.X) * sx))
	y := int(math.Floor(float64(logical.Min.Y) * sy))
	w := int(math.Floor(float64(logical.Dx()) * sx))
	h := int(math.Floor(float64(logical.Dy()) * sy))
	return image.Rect(x, y, x+w, y+h)
}
