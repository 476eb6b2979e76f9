package domain

// SpriteSheet 是归一化后的雪碧图元数据（videoshot 接口两种响应形态都映射到这里）。
//
// 约束：
// - TileWidth/TileHeight 是接口声明的“逻辑像素”，实际图片可能是其整数倍
// - Index 是每个 tile 的起始秒数，跨所有 sheet 连续编号，非递减
type SpriteSheet struct {
	TileWidth  int
	TileHeight int
	Columns    int
	Rows       int
	SheetURLs  []string
	Index      []float64
}

// TilesPerSheet 返回单张 sheet 的格子数。
func (s SpriteSheet) TilesPerSheet() int {
	return s.Columns * s.Rows
}
