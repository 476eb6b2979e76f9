// Package imgx 负责雪碧图解码、tile 裁切与缩略图编码。
package imgx

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	cwebp "github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // 注册 WebP 解码器（高清雪碧图多为 webp）
)

// Quality 是有损格式的固定编码质量。
const Quality = 95

// Format 是输出图片格式。
type Format string

const (
	FormatWEBP Format = "webp"
	FormatJPEG Format = "jpg"
	FormatPNG  Format = "png"
)

// ParseFormat 解析配置里的格式名（大小写不敏感，jpeg 视为 jpg）。
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "webp":
		return FormatWEBP, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("不支持的图片格式：%q（可选 webp/jpg/png）", s)
	}
}

// Ext 返回带点的扩展名。
func (f Format) Ext() string {
	return "." + string(f)
}

// Decode 解码雪碧图（JPEG/PNG/WebP）。
func Decode(b []byte) (image.Image, error) {
	if len(b) == 0 {
		return nil, errors.New("图片为空")
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if r := img.Bounds(); r.Dx() <= 0 || r.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}
	return img, nil
}

// CropRGB 从 img 裁出 rect（相对 img 原点的坐标），并丢弃 alpha 通道。
//
// 约束：
// - rect 会被裁剪到图片边界内；交集为空时报错
// - 输出恒为不透明（A=255），颜色取非预乘值
func CropRGB(img image.Image, rect image.Rectangle) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("图片为空")
	}
	b := img.Bounds()
	src := rect.Add(b.Min).Intersect(b)
	if src.Empty() {
		return nil, fmt.Errorf("裁切区域 %v 超出图片范围 %v", rect, b)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, src.Dx(), src.Dy()))
	xdraw.Copy(dst, image.Point{}, img, src, xdraw.Src, nil)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, nil
}

// Encode 按 f 编码（有损格式使用固定质量 95）。
func Encode(img image.Image, f Format) ([]byte, error) {
	var out bytes.Buffer
	var err error
	switch f {
	case FormatWEBP:
		err = cwebp.Encode(&out, img, &cwebp.Options{Quality: Quality})
	case FormatJPEG:
		err = jpeg.Encode(&out, img, &jpeg.Options{Quality: Quality})
	case FormatPNG:
		err = png.Encode(&out, img)
	default:
		return nil, fmt.Errorf("不支持的图片格式：%q", f)
	}
	if err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
