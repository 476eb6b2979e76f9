package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	xwebp "golang.org/x/image/webp"
)

// quadrants 构造“左上黑、其余白”的图片。
func quadrants(w, h int) *image.RGBA {
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 && y < h/2 {
				src.Set(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				src.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	return src
}

func TestDecodeCropEncodeJPEG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, quadrants(200, 100)); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}
	img, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode 失败：%v", err)
	}

	// 右下象限：应接近白色。
	crop, err := CropRGB(img, image.Rect(100, 50, 200, 100))
	if err != nil {
		t.Fatalf("CropRGB 失败：%v", err)
	}
	if crop.Bounds().Dx() != 100 || crop.Bounds().Dy() != 50 {
		t.Fatalf("裁切尺寸不符：%v", crop.Bounds())
	}

	out, err := Encode(crop, FormatJPEG)
	if err != nil {
		t.Fatalf("Encode 失败：%v", err)
	}
	got, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode jpeg 失败：%v", err)
	}
	c := color.RGBAModel.Convert(got.At(50, 25)).(color.RGBA)
	if c.R < 200 || c.G < 200 || c.B < 200 {
		t.Fatalf("裁切区域不符合预期：中心像素=%v（期望接近白色）", c)
	}
}

func TestCropRGB_DropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	crop, err := CropRGB(src, image.Rect(0, 0, 2, 2))
	if err != nil {
		t.Fatalf("CropRGB 失败：%v", err)
	}
	for i := 0; i < len(crop.Pix); i += 4 {
		if crop.Pix[i+3] != 0xff {
			t.Fatalf("alpha 应被丢弃为 255")
		}
		if crop.Pix[i] != 0x80 {
			t.Fatalf("颜色应保留非预乘值：%d", crop.Pix[i])
		}
	}
}

func TestCropRGB_OutOfBounds(t *testing.T) {
	if _, err := CropRGB(quadrants(10, 10), image.Rect(20, 20, 30, 30)); err == nil {
		t.Fatalf("期望越界裁切返回错误")
	}
	crop, err := CropRGB(quadrants(10, 10), image.Rect(5, 5, 30, 30))
	if err != nil {
		t.Fatalf("部分越界应裁到边界：%v", err)
	}
	if crop.Bounds().Dx() != 5 || crop.Bounds().Dy() != 5 {
		t.Fatalf("裁到边界后的尺寸不符：%v", crop.Bounds())
	}
}

func TestEncodeWEBP_Decodable(t *testing.T) {
	out, err := Encode(quadrants(64, 64), FormatWEBP)
	if err != nil {
		t.Fatalf("Encode webp 失败：%v", err)
	}
	got, err := xwebp.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode webp 失败：%v", err)
	}
	if got.Bounds().Dx() != 64 {
		t.Fatalf("webp 尺寸不符：%v", got.Bounds())
	}
	if _, err := Decode(out); err != nil {
		t.Fatalf("Decode 应识别 webp：%v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatWEBP, "WEBP": FormatWEBP, "jpeg": FormatJPEG, "jpg": FormatJPEG, "png": FormatPNG}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q)：期望 %q，实际 %q err=%v", in, want, got, err)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Fatalf("期望 gif 返回错误")
	}
	if FormatJPEG.Ext() != ".jpg" {
		t.Fatalf("Ext 不符：%q", FormatJPEG.Ext())
	}
}

func TestDecode_Empty(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("期望空输入返回错误")
	}
}
