package thumb

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/John-Robertt/bbthumb/internal/bili"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/imgx"
	"github.com/John-Robertt/bbthumb/internal/infra/retry"
)

type fakeResolver struct {
	cid int64
	ok  bool
	err error
}

func (f fakeResolver) ResolveContentID(ctx context.Context, bvid string) (int64, bool, error) {
	return f.cid, f.ok, f.err
}

type fakeSource struct {
	mu         sync.Mutex
	sheet      domain.SpriteSheet
	images     map[string][]byte
	failFirst  int // 前 N 次下载返回网络错误
	truncFirst int // 前 N 次下载返回被截断的图片
	fetched    []string
}

func (f *fakeSource) VideoShot(ctx context.Context, bvid string, cid int64) (domain.SpriteSheet, error) {
	return f.sheet, nil
}

func (f *fakeSource) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if f.failFirst > 0 {
		f.failFirst--
		return nil, &bili.NetworkError{Op: "雪碧图下载", Err: errors.New("connection reset")}
	}
	b, ok := f.images[rawURL]
	if !ok {
		return nil, &bili.HTTPStatusError{URL: rawURL, StatusCode: 404}
	}
	if f.truncFirst > 0 {
		f.truncFirst--
		return b[:len(b)/2], nil
	}
	return b, nil
}

// gradientPNG 构造像素值可由坐标推出的图片：R=x%256 G=y%256 B=(x/256)*16+y/256。
func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, pixelAt(x, y))
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}
	return buf.Bytes()
}

func pixelAt(x, y int) color.RGBA {
	return color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: uint8((x/256)*16 + y/256), A: 255}
}

func testSheet(urls ...string) domain.SpriteSheet {
	idx := make([]float64, 0, 200)
	for i := 0; i < 200; i++ {
		idx = append(idx, float64(i*5))
	}
	return domain.SpriteSheet{TileWidth: 100, TileHeight: 100, Columns: 10, Rows: 10, SheetURLs: urls, Index: idx}
}

func noRetry() retry.Policy { return retry.Policy{Attempts: 2} }

func TestLocate(t *testing.T) {
	idx := []float64{0, 5, 10, 15}
	cases := map[float64]int{12: 2, 0: 0, 5: 1, 4.9: 0, -1: 0, 100: 3, 15: 3}
	for at, want := range cases {
		if got := Locate(idx, at); got != want {
			t.Fatalf("Locate(%v)：期望 %d，实际 %d", at, want, got)
		}
	}
	dup := []float64{0, 5, 5, 5, 10}
	if got := Locate(dup, 5); got != 3 {
		t.Fatalf("重复边界应取最右：期望 3，实际 %d", got)
	}
}

func TestPlace(t *testing.T) {
	s := testSheet("a", "b")
	sheet, r := Place(s, 123)
	if sheet != 1 || r != image.Rect(300, 200, 400, 300) {
		t.Fatalf("tile 123：sheet=%d rect=%v", sheet, r)
	}
	// 超出 sheet 数量时钳到最后一张。
	sheet, r = Place(s, 250)
	if sheet != 1 || r != image.Rect(0, 500, 100, 600) {
		t.Fatalf("tile 250：sheet=%d rect=%v", sheet, r)
	}
}

func TestCalibrate_DoubleResolution(t *testing.T) {
	s := testSheet("a")
	_, logical := Place(s, 23)
	got := Calibrate(s, logical, 2000, 2000)
	if got != image.Rect(600, 400, 800, 600) {
		t.Fatalf("2 倍校准不符：%v", got)
	}
	if same := Calibrate(s, logical, 1000, 1000); same != logical {
		t.Fatalf("比例为 1 时应保持逻辑坐标：%v", same)
	}
	// 非整数比例向下取整。
	if got := Calibrate(s, image.Rect(100, 100, 200, 200), 1500, 1500); got != image.Rect(150, 150, 300, 300) {
		t.Fatalf("1.5 倍校准不符：%v", got)
	}
	if got := Calibrate(s, image.Rect(100, 0, 200, 100), 1234, 1000); got != image.Rect(123, 0, 246, 100) {
		t.Fatalf("非整数比例应逐项向下取整：%v", got)
	}
}

func TestValidate(t *testing.T) {
	ok := testSheet("a")
	if err := Validate(ok); err != nil {
		t.Fatalf("合法元数据不应报错：%v", err)
	}
	cases := map[string]func(*domain.SpriteSheet){
		"tile_width":  func(s *domain.SpriteSheet) { s.TileWidth = 0 },
		"tile_height": func(s *domain.SpriteSheet) { s.TileHeight = 0 },
		"sheet_urls":  func(s *domain.SpriteSheet) { s.SheetURLs = nil },
		"index":       func(s *domain.SpriteSheet) { s.Index = []float64{0, 10, 5} },
	}
	for field, mutate := range cases {
		s := testSheet("a")
		mutate(&s)
		var ve *ValidationError
		if err := Validate(s); !errors.As(err, &ve) || ve.Field != field {
			t.Fatalf("%s：期望 ValidationError，实际 %v", field, err)
		}
	}
}

func TestExtract_CalibratedCrop(t *testing.T) {
	src := &fakeSource{
		sheet:  testSheet("//s/0.png", "//s/1.png"),
		images: map[string][]byte{"//s/1.png": gradientPNG(t, 2000, 2000)},
	}
	ex := New(fakeResolver{cid: 1, ok: true}, src, Options{Format: imgx.FormatPNG, MinBytes: 1, Retry: noRetry()}, nil)

	// tile 123 = 第 2 张 sheet 的 (col 3, row 2)，Index[123]=615。
	out := filepath.Join(t.TempDir(), "2024-01-02_BV1(1).png")
	res, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 617, OutputPath: out})
	if err != nil {
		t.Fatalf("Extract 失败：%v", err)
	}
	if res.Tile != 123 || res.Sheet != 1 {
		t.Fatalf("定位不符：%+v", res)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("读取输出失败：%v", err)
	}
	img, err := png.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode 输出失败：%v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 200 {
		t.Fatalf("校准后尺寸应为 200x200，实际 %v", img.Bounds())
	}
	got := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	if want := pixelAt(600, 400); got != want {
		t.Fatalf("裁切原点不符：got=%v want=%v", got, want)
	}
	got = color.RGBAModel.Convert(img.At(199, 199)).(color.RGBA)
	if want := pixelAt(799, 599); got != want {
		t.Fatalf("裁切终点不符：got=%v want=%v", got, want)
	}
}

func TestExtract_DegenerateOutputKeepsFile(t *testing.T) {
	src := &fakeSource{
		sheet:  testSheet("//s/0.png"),
		images: map[string][]byte{"//s/0.png": gradientPNG(t, 1000, 1000)},
	}
	ex := New(fakeResolver{cid: 1, ok: true}, src, Options{Format: imgx.FormatJPEG, MinBytes: 1 << 40, Retry: noRetry()}, nil)

	out := filepath.Join(t.TempDir(), "x.jpg")
	_, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 12, OutputPath: out})
	var de *DegenerateOutputError
	if !errors.As(err, &de) {
		t.Fatalf("期望 DegenerateOutputError，实际 %T %v", err, err)
	}
	var te *Error
	if !errors.As(err, &te) || te.Stage != StageVerify || te.BVID != "BV1" || te.At != 12 {
		t.Fatalf("期望带上下文的 Error(stage=verify)，实际 %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Fatalf("过小的输出文件应保留在磁盘上：%v", err)
	}
}

func TestExtract_ValidationErrorWritesNothing(t *testing.T) {
	s := testSheet("//s/0.png")
	s.TileWidth = 0
	src := &fakeSource{sheet: s}
	ex := New(fakeResolver{cid: 1, ok: true}, src, Options{Retry: noRetry()}, nil)

	out := filepath.Join(t.TempDir(), "x.webp")
	_, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: out})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("期望 ValidationError，实际 %T %v", err, err)
	}
	if len(src.fetched) != 0 {
		t.Fatalf("元数据无效时不应下载雪碧图")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("元数据无效时不应写出文件")
	}
}

func TestExtract_ContentNotFound(t *testing.T) {
	ex := New(fakeResolver{ok: false}, &fakeSource{}, Options{Retry: noRetry()}, nil)
	_, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "x.webp")})
	if !errors.Is(err, ErrContentNotFound) {
		t.Fatalf("期望 ErrContentNotFound，实际 %v", err)
	}
}

func TestExtract_RetriesDownloadOnce(t *testing.T) {
	src := &fakeSource{
		sheet:     testSheet("//s/0.png"),
		images:    map[string][]byte{"//s/0.png": gradientPNG(t, 1000, 1000)},
		failFirst: 1,
	}
	ex := New(fakeResolver{cid: 1, ok: true}, src, Options{Format: imgx.FormatPNG, MinBytes: 1, Retry: noRetry()}, nil)
	if _, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "x.png")}); err != nil {
		t.Fatalf("一次网络失败后应重试成功：%v", err)
	}
	if len(src.fetched) != 2 {
		t.Fatalf("期望下载 2 次，实际 %d", len(src.fetched))
	}

	src.failFirst = 2
	src.fetched = nil
	_, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "y.png")})
	var ee *retry.ExhaustedError
	if !errors.As(err, &ee) || len(src.fetched) != 2 {
		t.Fatalf("连续两次失败应放弃：err=%v fetched=%d", err, len(src.fetched))
	}
}

func TestExtract_RetriesUndecodableSheetOnce(t *testing.T) {
	src := &fakeSource{
		sheet:      testSheet("//s/0.png"),
		images:     map[string][]byte{"//s/0.png": gradientPNG(t, 1000, 1000)},
		truncFirst: 1,
	}
	ex := New(fakeResolver{cid: 1, ok: true}, src, Options{Format: imgx.FormatPNG, MinBytes: 1, Retry: noRetry()}, nil)
	if _, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "x.png")}); err != nil {
		t.Fatalf("雪碧图首次不完整时应重新下载：%v", err)
	}
	if len(src.fetched) != 2 {
		t.Fatalf("期望下载 2 次，实际 %d", len(src.fetched))
	}

	src.truncFirst = 2
	src.fetched = nil
	_, err := ex.Extract(context.Background(), domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "y.png")})
	var ne *bili.NetworkError
	if !errors.As(err, &ne) || len(src.fetched) != 2 {
		t.Fatalf("两次都无法解码应按网络错误放弃：err=%v fetched=%d", err, len(src.fetched))
	}
}

func TestExtract_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := New(fakeResolver{cid: 1, ok: true}, &fakeSource{sheet: testSheet("//s/0.png")}, Options{Retry: noRetry()}, nil)
	_, err := ex.Extract(ctx, domain.ThumbnailRequest{BVID: "BV1", At: 1, OutputPath: filepath.Join(t.TempDir(), "x.webp")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
}
