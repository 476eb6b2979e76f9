package run

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/John-Robertt/bbthumb/internal/config"
	"github.com/John-Robertt/bbthumb/internal/infra/ledger"
)

func TestOpenLedger_RedisScopedByOutputDir(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("启动 miniredis 失败：%v", err)
	}
	defer mr.Close()

	out := t.TempDir()
	eff := baseEff(out, true)
	eff.Redis = &config.RedisConfig{Addr: mr.Addr()}

	ctx := context.Background()
	l, err := openLedger(ctx, eff)
	if err != nil {
		t.Fatalf("openLedger 失败：%v", err)
	}
	defer l.Close()

	if err := l.Mark(ctx, "a.jpg", ledger.Entry{BVID: "BV1", At: 1}); err != nil {
		t.Fatalf("Mark 失败：%v", err)
	}
	if !mr.Exists("bbthumb:ledger:" + out) {
		t.Fatalf("Redis ledger 应以输出目录为作用域：keys=%v", mr.Keys())
	}
}
