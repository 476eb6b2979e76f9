package index

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/bbthumb/internal/bili"
	"github.com/John-Robertt/bbthumb/internal/domain"
	"github.com/John-Robertt/bbthumb/internal/infra/retry"
)

const navOK = `{"code":0,"data":{"wbi_img":{"img_url":"https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png","sub_url":"https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"}}}`

// fakeCatalog 按页返回预设响应，并记录每页被请求的次数。
type fakeCatalog struct {
	mu    sync.Mutex
	pages map[int]string
	hits  map[int]int
	nav   string
}

func (f *fakeCatalog) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/nav"):
		if f.nav != "" {
			fmt.Fprint(w, f.nav)
			return
		}
		fmt.Fprint(w, navOK)
	case strings.HasSuffix(r.URL.Path, "/arc/search"), strings.HasSuffix(r.URL.Path, "/seasons_archives_list"):
		pn := r.URL.Query().Get("pn")
		if pn == "" {
			pn = r.URL.Query().Get("page_num")
		}
		n, _ := strconv.Atoi(pn)
		f.mu.Lock()
		f.hits[n]++
		body, ok := f.pages[n]
		f.mu.Unlock()
		if !ok {
			body = `{"code":0,"data":{"list":{"vlist":[]}}}`
		}
		if body == "502" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, body)
	case strings.HasSuffix(r.URL.Path, "/pagelist"):
		if r.URL.Query().Get("bvid") == "BVok" {
			fmt.Fprint(w, `{"code":0,"data":[{"cid":777}]}`)
			return
		}
		fmt.Fprint(w, `{"code":-404,"message":"not found"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCatalog) hitCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[page]
}

func vlist(entries ...string) string {
	return `{"code":0,"data":{"list":{"vlist":[` + strings.Join(entries, ",") + `]}}}`
}

func entry(bvid string, created int64) string {
	return fmt.Sprintf(`{"bvid":%q,"title":"t","length":"3:45","created":%d,"play":1}`, bvid, created)
}

func newIndexer(t *testing.T, f *fakeCatalog) *Indexer {
	t.Helper()
	if f.hits == nil {
		f.hits = map[int]int{}
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	api := bili.New(srv.Client())
	api.APIBase = srv.URL

	ix := New(api, nil, nil)
	ix.PageDelay = 0
	ix.Catalog = retry.Policy{Attempts: 2}
	ix.Thumbnail = retry.Policy{Attempts: 2}
	ix.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return ix
}

func bvids(vs []domain.VideoRecord) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.BVID)
	}
	return out
}

func TestCrawl_EarlyExit(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{
		1: vlist(entry("BV5", 500), entry("BV4", 400)),
		2: vlist(entry("BV3", 300), entry("BV2", 200), entry("BV1", 100)),
		3: vlist(entry("BV0", 50)),
	}}
	ix := newIndexer(t, f)

	res, err := ix.Crawl(context.Background(), 1, Options{Window: domain.Window{
		Start: time.Unix(250, 0),
		End:   time.Unix(450, 0),
	}})
	if err != nil {
		t.Fatalf("Crawl 失败：%v", err)
	}
	got := strings.Join(bvids(res.Videos), ",")
	if got != "BV4,BV3" {
		t.Fatalf("期望 BV4,BV3（BV5 晚于终点跳过，BV2 触发 early exit 且不保留），实际 %s", got)
	}
	if !res.EarlyExit || res.Pages != 2 {
		t.Fatalf("期望第 2 页 early exit：%+v", res)
	}
	if f.hitCount(3) != 0 {
		t.Fatalf("early exit 后不应再请求第 3 页")
	}
}

func TestCrawl_EmptyPageEndsStream(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{
		1: vlist(entry("BV2", 200), entry("BV1", 100)),
	}}
	ix := newIndexer(t, f)

	var pages []int
	res, err := ix.Crawl(context.Background(), 1, Options{OnPage: func(page, kept int) { pages = append(pages, page) }})
	if err != nil {
		t.Fatalf("Crawl 失败：%v", err)
	}
	if len(res.Videos) != 2 || res.EarlyExit || res.Pages != 2 {
		t.Fatalf("空页应正常结束：%+v", res)
	}
	if len(pages) != 1 || pages[0] != 1 {
		t.Fatalf("OnPage 只应对非空页回调：%v", pages)
	}
}

func TestCrawl_MaxPages(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{
		1: vlist(entry("BV3", 300)),
		2: vlist(entry("BV2", 200)),
		3: vlist(entry("BV1", 100)),
	}}
	ix := newIndexer(t, f)
	res, err := ix.Crawl(context.Background(), 1, Options{MaxPages: 2})
	if err != nil {
		t.Fatalf("Crawl 失败：%v", err)
	}
	if len(res.Videos) != 2 || f.hitCount(3) != 0 {
		t.Fatalf("MaxPages=2 时不应请求第 3 页：%+v hits3=%d", res, f.hitCount(3))
	}
}

func TestCrawl_AbortKeepsPartial(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{
		1: vlist(entry("BV3", 300)),
		2: `{"code":-352,"message":"风控校验失败"}`,
	}}
	ix := newIndexer(t, f)
	res, err := ix.Crawl(context.Background(), 1, Options{})
	var te *bili.ThrottledError
	if !errors.As(err, &te) {
		t.Fatalf("期望 ThrottledError，实际 %T %v", err, err)
	}
	var pe *PageError
	if !errors.As(err, &pe) || pe.Page != 2 {
		t.Fatalf("期望 PageError(page=2)，实际 %v", err)
	}
	if len(res.Videos) != 1 || res.Videos[0].BVID != "BV3" {
		t.Fatalf("应保留已收集的记录：%+v", res.Videos)
	}
	if f.hitCount(2) != 1 {
		t.Fatalf("风控错误不应重试，实际请求 %d 次", f.hitCount(2))
	}
}

func TestCrawl_NavAuthError(t *testing.T) {
	f := &fakeCatalog{nav: `{"code":-101,"message":"账号未登录"}`}
	ix := newIndexer(t, f)
	res, err := ix.Crawl(context.Background(), 1, Options{})
	var ae *bili.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("期望 AuthError，实际 %T %v", err, err)
	}
	if len(res.Videos) != 0 || f.hitCount(1) != 0 {
		t.Fatalf("key 派生失败时不应请求目录")
	}
}

func TestCrawl_RetriesNetworkErrorOnce(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{1: "502"}}
	ix := newIndexer(t, f)
	_, err := ix.Crawl(context.Background(), 1, Options{})
	var ee *retry.ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("期望 ExhaustedError，实际 %T %v", err, err)
	}
	if f.hitCount(1) != 2 {
		t.Fatalf("网络类失败应恰好重试一次，实际请求 %d 次", f.hitCount(1))
	}
}

func TestCrawl_Cancelled(t *testing.T) {
	f := &fakeCatalog{pages: map[int]string{
		1: vlist(entry("BV3", 300)),
		2: vlist(entry("BV2", 200)),
	}}
	ix := newIndexer(t, f)
	ctx, cancel := context.WithCancel(context.Background())
	res, err := ix.Crawl(ctx, 1, Options{OnPage: func(page, kept int) { cancel() }})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled，实际 %v", err)
	}
	if len(res.Videos) != 1 || f.hitCount(2) != 0 {
		t.Fatalf("取消后应停在第 1 页：%+v hits2=%d", res, f.hitCount(2))
	}
}

func TestCrawlCollection_NoEarlyExitAndTotal(t *testing.T) {
	arch := func(bvid string, pub int64) string {
		return fmt.Sprintf(`{"bvid":%q,"title":"t","duration":125,"pubdate":%d,"stat":{"view":3}}`, bvid, pub)
	}
	page := func(total int, items ...string) string {
		return fmt.Sprintf(`{"code":0,"data":{"archives":[%s],"page":{"total":%d}}}`, strings.Join(items, ","), total)
	}
	items1 := make([]string, 0, 30)
	for i := 0; i < 30; i++ {
		// 顺序不保证：早于起点的条目之后还有窗口内的条目。
		pub := int64(100)
		if i%2 == 0 {
			pub = 300
		}
		items1 = append(items1, arch(fmt.Sprintf("BVa%d", i), pub))
	}
	f := &fakeCatalog{pages: map[int]string{
		1: page(31, items1...),
		2: page(31, arch("BVb", 300)),
		3: page(31, arch("BVc", 300)),
	}}
	ix := newIndexer(t, f)

	res, err := ix.CrawlCollection(context.Background(), 1, 9, Options{Window: domain.Window{Start: time.Unix(200, 0)}})
	if err != nil {
		t.Fatalf("CrawlCollection 失败：%v", err)
	}
	if len(res.Videos) != 16 {
		t.Fatalf("期望 15+1 条，实际 %d", len(res.Videos))
	}
	if res.EarlyExit {
		t.Fatalf("合集不应 early exit")
	}
	if f.hitCount(3) != 0 {
		t.Fatalf("page*size>=total 后不应继续翻页")
	}
	if res.Videos[0].DurationText != "2:05" {
		t.Fatalf("合集时长应格式化为 m:ss：%q", res.Videos[0].DurationText)
	}
}

func TestResolveContentID(t *testing.T) {
	ix := newIndexer(t, &fakeCatalog{})
	cid, ok, err := ix.ResolveContentID(context.Background(), "BVok")
	if err != nil || !ok || cid != 777 {
		t.Fatalf("期望 cid=777，实际 cid=%d ok=%v err=%v", cid, ok, err)
	}
	_, ok, err = ix.ResolveContentID(context.Background(), "BVnone")
	if err != nil || ok {
		t.Fatalf("未找到应返回 ok=false 且无错误：ok=%v err=%v", ok, err)
	}
}
