// Package locate 把用户输入（空间链接、合集链接、视频链接或纯数字）解析为抓取目标。
package locate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Target 是一次抓取的目标。CreatorID 必填；CollectionID 为 0 表示抓全部投稿。
// BVID 只在输入是视频链接且尚未反查 UP 主时非空。
type Target struct {
	CreatorID    int64
	CollectionID int64
	BVID         string
}

// NeedsOwnerLookup 报告是否还需要通过视频页反查 UP 主。
func (t Target) NeedsOwnerLookup() bool {
	return t.CreatorID == 0 && t.BVID != ""
}

// Error 表示输入无法识别为抓取目标。
type Error struct {
	Input  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("无法识别的目标 %q：%s", e.Input, e.Reason)
}

var (
	spaceRE      = regexp.MustCompile(`space\.bilibili\.com/?(\d+)`)
	listsRE      = regexp.MustCompile(`/lists/?(\d+)`)
	collectionRE = regexp.MustCompile(`collectiondetail\?(?:[^#]*&)?sid=(\d+)`)
	videoRE      = regexp.MustCompile(`(?i)\b(BV[0-9A-Za-z]{10})\b`)
	digitsRE     = regexp.MustCompile(`^\d+$`)
	ownerJSONRE  = regexp.MustCompile(`"owner"\s*:\s*\{\s*"mid"\s*:\s*(\d+)`)
)

// Parse 解析用户输入（纯函数，不发请求）。
//
// 支持：
// - https://space.bilibili.com/<mid>（可带 /video 等后缀）
// - https://space.bilibili.com/<mid>/lists/<sid>?type=season
// - https://space.bilibili.com/<mid>/channel/collectiondetail?sid=<sid>
// - 纯数字 mid
// - https://www.bilibili.com/video/<bvid> 或裸 bvid（需要 ResolveOwner）
func Parse(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, &Error{Input: raw, Reason: "输入为空"}
	}

	if digitsRE.MatchString(s) {
		mid, err := strconv.ParseInt(s, 10, 64)
		if err != nil || mid <= 0 {
			return Target{}, &Error{Input: raw, Reason: "mid 超出范围"}
		}
		return Target{CreatorID: mid}, nil
	}

	if m := spaceRE.FindStringSubmatch(s); m != nil {
		mid, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || mid <= 0 {
			return Target{}, &Error{Input: raw, Reason: "mid 超出范围"}
		}
		t := Target{CreatorID: mid}
		if sid := firstID(s, listsRE, collectionRE); sid > 0 {
			t.CollectionID = sid
		}
		return t, nil
	}

	if m := videoRE.FindStringSubmatch(s); m != nil {
		return Target{BVID: "BV" + m[1][2:]}, nil
	}
	return Target{}, &Error{Input: raw, Reason: "既不是空间链接、视频链接，也不是数字 mid"}
}

func firstID(s string, res ...*regexp.Regexp) int64 {
	for _, re := range res {
		if m := re.FindStringSubmatch(s); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

// PageFetcher 下载视频详情页 HTML（*bili.Client 实现了它）。
type PageFetcher interface {
	VideoPage(ctx context.Context, bvid string) ([]byte, error)
}

// ResolveOwner 对视频链接目标反查 UP 主；其他目标原样返回。
func ResolveOwner(ctx context.Context, t Target, f PageFetcher) (Target, error) {
	if !t.NeedsOwnerLookup() {
		return t, nil
	}
	html, err := f.VideoPage(ctx, t.BVID)
	if err != nil {
		return Target{}, fmt.Errorf("获取视频页失败：%s：%w", t.BVID, err)
	}
	mid, err := OwnerFromVideoPage(html)
	if err != nil {
		return Target{}, &Error{Input: t.BVID, Reason: err.Error()}
	}
	return Target{CreatorID: mid}, nil
}

// OwnerFromVideoPage 从视频详情页 HTML 中找出 UP 主 mid。
//
// 先找 UP 主信息区的空间链接；找不到时再从内嵌的初始状态 JSON 里取 owner.mid。
func OwnerFromVideoPage(html []byte) (int64, error) {
	if len(html) == 0 {
		return 0, errors.New("html 为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return 0, err
	}

	var mid int64
	doc.Find(`.up-info a[href*="space.bilibili.com"], a.up-name[href], .up-detail a[href*="space.bilibili.com"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if m := spaceRE.FindStringSubmatch(href); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil && n > 0 {
				mid = n
				return false
			}
		}
		return true
	})
	if mid > 0 {
		return mid, nil
	}

	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if m := ownerJSONRE.FindStringSubmatch(s.Text()); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil && n > 0 {
				mid = n
				return false
			}
		}
		return true
	})
	if mid > 0 {
		return mid, nil
	}
	return 0, errors.New("视频页中未找到 UP 主信息")
}
