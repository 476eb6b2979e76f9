// Package bili 是平台 Web API 的薄客户端。
//
// 约束：
// - 不做重试、不做限速（由 index/thumb 按操作类别统一处理）
// - 响应码在这里映射为类型化错误，调用方只用 errors.As 判断
package bili

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/bbthumb/internal/bili/wbi"
	"github.com/John-Robertt/bbthumb/internal/domain"
)

const (
	DefaultAPIBase = "https://api.bilibili.com"
	DefaultWebBase = "https://www.bilibili.com"

	// SpaceReferer 用于目录/合集类接口。
	SpaceReferer = "https://space.bilibili.com/"
	// WebReferer 用于播放器接口与图片下载。
	WebReferer = "https://www.bilibili.com/"

	// PageSize 是目录与合集的固定页大小。
	PageSize = 30

	maxJSONBytes  = 8 << 20
	maxImageBytes = 32 << 20
)

// Client 封装平台接口。零值不可用，用 New 构造。
type Client struct {
	HTTP    *http.Client
	APIBase string
	WebBase string
}

// New 返回使用共享 http.Client 的平台客户端。
func New(c *http.Client) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{HTTP: c, APIBase: DefaultAPIBase, WebBase: DefaultWebBase}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Nav 调用导航接口，返回 wbi_img 的两个 URL。
// -101 -> *AuthError；其余非 0 -> *SignError。
func (c *Client) Nav(ctx context.Context) (imgURL, subURL string, err error) {
	env, err := c.getJSON(ctx, "nav", c.APIBase+"/x/web-interface/nav", nil, SpaceReferer)
	if err != nil {
		return "", "", err
	}
	if env.Code == CodeNotLoggedIn {
		return "", "", &AuthError{Message: env.Message}
	}
	if env.Code != CodeOK {
		return "", "", &SignError{Code: env.Code, Message: env.Message}
	}

	var d struct {
		WbiImg struct {
			ImgURL string `json:"img_url"`
			SubURL string `json:"sub_url"`
		} `json:"wbi_img"`
	}
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return "", "", &NetworkError{Op: "nav 解码", Err: err}
	}
	if strings.TrimSpace(d.WbiImg.ImgURL) == "" || strings.TrimSpace(d.WbiImg.SubURL) == "" {
		return "", "", &SignError{Code: env.Code, Message: "wbi_img 缺失"}
	}
	return d.WbiImg.ImgURL, d.WbiImg.SubURL, nil
}

// DeriveKey 调用 Nav 并派生 32 位签名 key。
func (c *Client) DeriveKey(ctx context.Context) (string, error) {
	imgURL, subURL, err := c.Nav(ctx)
	if err != nil {
		return "", err
	}
	imgKey, subKey := wbi.KeyFromURL(imgURL), wbi.KeyFromURL(subURL)
	if imgKey == "" || subKey == "" {
		return "", &SignError{Message: "无法从 wbi_img 提取 key"}
	}
	return wbi.MixinKey(imgKey, subKey), nil
}

// SearchArchives 拉取投稿目录的第 pn 页（按发布时间倒序，页大小 30）。
// wts 先放入参数再签名；空列表表示已到末尾。
func (c *Client) SearchArchives(ctx context.Context, key string, mid int64, pn int, wts time.Time) ([]domain.VideoRecord, error) {
	params := map[string]string{
		"mid":           strconv.FormatInt(mid, 10),
		"order":         "pubdate",
		"order_avoided": "1",
		"platform":      "web",
		"pn":            strconv.Itoa(pn),
		"ps":            strconv.Itoa(PageSize),
		"wts":           strconv.FormatInt(wts.Unix(), 10),
	}
	q := wbi.Signed(params, key)

	env, err := c.getJSON(ctx, "目录", c.APIBase+"/x/space/wbi/arc/search", q, SpaceReferer)
	if err != nil {
		return nil, err
	}
	if env.Code != CodeOK {
		return nil, codeError("目录", env.Code, env.Message)
	}

	var d struct {
		List struct {
			Vlist []struct {
				BVID    string  `json:"bvid"`
				Title   string  `json:"title"`
				Length  string  `json:"length"`
				Created int64   `json:"created"`
				Play    flexInt `json:"play"`
			} `json:"vlist"`
		} `json:"list"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, &NetworkError{Op: "目录解码", Err: err}
		}
	}

	out := make([]domain.VideoRecord, 0, len(d.List.Vlist))
	for _, v := range d.List.Vlist {
		out = append(out, domain.VideoRecord{
			BVID:         v.BVID,
			Title:        v.Title,
			DurationText: v.Length,
			CreatedAt:    time.Unix(v.Created, 0),
			PlayCount:    int64(v.Play),
			SourceURL:    domain.VideoURL(v.BVID),
		})
	}
	return out, nil
}

// SeasonPage 是合集接口的一页。
type SeasonPage struct {
	Videos []domain.VideoRecord
	Total  int
}

// SeasonArchives 拉取合集第 pageNum 页。合集接口不需要签名；顺序由 UP 主决定，不保证按时间排序。
func (c *Client) SeasonArchives(ctx context.Context, mid, seasonID int64, pageNum int) (SeasonPage, error) {
	q := url.Values{}
	q.Set("mid", strconv.FormatInt(mid, 10))
	q.Set("season_id", strconv.FormatInt(seasonID, 10))
	q.Set("sort_reverse", "false")
	q.Set("page_num", strconv.Itoa(pageNum))
	q.Set("page_size", strconv.Itoa(PageSize))

	env, err := c.getJSON(ctx, "合集", c.APIBase+"/x/polymer/web-space/seasons_archives_list", q, SpaceReferer)
	if err != nil {
		return SeasonPage{}, err
	}
	if env.Code != CodeOK {
		return SeasonPage{}, codeError("合集", env.Code, env.Message)
	}

	var d struct {
		Archives []struct {
			BVID     string `json:"bvid"`
			Title    string `json:"title"`
			Duration int    `json:"duration"`
			Pubdate  int64  `json:"pubdate"`
			Stat     struct {
				View flexInt `json:"view"`
			} `json:"stat"`
		} `json:"archives"`
		Page struct {
			Total int `json:"total"`
		} `json:"page"`
	}
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return SeasonPage{}, &NetworkError{Op: "合集解码", Err: err}
		}
	}

	page := SeasonPage{Total: d.Page.Total, Videos: make([]domain.VideoRecord, 0, len(d.Archives))}
	for _, a := range d.Archives {
		page.Videos = append(page.Videos, domain.VideoRecord{
			BVID:         a.BVID,
			Title:        a.Title,
			DurationText: FormatDuration(a.Duration),
			CreatedAt:    time.Unix(a.Pubdate, 0),
			PlayCount:    int64(a.Stat.View),
			SourceURL:    domain.VideoURL(a.BVID),
		})
	}
	return page, nil
}

// PageList 查询 bvid 第一个分 P 的 cid。
// 非 0 响应码或空列表返回 ok=false（不是错误）；只有网络类失败返回 err。
func (c *Client) PageList(ctx context.Context, bvid string) (cid int64, ok bool, err error) {
	q := url.Values{}
	q.Set("bvid", bvid)
	env, err := c.getJSON(ctx, "pagelist", c.APIBase+"/x/player/pagelist", q, WebReferer)
	if err != nil {
		return 0, false, err
	}
	if env.Code != CodeOK {
		return 0, false, nil
	}
	var pages []struct {
		CID int64 `json:"cid"`
	}
	if err := json.Unmarshal(env.Data, &pages); err != nil || len(pages) == 0 || pages[0].CID == 0 {
		return 0, false, nil
	}
	return pages[0].CID, true, nil
}

// VideoShot 拉取雪碧图元数据并归一化。字段缺失不在这里报错（由调用方校验）。
func (c *Client) VideoShot(ctx context.Context, bvid string, cid int64) (domain.SpriteSheet, error) {
	q := url.Values{}
	q.Set("bvid", bvid)
	q.Set("cid", strconv.FormatInt(cid, 10))
	q.Set("index", "1")
	env, err := c.getJSON(ctx, "videoshot", c.APIBase+"/x/player/videoshot", q, WebReferer)
	if err != nil {
		return domain.SpriteSheet{}, err
	}
	if env.Code != CodeOK {
		return domain.SpriteSheet{}, &APIError{Op: "videoshot", Code: env.Code, Message: env.Message}
	}
	return ParseVideoShot(env.Data)
}

// FetchImage 下载雪碧图原始字节。协议相对 URL（//host/...）补 https。
func (c *Client) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	return c.getBytes(ctx, "雪碧图下载", NormalizeURL(rawURL), WebReferer, maxImageBytes)
}

// VideoPage 下载视频详情页 HTML（用于从视频链接反查 UP 主）。
func (c *Client) VideoPage(ctx context.Context, bvid string) ([]byte, error) {
	return c.getBytes(ctx, "视频页", c.WebBase+"/video/"+url.PathEscape(bvid)+"/", WebReferer, maxJSONBytes)
}

// NormalizeURL 给协议相对 URL 补 https 前缀。
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") && u != "" {
		return "https://" + strings.TrimPrefix(u, "/")
	}
	return u
}

// FormatDuration 把秒数格式化为目录接口同款的 "m:ss" / "h:mm:ss"。
func FormatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, (sec%3600)/60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func (c *Client) getJSON(ctx context.Context, op, endpoint string, q url.Values, referer string) (envelope, error) {
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	b, err := c.getBytes(ctx, op, endpoint, referer, maxJSONBytes)
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return envelope{}, &NetworkError{Op: op + " 解码", Err: err}
	}
	return env, nil
}

func (c *Client) getBytes(ctx context.Context, op, endpoint, referer string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s：构造请求失败：%w", op, err)
	}
	req.Header.Set("Referer", referer)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &HTTPStatusError{URL: endpoint, StatusCode: resp.StatusCode}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &NetworkError{Op: op, Err: err}
	}
	if int64(len(b)) > limit {
		return nil, &NetworkError{Op: op, Err: errors.New("响应体过大")}
	}
	return b, nil
}

// flexInt 兼容数字、数字字符串与 "--" 之类的占位文本（解析失败按 0）。
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt(n)
		return nil
	}
	if x, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt(x)
		return nil
	}
	*f = 0
	return nil
}
