// Package wbi 实现目录接口要求的 WBI 参数签名。
//
// 置换表是平台侧的版本常量；平台改算法时只替换 MixinTable，签名流程不动。
package wbi

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"path"
	"sort"
	"strings"
)

// MixinTable 是 64 项的字符置换表（当前平台版本）。
var MixinTable = [64]int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35,
	27, 43, 5, 49, 33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13,
	37, 48, 7, 16, 24, 55, 40, 61, 26, 17, 0, 1, 60, 51, 30, 4,
	22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11, 36, 20, 34, 44, 52,
}

// KeyLen 是派生 key 的长度。
const KeyLen = 32

// stripChars 是签名前要从参数值里剔除的字符。
const stripChars = "!*()'"

// KeyFromURL 取 URL 路径最后一段的文件名主干（去扩展名）。
//
//	https://i0.hdslb.com/bfs/wbi/7cd08494.png -> 7cd08494
func KeyFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	base := path.Base(p)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if base == "/" || base == "." {
		return ""
	}
	return base
}

// MixinKey 按 MixinTable 重排 imgKey+subKey，截取前 32 个字符。
// 超出拼接长度的下标直接跳过。
func MixinKey(imgKey, subKey string) string {
	raw := imgKey + subKey
	var b strings.Builder
	b.Grow(KeyLen)
	for _, i := range MixinTable {
		if i >= len(raw) {
			continue
		}
		b.WriteByte(raw[i])
		if b.Len() == KeyLen {
			break
		}
	}
	return b.String()
}

// Encode 生成参与签名的查询串：剔除特殊字符、按 key 升序、value 全量百分号编码。
// 空格编码为 %20（不是 +）。
func Encode(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(escape(clean(params[k])))
	}
	return b.String()
}

// Sign 返回 w_rid：md5(Encode(params) + key) 的十六进制。
//
// 约束：wts 必须在调用前已经放进 params（时间戳本身参与签名）。
func Sign(params map[string]string, key string) string {
	sum := md5.Sum([]byte(Encode(params) + key))
	return hex.EncodeToString(sum[:])
}

// Signed 返回带 w_rid 的完整查询参数（不修改入参）。
func Signed(params map[string]string, key string) url.Values {
	v := make(url.Values, len(params)+1)
	for k, val := range params {
		v.Set(k, clean(val))
	}
	v.Set("w_rid", Sign(params, key))
	return v
}

func clean(s string) string {
	if !strings.ContainsAny(s, stripChars) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(stripChars, r) {
			return -1
		}
		return r
	}, s)
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
