package bili

import (
	"errors"
	"fmt"
	"strings"
)

// 平台响应码（只列出需要区别处理的几个）。
const (
	CodeOK          = 0
	CodeNotLoggedIn = -101
	CodeRiskControl = -352
	CodeBadSign     = -3
)

// AuthError 表示凭据无效或已过期（-101）。整次抓取终止，不重试。
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "凭据无效或已过期：" + msgOr(e.Message, "账号未登录")
}

// ThrottledError 表示被风控拒绝（-352）。调用方只能在外部降低频率后重跑。
type ThrottledError struct {
	Message string
}

func (e *ThrottledError) Error() string {
	return "风控校验失败：" + msgOr(e.Message, "请求被拒绝")
}

// SignatureError 表示签名被拒绝（-3），通常意味着 key 派生算法已过时。
type SignatureError struct {
	Message string
}

func (e *SignatureError) Error() string {
	return "签名校验失败：" + msgOr(e.Message, "API 签名错误")
}

// SignError 表示导航接口返回了非 0（且非 -101）的响应码，无法派生签名 key。
type SignError struct {
	Code    int
	Message string
}

func (e *SignError) Error() string {
	return fmt.Sprintf("获取签名 key 失败：code=%d %s", e.Code, strings.TrimSpace(e.Message))
}

// APIError 表示其余非 0 响应码。
type APIError struct {
	Op      string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s：code=%d %s", e.Op, e.Code, strings.TrimSpace(e.Message))
}

// HTTPStatusError 表示非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NetworkError 包装传输层与解码失败（超时、连接重置、响应体不是合法 JSON 等）。
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + "：" + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable 判断错误是否属于“重试一次可能恢复”的类别：
// 只有网络错误与 HTTP 状态错误可以重试，响应码类错误一律不重试。
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPStatusError
	return errors.As(err, &he)
}

// codeError 把目录/合集接口的非 0 响应码映射到错误类型。
func codeError(op string, code int, msg string) error {
	switch code {
	case CodeNotLoggedIn:
		return &AuthError{Message: msg}
	case CodeRiskControl:
		return &ThrottledError{Message: msg}
	case CodeBadSign:
		return &SignatureError{Message: msg}
	default:
		return &APIError{Op: op, Code: code, Message: msg}
	}
}

func msgOr(s, def string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	return s
}
