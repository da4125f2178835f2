package tester

import (
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultProxyPort 候选 IP 作为 HTTP 代理时的默认端口
	DefaultProxyPort = 80

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/98.0.4758.80 Safari/537.36"
)

var (
	// ColoRegexp 用于从 cf-ray 中提取数据中心代码
	ColoRegexp = regexp.MustCompile(`[A-Z]{3}`)
)

// ProxyURL 返回把候选地址当作 HTTP 代理时的地址，IPv6 会加上方括号
func ProxyURL(ip string, port int) *url.URL {
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(ip, strconv.Itoa(port))}
}

// newProxyClient 创建一个所有请求都经由候选 IP 转发的 HTTP 客户端。timeout 为 0 表示不限时
func newProxyClient(ip string, port int, timeout time.Duration) (*http.Client, *http.Transport) {
	transport := &http.Transport{
		Proxy: http.ProxyURL(ProxyURL(ip, port)),
		DialContext: (&net.Dialer{
			Timeout: dialTimeout(timeout),
		}).DialContext,
		MaxIdleConnsPerHost: 1,
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // 阻止重定向
		},
	}
	return client, transport
}

func dialTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 30 * time.Second
	}
	return timeout
}

// getHeaderColo 从响应头中获取数据中心（Colo）代码
func getHeaderColo(header http.Header) (colo string) {
	if header.Get("Server") == "cloudflare" {
		colo = header.Get("cf-ray") // 示例 cf-ray: 7bd32409eda7b020-SJC
	} else {
		colo = header.Get("x-amz-cf-pop") // AWS CloudFront
	}
	if colo == "" {
		return ""
	}
	return ColoRegexp.FindString(colo)
}

// parseTraceColo 从 /cdn-cgi/trace 的响应体中读取 colo= 行
func parseTraceColo(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if value, ok := strings.CutPrefix(line, "colo="); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func statusOK(code int) bool {
	return code >= 200 && code < 400
}
