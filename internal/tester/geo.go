package tester

import (
	"Best_IP_Selector_Go/internal/config"
	pkgerrors "Best_IP_Selector_Go/pkg/errors"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	// countryCodeRegexp 合法的国家/地区代码
	countryCodeRegexp = regexp.MustCompile(`^[A-Z]{2}$`)
)

// GeoResolver 依次尝试多个地理位置服务，第一个返回合法结果的服务胜出
type GeoResolver struct {
	services []config.GeoService
	client   *http.Client
	limiter  *rate.Limiter // 所有 worker 共享，nil 表示不限速
}

// NewGeoResolver 创建解析器。ratePerMinute 为 0 表示不限速
func NewGeoResolver(services []config.GeoService, timeout time.Duration, ratePerMinute int) *GeoResolver {
	r := &GeoResolver{
		services: services,
		client:   &http.Client{Timeout: timeout},
	}
	if ratePerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), 1)
	}
	return r
}

// Locate 返回 ip 的国家代码。所有服务都失败时返回包装了 ErrLocationUnavailable 的错误
func (r *GeoResolver) Locate(ctx context.Context, ip string) (string, error) {
	lastErr := errors.New("no geolocation service configured")
	for _, svc := range r.services {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		code, err := r.lookup(ctx, svc, ip)
		if err == nil {
			return code, nil
		}
		lastErr = fmt.Errorf("%s: %w", svc.Name, err)
	}
	return "", &pkgerrors.ProbeError{
		Address: ip,
		Stage:   "location",
		Err:     fmt.Errorf("%w: %v", pkgerrors.ErrLocationUnavailable, lastErr),
	}
}

func (r *GeoResolver) lookup(ctx context.Context, svc config.GeoService, ip string) (string, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(svc.URL, ip), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("invalid status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	return extractCountryCode(body, svc.Field)
}

// extractCountryCode 从 JSON 响应中取出 field 字段并规范化为大写两字母代码
func extractCountryCode(body []byte, field string) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	raw, ok := payload[field].(string)
	if !ok {
		return "", fmt.Errorf("响应中缺少字段 %s", field)
	}
	code := strings.ToUpper(strings.TrimSpace(strings.Trim(raw, `"`)))
	if !countryCodeRegexp.MatchString(code) {
		return "", fmt.Errorf("无效的国家代码: %q", raw)
	}
	return code, nil
}
