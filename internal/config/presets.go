package config

import "fmt"

const (
	// ModeGeo 带地理位置标注的全量筛选模式
	ModeGeo = "geo"
	// ModeTop 高阈值、只保留前 20 名的模式
	ModeTop = "top"

	DefaultConcurrency = 200
	DefaultAssetBase   = "https://www.baipiao.eu.org/cloudflare"
)

var presets = map[string]func(*Config){
	ModeGeo: func(c *Config) {},
	ModeTop: func(c *Config) {
		c.LatencyProbeCount = 10
		c.LatencyDivisor = 10
		c.LatencyProbeDelayMS = 200
		c.LatencyTimeoutMS = 2000
		c.MaxLatency = 500
		c.MinSpeed = 500
		c.Concurrency = 500
		c.TopN = 20
		c.Enrichment = false
		c.Tag = "CF"
	},
}

// DefaultGeoServices 默认的三个地理位置服务，按顺序回退
func DefaultGeoServices() []GeoService {
	return []GeoService{
		{Name: "ip-api", URL: "http://ip-api.com/json/%s", Field: "countryCode"},
		{Name: "ipinfo", URL: "http://ipinfo.io/%s/json", Field: "country"},
		{Name: "freegeoip", URL: "https://freegeoip.app/json/%s", Field: "country_code"},
	}
}

// DefaultConfig 返回 geo 模式的默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode:     ModeGeo,
		AssetDir: "asset",
		AssetURLs: map[string]string{
			"colo.txt":   DefaultAssetBase + "/colo",
			"url.txt":    DefaultAssetBase + "/url",
			"ips-v4.txt": DefaultAssetBase + "/ips-v4",
			"ips-v6.txt": DefaultAssetBase + "/ips-v6",
		},
		DownloadRetries:      3,
		DownloadRetryDelayMS: 2000,
		IPVersion:            "ipv4",

		ProxyPort:         80,
		TracePath:         "/cdn-cgi/trace",
		LatencyProbeCount: 3,
		LatencyDivisor:    3,
		MaxLatency:        1000,

		ThroughputTimeoutMS: 10000,
		MinSpeed:            30,

		Concurrency: DefaultConcurrency,
		TopN:        0,

		Enrichment:   true,
		GeoTimeoutMS: 5000,
		GeoServices:  DefaultGeoServices(),

		Tag:        "CF",
		OutputPort: 80,
		ShowSpeed:  true,
		OutputFile: "best_ips.txt",

		ScheduleIntervalMin: 60,
	}
}

// Preset 返回以默认值为基础、应用了指定模式预设的配置。空字符串视为 geo
func Preset(mode string) (*Config, error) {
	if mode == "" {
		mode = ModeGeo
	}
	apply, ok := presets[mode]
	if !ok {
		return nil, fmt.Errorf("未知的运行模式: %q", mode)
	}
	cfg := DefaultConfig()
	cfg.Mode = mode
	apply(cfg)
	return cfg, nil
}
