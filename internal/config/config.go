package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// GeoService 描述一个地理位置查询服务
type GeoService struct {
	Name  string `yaml:"name" json:"name"`
	URL   string `yaml:"url" json:"url"`     // 包含一个 %s 占位符，替换为 IP
	Field string `yaml:"field" json:"field"` // 响应 JSON 中国家代码所在字段
}

// Config 结构用于映射 config.yaml 文件的内容
type Config struct {
	Mode string `yaml:"mode" json:"mode"`

	// 资源下载
	AssetDir             string            `yaml:"asset_dir" json:"asset_dir"`
	AssetURLs            map[string]string `yaml:"asset_urls" json:"asset_urls"`
	RefreshAssets        bool              `yaml:"refresh_assets" json:"refresh_assets"`
	DownloadRetries      int               `yaml:"download_retries" json:"download_retries"`
	DownloadRetryDelayMS int               `yaml:"download_retry_delay_ms" json:"download_retry_delay_ms"`
	IPVersion            string            `yaml:"ip_version" json:"ip_version"`

	// 延迟探测
	ProxyPort           int     `yaml:"proxy_port" json:"proxy_port"`
	TracePath           string  `yaml:"trace_path" json:"trace_path"`
	LatencyProbeCount   int     `yaml:"latency_probe_count" json:"latency_probe_count"`
	LatencyDivisor      float64 `yaml:"latency_divisor" json:"latency_divisor"`
	LatencyProbeDelayMS int     `yaml:"latency_probe_delay_ms" json:"latency_probe_delay_ms"`
	LatencyTimeoutMS    int     `yaml:"latency_timeout_ms" json:"latency_timeout_ms"`
	MaxLatency          float64 `yaml:"max_latency" json:"max_latency"`

	// 速度探测
	ThroughputTimeoutMS int     `yaml:"throughput_timeout_ms" json:"throughput_timeout_ms"`
	ThroughputReadBody  bool    `yaml:"throughput_read_body" json:"throughput_read_body"`
	MinSpeed            float64 `yaml:"min_speed" json:"min_speed"`

	// 并发与结果
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	TopN        int `yaml:"top_n" json:"top_n"`

	// 地理位置
	Enrichment       bool         `yaml:"enrichment" json:"enrichment"`
	GeoTimeoutMS     int          `yaml:"geo_timeout_ms" json:"geo_timeout_ms"`
	GeoRatePerMinute int          `yaml:"geo_rate_per_minute" json:"geo_rate_per_minute"`
	GeoServices      []GeoService `yaml:"geo_services" json:"geo_services"`

	// 输出
	Tag        string `yaml:"tag" json:"tag"`
	OutputPort int    `yaml:"output_port" json:"output_port"`
	ShowSpeed  bool   `yaml:"show_speed" json:"show_speed"`
	OutputFile string `yaml:"output_file" json:"output_file"`
	ExportJSON bool   `yaml:"export_json" json:"export_json"`
	ExportCSV  bool   `yaml:"export_csv" json:"export_csv"`

	// 定时运行间隔（分钟）
	ScheduleIntervalMin int `yaml:"schedule_interval_min" json:"schedule_interval_min"`
}

// LoadConfig 从指定路径加载和解析 YAML 配置文件。
// 加载顺序：内置默认值 -> mode 对应的预设 -> 文件中显式给出的字段
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析 YAML 内容
func Parse(data []byte) (*Config, error) {
	return ParseWithMode(data, "")
}

// ParseWithMode 与 Parse 相同，但 mode 非空时忽略文件中的 mode 字段
func ParseWithMode(data []byte, mode string) (*Config, error) {
	if mode == "" {
		var head struct {
			Mode string `yaml:"mode"`
		}
		if err := yaml.Unmarshal(data, &head); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
		mode = head.Mode
	}

	cfg, err := Preset(mode)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.Mode = mode
	if cfg.Mode == "" {
		cfg.Mode = ModeGeo
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save 将配置写回 YAML 文件
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate 校验配置，对可自动修正的值给出警告并修正
func (c *Config) Validate() error {
	if c.Mode == "" {
		c.Mode = ModeGeo
	}
	if _, ok := presets[c.Mode]; !ok {
		return fmt.Errorf("未知的运行模式: %q", c.Mode)
	}
	switch c.IPVersion {
	case "":
		c.IPVersion = "ipv4"
	case "ipv4", "ipv6":
	default:
		return fmt.Errorf("无效的 ip_version 配置: %s", c.IPVersion)
	}

	if c.Concurrency <= 0 {
		log.Printf("警告: concurrency 被设置为 %d，可能导致死锁。自动调整为默认值 %d。", c.Concurrency, DefaultConcurrency)
		c.Concurrency = DefaultConcurrency
	}
	if c.LatencyProbeCount <= 0 {
		log.Printf("警告: latency_probe_count 被设置为 %d，自动调整为 1。", c.LatencyProbeCount)
		c.LatencyProbeCount = 1
	}
	if c.LatencyDivisor <= 0 {
		log.Printf("警告: latency_divisor 被设置为 %.2f，自动调整为探测次数 %d。", c.LatencyDivisor, c.LatencyProbeCount)
		c.LatencyDivisor = float64(c.LatencyProbeCount)
	}
	if c.TopN < 0 {
		c.TopN = 0
	}
	if c.ProxyPort <= 0 || c.ProxyPort > 65535 {
		return fmt.Errorf("无效的 proxy_port: %d", c.ProxyPort)
	}
	if c.OutputFile == "" {
		c.OutputFile = "best_ips.txt"
	}
	if c.Enrichment && len(c.GeoServices) == 0 {
		return fmt.Errorf("enrichment 已开启但未配置 geo_services")
	}
	return nil
}

// CandidateFile 返回当前 IP 版本对应的候选列表文件名
func (c *Config) CandidateFile() string {
	if c.IPVersion == "ipv6" {
		return "ips-v6.txt"
	}
	return "ips-v4.txt"
}

// TargetFile 返回域名/路径描述文件名
func (c *Config) TargetFile() string {
	return "url.txt"
}

// AssetPath 返回资源文件在 asset_dir 下的路径
func (c *Config) AssetPath(name string) string {
	return filepath.Join(c.AssetDir, name)
}

// LatencyTimeout 0 表示不设超时
func (c *Config) LatencyTimeout() time.Duration {
	return time.Duration(c.LatencyTimeoutMS) * time.Millisecond
}

func (c *Config) LatencyProbeDelay() time.Duration {
	return time.Duration(c.LatencyProbeDelayMS) * time.Millisecond
}

func (c *Config) ThroughputTimeout() time.Duration {
	return time.Duration(c.ThroughputTimeoutMS) * time.Millisecond
}

func (c *Config) GeoTimeout() time.Duration {
	return time.Duration(c.GeoTimeoutMS) * time.Millisecond
}

func (c *Config) DownloadRetryDelay() time.Duration {
	return time.Duration(c.DownloadRetryDelayMS) * time.Millisecond
}

func (c *Config) ScheduleInterval() time.Duration {
	return time.Duration(c.ScheduleIntervalMin) * time.Minute
}

// Clone 返回配置的深拷贝，用于单次运行的覆盖
func (c *Config) Clone() *Config {
	cp := *c
	cp.AssetURLs = make(map[string]string, len(c.AssetURLs))
	for k, v := range c.AssetURLs {
		cp.AssetURLs[k] = v
	}
	cp.GeoServices = append([]GeoService(nil), c.GeoServices...)
	return &cp
}
