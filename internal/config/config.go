package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 包含一次完整测速运行的全部参数。
// 来源优先级：命令行标志 > YAML 配置文件 > 内置默认值。
// JSON 标签与 YAML 键保持一致，Web 模式通过同样的键名覆盖配置。
type Config struct {
	IPFile         string  `yaml:"ip_file" json:"ip_file"`                 // 自定义 IP 段文件，为空则使用内置 Cloudflare 段
	Port           int     `yaml:"port" json:"port"`                       // 目标端口
	MaxScan        int     `yaml:"max_scan" json:"max_scan"`               // 候选 IP 总数
	ScanConcurrent int     `yaml:"scan_concurrent" json:"scan_concurrent"` // 延迟扫描并发数
	Conc           int     `yaml:"conc" json:"conc"`                       // 单节点下载测速并发连接数
	DownloadNum    int     `yaml:"download_num" json:"download_num"`       // 进入下载测速的节点数量
	Duration       int     `yaml:"duration" json:"duration"`               // 单节点测速时长（秒）
	StopThreshold  float64 `yaml:"stop_threshold" json:"stop_threshold"`   // 熔断阈值（MB/s）
	Unique         bool    `yaml:"unique" json:"unique"`                   // C 段去重模式
	Output         string  `yaml:"output" json:"output"`                   // 结果 CSV 路径
	URL            string  `yaml:"url" json:"url"`                         // 下载测速 URL
	RateLimitMB    float64 `yaml:"rate_limit_mb" json:"rate_limit_mb"`     // 客户端限速（MB/s），0 为不限
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Port:           443,
		MaxScan:        2000,
		ScanConcurrent: 200,
		Conc:           4,
		DownloadNum:    10,
		Duration:       6,
		StopThreshold:  25.0,
		Output:         "result_colo.csv",
		URL:            "https://speed.cloudflare.com/__down?bytes=2000000000",
	}
}

// LoadFile 将指定 YAML 文件中的配置项覆盖到 cfg 上。
// 文件中未出现的字段保持原值。
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("无法读取配置文件 '%s': %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件 '%s' 失败: %w", path, err)
	}
	return nil
}

// Validate 在任何网络活动开始前校验配置，非法配置直接终止运行
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("无效端口: %d", c.Port)
	}
	if c.MaxScan <= 0 {
		return fmt.Errorf("扫描数量必须大于 0，当前为 %d", c.MaxScan)
	}
	if c.ScanConcurrent <= 0 {
		return fmt.Errorf("扫描并发数必须大于 0，当前为 %d", c.ScanConcurrent)
	}
	if c.Conc <= 0 {
		return fmt.Errorf("下载并发数必须大于 0，当前为 %d", c.Conc)
	}
	if c.DownloadNum <= 0 {
		return fmt.Errorf("测速节点数量必须大于 0，当前为 %d", c.DownloadNum)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("测速时长必须大于 0 秒，当前为 %d", c.Duration)
	}
	if c.StopThreshold < 0 {
		return fmt.Errorf("熔断阈值不能为负数: %.2f", c.StopThreshold)
	}
	if c.RateLimitMB < 0 {
		return fmt.Errorf("限速值不能为负数: %.2f", c.RateLimitMB)
	}
	if c.Output == "" {
		return fmt.Errorf("输出文件路径不能为空")
	}
	return nil
}
