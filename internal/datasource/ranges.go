package datasource

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// CloudflareIPv4Ranges 是内置的 Cloudflare IPv4 地址段列表，
// 在用户没有通过 -f 提供自定义文件时使用。
var CloudflareIPv4Ranges = []string{
	"173.245.48.0/20", "103.21.244.0/22", "103.22.200.0/22", "103.31.4.0/22",
	"141.101.64.0/18", "108.162.192.0/18", "190.93.240.0/20", "188.114.96.0/20",
	"197.234.240.0/22", "198.41.128.0/17", "162.158.0.0/15", "104.16.0.0/13",
	"104.24.0.0/14", "172.64.0.0/13", "131.0.72.0/22",
}

// LoadRangesFromFile 从文件读取地址段列表，每行一个 CIDR 段或单个 IP。
// 忽略空行和以 '#' 开头的注释行。条目是否合法在生成阶段判断，
// 这里只做逐行收集。
func LoadRangesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法打开 IP 段文件 '%s': %w", filePath, err)
	}
	defer file.Close()

	var ranges []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ranges = append(ranges, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取 IP 段文件时出错: %w", err)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("IP 段文件 '%s' 为空或未包含有效条目", filePath)
	}
	return ranges, nil
}
