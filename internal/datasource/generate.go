package datasource

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"strings"

	"github.com/CFM503/CFST/pkg/model"
)

// uniqueAttemptFactor 限制 C 段去重模式的尝试次数上限为目标数量的倍数，
// 防止地址空间太小无法凑满时陷入死循环
const uniqueAttemptFactor = 5

// perRangeMargin 均匀模式下每个段多抽取的数量，补偿取整带来的缺口
const perRangeMargin = 3

// randIPFromCIDR 从一个 CIDR 段中随机抽取一个可用主机地址。
// 对于主机空间大于 2 的段（/30 及更宽），排除网络地址和广播地址；
// /31 和 /32 的所有地址都视为可用。解析失败返回空串。
func randIPFromCIDR(cidr string) string {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return ""
	}
	ip4 := ipNet.IP.To4()
	if ip4 == nil {
		return ""
	}

	ones, bits := ipNet.Mask.Size()
	hostBits := bits - ones
	base := binary.BigEndian.Uint32(ip4)

	var offset uint32
	switch {
	case hostBits == 0:
		offset = 0
	case hostBits == 1:
		offset = uint32(rand.Intn(2))
	default:
		size := uint32(1) << hostBits
		offset = uint32(rand.Intn(int(size-2))) + 1
	}

	out := make(net.IP, net.IPv4len)
	binary.BigEndian.PutUint32(out, base+offset)
	return out.String()
}

// subnetKey 返回 IPv4 地址的 /24 前缀（前三段），用作去重键
func subnetKey(ip string) string {
	idx := strings.LastIndexByte(ip, '.')
	if idx < 0 {
		return ip
	}
	return ip[:idx]
}

// GenerateCandidates 从地址段列表生成待测候选池。
// unique 为真时走 C 段去重模式：每个 /24 子网最多出现一个候选；
// 否则每个段均匀抽样后整体打乱并截断到 maxScan。
// 无法解析的条目直接跳过；不含 '/' 的条目按单个 IP 原样收录。
func GenerateCandidates(ranges []string, maxScan, port int, unique bool) []model.Candidate {
	var ips []string
	if unique {
		ips = generateUnique(ranges, maxScan)
	} else {
		ips = generateUniform(ranges, maxScan)
	}

	candidates := make([]model.Candidate, 0, len(ips))
	for _, ip := range ips {
		candidates = append(candidates, model.Candidate{IP: ip, Port: port})
	}
	return candidates
}

func generateUnique(ranges []string, maxScan int) []string {
	if len(ranges) == 0 {
		return nil
	}
	var ips []string
	seen := make(map[string]bool)
	maxAttempts := maxScan * uniqueAttemptFactor

	for attempts := 0; len(ips) < maxScan && attempts < maxAttempts; attempts++ {
		r := ranges[rand.Intn(len(ranges))]
		var ip string
		if strings.Contains(r, "/") {
			ip = randIPFromCIDR(r)
			if ip == "" {
				continue
			}
		} else {
			if net.ParseIP(r) == nil {
				continue
			}
			ip = r
		}
		key := subnetKey(ip)
		if !seen[key] {
			seen[key] = true
			ips = append(ips, ip)
		}
	}
	return ips
}

func generateUniform(ranges []string, maxScan int) []string {
	if len(ranges) == 0 {
		return nil
	}
	var ips []string
	perRange := maxScan/len(ranges) + perRangeMargin

	for _, r := range ranges {
		if !strings.Contains(r, "/") {
			if net.ParseIP(r) != nil {
				ips = append(ips, r)
			}
			continue
		}
		for i := 0; i < perRange; i++ {
			if ip := randIPFromCIDR(r); ip != "" {
				ips = append(ips, ip)
			}
		}
	}

	rand.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })
	if len(ips) > maxScan {
		ips = ips[:maxScan]
	}
	return ips
}

// DescribeSource 返回一段用于日志的来源描述
func DescribeSource(ipFile string, n int) string {
	if ipFile != "" {
		return fmt.Sprintf("文件 %s（%d 个段）", ipFile, n)
	}
	return fmt.Sprintf("内置 Cloudflare 段（%d 个）", n)
}
