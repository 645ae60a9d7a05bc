package tester

import (
	"errors"
	"net"
	"os"
	"strconv"
	"syscall"
	"time"
)

// FailureKind 对单次测试单元的失败原因分类。
// 管道根据类别决定候选者的去留，单个单元的失败从不向上抛出错误。
type FailureKind int

const (
	// FailureNone 表示成功
	FailureNone FailureKind = iota
	// FailureTimeout 连接或读取超时
	FailureTimeout
	// FailureRefused 对端拒绝连接
	FailureRefused
	// FailureNetwork 其他网络错误（路由不可达、连接被重置等）
	FailureNetwork
	// FailureParse 响应可读但缺少期望的字段
	FailureParse
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "ok"
	case FailureTimeout:
		return "timeout"
	case FailureRefused:
		return "refused"
	case FailureNetwork:
		return "network"
	case FailureParse:
		return "parse"
	}
	return "unknown"
}

// classifyNetErr 将网络错误归入失败类别
func classifyNetErr(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}
	return FailureNetwork
}

// PingOutcome 是一次 TCP 连接探测的显式结果：
// 要么携带延迟，要么携带失败类别，二者互斥
type PingOutcome struct {
	Latency time.Duration
	Failure FailureKind
}

// OK 报告探测是否成功
func (o PingOutcome) OK() bool {
	return o.Failure == FailureNone
}

// TCPPing 对 (ip, port) 发起一次裸 TCP 连接，测量从发起到建立的耗时，
// 随后立即关闭连接。任何失败都转化为结果值，不产生错误
func TCPPing(ip string, port int, timeout time.Duration) PingOutcome {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return PingOutcome{Failure: classifyNetErr(err)}
	}
	elapsed := time.Since(start)
	conn.Close()
	return PingOutcome{Latency: elapsed}
}
