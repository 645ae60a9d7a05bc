package tester

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"time"
)

const (
	// TraceHost 是诊断请求和 TLS 握手使用的固定虚拟主机名。
	// 候选者是裸 IP 而非可验证的域名，因此证书校验必须关闭。
	TraceHost = "speed.cloudflare.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36"

	// readChunkSize 下载读取的分块大小
	readChunkSize = 64 * 1024

	// sockReadTimeout 单次读取的套接字超时，与测速总时长互相独立
	sockReadTimeout = 5 * time.Second
)

// coloRe 从 /cdn-cgi/trace 响应中提取 colo=XXX 字段
var coloRe = regexp.MustCompile(`colo=([A-Z]+)`)

// httpsPorts 是 Cloudflare 约定的 HTTPS 端口，命中时走 TLS 握手
var httpsPorts = map[int]bool{
	443: true, 2053: true, 2083: true, 2087: true, 2096: true, 8443: true,
}

// IsHTTPSPort 判断端口是否应当使用加密传输
func IsHTTPSPort(port int) bool {
	return httpsPorts[port]
}

// forcedDialContext 返回一个自定义拨号函数，无视请求中的目标地址，
// 强制连接到指定的 (ip, port)，使测速流量落在被测候选者上
func forcedDialContext(ip string, port int, timeout time.Duration) func(ctx context.Context, network, address string) (net.Conn, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// insecureTLSConfig 返回以固定虚拟主机名握手、跳过证书校验的 TLS 配置
func insecureTLSConfig() *tls.Config {
	return &tls.Config{
		ServerName:         TraceHost,
		InsecureSkipVerify: true,
	}
}

// deadlineConn 在每次 Read 前刷新一个固定的读超时，
// 防止某个连接在对端停止发送后无限期阻塞工作者
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
