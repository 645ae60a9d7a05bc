package tester

import (
	"bufio"
	"net/http"
	"time"
)

const (
	coloDialTimeout  = 2 * time.Second
	coloTotalTimeout = 3 * time.Second
)

// ColoOutcome 是一次数据中心识别的显式结果。
// Failure 为 FailureParse 表示响应正常但没有 colo 字段，
// 为网络类失败时 Colo 为空，由调用方决定哨兵值。
type ColoOutcome struct {
	Colo    string
	Failure FailureKind
}

// ResolveColo 对候选者发送固定的 /cdn-cgi/trace 诊断请求，
// 逐行读取响应直到出现 colo=XXX 字段或连接结束。
// 加密端口上使用固定虚拟主机名握手并跳过证书校验（目标是裸 IP）。
func ResolveColo(ip string, port int) ColoOutcome {
	scheme := "http"
	transport := &http.Transport{
		DialContext: forcedDialContext(ip, port, coloDialTimeout),
	}
	if IsHTTPSPort(port) {
		scheme = "https"
		transport.TLSClientConfig = insecureTLSConfig()
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   coloTotalTimeout,
	}

	req, err := http.NewRequest(http.MethodGet, scheme+"://"+TraceHost+"/cdn-cgi/trace", nil)
	if err != nil {
		return ColoOutcome{Failure: FailureNetwork}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "close")

	resp, err := client.Do(req)
	if err != nil {
		return ColoOutcome{Failure: classifyNetErr(err)}
	}
	defer resp.Body.Close()

	// 逐行增量读取，出现目标字段即可提前返回，不必等整个响应体
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if m := coloRe.FindStringSubmatch(line); m != nil {
			return ColoOutcome{Colo: m[1]}
		}
		if err != nil {
			break
		}
	}
	return ColoOutcome{Failure: FailureParse}
}
