package tester

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	"golang.org/x/time/rate"
)

const speedDialTimeout = 3 * time.Second

// progressInterval 平滑速度的采样间隔
const progressInterval = 500 * time.Millisecond

// SpeedTestOptions 控制单个节点的多连接下载测速
type SpeedTestOptions struct {
	Conc        int           // 并发连接数
	Duration    time.Duration // 硬性墙钟时长，到点即停，与资源大小无关
	URL         string        // 测速资源地址
	RateLimitMB float64       // 客户端限速（MB/s），0 为不限
	// OnProgress 周期性接收 EWMA 平滑后的瞬时速度（MB/s），用于展示。
	// 最终结果不使用平滑值。可以为 nil。
	OnProgress func(mbps float64)
}

// workerStat 是单个下载工作者结束后上报的私有计数，
// 各工作者之间不共享任何可变计数器
type workerStat struct {
	bytes   int64
	elapsed time.Duration
}

// MultiDownload 对单个候选者执行时长受限的多连接下载测速。
// 所有工作者读取同一个候选者，读取循环在每次迭代检查墙钟截止时间；
// 单个连接失败只让该工作者贡献 0 字节，不影响其余工作者。
// 返回聚合速度：所有工作者字节总和 / 最慢工作者的耗时（MB/s）。
func MultiDownload(ctx context.Context, ip string, port int, opts SpeedTestOptions) float64 {
	parsed, err := url.Parse(opts.URL)
	if err != nil {
		return 0
	}
	host := parsed.Hostname()

	transport := &http.Transport{
		DialContext:         forcedDialContext(ip, port, speedDialTimeout),
		MaxIdleConnsPerHost: opts.Conc,
	}
	// 是否走 TLS 由 URL 的 scheme 决定（自定义 -url 可能是纯 HTTP），
	// 而不是像 Colo 识别那样按端口判断
	transport.TLSClientConfig = insecureTLSConfig()
	transport.TLSClientConfig.ServerName = host
	// 每次 Read 都带独立的套接字超时，防止对端悬挂拖死工作者
	baseDial := transport.DialContext
	transport.DialContext = func(ctx context.Context, network, address string) (net.Conn, error) {
		c, err := baseDial(ctx, network, address)
		if err != nil {
			return nil, err
		}
		return &deadlineConn{Conn: c, timeout: sockReadTimeout}, nil
	}

	client := &http.Client{Transport: transport}
	defer transport.CloseIdleConnections()

	var limiter *rate.Limiter
	if opts.RateLimitMB > 0 {
		bps := opts.RateLimitMB * 1024 * 1024
		limiter = rate.NewLimiter(rate.Limit(bps), int(bps))
	}

	start := time.Now()
	deadline := start.Add(opts.Duration)

	// 展示用的字节增量走通道汇聚到单一收集器，工作者之间无共享计数
	progressCh := make(chan int, 256)
	var progressWG sync.WaitGroup
	if opts.OnProgress != nil {
		progressWG.Add(1)
		go collectProgress(progressCh, opts.OnProgress, &progressWG)
	}

	statCh := make(chan workerStat, opts.Conc)
	var wg sync.WaitGroup
	for i := 0; i < opts.Conc; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statCh <- downloadWorker(ctx, client, parsed, host, deadline, limiter, progressCh, opts.OnProgress != nil)
		}()
	}
	wg.Wait()
	close(statCh)
	if opts.OnProgress != nil {
		close(progressCh)
		progressWG.Wait()
	}

	var totalBytes int64
	var slowest time.Duration
	for stat := range statCh {
		totalBytes += stat.bytes
		if stat.elapsed > slowest {
			slowest = stat.elapsed
		}
	}
	if slowest < 100*time.Millisecond {
		slowest = 100 * time.Millisecond
	}
	return float64(totalBytes) / 1024.0 / 1024.0 / slowest.Seconds()
}

// downloadWorker 是单条下载连接的读取循环，字节计数为工作者私有
func downloadWorker(ctx context.Context, client *http.Client, u *url.URL, host string, deadline time.Time, limiter *rate.Limiter, progressCh chan<- int, reportProgress bool) workerStat {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return workerStat{elapsed: time.Since(start)}
	}
	req.Host = host
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Connection", "keep-alive")

	resp, err := client.Do(req)
	if err != nil {
		return workerStat{elapsed: time.Since(start)}
	}
	defer resp.Body.Close()

	var read int64
	buf := make([]byte, readChunkSize)
	for {
		// 硬性截止检查在每次读取前进行，测速永远由时长终止而非下载完成
		if time.Now().After(deadline) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if limiter != nil {
			if err := limiter.WaitN(ctx, len(buf)); err != nil {
				break
			}
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			read += int64(n)
			if reportProgress {
				select {
				case progressCh <- n:
				default: // 展示通道满了就丢，精确计数在本地
				}
			}
		}
		if err != nil {
			break
		}
	}
	return workerStat{bytes: read, elapsed: time.Since(start)}
}

// collectProgress 拥有展示状态：按固定间隔把字节增量折算为
// EWMA 平滑后的瞬时速度并回调
func collectProgress(progressCh <-chan int, onProgress func(float64), wg *sync.WaitGroup) {
	defer wg.Done()
	avg := ewma.NewMovingAverage()
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var intervalBytes int64
	for {
		select {
		case n, ok := <-progressCh:
			if !ok {
				return
			}
			intervalBytes += int64(n)
		case <-ticker.C:
			mbps := float64(intervalBytes) / 1024.0 / 1024.0 / progressInterval.Seconds()
			avg.Add(mbps)
			onProgress(avg.Value())
			intervalBytes = 0
		}
	}
}
