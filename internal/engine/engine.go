package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/CFM503/CFST/internal/config"
	"github.com/CFM503/CFST/internal/datasource"
	"github.com/CFM503/CFST/internal/tester"
	"github.com/CFM503/CFST/pkg/model"
)

const (
	// pingTimeout 单次 TCP 探测超时
	pingTimeout = 1 * time.Second
	// coloConcurrency Colo 识别阶段并发数。远低于扫描阶段：
	// 每个单元要保持连接并发出真实请求，而探测只是瞬时的连接即关
	coloConcurrency = 20
	// coloOversample Colo 阶段按目标数量的倍数超采，容忍识别失败
	coloOversample = 2
	// fastExitCount 熔断：累计这么多个达标节点后停止后续测速
	fastExitCount = 5
)

// Callbacks 把管道各阶段的进度暴露给调用方（CLI 进度条或 WebSocket 推送）。
// 所有字段都可以为 nil。引擎自身从不直接打印。
type Callbacks struct {
	OnLog          func(msg string)
	OnScanProgress func(done, total, valid int)
	OnColoProgress func(done, total int)
	OnSpeedSample  func(mbps float64)         // 当前节点的平滑瞬时速度
	OnNodeTested   func(res model.NodeResult) // 单节点测速+评分完成
	OnFastExit     func()
}

func (cb Callbacks) log(format string, args ...interface{}) {
	if cb.OnLog != nil {
		cb.OnLog(fmt.Sprintf(format, args...))
	}
}

// speedTestFn 可在测试中替换为假测速实现
var speedTestFn = tester.MultiDownload

// Run 执行一次完整的优选管道：
// 生成候选 → 并发延迟探测 → 按延迟排序 → Colo 识别（超采）→
// 逐节点多连接测速（带熔断）→ 评分 → 按分数排序。
// ctx 取消时在下一个安全点停止并返回 ctx 的错误，调用方不应再写出结果。
func Run(ctx context.Context, cfg *config.Config, cb Callbacks) ([]model.NodeResult, error) {
	// --- 1. 生成候选池 ---
	ranges := datasource.CloudflareIPv4Ranges
	if cfg.IPFile != "" {
		var err error
		ranges, err = datasource.LoadRangesFromFile(cfg.IPFile)
		if err != nil {
			return nil, err
		}
	}
	cb.log("来源: %s", datasource.DescribeSource(cfg.IPFile, len(ranges)))

	candidates := datasource.GenerateCandidates(ranges, cfg.MaxScan, cfg.Port, cfg.Unique)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("没有生成任何候选 IP，请检查 IP 段列表")
	}
	mode := ""
	if cfg.Unique {
		mode = " [C段去重]"
	}
	cb.log("扫描 %d 个 IP%s（并发 %d）...", len(candidates), mode, cfg.ScanConcurrent)

	// --- 2. 并发延迟探测 ---
	valid, err := probeLatency(ctx, candidates, cfg.ScanConcurrent, cb)
	if err != nil {
		return nil, err
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("没有可达的 IP，请检查网络或路由")
	}
	cb.log("探测完成，可达 %d 个", len(valid))

	sort.Slice(valid, func(i, j int) bool {
		return valid[i].TCPLatency < valid[j].TCPLatency
	})

	// --- 3. Colo 识别（延迟最低的 2×N 个，超采容错）---
	topN := cfg.DownloadNum * coloOversample
	if topN > len(valid) {
		topN = len(valid)
	}
	coloSet := valid[:topN]
	cb.log("识别数据中心（Top %d）...", len(coloSet))
	if err := resolveColos(ctx, coloSet, cb); err != nil {
		return nil, err
	}

	// --- 4. 逐节点下载测速 + 评分（带熔断）---
	finalN := cfg.DownloadNum
	if finalN > len(coloSet) {
		finalN = len(coloSet)
	}
	queue := coloSet[:finalN]
	cb.log("多连接测速（%d 连接 × %d 秒，共 %d 个节点）...", cfg.Conc, cfg.Duration, len(queue))

	results, err := testThroughput(ctx, queue, cfg, cb)
	if err != nil {
		return nil, err
	}

	// --- 5. 按综合评分倒序 ---
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// probeReport 是探测工作者通过通道上报的单元结果
type probeReport struct {
	cand    model.Candidate
	outcome tester.PingOutcome
}

// probeLatency 用高扇出工作池并发探测所有候选者。
// 工作者只通过通道上报结果；可达节点列表与进度计数
// 由唯一的收集器协程持有，不需要任何互斥锁。
func probeLatency(ctx context.Context, candidates []model.Candidate, concurrency int, cb Callbacks) ([]model.NodeResult, error) {
	total := len(candidates)
	reportCh := make(chan probeReport, concurrency)

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(concurrency, func(item interface{}) {
		defer wg.Done()
		cand := item.(model.Candidate)
		if ctx.Err() != nil {
			reportCh <- probeReport{cand: cand, outcome: tester.PingOutcome{Failure: tester.FailureTimeout}}
			return
		}
		reportCh <- probeReport{cand: cand, outcome: tester.TCPPing(cand.IP, cand.Port, pingTimeout)}
	})
	if err != nil {
		return nil, fmt.Errorf("创建扫描工作池失败: %w", err)
	}
	defer pool.Release()

	var valid []model.NodeResult
	collectorDone := make(chan struct{})
	go func() {
		defer close(collectorDone)
		done := 0
		for rep := range reportCh {
			done++
			if rep.outcome.OK() {
				valid = append(valid, model.NewNodeResult(rep.cand.IP, rep.cand.Port, rep.outcome.Latency))
			}
			if cb.OnScanProgress != nil {
				cb.OnScanProgress(done, total, len(valid))
			}
		}
	}()

	for _, cand := range candidates {
		wg.Add(1)
		if err := pool.Invoke(cand); err != nil {
			wg.Done()
			reportCh <- probeReport{cand: cand, outcome: tester.PingOutcome{Failure: tester.FailureNetwork}}
		}
	}
	wg.Wait()
	close(reportCh)
	<-collectorDone

	return valid, ctx.Err()
}

// resolveColos 原地补全每个节点的数据中心代码，不增删也不重排节点。
// 网络失败记为 ERR，响应中缺少字段记为 UNK（创建时的默认值）。
func resolveColos(ctx context.Context, nodes []model.NodeResult, cb Callbacks) error {
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0
	sem := make(chan struct{}, coloConcurrency)

	for i := range nodes {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			if ctx.Err() == nil {
				out := tester.ResolveColo(nodes[idx].IP, nodes[idx].Port)
				switch {
				case out.Failure == tester.FailureNone:
					nodes[idx].Colo = out.Colo
				case out.Failure == tester.FailureParse:
					nodes[idx].Colo = model.ColoUnknown
				default:
					nodes[idx].Colo = model.ColoError
				}
			}

			mu.Lock()
			done++
			d := done
			mu.Unlock()
			if cb.OnColoProgress != nil {
				cb.OnColoProgress(d, len(nodes))
			}
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

// testThroughput 逐个节点测速。节点之间严格串行：并行测多个节点会
// 互相争抢上行带宽，结果失去可比性。节点内部由 MultiDownload 做连接扇出。
func testThroughput(ctx context.Context, queue []model.NodeResult, cfg *config.Config, cb Callbacks) ([]model.NodeResult, error) {
	var results []model.NodeResult
	fastCount := 0

	for i := range queue {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		node := queue[i]
		cb.log("测速 [%d/%d] %s ...", i+1, len(queue), node.IP)

		speed := speedTestFn(ctx, node.IP, node.Port, tester.SpeedTestOptions{
			Conc:        cfg.Conc,
			Duration:    time.Duration(cfg.Duration) * time.Second,
			URL:         cfg.URL,
			RateLimitMB: cfg.RateLimitMB,
			OnProgress:  cb.OnSpeedSample,
		})
		node.DownloadSpeed = speed
		node.CalcScore()
		results = append(results, node)
		if cb.OnNodeTested != nil {
			cb.OnNodeTested(node)
		}

		if speed >= cfg.StopThreshold {
			fastCount++
			if fastCount >= fastExitCount {
				if cb.OnFastExit != nil {
					cb.OnFastExit()
				}
				break
			}
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return results, nil
}
