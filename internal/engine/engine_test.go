package engine

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFM503/CFST/internal/config"
	"github.com/CFM503/CFST/internal/tester"
	"github.com/CFM503/CFST/pkg/model"
)

// withFakeSpeeds 在测试期间把逐节点测速替换为查表实现
func withFakeSpeeds(t *testing.T, speeds map[string]float64) *[]string {
	t.Helper()
	orig := speedTestFn
	t.Cleanup(func() { speedTestFn = orig })

	tested := &[]string{}
	speedTestFn = func(ctx context.Context, ip string, port int, opts tester.SpeedTestOptions) float64 {
		*tested = append(*tested, ip)
		return speeds[ip]
	}
	return tested
}

func makeQueue(n int) []model.NodeResult {
	queue := make([]model.NodeResult, 0, n)
	for i := 0; i < n; i++ {
		node := model.NewNodeResult("10.0.0."+strconv.Itoa(i+1), 443, time.Duration(i+1)*10*time.Millisecond)
		node.Colo = "LAX"
		queue = append(queue, node)
	}
	return queue
}

func TestThroughputCircuitBreaker(t *testing.T) {
	// 10 个节点全部达标：熔断应恰好在第 5 个之后触发
	speeds := map[string]float64{}
	queue := makeQueue(10)
	for _, n := range queue {
		speeds[n.IP] = 50.0
	}
	tested := withFakeSpeeds(t, speeds)

	cfg := config.Default()
	fastExits := 0
	cb := Callbacks{OnFastExit: func() { fastExits++ }}

	results, err := testThroughput(context.Background(), queue, cfg, cb)
	require.NoError(t, err)

	assert.Len(t, results, 5)
	assert.Len(t, *tested, 5)
	assert.Equal(t, 1, fastExits)
	// 队列中排在熔断之后的节点不得出现在结果里
	for _, r := range results {
		assert.NotEqual(t, "10.0.0.6", r.IP)
	}
}

func TestThroughputBreakerCountsOnlyFastNodes(t *testing.T) {
	queue := makeQueue(8)
	speeds := map[string]float64{}
	for i, n := range queue {
		if i%2 == 0 {
			speeds[n.IP] = 30.0 // 达标
		} else {
			speeds[n.IP] = 1.0 // 不达标
		}
	}
	tested := withFakeSpeeds(t, speeds)

	cfg := config.Default()
	results, err := testThroughput(context.Background(), queue, cfg, Callbacks{})
	require.NoError(t, err)

	// 只有 4 个达标节点，不足 5 个，整个队列都要测完
	assert.Len(t, results, 8)
	assert.Len(t, *tested, 8)
}

func TestThroughputScoresEveryTestedNode(t *testing.T) {
	queue := makeQueue(3)
	speeds := map[string]float64{
		"10.0.0.1": 60, "10.0.0.2": 10, "10.0.0.3": 2,
	}
	withFakeSpeeds(t, speeds)

	cfg := config.Default()
	var rows []model.NodeResult
	cb := Callbacks{OnNodeTested: func(res model.NodeResult) { rows = append(rows, res) }}

	results, err := testThroughput(context.Background(), queue, cfg, cb)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, rows, 3)

	for _, r := range results {
		assert.Equal(t, speeds[r.IP], r.DownloadSpeed)
		assert.Greater(t, r.Score, 0.0)
	}
}

func TestThroughputCancelledContext(t *testing.T) {
	withFakeSpeeds(t, map[string]float64{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := config.Default()
	results, err := testThroughput(ctx, makeQueue(5), cfg, Callbacks{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, results)
}

func TestProbeLatencyCollectsReachableOnly(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	openPort, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	// 拿一个刚释放的端口充当不可达候选
	ln2, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, closedStr, err := net.SplitHostPort(ln2.Addr().String())
	require.NoError(t, err)
	ln2.Close()
	deadPort, err := strconv.Atoi(closedStr)
	require.NoError(t, err)

	candidates := []model.Candidate{
		{IP: host, Port: openPort},
		{IP: host, Port: deadPort},
		{IP: host, Port: openPort},
	}

	var lastDone, lastValid int
	cb := Callbacks{OnScanProgress: func(done, total, valid int) {
		lastDone, lastValid = done, valid
		assert.Equal(t, 3, total)
	}}

	valid, err := probeLatency(context.Background(), candidates, 4, cb)
	require.NoError(t, err)

	// 可达的候选有且仅有延迟记录，不可达的不产出结果
	require.Len(t, valid, 2)
	for _, n := range valid {
		assert.Equal(t, openPort, n.Port)
		assert.Greater(t, n.TCPLatency, 0.0)
		assert.Equal(t, model.ColoUnknown, n.Colo)
	}
	assert.Equal(t, 3, lastDone)
	assert.Equal(t, 2, lastValid)
}

func TestRunRejectsMissingRangeFile(t *testing.T) {
	cfg := config.Default()
	cfg.IPFile = "/definitely/not/here.txt"
	_, err := Run(context.Background(), cfg, Callbacks{})
	assert.Error(t, err)
}
