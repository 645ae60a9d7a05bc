package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalcScoreWorkedExample(t *testing.T) {
	// 三个节点：延迟 20/50/200ms，速度 60/10/2 MB/s，均识别出数据中心
	cases := []struct {
		latency float64
		speed   float64
		want    float64
	}{
		{20, 60, 104}, // speed=100 lat=95 bonus=5
		{50, 10, 41},  // speed=25 lat=80 bonus=5
		{200, 2, 12},  // speed=5 lat=15 bonus=5
	}
	for _, c := range cases {
		n := NodeResult{TCPLatency: c.latency, DownloadSpeed: c.speed, Colo: "LAX"}
		n.CalcScore()
		assert.InDelta(t, c.want, n.Score, 1e-9, "latency=%v speed=%v", c.latency, c.speed)
	}
}

func TestCalcScoreSpeedMonotonic(t *testing.T) {
	prev := -1.0
	for speed := 0.0; speed <= 80; speed += 2.5 {
		n := NodeResult{TCPLatency: 50, DownloadSpeed: speed, Colo: ColoUnknown}
		n.CalcScore()
		assert.GreaterOrEqual(t, n.Score, prev, "speed=%v", speed)
		prev = n.Score
	}
}

func TestCalcScoreLatencyMonotonic(t *testing.T) {
	prev := 1000.0
	for lat := 1.0; lat <= 400; lat += 10 {
		n := NodeResult{TCPLatency: lat, DownloadSpeed: 30, Colo: ColoUnknown}
		n.CalcScore()
		assert.LessOrEqual(t, n.Score, prev, "latency=%v", lat)
		prev = n.Score
	}
}

func TestCalcScoreColoBonus(t *testing.T) {
	base := NodeResult{TCPLatency: 40, DownloadSpeed: 20, Colo: ColoUnknown}
	base.CalcScore()

	resolved := base
	resolved.Colo = "HKG"
	resolved.CalcScore()
	// 识别出数据中心的节点评分不低于未识别的同等节点
	assert.Equal(t, base.Score+5, resolved.Score)

	// 奖励条件按公式只排除 UNK
	errNode := base
	errNode.Colo = ColoError
	errNode.CalcScore()
	assert.Equal(t, base.Score+5, errNode.Score)
}

func TestCalcScoreUnclampedAbove100(t *testing.T) {
	n := NodeResult{TCPLatency: 10, DownloadSpeed: 100, Colo: "SJC"}
	n.CalcScore()
	assert.Greater(t, n.Score, 100.0)
}

func TestNewNodeResult(t *testing.T) {
	n := NewNodeResult("1.1.1.1", 443, 1500*time.Microsecond)
	assert.Equal(t, "1.1.1.1", n.IP)
	assert.Equal(t, 443, n.Port)
	assert.InDelta(t, 1.5, n.TCPLatency, 1e-9)
	assert.Equal(t, ColoUnknown, n.Colo)
	assert.Zero(t, n.DownloadSpeed)
	assert.Zero(t, n.Score)
}
