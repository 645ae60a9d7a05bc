package model

import "time"

const (
	// ColoUnknown 表示成功建立了连接但响应中没有数据中心标识
	ColoUnknown = "UNK"
	// ColoError 表示获取数据中心标识的过程本身失败（网络错误、超时等）
	ColoError = "ERR"
)

// Candidate 是一个待测试的 (IP, 端口) 组合，由生成器产出、尚未验证可达性
type Candidate struct {
	IP   string
	Port int
}

// NodeResult 是单个节点贯穿整个管道的测试结果。
// 由延迟测试阶段创建（仅当 TCP 连接成功），之后依次被
// Colo 识别、下载测速、评分阶段原地补全，排序输出后不再修改。
type NodeResult struct {
	IP            string  `json:"ip"`
	Port          int     `json:"port"`
	TCPLatency    float64 `json:"tcp_latency"`    // 毫秒
	DownloadSpeed float64 `json:"download_speed"` // MB/s
	Colo          string  `json:"colo"`
	Score         float64 `json:"score"`
}

// NewNodeResult 创建一个延迟测试通过的节点结果，Colo 默认为未知
func NewNodeResult(ip string, port int, latency time.Duration) NodeResult {
	return NodeResult{
		IP:         ip,
		Port:       port,
		TCPLatency: float64(latency.Microseconds()) / 1000.0,
		Colo:       ColoUnknown,
	}
}

// CalcScore 计算综合评分（v5.1 评分算法）。
// 下载速度占 80%（40 MB/s 封顶满分），延迟占 20%（30ms 以内满分），
// 成功识别出数据中心的节点额外 +5 分。奖励分可以使总分超过 100，
// 这是有意保留的行为，不做钳制。
func (n *NodeResult) CalcScore() {
	speedScore := (n.DownloadSpeed / 40.0) * 100.0
	if speedScore > 100.0 {
		speedScore = 100.0
	}
	latencyScore := 100.0 - (n.TCPLatency-30.0)*0.5
	if latencyScore < 0 {
		latencyScore = 0
	}
	bonus := 0.0
	if n.Colo != ColoUnknown {
		bonus = 5.0
	}
	n.Score = speedScore*0.8 + latencyScore*0.2 + bonus
}
