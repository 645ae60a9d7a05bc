package output

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/CFM503/CFST/pkg/model"
)

var (
	speedFast = color.New(color.FgGreen)
	speedMid  = color.New(color.FgYellow)
	coloTint  = color.New(color.FgMagenta)
)

// PrintTableHeader 打印终端结果表的表头
func PrintTableHeader() {
	fmt.Printf("%-16s %-6s %-9s %-14s %-6s\n", "IP", "Colo", "Latency", "Speed", "Score")
	fmt.Println("-----------------------------------------------------------------")
}

// PrintTableRow 打印一行节点结果，速度按档位着色：
// 20 MB/s 以上绿色，5 MB/s 以上黄色，其余不着色
func PrintTableRow(r model.NodeResult) {
	speedStr := fmt.Sprintf("%.2f MB/s", r.DownloadSpeed)
	switch {
	case r.DownloadSpeed > 20:
		speedStr = speedFast.Sprint(speedStr)
	case r.DownloadSpeed > 5:
		speedStr = speedMid.Sprint(speedStr)
	}
	// 着色后的字段带不可见的转义序列，宽度额外补偿
	fmt.Printf("%-16s %-15s %6.1fms  %-23s %5.1f\n",
		r.IP, coloTint.Sprint(r.Colo), r.TCPLatency, speedStr, r.Score)
}
