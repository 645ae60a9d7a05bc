package output

import (
	"encoding/csv"
	"fmt"
	"os"

	"github.com/CFM503/CFST/pkg/model"
)

// csvHeader 结果文件表头，字段顺序是对外约定的一部分
var csvHeader = []string{"IP", "Colo", "Latency", "Speed_MB", "Score"}

// WriteCSVFile 把最终结果按给定顺序写入 CSV 文件。
// 文件带 UTF-8 BOM，方便 Windows 下的 Excel 直接打开。
// 延迟保留 1 位小数，速度 2 位，评分 1 位。
func WriteCSVFile(filePath string, results []model.NodeResult) error {
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("无法创建结果文件 '%s': %w", filePath, err)
	}
	defer file.Close()

	if _, err := file.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return fmt.Errorf("写入 BOM 失败: %w", err)
	}

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("写入 CSV 表头失败: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.IP,
			r.Colo,
			fmt.Sprintf("%.1f", r.TCPLatency),
			fmt.Sprintf("%.2f", r.DownloadSpeed),
			fmt.Sprintf("%.1f", r.Score),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("写入 CSV 行失败: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}
