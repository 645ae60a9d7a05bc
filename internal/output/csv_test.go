package output

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CFM503/CFST/pkg/model"
)

func TestWriteCSVRoundTrip(t *testing.T) {
	results := []model.NodeResult{
		{IP: "104.16.1.1", Port: 443, TCPLatency: 20.04, DownloadSpeed: 60.456, Colo: "SJC", Score: 104.0},
		{IP: "172.64.2.2", Port: 443, TCPLatency: 50.0, DownloadSpeed: 10.0, Colo: "LAX", Score: 41.0},
		{IP: "162.158.3.3", Port: 443, TCPLatency: 200.0, DownloadSpeed: 2.0, Colo: model.ColoUnknown, Score: 7.0},
	}

	path := filepath.Join(t.TempDir(), "result.csv")
	require.NoError(t, WriteCSVFile(path, results))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// UTF-8 BOM 让 Excel 正确识别编码
	require.True(t, bytes.HasPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))

	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"IP", "Colo", "Latency", "Speed_MB", "Score"}, rows[0])
	// 行序与传入顺序一致，数值按约定位数取整
	assert.Equal(t, []string{"104.16.1.1", "SJC", "20.0", "60.46", "104.0"}, rows[1])
	assert.Equal(t, []string{"172.64.2.2", "LAX", "50.0", "10.00", "41.0"}, rows[2])
	assert.Equal(t, []string{"162.158.3.3", "UNK", "200.0", "2.00", "7.0"}, rows[3])

	// 重新写出同一组数据应得到完全相同的文件
	path2 := filepath.Join(t.TempDir(), "result2.csv")
	require.NoError(t, WriteCSVFile(path2, results))
	raw2, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestWriteCSVEmptyResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	require.NoError(t, WriteCSVFile(path, nil))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF}))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1, "空结果也要有表头")
}

func TestWriteCSVBadPath(t *testing.T) {
	err := WriteCSVFile(filepath.Join(t.TempDir(), "no", "such", "dir", "x.csv"), nil)
	assert.Error(t, err)
}
