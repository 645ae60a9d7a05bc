package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cheggaaa/pb/v3"

	"github.com/CFM503/CFST/internal/config"
	"github.com/CFM503/CFST/internal/engine"
	"github.com/CFM503/CFST/internal/output"
	"github.com/CFM503/CFST/internal/server"
	"github.com/CFM503/CFST/pkg/model"
)

const version = "v1.1.0"

func main() {
	cfg := config.Default()

	cfgPath := flag.String("config", "", "YAML 配置文件路径（命令行标志优先）")
	webPort := flag.String("web", "", "启动 Web 模式并监听该端口（如 9876）")

	flag.StringVar(&cfg.IPFile, "f", cfg.IPFile, "IP 段文件路径（每行一个 CIDR 或 IP）")
	flag.IntVar(&cfg.Port, "p", cfg.Port, "目标端口")
	flag.IntVar(&cfg.MaxScan, "max", cfg.MaxScan, "扫描 IP 总数")
	flag.IntVar(&cfg.ScanConcurrent, "sc", cfg.ScanConcurrent, "延迟扫描并发数")
	flag.IntVar(&cfg.Conc, "c", cfg.Conc, "单节点下载并发连接数")
	flag.IntVar(&cfg.DownloadNum, "dn", cfg.DownloadNum, "下载测速节点数量")
	flag.IntVar(&cfg.Duration, "dt", cfg.Duration, "单节点测速时长（秒）")
	flag.Float64Var(&cfg.StopThreshold, "st", cfg.StopThreshold, "熔断阈值（MB/s）")
	flag.BoolVar(&cfg.Unique, "u", cfg.Unique, "C 段去重模式")
	flag.StringVar(&cfg.Output, "o", cfg.Output, "结果 CSV 文件")
	flag.StringVar(&cfg.URL, "url", cfg.URL, "自定义测速 URL")
	flag.Float64Var(&cfg.RateLimitMB, "rl", cfg.RateLimitMB, "客户端限速（MB/s），0 为不限")
	flag.Parse()

	if *cfgPath != "" {
		applyConfigFile(*cfgPath, cfg)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置无效: %v", err)
	}

	if *webPort != "" {
		addr := *webPort
		if !strings.Contains(addr, ":") {
			addr = ":" + addr
		}
		if err := server.Start(addr, cfg); err != nil {
			log.Fatalf("Web 服务启动失败: %v", err)
		}
		return
	}

	runCLI(cfg)
}

// applyConfigFile 把 YAML 配置作为基础值合并进 cfg，
// 命令行上显式给出的标志保持优先
func applyConfigFile(path string, cfg *config.Config) {
	fileCfg := config.Default()
	if err := config.LoadFile(path, fileCfg); err != nil {
		log.Fatalf("加载配置文件失败: %v", err)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["f"] {
		cfg.IPFile = fileCfg.IPFile
	}
	if !set["p"] {
		cfg.Port = fileCfg.Port
	}
	if !set["max"] {
		cfg.MaxScan = fileCfg.MaxScan
	}
	if !set["sc"] {
		cfg.ScanConcurrent = fileCfg.ScanConcurrent
	}
	if !set["c"] {
		cfg.Conc = fileCfg.Conc
	}
	if !set["dn"] {
		cfg.DownloadNum = fileCfg.DownloadNum
	}
	if !set["dt"] {
		cfg.Duration = fileCfg.Duration
	}
	if !set["st"] {
		cfg.StopThreshold = fileCfg.StopThreshold
	}
	if !set["u"] {
		cfg.Unique = fileCfg.Unique
	}
	if !set["o"] {
		cfg.Output = fileCfg.Output
	}
	if !set["url"] {
		cfg.URL = fileCfg.URL
	}
	if !set["rl"] {
		cfg.RateLimitMB = fileCfg.RateLimitMB
	}
}

func runCLI(cfg *config.Config) {
	fmt.Printf("Cloudflare SpeedTest %s (Colo)\n\n", version)

	// Ctrl+C 在下一个安全点停止管道；中断的运行不写出结果文件
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var bar *pb.ProgressBar
	headerPrinted := false

	cb := engine.Callbacks{
		OnLog: func(msg string) {
			log.Println(msg)
		},
		OnScanProgress: func(done, total, valid int) {
			if bar == nil {
				bar = pb.New(total)
				bar.SetTemplateString(`扫描 {{counters . }} {{bar . }} {{percent . }} | 可达 {{string . "valid"}}`)
				bar.Start()
			}
			bar.Set("valid", fmt.Sprintf("%d", valid))
			bar.SetCurrent(int64(done))
			if done == total {
				bar.Finish()
			}
		},
		OnColoProgress: func(done, total int) {
			fmt.Printf("\r  识别数据中心 %d/%d", done, total)
			if done == total {
				fmt.Println()
			}
		},
		OnSpeedSample: func(mbps float64) {
			fmt.Printf("\r  ↯ %6.2f MB/s", mbps)
		},
		OnNodeTested: func(res model.NodeResult) {
			fmt.Print("\r                    \r")
			if !headerPrinted {
				output.PrintTableHeader()
				headerPrinted = true
			}
			output.PrintTableRow(res)
		},
		OnFastExit: func() {
			fmt.Println("\n⚡ 满足熔断条件，停止后续测速")
		},
	}

	results, err := engine.Run(ctx, cfg, cb)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Println("收到中断信号，已停止，不写出结果文件")
			return
		}
		log.Fatalf("运行出错: %v", err)
	}

	if err := output.WriteCSVFile(cfg.Output, results); err != nil {
		log.Fatalf("保存结果失败: %v", err)
	}
	fmt.Printf("\n💾 结果已保存: %s\n", cfg.Output)
}
