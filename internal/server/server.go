package server

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CFM503/CFST/internal/config"
	"github.com/CFM503/CFST/internal/engine"
	"github.com/CFM503/CFST/internal/output"
	"github.com/CFM503/CFST/pkg/model"
)

//go:embed web
var embeddedFS embed.FS

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 本地工具，放开跨域
	},
}

// wsMessage 是推送给页面的统一消息结构
type wsMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Start 启动 Web 模式：嵌入式页面 + WebSocket 实时推送测速过程。
// baseCfg 作为每次运行的基础配置，页面可以按需覆盖其中的字段。
func Start(addr string, baseCfg *config.Config) error {
	staticFS, err := fs.Sub(embeddedFS, "web")
	if err != nil {
		return fmt.Errorf("初始化内嵌静态资源失败: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws/run", handleRun(baseCfg))

	log.Printf("Web 模式已启动，请在浏览器中打开 http://localhost%s", addr)
	return http.ListenAndServe(addr, mux)
}

// handleRun 在一个 WebSocket 会话里完成一次完整的管道运行。
// 页面先发来一份 JSON 配置覆盖，随后所有进度通过唯一的写协程推送。
func handleRun(baseCfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket 升级失败: %v", err)
			return
		}
		defer conn.Close()

		// 1. 等待页面发来本次运行的配置覆盖
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Printf("读取配置消息失败: %v", err)
			return
		}
		runCfg := *baseCfg
		if err := json.Unmarshal(msg, &runCfg); err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Payload: fmt.Sprintf("配置格式无效: %v", err)})
			return
		}
		if err := runCfg.Validate(); err != nil {
			conn.WriteJSON(wsMessage{Type: "error", Payload: err.Error()})
			return
		}

		// 2. 页面断开即取消本次运行
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		// 3. 唯一的写协程，所有推送都经由 writeCh 串行化
		writeCh := make(chan wsMessage, 64)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for m := range writeCh {
				if err := conn.WriteJSON(m); err != nil {
					return
				}
			}
		}()
		push := func(m wsMessage) {
			select {
			case <-ctx.Done():
			case writeCh <- m:
			}
		}

		cb := engine.Callbacks{
			OnLog: func(msg string) { push(wsMessage{Type: "log", Payload: msg}) },
			OnScanProgress: func(done, total, valid int) {
				if done%10 == 0 || done == total {
					push(wsMessage{Type: "scan", Payload: map[string]int{"done": done, "total": total, "valid": valid}})
				}
			},
			OnColoProgress: func(done, total int) {
				if done%5 == 0 || done == total {
					push(wsMessage{Type: "colo", Payload: map[string]int{"done": done, "total": total}})
				}
			},
			OnNodeTested: func(res model.NodeResult) { push(wsMessage{Type: "node", Payload: res}) },
			OnFastExit:   func() { push(wsMessage{Type: "fast_exit", Payload: "已满足熔断条件，提前结束"}) },
		}

		results, err := engine.Run(ctx, &runCfg, cb)
		switch {
		case err != nil:
			push(wsMessage{Type: "error", Payload: err.Error()})
		default:
			push(wsMessage{Type: "result", Payload: results})
			if werr := output.WriteCSVFile(runCfg.Output, results); werr != nil {
				push(wsMessage{Type: "log", Payload: fmt.Sprintf("保存结果失败: %v", werr)})
			} else {
				push(wsMessage{Type: "log", Payload: fmt.Sprintf("结果已保存到 %s", runCfg.Output)})
			}
			push(wsMessage{Type: "complete", Payload: "done"})
		}

		close(writeCh)
		select {
		case <-writerDone:
		case <-time.After(time.Second):
		}
	}
}
