// Package pipe 流水线监控 WebSocket
//
// 本文件提供单条流水线的 WebSocket 实时推送：周期性下发
// 状态快照，流水线到达 finished 后推送最终快照并关闭连接。
package pipe

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"anno-admin/internal/shared/model"
)

var monitorUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域（开发环境）
	},
}

// MonitorMessage WebSocket 消息
type MonitorMessage struct {
	Type      string      `json:"type"` // snapshot, finished, error
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// monitorInterval 快照推送周期
const monitorInterval = 2 * time.Second

// RegisterMonitorRoutes 注册监控 WebSocket 路由
func (h *Handler) RegisterMonitorRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/pipes/{id}", h.MonitorWebSocket)
}

// MonitorWebSocket 流水线监控连接
//
// 路由: GET /ws/pipes/{id}
func (h *Handler) MonitorWebSocket(w http.ResponseWriter, r *http.Request) {
	pipeID := r.PathValue("id")

	status, err := h.loadStatus(r.Context(), pipeID)
	if err != nil {
		writeError(w, http.StatusNotFound, "pipe not found")
		return
	}

	conn, err := monitorUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[PipeWS] upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// 客户端关闭即退出
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.sendSnapshot(conn, status); err != nil {
		return
	}

	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			status, err := h.loadStatus(r.Context(), pipeID)
			if err != nil {
				conn.WriteJSON(MonitorMessage{Type: "error", Data: err.Error(), Timestamp: time.Now()})
				return
			}
			if err := h.sendSnapshot(conn, status); err != nil {
				return
			}
			if status.Pipe.State == model.PipeStateFinished {
				conn.WriteJSON(MonitorMessage{Type: "finished", Data: status, Timestamp: time.Now()})
				return
			}
		}
	}
}

// sendSnapshot 下发一帧状态快照
func (h *Handler) sendSnapshot(conn *websocket.Conn, status *pipeStatus) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(MonitorMessage{Type: "snapshot", Data: status, Timestamp: time.Now()})
}
