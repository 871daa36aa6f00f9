package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"nnfoam/deque"
	"nnfoam/model"
)

// 消息类型
const (
	TypeStep     = "step"     // 服务端: 一个时间步的推理报告
	TypeStopped  = "stopped"  // 服务端: 已请求停止计算
	TypeFinished = "finished" // 服务端: 计算结束
	TypeStop     = "stop"     // 客户端: 请求停止计算
	TypeHistory  = "history"  // 客户端: 重放最近的报告
)

// Hub maintains the set of active clients and broadcasts step reports to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]*sync.Mutex

	backlogMu sync.Mutex
	backlog   deque.Deque[model.Msg]

	// 客户端请求停止时调用，通常是 CalcHub.StopSignal
	stop func()
}

func NewHub(history int, stop func()) *Hub {
	if history <= 0 {
		history = model.DefaultMonitorHistory
	}
	if stop == nil {
		stop = func() {}
	}
	return &Hub{
		clients: make(map[*websocket.Conn]*sync.Mutex),
		backlog: deque.NewListDeque[model.Msg](history),
		stop:    stop,
	}
}

// Publish 实现 coupler.Sink
func (h *Hub) Publish(report *model.StepReport) {
	data, err := json.Marshal(report)
	if err != nil {
		log.WithError(err).Warn("序列化推理报告失败")
		return
	}
	msg := model.Msg{Type: TypeStep, Content: string(data)}
	h.backlogMu.Lock()
	h.backlog.Push(msg)
	h.backlogMu.Unlock()
	h.broadcast(msg)
}

// Finish 通知所有客户端计算结束
func (h *Hub) Finish(content string) {
	h.broadcast(model.Msg{Type: TypeFinished, Content: content})
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// closeAll 断开所有客户端，读循环随之退出
func (h *Hub) closeAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn, mutex := range h.clients {
		mutex.Lock()
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		mutex.Unlock()
		conn.Close()
	}
}

func (h *Hub) send(conn *websocket.Conn, msg model.Msg) error {
	h.mu.RLock()
	mutex, ok := h.clients[conn]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	mutex.Lock()
	defer mutex.Unlock()
	return conn.WriteJSON(&msg)
}

func (h *Hub) broadcast(msg model.Msg) {
	h.mu.RLock()
	var failed []*websocket.Conn
	for conn, mutex := range h.clients {
		mutex.Lock()
		err := conn.WriteJSON(&msg)
		mutex.Unlock()
		if err != nil {
			log.WithError(err).Warn("推送失败，断开客户端")
			conn.Close()
			failed = append(failed, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range failed {
		h.unregister(conn)
	}
}

func (h *Hub) handleRequest(conn *websocket.Conn, msg model.Msg) {
	switch msg.Type {
	case TypeStop:
		log.Info("监控端请求停止计算")
		h.stop()
		if err := h.send(conn, model.Msg{Type: TypeStopped, Content: "stopped"}); err != nil {
			log.WithError(err).Warn("回复失败")
		}
	case TypeHistory:
		h.backlogMu.Lock()
		history := h.backlog.Slice()
		h.backlogMu.Unlock()
		for _, m := range history {
			if err := h.send(conn, m); err != nil {
				log.WithError(err).Warn("回复失败")
				return
			}
		}
	default:
		log.WithField("type", msg.Type).Warn("no such type")
	}
}
