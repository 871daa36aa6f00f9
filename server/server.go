// Package server 提供推理过程的 websocket 监控端
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"nnfoam/model"
)

type Server struct {
	addr     string
	upgrader websocket.Upgrader
	hub      *Hub
}

func NewServer(addr string, upgrader websocket.Upgrader, hub *Hub) *Server {
	return &Server{
		addr:     addr,
		upgrader: upgrader,
		hub:      hub,
	}
}

// serveWs handles websocket requests from the peer.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket 升级失败")
		return
	}
	defer conn.Close()

	s.hub.register(conn)
	defer s.hub.unregister(conn)

	for {
		var msg model.Msg
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("读取客户端消息失败")
			}
			return
		}
		s.hub.handleRequest(conn, msg)
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWs)
	return mux
}

// Serve 阻塞直到 ctx 结束
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.addr).Info("监控服务启动")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.hub.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
