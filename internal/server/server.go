package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/scythe504/poison-grid/internal/coordinator"
	"github.com/scythe504/poison-grid/internal/websocket"
	"go.uber.org/zap"
)

type Server struct {
	port int

	coord *coordinator.Coordinator
	hub   *websocket.Hub
	ws    http.Handler
	log   *zap.SugaredLogger
}

func New(port int, coord *coordinator.Coordinator, hub *websocket.Hub, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{
		port:  port,
		coord: coord,
		hub:   hub,
		ws:    websocket.NewHandler(coord, hub, log),
		log:   log,
	}
}

// HTTPServer wraps the routes in an http.Server. No write timeout: /ws
// connections are long-lived.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
