package server

import (
	"context"
	"net/http"

	"go-kafka-onion/internal/handlers"

	"github.com/gin-gonic/gin"
)

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(h *handlers.Handler) *Server {
	router := gin.Default()
	registerRoutes(router, h)

	return &Server{
		router: router,
	}
}

func registerRoutes(router *gin.Engine, h *handlers.Handler) {
	router.GET("/health", handlers.HealthCheck)

	api := router.Group("/api")
	api.GET("/topics", h.ListTopics)
	api.GET("/topic/:name", h.ConsumeLatest)
	api.GET("/topic/:name/from", h.ConsumeBefore)
	api.POST("/topic/:name/sendMessage", h.SendMessage)

	v2 := api.Group("/v2")
	v2.GET("/topics", h.ResolveTopics)
	v2.GET("/topic/:name", h.ResolveTopic)
	v2.GET("/topic/:name/messages", h.ConsumeMessages)
	v2.DELETE("/topic/:name", h.DeleteTopic)
	v2.DELETE("/topic/:name/reset", h.ResetTopic)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
