package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/writeflow/writeflow/internal/application/usecase"
	"github.com/writeflow/writeflow/internal/domain/service"
	"github.com/writeflow/writeflow/internal/infrastructure/eventbus"
	"github.com/writeflow/writeflow/internal/infrastructure/prompt"
	"github.com/writeflow/writeflow/internal/interfaces/http/handlers"
	wshub "github.com/writeflow/writeflow/internal/interfaces/websocket"
	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	hub    *wshub.Hub
	logger *zap.Logger
}

// Config HTTP服务器配置
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// NewServer 创建HTTP服务器. bus is optional (nil disables the /ws
// event-streaming endpoint) — when set, session:startup/todo:changed/
// file:read events published by the Agent Loop's hooks (WritingHook,
// ReminderEngine) are broadcast to every connected WebSocket client,
// giving the CLI/extension a local streaming surface distinct from the
// request-scoped SSE on /api/v1/agent.
func NewServer(cfg Config, uc *usecase.ProcessMessageUseCase, agentLoop *service.AgentLoop, toolExec service.ToolExecutor, promptEngine *prompt.PromptEngine, bus eventbus.Bus, logger *zap.Logger) *Server {
	// 设置Gin模式
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	// 初始化处理器
	messageHandler := handlers.NewMessageHandler(uc, logger)
	openaiHandler := handlers.NewOpenAIHandler(uc, logger, nil)
	var agentHandler *handlers.AgentHandler
	if agentLoop != nil {
		agentHandler = handlers.NewAgentHandler(agentLoop, toolExec, promptEngine, logger)
	}

	hub := wshub.NewHub(logger)
	wsHandler := wshub.NewHandler(hub, logger)
	if bus != nil {
		subscribeHubToBus(hub, bus)
	}

	// 注册路由
	setupRoutes(router, messageHandler, openaiHandler, agentHandler, wsHandler)

	// 创建HTTP服务器
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	return &Server{
		server: server,
		hub:    hub,
		logger: logger,
	}
}

// subscribeHubToBus forwards session/todo/file events onto every
// connected WebSocket client as a best-effort broadcast.
func subscribeHubToBus(hub *wshub.Hub, bus eventbus.Bus) {
	forward := func(msgType wshub.MessageType) eventbus.Handler {
		return func(ctx context.Context, evt eventbus.Event) {
			hub.Broadcast(&wshub.WSMessage{
				Type: msgType,
				Metadata: map[string]interface{}{
					"event": evt.Type(),
				},
			})
		}
	}
	bus.Subscribe(service.EventSessionStartup, forward(wshub.MessageTypeStream))
	bus.Subscribe(service.EventTodoChanged, forward(wshub.MessageTypeStream))
	bus.Subscribe(service.EventFileRead, forward(wshub.MessageTypeStream))
}

// Start 启动服务器
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go s.hub.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// setupRoutes 设置路由
func setupRoutes(router *gin.Engine, messageHandler *handlers.MessageHandler, openaiHandler *handlers.OpenAIHandler, agentHandler *handlers.AgentHandler, wsHandler *wshub.Handler) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API版本1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"message": "pong",
			})
		})

		v1.POST("/messages", messageHandler.SendMessage)

		// Agent Loop endpoints (SSE streaming)
		if agentHandler != nil {
			v1.POST("/agent", agentHandler.RunAgent)
			v1.GET("/agent/tools", agentHandler.GetTools)
		}
	}

	// OpenAI-compatible API
	oai := router.Group("/v1")
	{
		oai.POST("/chat/completions", openaiHandler.ChatCompletions)
		oai.GET("/models", openaiHandler.ListModels)
	}

	// WebSocket event stream (session:startup/todo:changed/file:read)
	router.GET("/ws", func(c *gin.Context) {
		wsHandler.ServeWS(c.Writer, c.Request)
	})
}

// ginLogger Gin日志中间件
func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
