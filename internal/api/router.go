package api

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/qs3c/carousel_go_server/config"
	"github.com/qs3c/carousel_go_server/internal/api/handler"
	"github.com/qs3c/carousel_go_server/internal/api/middleware"
	"github.com/qs3c/carousel_go_server/internal/pkg/jwt"
	"github.com/qs3c/carousel_go_server/internal/pkg/logger"
)

type Router struct {
	jobHandler       *handler.JobHandler
	websocketHandler *handler.WebSocketHandler
	healthHandler    *handler.HealthHandler
	cfg              *config.Config
	log              *logger.Logger
}

func NewRouter(
	jobHandler *handler.JobHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	cfg *config.Config,
	log *logger.Logger,
) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{
		jobHandler:       jobHandler,
		websocketHandler: websocketHandler,
		healthHandler:    healthHandler,
		cfg:              cfg,
		log:              log,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(r.log))
	if r.cfg.Tracing.Enabled {
		engine.Use(otelgin.Middleware(r.cfg.Tracing.ServiceName))
	}
	engine.Use(middleware.CORS(r.cfg.CORS))

	if r.healthHandler != nil {
		engine.GET("/healthz", r.healthHandler.Check)
	}

	api := engine.Group("/api/v1")
	{
		// WebSocket，token 走 query
		if r.websocketHandler != nil {
			api.GET("/ws", r.websocketHandler.Handle)
		}

		jobs := api.Group("/jobs")
		jobs.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			// 用户和 worker 都可访问，权限在 handler 里按所有者判断
			jobs.POST("", r.jobHandler.Create)
			jobs.GET("", r.jobHandler.List)
			jobs.GET("/stats", r.jobHandler.Stats)
			jobs.GET("/:id", r.jobHandler.Get)
			jobs.DELETE("/:id", r.jobHandler.Delete)

			// 仅 worker/admin
			worker := jobs.Group("")
			worker.Use(middleware.RequireRole(jwt.RoleWorker, jwt.RoleAdmin))
			{
				worker.POST("/claim", r.jobHandler.ClaimNext)
				worker.POST("/:id/claim", r.jobHandler.Claim)
				worker.PATCH("/:id/status", r.jobHandler.UpdateStatus)
				worker.PATCH("/:id/progress", r.jobHandler.UpdateProgress)
				worker.PATCH("/:id/result", r.jobHandler.UpdateResult)
				worker.PATCH("/:id/error", r.jobHandler.UpdateError)
				worker.POST("/:id/complete", r.jobHandler.Complete)
				worker.POST("/:id/fail", r.jobHandler.Fail)
			}
		}
	}

	return engine
}
