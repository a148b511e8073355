package routes

import (
	"github.com/gin-gonic/gin"

	"zh.xyz/dv/glidesync/handlers"
	"zh.xyz/dv/glidesync/middleware"
)

// Handlers 路由需要的全部处理器，由main装配
type Handlers struct {
	User       *handlers.UserHandler
	Connection *handlers.ConnectionHandler
	Mapping    *handlers.MappingHandler
	Schema     *handlers.SchemaHandler
	Sync       *handlers.SyncHandler
}

func SetupRoutes(r *gin.Engine, h *Handlers) {
	// CORS中间件
	r.Use(middleware.CORSMiddleware())

	// 健康检查端点（无需认证）
	r.GET("/api/v1/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "glide-sync",
		})
	})

	// 公共路由
	public := r.Group("/api/v1")
	{
		public.POST("/register", h.User.Register)
		public.POST("/login", h.User.Login)
	}

	// 公共日志查看接口（通过邮件token）
	r.GET("/api/v1/sync/logs/view", h.Sync.ViewLogByToken)

	// 需要认证的路由
	auth := r.Group("/api/v1")
	auth.Use(middleware.AuthMiddleware())
	{
		auth.GET("/profile", h.User.GetProfile)

		// Glide连接管理
		auth.POST("/connections", h.Connection.CreateConnection)
		auth.GET("/connections", h.Connection.ListConnections)
		auth.POST("/connections/test", h.Connection.TestConnection)

		// 连接子资源路由（必须在/:id路由之前，避免路由冲突）
		connections := auth.Group("/connections")
		{
			connections.GET("/:id/tables", h.Schema.ListGlideTables)
			connections.GET("/:id/tables/:table/columns", h.Schema.ListGlideColumns)

			// 基础CRUD路由（必须在子资源路由之后）
			connections.GET("/:id", h.Connection.GetConnection)
			connections.PUT("/:id", h.Connection.UpdateConnection)
			connections.DELETE("/:id", h.Connection.DeleteConnection)
		}

		// Supabase表结构
		auth.GET("/supabase/tables/:table/columns", h.Schema.ListSupabaseColumns)

		// 表映射
		auth.POST("/mappings", h.Mapping.CreateMapping)
		auth.GET("/mappings", h.Mapping.ListMappings)
		auth.POST("/mappings/suggest", h.Mapping.SuggestColumnMappings)

		// 映射子资源路由
		mappings := auth.Group("/mappings")
		{
			mappings.GET("/:id/logs", h.Sync.GetSyncLogs)
			mappings.GET("/:id/running", h.Sync.GetRunningLog)
			mappings.POST("/:id/validate", h.Mapping.ValidateMapping)
			mappings.POST("/:id/enable", h.Mapping.EnableMapping)
			mappings.POST("/:id/disable", h.Mapping.DisableMapping)
			mappings.POST("/:id/run", h.Sync.TriggerRun)
			// 基础路由
			mappings.GET("/:id", h.Mapping.GetMapping)
			mappings.PUT("/:id", h.Mapping.UpdateMapping)
			mappings.DELETE("/:id", h.Mapping.DeleteMapping)
		}

		// 运行控制
		auth.POST("/sync/runs/:logId/cancel", h.Sync.CancelRun)
	}

	// 管理员路由
	admin := r.Group("/api/v1/admin")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(middleware.AdminMiddleware())
	{
		// 孤儿运行回收
		admin.POST("/sync/runs/:logId/force-complete", h.Sync.ForceCompleteRun)
	}
}
