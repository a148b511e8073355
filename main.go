package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"zh.xyz/dv/glidesync/config"
	"zh.xyz/dv/glidesync/database"
	"zh.xyz/dv/glidesync/dbconn"
	"zh.xyz/dv/glidesync/glide"
	"zh.xyz/dv/glidesync/handlers"
	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/routes"
	"zh.xyz/dv/glidesync/service"
	"zh.xyz/dv/glidesync/store"
)

func main() {
	// 加载配置
	if err := config.LoadConfig("config.json"); err != nil {
		log.Printf("加载配置文件失败，使用默认配置: %v", err)
	}

	// 初始化数据库
	if err := database.InitDatabase(); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// 装配同步引擎
	mappingStore := store.NewMappingStore(database.DB)
	logStore := store.NewSyncLogStore(database.DB)

	glideClient := glide.NewClient(
		config.GlobalConfig.Glide.BaseURL,
		time.Duration(config.GlobalConfig.Glide.TimeoutSeconds)*time.Second,
	)

	rawDB, err := dbconn.GetRawConnection(&config.GlobalConfig.Database)
	if err != nil {
		log.Fatal("获取原生数据库连接失败:", err)
	}
	sink := dbconn.NewSinkEndpoint(rawDB, config.GlobalConfig.Database.Type)

	orchestrator := service.NewOrchestrator(
		mappingStore, logStore, glideClient, sink,
		config.GlobalConfig.Sync.BatchSize, logger,
	)

	// 定时与事件触发
	scheduler := service.NewSyncScheduler(
		orchestrator, mappingStore,
		time.Duration(config.GlobalConfig.Sync.DebounceSeconds)*time.Second,
		logger,
	)
	scheduler.Start()
	if err := scheduler.Reload(); err != nil {
		log.Printf("加载定时同步失败: %v", err)
	}

	// 变更通知：Supabase侧表变更驱动增量同步
	startChangeNotifier(scheduler, logger)

	// 设置Gin模式
	if config.GlobalConfig.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	r := gin.Default()

	routes.SetupRoutes(r, &routes.Handlers{
		User:       handlers.NewUserHandler(database.DB),
		Connection: handlers.NewConnectionHandler(mappingStore, glideClient),
		Mapping:    handlers.NewMappingHandler(mappingStore, glideClient, sink, scheduler),
		Schema:     handlers.NewSchemaHandler(mappingStore, glideClient, sink),
		Sync:       handlers.NewSyncHandler(orchestrator, logStore, mappingStore, database.DB, logger),
	})

	// 启动服务器
	port := config.GlobalConfig.Server.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("服务器启动在端口 %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatal("服务器启动失败:", err)
	}
}

// startChangeNotifier 订阅Supabase侧的变更事件并接入去抖触发
// 只有postgres支持LISTEN/NOTIFY，其他库退化为定时/手动触发
func startChangeNotifier(scheduler *service.SyncScheduler, logger *logrus.Logger) {
	cfg := config.GlobalConfig
	if cfg.Database.Type != "postgres" {
		log.Printf("数据库类型 %s 不支持变更通知，跳过", cfg.Database.Type)
		return
	}

	_, dsn, err := dbconn.BuildDSN(&cfg.Database)
	if err != nil {
		log.Printf("构建监听DSN失败: %v", err)
		return
	}

	feed, err := dbconn.NewPGChangeFeed(dsn, cfg.Sync.NotifyChannel, logger)
	if err != nil {
		log.Printf("启动变更监听失败: %v", err)
		return
	}

	notifier := service.NewChangeNotifier(logger)
	notifier.Subscribe("", models.ChangeAll, "", scheduler.HandleChange)

	go func() {
		if err := notifier.Run(context.Background(), feed); err != nil {
			logger.WithError(err).Error("变更通知循环退出")
		}
	}()
}
