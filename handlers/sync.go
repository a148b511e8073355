package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
	"zh.xyz/dv/glidesync/store"
	"zh.xyz/dv/glidesync/utils"
)

type SyncHandler struct {
	orchestrator *service.Orchestrator
	logs         *store.SyncLogStore
	mappings     *store.MappingStore
	db           *gorm.DB
	logger       *logrus.Logger
}

func NewSyncHandler(orchestrator *service.Orchestrator, logs *store.SyncLogStore, mappings *store.MappingStore, db *gorm.DB, logger *logrus.Logger) *SyncHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SyncHandler{
		orchestrator: orchestrator,
		logs:         logs,
		mappings:     mappings,
		db:           db,
		logger:       logger,
	}
}

// TriggerRun 手动触发一次同步运行
// async=true时立即返回，运行在后台完成；失败时给管理员发通知邮件
func (h *SyncHandler) TriggerRun(c *gin.Context) {
	id := c.Param("id")

	mapping, err := h.mappings.GetMapping(id)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("async") == "true" {
		go func() {
			logEntry, err := h.orchestrator.Run(context.Background(), id)
			if err != nil {
				h.logger.WithField("mapping_id", id).WithError(err).Error("后台同步运行失败")
				return
			}
			if logEntry.Status == models.SyncStatusFailure {
				h.notifyAdmins(logEntry, mapping.GlideTableName)
			}
		}()

		c.JSON(http.StatusAccepted, gin.H{"message": "同步已触发"})
		return
	}

	logEntry, err := h.orchestrator.Run(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "同步执行完成",
		"data":    logEntry,
	})
}

// CancelRun 请求取消一个运行中的同步，下一个批次边界生效
func (h *SyncHandler) CancelRun(c *gin.Context) {
	if err := h.orchestrator.Cancel(c.Param("logId")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "取消请求已提交"})
}

// ForceCompleteRun 把滞留的running日志强制收尾为failure
// 进程崩溃留下的孤儿运行由运维判定后调用此接口回收
func (h *SyncHandler) ForceCompleteRun(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	// 请求体可为空
	_ = c.ShouldBindJSON(&req)

	if err := h.logs.ForceComplete(c.Param("logId"), req.Message); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "运行已强制终止"})
}

// GetRunningLog 查询映射当前运行中的日志
func (h *SyncHandler) GetRunningLog(c *gin.Context) {
	logEntry, err := h.logs.RunningLog(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logEntry})
}

// GetSyncLogs 获取映射的历史日志，按开始时间倒序
func (h *SyncHandler) GetSyncLogs(c *gin.Context) {
	logs, err := h.logs.ListForMapping(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logs})
}

// ViewLogByToken 通过邮件中的token免登录查看日志
func (h *SyncHandler) ViewLogByToken(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少token"})
		return
	}

	claims, err := utils.ParseViewToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token无效或已过期"})
		return
	}

	logID, _ := claims["log_id"].(string)
	logEntry, err := h.logs.GetLog(logID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": logEntry})
}

// notifyAdmins 给所有在职管理员发送同步失败通知
func (h *SyncHandler) notifyAdmins(logEntry *models.SyncLog, mappingName string) {
	var admins []models.User
	h.db.Where("role = ? AND status = ?", "admin", "active").Find(&admins)

	for _, admin := range admins {
		if err := service.SendSyncFailureNotification(admin.Email, logEntry, mappingName); err != nil {
			h.logger.WithField("email", admin.Email).WithError(err).Error("发送同步失败通知邮件失败")
		}
	}
}
