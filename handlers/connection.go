package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zh.xyz/dv/glidesync/glide"
	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/store"
)

type ConnectionHandler struct {
	store *store.MappingStore
	glide *glide.Client
}

func NewConnectionHandler(mappingStore *store.MappingStore, glideClient *glide.Client) *ConnectionHandler {
	return &ConnectionHandler{store: mappingStore, glide: glideClient}
}

// CreateConnection 创建Glide连接
func (h *ConnectionHandler) CreateConnection(c *gin.Context) {
	var req struct {
		Name     string                 `json:"name" binding:"required"`
		AppID    string                 `json:"app_id" binding:"required"`
		APIKey   string                 `json:"api_key" binding:"required"`
		Settings map[string]interface{} `json:"settings"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn := models.GlideConnection{
		Name:     req.Name,
		AppID:    req.AppID,
		APIKey:   req.APIKey,
		Status:   "active",
		Settings: req.Settings,
	}

	if err := h.store.CreateConnection(&conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建连接失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "连接创建成功",
		"data":    conn,
	})
}

// ListConnections 列出所有连接
func (h *ConnectionHandler) ListConnections(c *gin.Context) {
	connections, err := h.store.ListConnections()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": connections})
}

// GetConnection 获取单个连接
func (h *ConnectionHandler) GetConnection(c *gin.Context) {
	conn, err := h.store.GetConnection(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": conn})
}

// UpdateConnection 更新连接（凭证轮换、状态切换）
func (h *ConnectionHandler) UpdateConnection(c *gin.Context) {
	conn, err := h.store.GetConnection(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		Name     string                 `json:"name"`
		AppID    string                 `json:"app_id"`
		APIKey   string                 `json:"api_key"`
		Status   string                 `json:"status"`
		Settings map[string]interface{} `json:"settings"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Name != "" {
		conn.Name = req.Name
	}
	if req.AppID != "" {
		conn.AppID = req.AppID
	}
	if req.APIKey != "" {
		conn.APIKey = req.APIKey
	}
	if req.Status != "" {
		conn.Status = req.Status
	}
	if req.Settings != nil {
		conn.Settings = req.Settings
	}

	if err := h.store.UpdateConnection(conn); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "更新成功",
		"data":    conn,
	})
}

// DeleteConnection 删除连接；仍被映射引用时自动转为停用
func (h *ConnectionHandler) DeleteConnection(c *gin.Context) {
	if err := h.store.DeleteConnection(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// TestConnection 测试Glide连接是否可用
func (h *ConnectionHandler) TestConnection(c *gin.Context) {
	var req struct {
		AppID  string `json:"app_id" binding:"required"`
		APIKey string `json:"api_key" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	testConn := &models.GlideConnection{AppID: req.AppID, APIKey: req.APIKey}
	if _, err := h.glide.ListTables(c.Request.Context(), testConn); err != nil {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "连接成功",
	})
}
