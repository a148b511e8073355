package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zh.xyz/dv/glidesync/glide"
	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
	"zh.xyz/dv/glidesync/store"
)

type MappingHandler struct {
	store     *store.MappingStore
	glide     *glide.Client
	supabase  service.SupabaseEndpoint
	validator *service.MappingValidator
	suggester *service.SuggestionEngine
	scheduler *service.SyncScheduler
}

func NewMappingHandler(mappingStore *store.MappingStore, glideClient *glide.Client, supabase service.SupabaseEndpoint, scheduler *service.SyncScheduler) *MappingHandler {
	return &MappingHandler{
		store:     mappingStore,
		glide:     glideClient,
		supabase:  supabase,
		validator: service.NewMappingValidator(),
		suggester: service.NewSuggestionEngine(),
		scheduler: scheduler,
	}
}

// CreateMapping 创建表映射，新映射一律禁用，启用前必须通过校验
func (h *MappingHandler) CreateMapping(c *gin.Context) {
	var req struct {
		ConnectionID   string                  `json:"connection_id" binding:"required"`
		GlideTableID   string                  `json:"glide_table_id" binding:"required"`
		GlideTableName string                  `json:"glide_table_name" binding:"required"`
		SupabaseTable  string                  `json:"supabase_table" binding:"required"`
		SyncDirection  string                  `json:"sync_direction" binding:"required,oneof=to_supabase to_glide bidirectional"`
		Schedule       string                  `json:"schedule"`
		ColumnMappings models.ColumnMappingSet `json:"column_mappings"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mapping := models.TableMapping{
		ConnectionID:   req.ConnectionID,
		GlideTableID:   req.GlideTableID,
		GlideTableName: req.GlideTableName,
		SupabaseTable:  req.SupabaseTable,
		SyncDirection:  req.SyncDirection,
		Schedule:       req.Schedule,
		ColumnMappings: req.ColumnMappings,
	}

	if err := h.store.CreateMapping(&mapping); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "映射创建成功",
		"data":    mapping,
	})
}

// ListMappings 列出映射，可按连接和启用状态过滤
func (h *MappingHandler) ListMappings(c *gin.Context) {
	var enabled *bool
	if v := c.Query("enabled"); v != "" {
		b := v == "true"
		enabled = &b
	}

	mappings, err := h.store.ListMappings(c.Query("connection_id"), enabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": mappings})
}

// GetMapping 获取单个映射
func (h *MappingHandler) GetMapping(c *gin.Context) {
	mapping, err := h.store.GetMapping(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": mapping})
}

// UpdateMapping 更新映射；存在运行中的同步时拒绝
func (h *MappingHandler) UpdateMapping(c *gin.Context) {
	mapping, err := h.store.GetMapping(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req struct {
		GlideTableID   string                  `json:"glide_table_id"`
		GlideTableName string                  `json:"glide_table_name"`
		SupabaseTable  string                  `json:"supabase_table"`
		SyncDirection  string                  `json:"sync_direction"`
		Schedule       *string                 `json:"schedule"`
		ColumnMappings models.ColumnMappingSet `json:"column_mappings"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.GlideTableID != "" {
		mapping.GlideTableID = req.GlideTableID
	}
	if req.GlideTableName != "" {
		mapping.GlideTableName = req.GlideTableName
	}
	if req.SupabaseTable != "" {
		mapping.SupabaseTable = req.SupabaseTable
	}
	if req.SyncDirection != "" {
		mapping.SyncDirection = req.SyncDirection
	}
	if req.Schedule != nil {
		mapping.Schedule = *req.Schedule
	}
	if req.ColumnMappings != nil {
		mapping.ColumnMappings = req.ColumnMappings
	}

	// 列集或方向变动后旧的校验结论失效，自动回到禁用状态
	if req.ColumnMappings != nil || req.SyncDirection != "" {
		mapping.Enabled = false
		h.scheduler.UnscheduleMapping(mapping.ID)
	}

	if err := h.store.UpdateMapping(mapping); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "更新成功",
		"data":    mapping,
	})
}

// DeleteMapping 删除映射，历史日志保留
func (h *MappingHandler) DeleteMapping(c *gin.Context) {
	id := c.Param("id")
	if err := h.store.DeleteMapping(id); err != nil {
		respondError(c, err)
		return
	}

	h.scheduler.UnscheduleMapping(id)
	c.JSON(http.StatusOK, gin.H{"message": "删除成功"})
}

// ValidateMapping 校验映射但不落库
func (h *MappingHandler) ValidateMapping(c *gin.Context) {
	mapping, err := h.store.GetMapping(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.validate(c, mapping)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

// EnableMapping 启用映射；必须先通过校验
func (h *MappingHandler) EnableMapping(c *gin.Context) {
	mapping, err := h.store.GetMapping(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.validate(c, mapping)
	if err != nil {
		respondError(c, err)
		return
	}
	if !result.Valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": result.Message})
		return
	}

	mapping.Enabled = true
	if err := h.store.UpdateMapping(mapping); err != nil {
		respondError(c, err)
		return
	}

	if mapping.Schedule != "" {
		if err := h.scheduler.ScheduleMapping(mapping); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cron表达式无效: " + err.Error()})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "映射已启用",
		"data":    mapping,
	})
}

// DisableMapping 禁用映射
func (h *MappingHandler) DisableMapping(c *gin.Context) {
	mapping, err := h.store.GetMapping(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	mapping.Enabled = false
	if err := h.store.UpdateMapping(mapping); err != nil {
		respondError(c, err)
		return
	}

	h.scheduler.UnscheduleMapping(mapping.ID)
	c.JSON(http.StatusOK, gin.H{
		"message": "映射已禁用",
		"data":    mapping,
	})
}

// SuggestColumnMappings 按名称与类型启发式生成列映射建议
func (h *MappingHandler) SuggestColumnMappings(c *gin.Context) {
	var req struct {
		ConnectionID  string `json:"connection_id" binding:"required"`
		GlideTableID  string `json:"glide_table_id" binding:"required"`
		SupabaseTable string `json:"supabase_table" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conn, err := h.store.GetConnection(req.ConnectionID)
	if err != nil {
		respondError(c, err)
		return
	}

	sourceSchema, err := h.glide.ListColumns(c.Request.Context(), conn, req.GlideTableID)
	if err != nil {
		respondError(c, err)
		return
	}
	sinkSchema, err := h.supabase.ListColumns(c.Request.Context(), req.SupabaseTable)
	if err != nil {
		respondError(c, err)
		return
	}

	sourceColumns := make([]string, 0, len(sourceSchema))
	for _, col := range sourceSchema {
		sourceColumns = append(sourceColumns, col.Name)
	}

	suggestions := h.suggester.Suggest(sinkSchema, sourceColumns)
	c.JSON(http.StatusOK, gin.H{"data": suggestions})
}

// validate 拉取两端结构快照并运行校验器
func (h *MappingHandler) validate(c *gin.Context, mapping *models.TableMapping) (*service.ValidationResult, error) {
	sourceSchema, err := h.glide.ListColumns(c.Request.Context(), mapping.Connection, mapping.GlideTableID)
	if err != nil {
		return nil, err
	}
	sinkSchema, err := h.supabase.ListColumns(c.Request.Context(), mapping.SupabaseTable)
	if err != nil {
		return nil, err
	}

	result := h.validator.Validate(mapping, sourceSchema, sinkSchema)
	return &result, nil
}
