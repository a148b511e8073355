package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"zh.xyz/dv/glidesync/glide"
	"zh.xyz/dv/glidesync/service"
	"zh.xyz/dv/glidesync/store"
)

// SchemaHandler 两端表结构查询，服务于映射编辑界面
type SchemaHandler struct {
	store    *store.MappingStore
	glide    *glide.Client
	supabase service.SupabaseEndpoint
}

func NewSchemaHandler(mappingStore *store.MappingStore, glideClient *glide.Client, supabase service.SupabaseEndpoint) *SchemaHandler {
	return &SchemaHandler{store: mappingStore, glide: glideClient, supabase: supabase}
}

// ListGlideTables 列出连接对应Glide应用中的表
func (h *SchemaHandler) ListGlideTables(c *gin.Context) {
	conn, err := h.store.GetConnection(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	tables, err := h.glide.ListTables(c.Request.Context(), conn)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tables})
}

// ListGlideColumns 列出Glide表的列结构
func (h *SchemaHandler) ListGlideColumns(c *gin.Context) {
	conn, err := h.store.GetConnection(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	columns, err := h.glide.ListColumns(c.Request.Context(), conn, c.Param("table"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": columns})
}

// ListSupabaseColumns 列出Supabase表的列结构
func (h *SchemaHandler) ListSupabaseColumns(c *gin.Context) {
	columns, err := h.supabase.ListColumns(c.Request.Context(), c.Param("table"))
	if err != nil {
		respondError(c, err)
		return
	}

	if len(columns) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "表不存在或没有列"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": columns})
}
