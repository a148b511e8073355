package service

import (
	"context"

	"zh.xyz/dv/glidesync/models"
)

// MappingReader 编排器需要的映射读取能力，由store提供
type MappingReader interface {
	GetMapping(id string) (*models.TableMapping, error)
	ListEnabled() ([]models.TableMapping, error)
	ListEnabledBySupabaseTable(table string) ([]models.TableMapping, error)
}

// RunStore 同步日志存取能力，由store提供
// StartRun 是运行互斥：同一映射已有running日志时返回ErrConflict
type RunStore interface {
	StartRun(mappingID string) (*models.SyncLog, error)
	CompleteRun(logID, status string, processed, failed int64, message string) error
	GetLog(id string) (*models.SyncLog, error)
}

// GlideEndpoint Glide侧的行级读写能力
// ReadRows 游标分页，next为空表示读完
// WriteRows 返回写入失败的行下标；ConnectionError表示端点整体不可达，
// 其他error视为该批写入失败
type GlideEndpoint interface {
	ListColumns(ctx context.Context, conn *models.GlideConnection, tableID string) ([]models.ColumnSchema, error)
	ReadRows(ctx context.Context, conn *models.GlideConnection, tableID, cursor string, limit int) ([]map[string]interface{}, string, error)
	WriteRows(ctx context.Context, conn *models.GlideConnection, tableID string, rows []map[string]interface{}) ([]int, error)
}

// SupabaseEndpoint Supabase侧的行级读写能力，契约同上
type SupabaseEndpoint interface {
	ListColumns(ctx context.Context, table string) ([]models.ColumnSchema, error)
	ReadRows(ctx context.Context, table, cursor string, limit int) ([]map[string]interface{}, string, error)
	WriteRows(ctx context.Context, table string, rows []map[string]interface{}) ([]int, error)
}
