package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// User 用户模型
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"` // 不返回给前端
	Email     string    `gorm:"type:varchar(255);not null" json:"email"`
	Role      string    `gorm:"type:varchar(50);default:user" json:"role"`     // admin, user
	Status    string    `gorm:"type:varchar(50);default:active" json:"status"` // active, inactive
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// 同步方向
const (
	DirectionToSupabase    = "to_supabase"   // Glide -> Supabase
	DirectionToGlide       = "to_glide"      // Supabase -> Glide
	DirectionBidirectional = "bidirectional" // 双向，先到Supabase再回写Glide
)

// 同步运行状态
const (
	SyncStatusRunning        = "running"
	SyncStatusSuccess        = "success"
	SyncStatusPartialFailure = "partial_failure"
	SyncStatusFailure        = "failure"
)

// 列映射声明类型
const (
	DataTypeString  = "string"
	DataTypeNumber  = "number"
	DataTypeBoolean = "boolean"
	DataTypeDate    = "date"
	DataTypeJSON    = "json"
)

// GlideConnection Glide应用连接配置
type GlideConnection struct {
	ID         string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name       string      `gorm:"type:varchar(255);not null" json:"name"` // 连接名称
	AppID      string      `gorm:"type:varchar(100);not null" json:"app_id"`
	APIKey     string      `gorm:"type:varchar(255);not null" json:"-"`           // 不返回给前端
	Status     string      `gorm:"type:varchar(50);default:active" json:"status"` // active, inactive
	LastSyncAt *time.Time  `json:"last_sync_at"`
	Settings   SettingsMap `gorm:"type:text" json:"settings"` // 自由格式设置（JSON）
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TableMapping 表映射：一个Glide表与一个Supabase表的对应关系
type TableMapping struct {
	ID                  string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	ConnectionID        string           `gorm:"type:varchar(36);not null;index" json:"connection_id"`
	Connection          *GlideConnection `gorm:"foreignKey:ConnectionID" json:"connection,omitempty"`
	GlideTableID        string           `gorm:"type:varchar(100);not null" json:"glide_table_id"`
	GlideTableName      string           `gorm:"type:varchar(255);not null" json:"glide_table_name"` // 显示名称，列表按此排序
	SupabaseTable       string           `gorm:"type:varchar(255);not null" json:"supabase_table"`
	SyncDirection       string           `gorm:"type:varchar(50);not null;default:to_supabase" json:"sync_direction"`
	Enabled             bool             `gorm:"default:false" json:"enabled"`
	Schedule            string           `gorm:"type:varchar(100)" json:"schedule"` // 可选cron表达式，空表示仅手动/事件触发
	ColumnMappings      ColumnMappingSet `gorm:"type:text" json:"column_mappings"`  // 以Glide列名为键
	CurrentStatus       string           `gorm:"type:varchar(50)" json:"current_status"`
	LastSyncCompletedAt *time.Time       `json:"last_sync_completed_at"`
	ErrorCount          int64            `gorm:"default:0" json:"error_count"`
	TotalRecords        int64            `gorm:"default:0" json:"total_records"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// ColumnMapping 单个字段级对应关系
type ColumnMapping struct {
	GlideColumn    string `json:"glide_column"`
	SupabaseColumn string `json:"supabase_column"`
	DataType       string `json:"data_type"` // string, number, boolean, date, json
}

// ColumnMappingSet 列映射集合，以Glide列名为键，序列化为JSON存储
type ColumnMappingSet map[string]ColumnMapping

func (s ColumnMappingSet) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (s *ColumnMappingSet) Scan(value interface{}) error {
	if value == nil {
		*s = ColumnMappingSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 解析为列映射集合", value)
	}
	if len(data) == 0 {
		*s = ColumnMappingSet{}
		return nil
	}
	return json.Unmarshal(data, s)
}

// SettingsMap 自由格式设置，序列化为JSON存储
type SettingsMap map[string]interface{}

func (m SettingsMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (m *SettingsMap) Scan(value interface{}) error {
	if value == nil {
		*m = SettingsMap{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("无法将 %T 解析为设置", value)
	}
	if len(data) == 0 {
		*m = SettingsMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// SyncLog 同步运行日志，进入终态后不可变
// MappingID 允许为空：映射删除后历史日志保留，引用置空
type SyncLog struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	MappingID        *string    `gorm:"type:varchar(36);index" json:"mapping_id"`
	Status           string     `gorm:"type:varchar(50);not null" json:"status"` // running, success, partial_failure, failure
	Message          string     `gorm:"type:text" json:"message"`
	RecordsProcessed int64      `gorm:"default:0" json:"records_processed"`
	FailedRecords    int64      `gorm:"default:0" json:"failed_records"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// SyncRunSlot 每个映射的运行占位记录
// mapping_id 上的唯一索引就是"同一映射至多一个running"的原子保证
type SyncRunSlot struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	MappingID string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"mapping_id"`
	LogID     string    `gorm:"type:varchar(36);not null" json:"log_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ColumnSchema 一个端点的列结构快照
type ColumnSchema struct {
	Name       string `json:"name"`
	NativeType string `json:"native_type"`
	Writable   bool   `json:"writable"`
}
