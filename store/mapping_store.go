package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
)

// MappingStore 连接与表映射的数据访问层，不含同步逻辑
type MappingStore struct {
	db *gorm.DB
}

func NewMappingStore(db *gorm.DB) *MappingStore {
	return &MappingStore{db: db}
}

// CreateConnection 创建Glide连接
func (s *MappingStore) CreateConnection(conn *models.GlideConnection) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = "active"
	}
	return s.db.Create(conn).Error
}

// GetConnection 按ID获取连接
func (s *MappingStore) GetConnection(id string) (*models.GlideConnection, error) {
	var conn models.GlideConnection
	if err := s.db.First(&conn, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 连接 %s", service.ErrNotFound, id)
		}
		return nil, err
	}
	return &conn, nil
}

// ListConnections 列出所有连接
func (s *MappingStore) ListConnections() ([]models.GlideConnection, error) {
	var conns []models.GlideConnection
	if err := s.db.Order("name asc").Find(&conns).Error; err != nil {
		return nil, err
	}
	return conns, nil
}

// UpdateConnection 更新连接（凭证轮换、状态切换）
func (s *MappingStore) UpdateConnection(conn *models.GlideConnection) error {
	if conn.ID == "" {
		return fmt.Errorf("%w: 连接ID为空", service.ErrNotFound)
	}
	result := s.db.Model(&models.GlideConnection{}).Where("id = ?", conn.ID).Updates(map[string]interface{}{
		"name":     conn.Name,
		"app_id":   conn.AppID,
		"api_key":  conn.APIKey,
		"status":   conn.Status,
		"settings": conn.Settings,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: 连接 %s", service.ErrNotFound, conn.ID)
	}
	return nil
}

// DeleteConnection 删除连接
// 仍被映射引用的连接不允许硬删除，改为停用
func (s *MappingStore) DeleteConnection(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var conn models.GlideConnection
		if err := tx.First(&conn, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: 连接 %s", service.ErrNotFound, id)
			}
			return err
		}

		var refs int64
		if err := tx.Model(&models.TableMapping{}).Where("connection_id = ?", id).Count(&refs).Error; err != nil {
			return err
		}
		if refs > 0 {
			return tx.Model(&conn).Update("status", "inactive").Error
		}
		return tx.Delete(&conn).Error
	})
}

// CreateMapping 创建表映射，新映射一律以禁用状态落库
func (s *MappingStore) CreateMapping(m *models.TableMapping) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Enabled = false
	m.Connection = nil

	var refs int64
	if err := s.db.Model(&models.GlideConnection{}).Where("id = ?", m.ConnectionID).Count(&refs).Error; err != nil {
		return err
	}
	if refs == 0 {
		return fmt.Errorf("%w: 连接 %s", service.ErrNotFound, m.ConnectionID)
	}
	return s.db.Create(m).Error
}

// GetMapping 按ID获取映射，带连接信息
func (s *MappingStore) GetMapping(id string) (*models.TableMapping, error) {
	var m models.TableMapping
	if err := s.db.Preload("Connection").First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 映射 %s", service.ErrNotFound, id)
		}
		return nil, err
	}
	return &m, nil
}

// ListMappings 列出映射，可按连接和启用状态过滤，按表显示名升序
func (s *MappingStore) ListMappings(connectionID string, enabled *bool) ([]models.TableMapping, error) {
	query := s.db.Preload("Connection").Order("glide_table_name asc")
	if connectionID != "" {
		query = query.Where("connection_id = ?", connectionID)
	}
	if enabled != nil {
		query = query.Where("enabled = ?", *enabled)
	}

	var mappings []models.TableMapping
	if err := query.Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

// ListEnabled 列出所有启用的映射
func (s *MappingStore) ListEnabled() ([]models.TableMapping, error) {
	enabled := true
	return s.ListMappings("", &enabled)
}

// ListEnabledBySupabaseTable 列出以指定Supabase表为目标的启用映射
func (s *MappingStore) ListEnabledBySupabaseTable(table string) ([]models.TableMapping, error) {
	var mappings []models.TableMapping
	err := s.db.Preload("Connection").
		Where("supabase_table = ? AND enabled = ?", table, true).
		Order("glide_table_name asc").
		Find(&mappings).Error
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

// UpdateMapping 更新映射
// 存在running日志时拒绝修改，避免运行中执行到一半的列集
func (s *MappingStore) UpdateMapping(m *models.TableMapping) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		running, err := hasRunningSlot(tx, m.ID)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("%w: 映射 %s 正在同步中，禁止修改", service.ErrConflict, m.ID)
		}

		if m.Enabled && len(m.ColumnMappings) == 0 {
			return &service.ValidationError{Message: "列映射集合为空的映射不能启用"}
		}

		result := tx.Model(&models.TableMapping{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
			"glide_table_id":   m.GlideTableID,
			"glide_table_name": m.GlideTableName,
			"supabase_table":   m.SupabaseTable,
			"sync_direction":   m.SyncDirection,
			"enabled":          m.Enabled,
			"schedule":         m.Schedule,
			"column_mappings":  m.ColumnMappings,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: 映射 %s", service.ErrNotFound, m.ID)
		}
		return nil
	})
}

// DeleteMapping 删除映射
// 历史日志保留，引用置空；存在running日志时拒绝删除
func (s *MappingStore) DeleteMapping(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var m models.TableMapping
		if err := tx.First(&m, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: 映射 %s", service.ErrNotFound, id)
			}
			return err
		}

		running, err := hasRunningSlot(tx, id)
		if err != nil {
			return err
		}
		if running {
			return fmt.Errorf("%w: 映射 %s 正在同步中，禁止删除", service.ErrConflict, id)
		}

		if err := tx.Model(&models.SyncLog{}).Where("mapping_id = ?", id).
			Update("mapping_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&m).Error
	})
}

func hasRunningSlot(tx *gorm.DB, mappingID string) (bool, error) {
	var count int64
	if err := tx.Model(&models.SyncRunSlot{}).Where("mapping_id = ?", mappingID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
