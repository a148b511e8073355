package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
)

// SyncLogStore 同步日志的追加式存取层
// running日志的创建同时是运行互斥：sync_run_slots 的唯一索引保证
// 同一映射同一时刻至多一个running，跨进程依然成立
type SyncLogStore struct {
	db *gorm.DB
}

func NewSyncLogStore(db *gorm.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

// StartRun 原子地为映射创建一条running日志
// 已有running日志时返回ErrConflict（插入占位记录触发唯一索引冲突）
func (s *SyncLogStore) StartRun(mappingID string) (*models.SyncLog, error) {
	logEntry := &models.SyncLog{
		ID:        uuid.NewString(),
		MappingID: &mappingID,
		Status:    models.SyncStatusRunning,
		StartedAt: time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		slot := models.SyncRunSlot{MappingID: mappingID, LogID: logEntry.ID}
		if err := tx.Create(&slot).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: 映射 %s 已有运行中的同步", service.ErrConflict, mappingID)
			}
			return err
		}
		return tx.Create(logEntry).Error
	})
	if err != nil {
		return nil, err
	}
	return logEntry, nil
}

// CompleteRun 把日志迁移到终态并盖上completed_at，同时结算映射计数
// 日志不存在或已终态时返回ErrNotFound且不做任何修改（重试安全，不会重复计数）
func (s *SyncLogStore) CompleteRun(logID, status string, processed, failed int64, message string) error {
	switch status {
	case models.SyncStatusSuccess, models.SyncStatusPartialFailure, models.SyncStatusFailure:
	default:
		return fmt.Errorf("非法的终态: %s", status)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var logEntry models.SyncLog
		if err := tx.First(&logEntry, "id = ?", logID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: 日志 %s", service.ErrNotFound, logID)
			}
			return err
		}
		if logEntry.Status != models.SyncStatusRunning {
			return fmt.Errorf("%w: 日志 %s 已处于终态 %s", service.ErrNotFound, logID, logEntry.Status)
		}

		now := time.Now()
		result := tx.Model(&models.SyncLog{}).
			Where("id = ? AND status = ?", logID, models.SyncStatusRunning).
			Updates(map[string]interface{}{
				"status":            status,
				"message":           message,
				"records_processed": processed,
				"failed_records":    failed,
				"completed_at":      now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: 日志 %s", service.ErrNotFound, logID)
		}

		if err := tx.Where("log_id = ?", logID).Delete(&models.SyncRunSlot{}).Error; err != nil {
			return err
		}

		// 映射可能在运行期间被删除（日志引用已置空），此时只收尾日志
		if logEntry.MappingID == nil {
			return nil
		}
		return settleMapping(tx, *logEntry.MappingID, status, processed, failed, now)
	})
}

// ForceComplete 把滞留的running日志强制收尾为failure
// 进程崩溃留下的孤儿运行由外部运维策略判定后调用此接口回收
func (s *SyncLogStore) ForceComplete(logID, message string) error {
	logEntry, err := s.GetLog(logID)
	if err != nil {
		return err
	}
	if message == "" {
		message = "运行被强制终止"
	}
	return s.CompleteRun(logID, models.SyncStatusFailure,
		logEntry.RecordsProcessed, logEntry.FailedRecords, message)
}

// GetLog 按ID获取日志
func (s *SyncLogStore) GetLog(id string) (*models.SyncLog, error) {
	var logEntry models.SyncLog
	if err := s.db.First(&logEntry, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 日志 %s", service.ErrNotFound, id)
		}
		return nil, err
	}
	return &logEntry, nil
}

// ListForMapping 返回映射的历史日志，按开始时间倒序
func (s *SyncLogStore) ListForMapping(mappingID string) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	err := s.db.Where("mapping_id = ?", mappingID).
		Order("started_at desc").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// RunningLog 返回映射当前的running日志，没有则返回ErrNotFound
func (s *SyncLogStore) RunningLog(mappingID string) (*models.SyncLog, error) {
	var slot models.SyncRunSlot
	if err := s.db.First(&slot, "mapping_id = ?", mappingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 映射 %s 没有运行中的同步", service.ErrNotFound, mappingID)
		}
		return nil, err
	}
	return s.GetLog(slot.LogID)
}

// settleMapping 运行收尾时结算映射的状态与累计计数
// last_sync_completed_at 只在success/partial_failure时推进
func settleMapping(tx *gorm.DB, mappingID, status string, processed, failed int64, now time.Time) error {
	var mapping models.TableMapping
	if err := tx.First(&mapping, "id = ?", mappingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	updates := map[string]interface{}{
		"current_status": status,
		"error_count":    gorm.Expr("error_count + ?", failed),
		"total_records":  gorm.Expr("total_records + ?", processed),
	}
	if status == models.SyncStatusSuccess || status == models.SyncStatusPartialFailure {
		updates["last_sync_completed_at"] = now
	}
	if err := tx.Model(&models.TableMapping{}).Where("id = ?", mappingID).Updates(updates).Error; err != nil {
		return err
	}

	if status == models.SyncStatusSuccess || status == models.SyncStatusPartialFailure {
		return tx.Model(&models.GlideConnection{}).
			Where("id = ?", mapping.ConnectionID).
			Update("last_sync_at", now).Error
	}
	return nil
}

// isDuplicateKey 识别各方言的唯一约束冲突
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "Duplicate entry") || // mysql
		strings.Contains(msg, "UNIQUE constraint") // sqlite
}
