package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"zh.xyz/dv/glidesync/models"
)

// SyncScheduler 同步触发器
// 两类触发：按映射cron表达式的定时运行，以及变更事件驱动的去抖运行
type SyncScheduler struct {
	cronManager  *cron.Cron
	orchestrator *Orchestrator
	mappings     MappingReader
	debounce     time.Duration
	logger       *logrus.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID

	// mappingID -> 上次事件触发时间，去抖用
	lastTrigger sync.Map
}

func NewSyncScheduler(orchestrator *Orchestrator, mappings MappingReader, debounce time.Duration, logger *logrus.Logger) *SyncScheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if debounce <= 0 {
		debounce = 5 * time.Second
	}
	return &SyncScheduler{
		cronManager:  cron.New(cron.WithSeconds()),
		orchestrator: orchestrator,
		mappings:     mappings,
		debounce:     debounce,
		logger:       logger,
		entries:      make(map[string]cron.EntryID),
	}
}

func (s *SyncScheduler) Start() {
	s.cronManager.Start()
}

func (s *SyncScheduler) Stop() {
	s.cronManager.Stop()
}

// Reload 重新注册所有带cron表达式的启用映射
func (s *SyncScheduler) Reload() error {
	mappings, err := s.mappings.ListEnabled()
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, entryID := range s.entries {
		s.cronManager.Remove(entryID)
	}
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	for _, m := range mappings {
		if m.Schedule == "" {
			continue
		}
		if err := s.ScheduleMapping(&m); err != nil {
			s.logger.WithField("mapping_id", m.ID).WithError(err).Error("注册定时同步失败")
		}
	}
	return nil
}

// ScheduleMapping 为一个映射注册定时运行
func (s *SyncScheduler) ScheduleMapping(m *models.TableMapping) error {
	mappingID := m.ID
	entryID, err := s.cronManager.AddFunc(m.Schedule, func() {
		s.runOnce(mappingID, "scheduled")
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[mappingID]; ok {
		s.cronManager.Remove(old)
	}
	s.entries[mappingID] = entryID
	return nil
}

// UnscheduleMapping 注销一个映射的定时运行
func (s *SyncScheduler) UnscheduleMapping(mappingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[mappingID]; ok {
		s.cronManager.Remove(entryID)
		delete(s.entries, mappingID)
	}
}

// HandleChange 变更事件入口：找到以该表为目标的启用映射并去抖触发
// 订阅时把这个方法挂到ChangeNotifier即可
func (s *SyncScheduler) HandleChange(ev models.ChangeEvent) {
	mappings, err := s.mappings.ListEnabledBySupabaseTable(ev.Table)
	if err != nil {
		s.logger.WithField("table", ev.Table).WithError(err).Error("查询事件相关映射失败")
		return
	}
	for _, m := range mappings {
		s.TriggerDebounced(m.ID)
	}
}

// TriggerDebounced 去抖触发一次运行，避免事件风暴打出Running冲突
func (s *SyncScheduler) TriggerDebounced(mappingID string) {
	now := time.Now()
	if last, ok := s.lastTrigger.Load(mappingID); ok {
		if now.Sub(last.(time.Time)) < s.debounce {
			return
		}
	}
	s.lastTrigger.Store(mappingID, now)

	go s.runOnce(mappingID, "change_event")
}

func (s *SyncScheduler) runOnce(mappingID, trigger string) {
	fields := logrus.Fields{"mapping_id": mappingID, "trigger": trigger}

	logEntry, err := s.orchestrator.Run(context.Background(), mappingID)
	if err != nil {
		// 已在运行中不是错误，跳过本次触发即可
		if errors.Is(err, ErrConflict) {
			s.logger.WithFields(fields).Debug("映射已在同步中，跳过触发")
			return
		}
		s.logger.WithFields(fields).WithError(err).Error("同步运行失败")
		return
	}
	s.logger.WithFields(fields).WithField("status", logEntry.Status).Info("同步运行完成")
}
