package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"zh.xyz/dv/glidesync/models"
)

// Orchestrator 同步编排器：执行一次映射的同步运行
// 状态机：Idle -> Running -> {Success, PartialFailure, Failure}
// Idle不落库，创建running日志即为获取运行互斥
type Orchestrator struct {
	mappings  MappingReader
	runs      RunStore
	glide     GlideEndpoint
	supabase  SupabaseEndpoint
	batchSize int
	logger    *logrus.Logger

	// logID -> cancel，用于协作取消
	cancels sync.Map
}

func NewOrchestrator(mappings MappingReader, runs RunStore, glide GlideEndpoint, supabase SupabaseEndpoint, batchSize int, logger *logrus.Logger) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{
		mappings:  mappings,
		runs:      runs,
		glide:     glide,
		supabase:  supabase,
		batchSize: batchSize,
		logger:    logger,
	}
}

// passResult 一个方向趟次的结果
type passResult struct {
	processed int64
	failed    int64
	abortMsg  string // 非空表示连接级失败或取消，趟次被中止
}

// Run 执行一次同步运行，返回终态日志
// 同一映射已有running日志时返回ErrConflict；任何中止路径都会写入终态日志
func (o *Orchestrator) Run(ctx context.Context, mappingID string) (*models.SyncLog, error) {
	logEntry, err := o.runs.StartRun(mappingID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancels.Store(logEntry.ID, cancel)
	defer func() {
		cancel()
		o.cancels.Delete(logEntry.ID)
	}()

	fields := logrus.Fields{"mapping_id": mappingID, "log_id": logEntry.ID}
	o.logger.WithFields(fields).Info("同步运行开始")

	// 映射被删除或未启用时立即以failure收尾，零记录
	mapping, err := o.mappings.GetMapping(mappingID)
	if err != nil {
		return o.finalize(logEntry.ID, models.SyncStatusFailure, 0, 0, "映射不存在，运行中止")
	}
	if !mapping.Enabled {
		return o.finalize(logEntry.ID, models.SyncStatusFailure, 0, 0, "映射未启用，运行中止")
	}

	var passes []string
	switch mapping.SyncDirection {
	case models.DirectionToSupabase:
		passes = []string{models.DirectionToSupabase}
	case models.DirectionToGlide:
		passes = []string{models.DirectionToGlide}
	case models.DirectionBidirectional:
		// 双向：两个独立的方向趟次，失败计数相加后再判终态
		passes = []string{models.DirectionToSupabase, models.DirectionToGlide}
	default:
		return o.finalize(logEntry.ID, models.SyncStatusFailure, 0, 0,
			fmt.Sprintf("未知的同步方向: %s", mapping.SyncDirection))
	}

	var processed, failed int64
	abortMsg := ""
	for _, direction := range passes {
		result := o.runPass(runCtx, mapping, direction)
		processed += result.processed
		failed += result.failed
		if result.abortMsg != "" {
			abortMsg = result.abortMsg
			break
		}
	}

	status, message := terminalStatus(processed, failed, abortMsg)
	o.logger.WithFields(fields).WithFields(logrus.Fields{
		"status":    status,
		"processed": processed,
		"failed":    failed,
	}).Info("同步运行结束")

	return o.finalize(logEntry.ID, status, processed, failed, message)
}

// Cancel 请求取消一个running运行，在下一个批次边界生效
func (o *Orchestrator) Cancel(logID string) error {
	cancel, ok := o.cancels.Load(logID)
	if !ok {
		return fmt.Errorf("%w: 运行 %s 不在执行中", ErrNotFound, logID)
	}
	cancel.(context.CancelFunc)()
	return nil
}

// runPass 执行一个方向趟次，批次串行：一批投影、转换、写入完成后才开始下一批
// 连接级失败时当前批次不计入processed/failed
func (o *Orchestrator) runPass(ctx context.Context, mapping *models.TableMapping, direction string) passResult {
	var result passResult
	cursor := ""

	for {
		// 取消只在批次边界生效
		if ctx.Err() != nil {
			result.abortMsg = "运行已被取消"
			return result
		}

		rows, next, err := o.readBatch(ctx, mapping, direction, cursor)
		if err != nil {
			result.abortMsg = fmt.Sprintf("读侧不可达: %v", err)
			return result
		}
		if len(rows) == 0 {
			return result
		}

		projected, rowFailures := o.projectBatch(mapping, rows, direction)

		if len(projected) > 0 {
			failedIdx, err := o.writeBatch(ctx, mapping, direction, projected)
			switch {
			case err != nil && IsConnectionError(err):
				// 写侧整体不可达：中止剩余批次，当前批次不计数
				result.abortMsg = fmt.Sprintf("写侧不可达: %v", err)
				return result
			case err != nil:
				// 批次写入失败：整批计为失败，继续下一批
				o.logger.WithField("mapping_id", mapping.ID).WithError(err).Warn("批次写入失败")
				result.failed += int64(len(projected))
			default:
				result.failed += int64(len(failedIdx))
			}
		}

		result.processed += int64(len(rows))
		result.failed += rowFailures

		if next == "" {
			return result
		}
		cursor = next
	}
}

func (o *Orchestrator) readBatch(ctx context.Context, mapping *models.TableMapping, direction, cursor string) ([]map[string]interface{}, string, error) {
	if direction == models.DirectionToSupabase {
		return o.glide.ReadRows(ctx, mapping.Connection, mapping.GlideTableID, cursor, o.batchSize)
	}
	return o.supabase.ReadRows(ctx, mapping.SupabaseTable, cursor, o.batchSize)
}

func (o *Orchestrator) writeBatch(ctx context.Context, mapping *models.TableMapping, direction string, rows []map[string]interface{}) ([]int, error) {
	if direction == models.DirectionToSupabase {
		return o.supabase.WriteRows(ctx, mapping.SupabaseTable, rows)
	}
	return o.glide.WriteRows(ctx, mapping.Connection, mapping.GlideTableID, rows)
}

// projectBatch 按列映射投影并按声明类型转换一批行
// 单行转换失败只标记该行失败并继续，绝不因一行坏数据中止整个运行
func (o *Orchestrator) projectBatch(mapping *models.TableMapping, rows []map[string]interface{}, direction string) ([]map[string]interface{}, int64) {
	projected := make([]map[string]interface{}, 0, len(rows))
	var rowFailures int64

	for _, row := range rows {
		out := make(map[string]interface{}, len(mapping.ColumnMappings))
		rowErr := error(nil)

		for _, cm := range mapping.ColumnMappings {
			var srcCol, dstCol string
			if direction == models.DirectionToSupabase {
				srcCol, dstCol = cm.GlideColumn, cm.SupabaseColumn
			} else {
				srcCol, dstCol = cm.SupabaseColumn, cm.GlideColumn
			}

			value, err := CoerceValue(row[srcCol], cm.DataType)
			if err != nil {
				rowErr = &RowError{Column: srcCol, Cause: err}
				break
			}
			out[dstCol] = value
		}

		if rowErr != nil {
			rowFailures++
			o.logger.WithFields(logrus.Fields{
				"mapping_id": mapping.ID,
				"direction":  direction,
			}).WithError(rowErr).Debug("行转换失败")
			continue
		}
		projected = append(projected, out)
	}

	return projected, rowFailures
}

// terminalStatus 终态计算
// 中止必为failure；failed=0为success；全部失败为failure；其余为partial_failure
func terminalStatus(processed, failed int64, abortMsg string) (string, string) {
	if abortMsg != "" {
		return models.SyncStatusFailure, abortMsg
	}
	if failed == 0 {
		return models.SyncStatusSuccess, fmt.Sprintf("同步完成，处理 %d 条记录", processed)
	}
	if failed >= processed {
		return models.SyncStatusFailure, fmt.Sprintf("同步失败，%d 条记录全部失败", failed)
	}
	return models.SyncStatusPartialFailure,
		fmt.Sprintf("同步部分失败，处理 %d 条记录，其中 %d 条失败", processed, failed)
}

// finalize 写入终态日志；任何中止路径都经由这里，保证运行必有记录的结局
func (o *Orchestrator) finalize(logID, status string, processed, failed int64, message string) (*models.SyncLog, error) {
	if err := o.runs.CompleteRun(logID, status, processed, failed, message); err != nil {
		o.logger.WithField("log_id", logID).WithError(err).Error("写入终态日志失败")
		return nil, err
	}
	return o.runs.GetLog(logID)
}
