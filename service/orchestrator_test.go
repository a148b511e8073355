package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zh.xyz/dv/glidesync/models"
)

// fakeMappingReader 内存映射读取，按ID索引
type fakeMappingReader struct {
	mappings map[string]*models.TableMapping
}

func (f *fakeMappingReader) GetMapping(id string) (*models.TableMapping, error) {
	m, ok := f.mappings[id]
	if !ok {
		return nil, fmt.Errorf("%w: 映射 %s", ErrNotFound, id)
	}
	return m, nil
}

func (f *fakeMappingReader) ListEnabled() ([]models.TableMapping, error) { return nil, nil }

func (f *fakeMappingReader) ListEnabledBySupabaseTable(table string) ([]models.TableMapping, error) {
	var out []models.TableMapping
	for _, m := range f.mappings {
		if m.Enabled && m.SupabaseTable == table {
			out = append(out, *m)
		}
	}
	return out, nil
}

// fakeRunStore 内存日志存取，复刻唯一索引的互斥语义
type fakeRunStore struct {
	mu      sync.Mutex
	logs    map[string]*models.SyncLog
	slots   map[string]string // mappingID -> logID
	counter int
	lastID  string
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		logs:  make(map[string]*models.SyncLog),
		slots: make(map[string]string),
	}
}

func (f *fakeRunStore) StartRun(mappingID string) (*models.SyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.slots[mappingID]; ok {
		return nil, fmt.Errorf("%w: 映射 %s 已有运行中的同步", ErrConflict, mappingID)
	}
	f.counter++
	entry := &models.SyncLog{
		ID:        fmt.Sprintf("log-%d", f.counter),
		MappingID: &mappingID,
		Status:    models.SyncStatusRunning,
	}
	f.logs[entry.ID] = entry
	f.slots[mappingID] = entry.ID
	f.lastID = entry.ID
	return entry, nil
}

func (f *fakeRunStore) CompleteRun(logID, status string, processed, failed int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.logs[logID]
	if !ok || entry.Status != models.SyncStatusRunning {
		return fmt.Errorf("%w: 日志 %s", ErrNotFound, logID)
	}
	entry.Status = status
	entry.RecordsProcessed = processed
	entry.FailedRecords = failed
	entry.Message = message
	if entry.MappingID != nil {
		delete(f.slots, *entry.MappingID)
	}
	return nil
}

func (f *fakeRunStore) GetLog(id string) (*models.SyncLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.logs[id]
	if !ok {
		return nil, fmt.Errorf("%w: 日志 %s", ErrNotFound, id)
	}
	clone := *entry
	return &clone, nil
}

// fakeGlideEndpoint 预置行数据的Glide端点，按limit切批
type fakeGlideEndpoint struct {
	rows     []map[string]interface{}
	written  []map[string]interface{}
	readHook func(readCount int) // 每次ReadRows返回前调用
	reads    int
}

func (f *fakeGlideEndpoint) ListColumns(context.Context, *models.GlideConnection, string) ([]models.ColumnSchema, error) {
	return nil, nil
}

func (f *fakeGlideEndpoint) ReadRows(_ context.Context, _ *models.GlideConnection, _ string, cursor string, limit int) ([]map[string]interface{}, string, error) {
	f.reads++
	if f.readHook != nil {
		f.readHook(f.reads)
	}
	return sliceBatch(f.rows, cursor, limit)
}

func (f *fakeGlideEndpoint) WriteRows(_ context.Context, _ *models.GlideConnection, _ string, rows []map[string]interface{}) ([]int, error) {
	f.written = append(f.written, rows...)
	return nil, nil
}

// fakeSupabaseEndpoint 预置行数据的Supabase端点
// failWriteAt 非零时第N次写入返回连接错误；failRowIdx 指定每批中写失败的行下标
type fakeSupabaseEndpoint struct {
	rows        []map[string]interface{}
	written     []map[string]interface{}
	writes      int
	failWriteAt int
	failRowIdx  []int
}

func (f *fakeSupabaseEndpoint) ListColumns(context.Context, string) ([]models.ColumnSchema, error) {
	return nil, nil
}

func (f *fakeSupabaseEndpoint) ReadRows(_ context.Context, _ string, cursor string, limit int) ([]map[string]interface{}, string, error) {
	return sliceBatch(f.rows, cursor, limit)
}

func (f *fakeSupabaseEndpoint) WriteRows(_ context.Context, _ string, rows []map[string]interface{}) ([]int, error) {
	f.writes++
	if f.failWriteAt > 0 && f.writes >= f.failWriteAt {
		return nil, &ConnectionError{Op: "supabase.writeRows", Cause: errors.New("连接被重置")}
	}
	f.written = append(f.written, rows...)
	return f.failRowIdx, nil
}

// sliceBatch 用数字游标模拟分页
func sliceBatch(rows []map[string]interface{}, cursor string, limit int) ([]map[string]interface{}, string, error) {
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	if start >= len(rows) {
		return nil, "", nil
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	next := ""
	if end < len(rows) {
		next = fmt.Sprintf("%d", end)
	}
	return rows[start:end], next, nil
}

func makeRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		rows[i] = map[string]interface{}{
			"Name":   fmt.Sprintf("row-%d", i),
			"Amount": float64(i),
		}
	}
	return rows
}

func testMapping(direction string) *models.TableMapping {
	return &models.TableMapping{
		ID:            "m-1",
		GlideTableID:  "tbl-abc",
		SupabaseTable: "orders",
		SyncDirection: direction,
		Enabled:       true,
		Connection:    &models.GlideConnection{ID: "c-1", AppID: "app", APIKey: "key"},
		ColumnMappings: models.ColumnMappingSet{
			"Name":   {GlideColumn: "Name", SupabaseColumn: "name", DataType: models.DataTypeString},
			"Amount": {GlideColumn: "Amount", SupabaseColumn: "amount", DataType: models.DataTypeNumber},
		},
	}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestRunSuccess(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: makeRows(100)}
	supabase := &fakeSupabaseEndpoint{}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusSuccess, logEntry.Status)
	assert.Equal(t, int64(100), logEntry.RecordsProcessed)
	assert.Equal(t, int64(0), logEntry.FailedRecords)
	assert.Len(t, supabase.written, 100)
	// 投影应该按列映射换名
	assert.Equal(t, "row-0", supabase.written[0]["name"])
	assert.Equal(t, float64(0), supabase.written[0]["amount"])
}

func TestRunRowCoercionFailureIsPartial(t *testing.T) {
	rows := makeRows(100)
	// 第57行的数字列放进无法解析的字符串，只应标记该行失败
	rows[57]["Amount"] = "不是数字"

	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: rows}
	supabase := &fakeSupabaseEndpoint{}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusPartialFailure, logEntry.Status)
	assert.Equal(t, int64(100), logEntry.RecordsProcessed)
	assert.Equal(t, int64(1), logEntry.FailedRecords)
	assert.Len(t, supabase.written, 99)
}

func TestRunWriteConnectionFailureAborts(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: makeRows(100)}
	// 第3批写入时连接断开：前两批共40条计入，当前批不计
	supabase := &fakeSupabaseEndpoint{failWriteAt: 3}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Equal(t, int64(40), logEntry.RecordsProcessed)
	assert.Contains(t, logEntry.Message, "写侧不可达")
}

func TestRunBatchWriteFailureContinues(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: makeRows(60)}
	// 第2批整体写入失败但不是连接级故障：该批20条计为失败，后续批次继续
	supabase := &batchFailEndpoint{failAt: 2}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusPartialFailure, logEntry.Status)
	assert.Equal(t, int64(60), logEntry.RecordsProcessed)
	assert.Equal(t, int64(20), logEntry.FailedRecords)
}

type batchFailEndpoint struct {
	fakeSupabaseEndpoint
	failAt int
	calls  int
}

func (f *batchFailEndpoint) WriteRows(_ context.Context, _ string, rows []map[string]interface{}) ([]int, error) {
	f.calls++
	if f.calls == f.failAt {
		return nil, errors.New("唯一约束冲突")
	}
	f.written = append(f.written, rows...)
	return nil, nil
}

func TestRunPerRowWriteFailures(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: makeRows(40)}
	// 每批第0行写入失败：2批即2条失败
	supabase := &fakeSupabaseEndpoint{failRowIdx: []int{0}}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusPartialFailure, logEntry.Status)
	assert.Equal(t, int64(40), logEntry.RecordsProcessed)
	assert.Equal(t, int64(2), logEntry.FailedRecords)
}

func TestRunAllRowsFailedIsFailure(t *testing.T) {
	rows := makeRows(3)
	for i := range rows {
		rows[i]["Amount"] = "坏数据"
	}

	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: rows}
	supabase := &fakeSupabaseEndpoint{}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Equal(t, int64(3), logEntry.RecordsProcessed)
	assert.Equal(t, int64(3), logEntry.FailedRecords)
}

func TestRunMissingMappingFinalizes(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{}}
	runs := newFakeRunStore()

	o := NewOrchestrator(mappings, runs, &fakeGlideEndpoint{}, &fakeSupabaseEndpoint{}, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "ghost")
	require.NoError(t, err)

	// 任何中止路径都要留下终态日志
	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Equal(t, int64(0), logEntry.RecordsProcessed)
}

func TestRunDisabledMappingFinalizes(t *testing.T) {
	m := testMapping(models.DirectionToSupabase)
	m.Enabled = false
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": m}}
	runs := newFakeRunStore()

	o := NewOrchestrator(mappings, runs, &fakeGlideEndpoint{}, &fakeSupabaseEndpoint{}, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Contains(t, logEntry.Message, "未启用")
}

func TestRunBidirectionalMergesCounts(t *testing.T) {
	m := testMapping(models.DirectionBidirectional)
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": m}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{rows: makeRows(30)}
	supabase := &fakeSupabaseEndpoint{rows: makeSupabaseRows(20)}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	// 两个方向趟次的计数相加
	assert.Equal(t, models.SyncStatusSuccess, logEntry.Status)
	assert.Equal(t, int64(50), logEntry.RecordsProcessed)
	assert.Len(t, supabase.written, 30)
	assert.Len(t, glide.written, 20)
}

func makeSupabaseRows(n int) []map[string]interface{} {
	rows := make([]map[string]interface{}, n)
	for i := 0; i < n; i++ {
		rows[i] = map[string]interface{}{
			"name":   fmt.Sprintf("sb-%d", i),
			"amount": float64(i),
		}
	}
	return rows
}

func TestRunCancellationAtBatchBoundary(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	supabase := &fakeSupabaseEndpoint{}

	glide := &fakeGlideEndpoint{rows: makeRows(100)}
	var o *Orchestrator
	glide.readHook = func(readCount int) {
		// 第2批读取中请求取消：该批仍会完成，之后在批次边界中止
		if readCount == 2 {
			require.NoError(t, o.Cancel(runs.lastID))
		}
	}

	o = NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Equal(t, int64(40), logEntry.RecordsProcessed)
	assert.Contains(t, logEntry.Message, "取消")
}

func TestRunConcurrentSameMappingConflicts(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToSupabase)}}
	runs := newFakeRunStore()
	supabase := &fakeSupabaseEndpoint{}

	firstInRead := make(chan struct{})
	release := make(chan struct{})
	glide := &fakeGlideEndpoint{rows: makeRows(10)}
	glide.readHook = func(readCount int) {
		if readCount == 1 {
			close(firstInRead)
			<-release
		}
	}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())

	type runResult struct {
		logEntry *models.SyncLog
		err      error
	}
	done := make(chan runResult)
	go func() {
		logEntry, err := o.Run(context.Background(), "m-1")
		done <- runResult{logEntry, err}
	}()

	// 第一个运行持有互斥时，第二个启动必须立即拿到冲突
	<-firstInRead
	_, err := o.Run(context.Background(), "m-1")
	assert.ErrorIs(t, err, ErrConflict)

	close(release)
	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, models.SyncStatusSuccess, first.logEntry.Status)

	// 第一个运行结束后互斥释放，可以再次启动
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSuccess, logEntry.Status)
}

func TestRunReadConnectionFailureAborts(t *testing.T) {
	mappings := &fakeMappingReader{mappings: map[string]*models.TableMapping{"m-1": testMapping(models.DirectionToGlide)}}
	runs := newFakeRunStore()
	glide := &fakeGlideEndpoint{}
	supabase := &readFailEndpoint{}

	o := NewOrchestrator(mappings, runs, glide, supabase, 20, quietLogger())
	logEntry, err := o.Run(context.Background(), "m-1")
	require.NoError(t, err)

	assert.Equal(t, models.SyncStatusFailure, logEntry.Status)
	assert.Contains(t, logEntry.Message, "读侧不可达")
}

type readFailEndpoint struct {
	fakeSupabaseEndpoint
}

func (f *readFailEndpoint) ReadRows(context.Context, string, string, int) ([]map[string]interface{}, string, error) {
	return nil, "", &ConnectionError{Op: "supabase.readRows", Cause: errors.New("连接超时")}
}

func TestCancelUnknownRun(t *testing.T) {
	o := NewOrchestrator(&fakeMappingReader{}, newFakeRunStore(), &fakeGlideEndpoint{}, &fakeSupabaseEndpoint{}, 20, quietLogger())
	assert.ErrorIs(t, o.Cancel("ghost"), ErrNotFound)
}

func TestTerminalStatus(t *testing.T) {
	tests := []struct {
		name      string
		processed int64
		failed    int64
		abortMsg  string
		want      string
	}{
		{"中止必为failure", 40, 0, "写侧不可达", models.SyncStatusFailure},
		{"零失败为success", 100, 0, "", models.SyncStatusSuccess},
		{"部分失败", 100, 1, "", models.SyncStatusPartialFailure},
		{"全部失败", 10, 10, "", models.SyncStatusFailure},
		{"零记录成功", 0, 0, "", models.SyncStatusSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := terminalStatus(tt.processed, tt.failed, tt.abortMsg)
			assert.Equal(t, tt.want, status)
		})
	}
}
