package dbconn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lib/pq"

	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
)

// SinkEndpoint Supabase侧（关系库）的行级读写适配器，实现service.SupabaseEndpoint
type SinkEndpoint struct {
	db     *sql.DB
	dbType string // mysql, postgres

	// 表名 -> 主键列，按表缓存
	pkCache sync.Map
}

func NewSinkEndpoint(db *sql.DB, dbType string) *SinkEndpoint {
	return &SinkEndpoint{db: db, dbType: dbType}
}

// ListColumns 查询information_schema得到列结构快照
// writable 取 is_updatable，生成列等不可写列由此排除在双向映射之外
func (e *SinkEndpoint) ListColumns(ctx context.Context, table string) ([]models.ColumnSchema, error) {
	var query string
	switch e.dbType {
	case "mysql":
		query = `SELECT column_name, data_type, 'YES' FROM information_schema.columns
			WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position`
	case "postgres":
		query = `SELECT column_name, data_type, is_updatable FROM information_schema.columns
			WHERE table_schema = 'public' AND table_name = $1 ORDER BY ordinal_position`
	default:
		return nil, fmt.Errorf("unsupported database type: %s", e.dbType)
	}

	rows, err := e.db.QueryContext(ctx, query, table)
	if err != nil {
		if isConnectionFailure(err) {
			return nil, &service.ConnectionError{Op: "supabase.listColumns", Cause: err}
		}
		return nil, err
	}
	defer rows.Close()

	var columns []models.ColumnSchema
	for rows.Next() {
		var name, nativeType, updatable string
		if err := rows.Scan(&name, &nativeType, &updatable); err != nil {
			continue
		}
		columns = append(columns, models.ColumnSchema{
			Name:       name,
			NativeType: nativeType,
			Writable:   updatable == "YES",
		})
	}
	return columns, rows.Err()
}

// ReadRows 偏移量游标分页读取，next为空表示读完
func (e *SinkEndpoint) ReadRows(ctx context.Context, table, cursor string, limit int) ([]map[string]interface{}, string, error) {
	offset := 0
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("非法的游标: %s", cursor)
		}
		offset = parsed
	}

	query := fmt.Sprintf("SELECT * FROM %s ORDER BY 1 LIMIT %d OFFSET %d",
		e.quoteIdentifier(table), limit, offset)

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		if isConnectionFailure(err) {
			return nil, "", &service.ConnectionError{Op: "supabase.readRows", Cause: err}
		}
		return nil, "", err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, "", err
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			continue
		}

		rowData := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				rowData[col] = string(b)
			} else {
				rowData[col] = values[i]
			}
		}
		results = append(results, rowData)
	}
	if err := rows.Err(); err != nil {
		if isConnectionFailure(err) {
			return nil, "", &service.ConnectionError{Op: "supabase.readRows", Cause: err}
		}
		return nil, "", err
	}

	next := ""
	if len(results) == limit {
		next = strconv.Itoa(offset + limit)
	}
	return results, next, nil
}

// WriteRows 批量UPSERT写入，返回写入失败的行下标
// 批次整体失败时全部行计为失败并由调用方继续下一批；连接级失败返回error
func (e *SinkEndpoint) WriteRows(ctx context.Context, table string, rows []map[string]interface{}) ([]int, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	// 投影保证每行列集一致，从首行取列名并排序保证SQL稳定
	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	primaryKeys, err := e.primaryKeys(ctx, table)
	if err != nil {
		if isConnectionFailure(err) {
			return nil, &service.ConnectionError{Op: "supabase.writeRows", Cause: err}
		}
		return allFailed(rows), nil
	}

	var execErr error
	switch e.dbType {
	case "mysql":
		execErr = e.upsertMySQL(ctx, table, rows, columns)
	case "postgres":
		execErr = e.upsertPostgres(ctx, table, rows, columns, primaryKeys)
	default:
		return allFailed(rows), nil
	}

	if execErr != nil {
		if isConnectionFailure(execErr) {
			return nil, &service.ConnectionError{Op: "supabase.writeRows", Cause: execErr}
		}
		// 批次写入失败：该批所有行计为失败，不中断运行
		return allFailed(rows), nil
	}
	return nil, nil
}

// upsertPostgres INSERT ... ON CONFLICT ... DO UPDATE
func (e *SinkEndpoint) upsertPostgres(ctx context.Context, table string, rows []map[string]interface{}, columns, primaryKeys []string) error {
	columnList := ""
	for i, col := range columns {
		if i > 0 {
			columnList += ","
		}
		columnList += fmt.Sprintf(`"%s"`, col)
	}

	valuesClauses := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	argIndex := 1
	for _, row := range rows {
		placeholders := ""
		for i := 0; i < len(columns); i++ {
			if i > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", argIndex)
			args = append(args, row[columns[i]])
			argIndex++
		}
		valuesClauses = append(valuesClauses, "("+placeholders+")")
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES %s`,
		e.quoteIdentifier(table), columnList, strings.Join(valuesClauses, ","))

	// 没有主键时退化为普通INSERT
	if len(primaryKeys) > 0 {
		conflictTarget := ""
		for i, pk := range primaryKeys {
			if i > 0 {
				conflictTarget += ","
			}
			conflictTarget += fmt.Sprintf(`"%s"`, pk)
		}

		updateClause := ""
		for i, col := range columns {
			if i > 0 {
				updateClause += ","
			}
			updateClause += fmt.Sprintf(`"%s"=EXCLUDED."%s"`, col, col)
		}
		query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictTarget, updateClause)
	}

	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

// upsertMySQL INSERT ... ON DUPLICATE KEY UPDATE
func (e *SinkEndpoint) upsertMySQL(ctx context.Context, table string, rows []map[string]interface{}, columns []string) error {
	placeholders := ""
	columnList := ""
	updateClause := ""
	for i, col := range columns {
		if i > 0 {
			placeholders += ","
			columnList += ","
			updateClause += ","
		}
		placeholders += "?"
		columnList += fmt.Sprintf("`%s`", col)
		updateClause += fmt.Sprintf("`%s`=VALUES(`%s`)", col, col)
	}

	batchPlaceholders := ""
	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			batchPlaceholders += ","
		}
		batchPlaceholders += "(" + placeholders + ")"
		for _, col := range columns {
			args = append(args, row[col])
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		e.quoteIdentifier(table), columnList, batchPlaceholders, updateClause)

	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

// primaryKeys 查询表主键，按表缓存
func (e *SinkEndpoint) primaryKeys(ctx context.Context, table string) ([]string, error) {
	if cached, ok := e.pkCache.Load(table); ok {
		return cached.([]string), nil
	}

	var query string
	switch e.dbType {
	case "mysql":
		query = `SELECT column_name FROM information_schema.key_column_usage
			WHERE table_schema = DATABASE() AND table_name = ?
			AND constraint_name = 'PRIMARY' ORDER BY ordinal_position`
	case "postgres":
		query = `SELECT kcu.column_name FROM information_schema.key_column_usage kcu
			JOIN information_schema.table_constraints tc
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
			WHERE kcu.table_schema = 'public' AND kcu.table_name = $1
			AND tc.constraint_type = 'PRIMARY KEY' ORDER BY kcu.ordinal_position`
	default:
		return nil, fmt.Errorf("unsupported database type: %s", e.dbType)
	}

	rows, err := e.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			continue
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	e.pkCache.Store(table, keys)
	return keys, nil
}

func (e *SinkEndpoint) quoteIdentifier(name string) string {
	if e.dbType == "mysql" {
		return fmt.Sprintf("`%s`", name)
	}
	return fmt.Sprintf(`"%s"`, name)
}

func allFailed(rows []map[string]interface{}) []int {
	failed := make([]int, len(rows))
	for i := range rows {
		failed[i] = i
	}
	return failed
}

// isConnectionFailure 识别连接级失败：网络错误、驱动坏连接、连接类SQLSTATE
func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := string(pqErr.Code.Class())
		// 08: connection exception, 57: operator intervention (shutdown等)
		return class == "08" || class == "57"
	}

	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"invalid connection",
		"dial tcp",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
