package service

import (
	"errors"
	"fmt"
)

// 哨兵错误：handlers 据此映射HTTP状态码
var (
	// ErrConflict 映射存在运行中的同步时的并发修改，或重复启动运行
	ErrConflict = errors.New("资源冲突")
	// ErrNotFound 引用的连接/映射/日志不存在，或日志已处于终态
	ErrNotFound = errors.New("资源不存在")
)

// ValidationError 映射校验失败，携带首个失败规则的说明
type ValidationError struct {
	Column  string // 违规列名，可能为空
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ConnectionError 读侧或写侧整体不可达，当前运行以failure终止
type ConnectionError struct {
	Op    string // 出错的操作，如 "glide.readRows"、"supabase.writeRows"
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("连接失败（%s）: %v", e.Op, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// RowError 单行投影或写入失败，只计入failed_records，不向外传播
type RowError struct {
	Column string
	Cause  error
}

func (e *RowError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("行处理失败（列 %s）: %v", e.Column, e.Cause)
	}
	return fmt.Sprintf("行处理失败: %v", e.Cause)
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// IsConnectionError 判断错误链上是否存在连接级失败
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
