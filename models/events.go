package models

// 行级变更事件类型
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
	ChangeAll    = "*"
)

// ChangeEvent Supabase侧的行级变更事件
type ChangeEvent struct {
	Table string                 `json:"table"`
	Kind  string                 `json:"kind"` // insert, update, delete
	RowID string                 `json:"id"`
	Row   map[string]interface{} `json:"row"`
}
