package glide

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"zh.xyz/dv/glidesync/models"
	"zh.xyz/dv/glidesync/service"
)

// Client Glide表API客户端，实现service.GlideEndpoint
// 凭证随连接传入，一个客户端可服务多个Glide应用
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TableInfo Glide表的标识与显示名称
type TableInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type listTablesRequest struct {
	AppID string `json:"appID"`
}

type listTablesResponse struct {
	Tables []TableInfo `json:"tables"`
}

// ListTables 列出Glide应用中的所有表
func (c *Client) ListTables(ctx context.Context, conn *models.GlideConnection) ([]TableInfo, error) {
	var resp listTablesResponse
	if err := c.post(ctx, conn, "/listTables", listTablesRequest{AppID: conn.AppID}, &resp); err != nil {
		return nil, err
	}
	return resp.Tables, nil
}

type schemaRequest struct {
	AppID     string `json:"appID"`
	TableName string `json:"tableName"`
}

type schemaResponse struct {
	Columns []struct {
		Name     string `json:"name"`
		Type     string `json:"type"`
		Readonly bool   `json:"readonly"`
	} `json:"columns"`
}

// ListColumns 获取Glide表的列结构快照
func (c *Client) ListColumns(ctx context.Context, conn *models.GlideConnection, tableID string) ([]models.ColumnSchema, error) {
	var resp schemaResponse
	err := c.post(ctx, conn, "/getTableSchema", schemaRequest{AppID: conn.AppID, TableName: tableID}, &resp)
	if err != nil {
		return nil, err
	}

	columns := make([]models.ColumnSchema, 0, len(resp.Columns))
	for _, col := range resp.Columns {
		columns = append(columns, models.ColumnSchema{
			Name:       col.Name,
			NativeType: col.Type,
			Writable:   !col.Readonly,
		})
	}
	return columns, nil
}

type queryRequest struct {
	AppID   string       `json:"appID"`
	Queries []tableQuery `json:"queries"`
}

type tableQuery struct {
	TableName string `json:"tableName"`
	StartAt   string `json:"startAt,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

type queryResponse []struct {
	Rows []map[string]interface{} `json:"rows"`
	Next string                   `json:"next"`
}

// ReadRows 游标分页读取行，next为空表示已读完
func (c *Client) ReadRows(ctx context.Context, conn *models.GlideConnection, tableID, cursor string, limit int) ([]map[string]interface{}, string, error) {
	req := queryRequest{
		AppID:   conn.AppID,
		Queries: []tableQuery{{TableName: tableID, StartAt: cursor, Limit: limit}},
	}

	var resp queryResponse
	if err := c.post(ctx, conn, "/queryTables", req, &resp); err != nil {
		return nil, "", err
	}
	if len(resp) == 0 {
		return nil, "", nil
	}
	return resp[0].Rows, resp[0].Next, nil
}

type mutateRequest struct {
	AppID     string     `json:"appID"`
	Mutations []mutation `json:"mutations"`
}

type mutation struct {
	Kind         string                 `json:"kind"`
	TableName    string                 `json:"tableName"`
	ColumnValues map[string]interface{} `json:"columnValues"`
}

type mutateResponse []struct {
	Error string `json:"error,omitempty"`
}

// WriteRows 批量写入行，返回写入失败的行下标
// error非空仅表示Glide侧整体不可达
func (c *Client) WriteRows(ctx context.Context, conn *models.GlideConnection, tableID string, rows []map[string]interface{}) ([]int, error) {
	mutations := make([]mutation, 0, len(rows))
	for _, row := range rows {
		mutations = append(mutations, mutation{
			Kind:         "add-row-to-table",
			TableName:    tableID,
			ColumnValues: row,
		})
	}

	var resp mutateResponse
	if err := c.post(ctx, conn, "/mutateTables", mutateRequest{AppID: conn.AppID, Mutations: mutations}, &resp); err != nil {
		return nil, err
	}

	var failed []int
	for i, result := range resp {
		if i >= len(rows) {
			break
		}
		if result.Error != "" {
			failed = append(failed, i)
		}
	}
	return failed, nil
}

// post 发送一次API调用，网络错误与5xx归为连接级失败
func (c *Client) post(ctx context.Context, conn *models.GlideConnection, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+conn.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &service.ConnectionError{Op: "glide" + path, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &service.ConnectionError{Op: "glide" + path, Cause: err}
	}

	if resp.StatusCode >= 500 {
		return &service.ConnectionError{
			Op:    "glide" + path,
			Cause: fmt.Errorf("状态码 %d: %s", resp.StatusCode, truncate(string(data), 200)),
		}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("Glide API调用失败，状态码 %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
