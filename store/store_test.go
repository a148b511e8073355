package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"zh.xyz/dv/glidesync/models"
)

// setupTestDB 每个测试一个独立的内存库
// cache=shared 让gorm连接池里的多个连接看到同一份数据
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.GlideConnection{},
		&models.TableMapping{},
		&models.SyncLog{},
		&models.SyncRunSlot{},
	))
	return db
}

// seedConnection 建一条活跃连接
func seedConnection(t *testing.T, s *MappingStore) *models.GlideConnection {
	t.Helper()
	conn := &models.GlideConnection{
		Name:   "测试连接",
		AppID:  "app-123",
		APIKey: "secret",
	}
	require.NoError(t, s.CreateConnection(conn))
	return conn
}

// seedMapping 建一条带列映射的表映射
func seedMapping(t *testing.T, s *MappingStore, connectionID, tableName string) *models.TableMapping {
	t.Helper()
	m := &models.TableMapping{
		ConnectionID:   connectionID,
		GlideTableID:   "tbl-" + tableName,
		GlideTableName: tableName,
		SupabaseTable:  "sb_" + tableName,
		SyncDirection:  models.DirectionToSupabase,
		ColumnMappings: models.ColumnMappingSet{
			"Name": {GlideColumn: "Name", SupabaseColumn: "name", DataType: models.DataTypeString},
		},
	}
	require.NoError(t, s.CreateMapping(m))
	return m
}
