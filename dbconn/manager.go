package dbconn

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"zh.xyz/dv/glidesync/config"
)

var connectionPool = sync.Map{}

// BuildDSN 根据配置生成驱动名与DSN
func BuildDSN(cfg *config.DatabaseConfig) (string, string, error) {
	switch cfg.Type {
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		return "mysql", dsn, nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
			cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port)
		return "postgres", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}

// GetRawConnection 获取原生数据库连接（用于行级读写与结构查询），按DSN复用
func GetRawConnection(cfg *config.DatabaseConfig) (*sql.DB, error) {
	driverName, dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	// 从连接池获取
	if conn, ok := connectionPool.Load(dsn); ok {
		return conn.(*sql.DB), nil
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	// 存储到连接池
	connectionPool.Store(dsn, db)
	return db, nil
}

// CloseAll 关闭池中所有连接
func CloseAll() {
	connectionPool.Range(func(key, value interface{}) bool {
		if db, ok := value.(*sql.DB); ok {
			db.Close()
		}
		connectionPool.Delete(key)
		return true
	})
}
