package config

import (
	"encoding/json"
	"os"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Glide    GlideConfig    `json:"glide"`
	Sync     SyncConfig     `json:"sync"`
	JWT      JWTConfig      `json:"jwt"`
	Email    EmailConfig    `json:"email"`
}

type ServerConfig struct {
	Port string `json:"port"`
	Mode string `json:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type     string `json:"type"` // mysql, postgres
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
}

type GlideConfig struct {
	BaseURL        string `json:"base_url"`        // Glide表API根地址
	TimeoutSeconds int    `json:"timeout_seconds"` // 单次请求超时
}

type SyncConfig struct {
	BatchSize       int    `json:"batch_size"`       // 每批处理行数
	NotifyChannel   string `json:"notify_channel"`   // LISTEN/NOTIFY 通道名
	DebounceSeconds int    `json:"debounce_seconds"` // 变更事件触发同步的去抖间隔
}

type JWTConfig struct {
	Secret     string `json:"secret"`
	ExpireTime int    `json:"expire_time"` // 小时
}

type EmailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
}

var GlobalConfig *Config

func LoadConfig(path string) error {
	GlobalConfig = defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		// 配置文件不存在时使用默认配置
		return nil
	}

	return json.Unmarshal(data, GlobalConfig)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type:     "postgres",
			Host:     "localhost",
			Port:     "5432",
			User:     "postgres",
			Password: "postgres",
			DBName:   "glidesync",
		},
		Glide: GlideConfig{
			BaseURL:        "https://api.glideapp.io/api/function",
			TimeoutSeconds: 30,
		},
		Sync: SyncConfig{
			BatchSize:       100,
			NotifyChannel:   "table_changes",
			DebounceSeconds: 5,
		},
		JWT: JWTConfig{
			Secret:     "change-me-in-production",
			ExpireTime: 24,
		},
	}
}
