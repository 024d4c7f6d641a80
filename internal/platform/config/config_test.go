package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() *Config {
	return &Config{
		App:    AppConfig{Name: "chat-relay", Version: "test"},
		Server: ServerConfig{Port: "5050", Timeout: 30},
		Database: DatabaseConfig{Mongo: MongoConfig{
			URL:         "mongodb://localhost:27017",
			Database:    "chat_relay_test",
			MaxPoolSize: 10,
		}},
	}
}

func TestLoadWithTestConfig(t *testing.T) {
	defer Reset()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"有效配置", func(*Config) {}, false},
		{"缺少應用名稱", func(c *Config) { c.App.Name = "" }, true},
		{"缺少端口", func(c *Config) { c.Server.Port = "" }, true},
		{"缺少 MongoDB URL", func(c *Config) { c.Database.Mongo.URL = "" }, true},
		{"連接池大小顛倒", func(c *Config) { c.Database.Mongo.MinPoolSize = 20 }, true},
		{"JWT 缺少密鑰", func(c *Config) { c.Security.Authentication.JWTEnabled = true }, true},
		{"Redis 缺少地址", func(c *Config) { c.Redis.Enabled = true }, true},
		{"S3 缺少 bucket", func(c *Config) { c.Storage.S3.Enabled = true }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			Reset()
			cfg := validConfig()
			tc.mutate(cfg)
			err := Load(cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("期望錯誤 %v，實際為 %v", tc.wantErr, err)
			}
			if !tc.wantErr && Get() != cfg {
				t.Error("載入後 Get() 應返回傳入的配置")
			}
			if tc.wantErr && Get() != nil {
				t.Error("驗證失敗時不應保存配置")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	defer Reset()

	dir := t.TempDir()
	path := filepath.Join(dir, "staging.yaml")
	content := `
app:
  name: chat-relay
  version: "1.0.0"
server:
  port: "6060"
  timeout: 15
  allowed_origins: ["http://localhost:5173"]
database:
  mongo:
    url: mongodb://localhost:27017
    database: chat_relay
    max_pool_size: 50
limits:
  websocket:
    outbox_buffer: 64
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("JWT_SECRET", "from-env")

	if err := Load(); err != nil {
		t.Fatalf("載入配置失敗: %v", err)
	}
	cfg := Get()
	if GetEnv() != "staging" {
		t.Errorf("期望環境為 staging，實際為 %s", GetEnv())
	}
	if cfg.Server.Port != "6060" || cfg.Limits.WebSocket.OutboxBuffer != 64 {
		t.Errorf("配置解析錯誤: %+v", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 1 {
		t.Errorf("期望 1 個允許來源，實際為 %d", len(cfg.Server.AllowedOrigins))
	}
	if cfg.Security.Authentication.JWTSecret != "from-env" {
		t.Error("JWT_SECRET 環境變量應覆蓋配置")
	}
	SetEnv("local")
}
