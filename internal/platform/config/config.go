package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Limits   LimitsConfig   `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           string   `mapstructure:"port"`
	Timeout        int      `mapstructure:"timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// GRPCConfig gRPC 配置.
type GRPCConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
}

// DatabaseConfig 資料庫配置.
type DatabaseConfig struct {
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MongoConfig MongoDB 配置.
type MongoConfig struct {
	URL                    string `mapstructure:"url"`
	Database               string `mapstructure:"database"`
	Username               string `mapstructure:"username"`
	Password               string `mapstructure:"password"`
	MaxPoolSize            uint64 `mapstructure:"max_pool_size"`
	MinPoolSize            uint64 `mapstructure:"min_pool_size"`
	MaxConnIdleTime        int    `mapstructure:"max_conn_idle_time"`
	ConnectTimeout         int    `mapstructure:"connect_timeout"`
	ServerSelectionTimeout int    `mapstructure:"server_selection_timeout"`
	TLSEnabled             bool   `mapstructure:"tls_enabled"`
	TLSCAFile              string `mapstructure:"tls_ca_file"`
	TLSCertFile            string `mapstructure:"tls_cert_file"`
	TLSKeyFile             string `mapstructure:"tls_key_file"`
	TLSInsecureSkipVerify  bool   `mapstructure:"tls_insecure_skip_verify"`
}

// RedisConfig Redis 配置（在線狀態鏡像）.
type RedisConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	KeyPrefix   string `mapstructure:"key_prefix"`
	TTLSeconds  int    `mapstructure:"ttl_seconds"`
	DialTimeout int    `mapstructure:"dial_timeout"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// SecurityConfig 安全配置.
type SecurityConfig struct {
	TLS            TLSConfig            `mapstructure:"tls"`
	Authentication AuthenticationConfig `mapstructure:"authentication"`
	Encryption     EncryptionConfig     `mapstructure:"encryption"`
	Audit          AuditConfig          `mapstructure:"audit"`
}

// TLSConfig TLS 配置.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	CAFile   string `mapstructure:"ca_file"`
}

// AuthenticationConfig 認證配置.
type AuthenticationConfig struct {
	JWTEnabled bool   `mapstructure:"jwt_enabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	Issuer     string `mapstructure:"issuer"`
}

// EncryptionConfig 靜態加密配置.
type EncryptionConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// AuditConfig 審計配置.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StorageConfig 附件存儲配置.
type StorageConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// S3Config S3 / MinIO 配置.
type S3Config struct {
	Enabled          bool   `mapstructure:"enabled"`
	Region           string `mapstructure:"region"`
	Bucket           string `mapstructure:"bucket"`
	Endpoint         string `mapstructure:"endpoint"`
	PublicBaseURL    string `mapstructure:"public_base_url"`
	UsePathStyle     bool   `mapstructure:"use_path_style"`
	MaxAttachmentMB  int    `mapstructure:"max_attachment_mb"`
	PresignTTLMinute int    `mapstructure:"presign_ttl_minutes"`
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig    `mapstructure:"request"`
	RateLimiting RateLimitingConfig     `mapstructure:"rate_limiting"`
	WebSocket    WebSocketLimitsConfig  `mapstructure:"websocket"`
	Message      MessageLimitsConfig    `mapstructure:"message"`
	Pagination   PaginationLimitsConfig `mapstructure:"pagination"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	MessagesPerMin   int  `mapstructure:"messages_per_minute"`
	ConnectPerMin    int  `mapstructure:"connect_per_minute"`
}

// WebSocketLimitsConfig 長連接限制配置.
type WebSocketLimitsConfig struct {
	MaxConnectionsPerIP int   `mapstructure:"max_connections_per_ip"`
	MaxTotalConnections int   `mapstructure:"max_total_connections"`
	OutboxBuffer        int   `mapstructure:"outbox_buffer"`
	PingIntervalSeconds int   `mapstructure:"ping_interval_seconds"`
	PongWaitSeconds     int   `mapstructure:"pong_wait_seconds"`
	WriteWaitSeconds    int   `mapstructure:"write_wait_seconds"`
	MaxFrameBytes       int64 `mapstructure:"max_frame_bytes"`
	InboundFramesPerSec int   `mapstructure:"inbound_frames_per_second"`
	InboundFrameBurst   int   `mapstructure:"inbound_frame_burst"`
}

// MessageLimitsConfig 訊息限制配置.
type MessageLimitsConfig struct {
	MaxLength int `mapstructure:"max_length"`
}

// PaginationLimitsConfig 對話查詢限制配置.
type PaginationLimitsConfig struct {
	MaxPageSize int `mapstructure:"max_page_size"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 直接傳入配置（主要用於測試）
	if len(testCfg) > 0 && testCfg[0] != nil {
		if err := validateConfig(testCfg[0]); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		config = testCfg[0]
		return nil
	}

	v := viper.New()

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}
	applyEnvSecrets(cfg)

	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	config = cfg
	return nil
}

// applyEnvSecrets 以環境變量覆蓋敏感配置
func applyEnvSecrets(cfg *Config) {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Security.Authentication.JWTSecret = v
	}
	if v := os.Getenv("MONGO_USERNAME"); v != "" {
		cfg.Database.Mongo.Username = v
	}
	if v := os.Getenv("MONGO_PASSWORD"); v != "" {
		cfg.Database.Mongo.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

// Get 取得設定.
func Get() *Config {
	return config
}

// Reset 清除已載入的設定（測試用）.
func Reset() {
	config = nil
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	if cfg.Database.Mongo.URL == "" {
		return fmt.Errorf("MongoDB URL 不能為空")
	}
	if cfg.Database.Mongo.Database == "" {
		return fmt.Errorf("MongoDB 資料庫名稱不能為空")
	}
	if cfg.Database.Mongo.MinPoolSize > cfg.Database.Mongo.MaxPoolSize {
		return fmt.Errorf("MongoDB 最小連接池大小不能大於最大連接池大小")
	}

	if cfg.Security.Authentication.JWTEnabled && cfg.Security.Authentication.JWTSecret == "" {
		return fmt.Errorf("啟用 JWT 時必須設定 jwt_secret")
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("啟用 Redis 時必須設定 addr")
	}
	if cfg.Storage.S3.Enabled && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("啟用 S3 時必須設定 bucket")
	}
	if cfg.GRPC.Enabled && cfg.GRPC.Port == "" {
		return fmt.Errorf("啟用 gRPC 時必須設定 port")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:5050"
}

// GetGRPCAddr 取得 gRPC 地址
func GetGRPCAddr() string {
	if config != nil && config.GRPC.Port != "" {
		return fmt.Sprintf("%s:%s", config.GRPC.Host, config.GRPC.Port)
	}
	return "localhost:8081"
}
