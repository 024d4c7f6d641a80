package driver

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
)

// ConnectMongo 依已載入的配置連接 MongoDB.
func ConnectMongo(ctx context.Context) (*mongo.Database, error) {
	cfg := config.Get()
	if cfg == nil {
		return nil, fmt.Errorf("配置未載入")
	}
	return InitMongo(ctx, cfg.Database.Mongo)
}

// InitMongo 初始化 MongoDB 連接並 ping 一次.
func InitMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	clientOptions := options.Client().ApplyURI(cfg.URL)

	if cfg.Username != "" && cfg.Password != "" {
		clientOptions.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
		logger.Infof(ctx, "MongoDB 使用認證連接")
	} else {
		logger.Infof(ctx, "MongoDB 使用無認證連接（開發環境）")
	}

	if cfg.TLSEnabled {
		tlsConfig, err := loadMongoTLSConfig(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load MongoDB TLS config: %w", err)
		}
		clientOptions.SetTLSConfig(tlsConfig)
	}

	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	if cfg.MaxConnIdleTime > 0 {
		clientOptions.SetMaxConnIdleTime(time.Duration(cfg.MaxConnIdleTime) * time.Second)
	}
	if cfg.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(time.Duration(cfg.ServerSelectionTimeout) * time.Second)
	}

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	timeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	mongoClient = client
	mongoDB = client.Database(cfg.Database)

	logger.Infof(ctx, "MongoDB connected: %s", cfg.Database)
	return mongoDB, nil
}

// GetMongoDatabase 獲取 MongoDB 數據庫實例.
func GetMongoDatabase() *mongo.Database {
	return mongoDB
}

// PingMongo 健康檢查用.
func PingMongo(ctx context.Context) error {
	if mongoClient == nil {
		return fmt.Errorf("database connection not available")
	}
	return mongoClient.Ping(ctx, nil)
}

// CloseMongo 關閉 MongoDB 連接.
func CloseMongo() error {
	if mongoClient == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := mongoClient.Disconnect(ctx)
	mongoClient, mongoDB = nil, nil
	return err
}

func loadMongoTLSConfig(cfg config.MongoConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	// 僅開發環境
	if cfg.TLSInsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certs")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	return tlsConfig, nil
}
