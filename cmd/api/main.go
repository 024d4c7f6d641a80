package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/auth"
	"chat-relay/internal/delivery"
	"chat-relay/internal/gateway"
	presencegrpc "chat-relay/internal/grpc"
	"chat-relay/internal/message"
	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/driver"
	"chat-relay/internal/platform/health"
	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/metrics"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/platform/server"
	"chat-relay/internal/presence"
	"chat-relay/internal/security/audit"
	"chat-relay/internal/security/encryption"
	"chat-relay/internal/storage/attachment"
	"chat-relay/internal/storage/cache"
	"chat-relay/internal/storage/database/messagestore"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	if err := config.Load(); err != nil {
		return err
	}
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	cfg := config.Get()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "正在啟動 chat-relay", logger.WithDetails(map[string]interface{}{
		"env":     config.GetEnv(),
		"version": cfg.App.Version,
	}))
	metrics.Register()

	db, err := driver.ConnectMongo(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.CloseMongo(); err != nil {
			logger.Errorf(context.Background(), "關閉 MongoDB 連接失敗: %v", err)
		}
	}()

	var storeOpts []messagestore.Option
	if cfg.Security.Encryption.Enabled {
		cipher, err := loadContentCipher(ctx)
		if err != nil {
			return err
		}
		storeOpts = append(storeOpts, messagestore.WithSealer(cipher))
	}
	store := messagestore.NewStore(db, storeOpts...)

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := messagestore.EnsureIndexes(indexCtx, store.Collection()); err != nil {
		// 索引失敗不中斷啟動
		logger.Warning(ctx, "建立索引失敗", logger.WithError(err))
	}
	cancel()

	checks := []health.Check{{Name: "mongodb", Ping: driver.PingMongo}}

	var (
		mirror presence.Mirror = presence.NopMirror{}
		lookup presencegrpc.StatusLookup
	)
	if cfg.Redis.Enabled {
		rdb, err := driver.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		pm := cache.NewPresenceMirror(rdb, cfg.Redis.KeyPrefix, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
		mirror, lookup = pm, pm
		checks = append(checks, health.Check{Name: "redis", Ping: redisPing(rdb)})
	}

	auditSvc := audit.NewAuditService(cfg.Security.Audit.Enabled)
	verifier := auth.NewVerifier(cfg.Security.Authentication.JWTSecret, cfg.Security.Authentication.Issuer, cfg.Security.Authentication.JWTEnabled)
	if !verifier.Enabled() {
		logger.Warning(ctx, "JWT 驗證已停用，連接身份將直接採信客戶端宣告（僅開發環境）")
	}

	registry := presence.NewRegistry()
	gw := gateway.New(registry, verifier,
		gateway.WithMirror(mirror),
		gateway.WithAudit(auditSvc),
		gateway.WithOutboxSize(cfg.Limits.WebSocket.OutboxBuffer),
	)

	msgOpts := []message.Option{message.WithAudit(auditSvc)}
	if cfg.Storage.S3.Enabled {
		uploader, err := attachment.NewS3Uploader(ctx, cfg.Storage.S3)
		if err != nil {
			return err
		}
		msgOpts = append(msgOpts, message.WithUploader(uploader))
	}
	svc := message.NewService(store, delivery.NewDispatcher(registry), msgOpts...)

	router := server.Router(server.Deps{
		Config:   cfg,
		Gateway:  gw,
		Messages: svc,
		Auth:     verifier,
		Audit:    auditSvc,
		Health:   health.NewHealthHandler(cfg.App.Name, registry, checks...),
	}, ctx.Done())

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		grpcServer, err = newGRPCServer(cfg, verifier, registry, lookup)
		if err != nil {
			return err
		}
	}

	srv, err := server.New(cfg, router, grpcServer)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

func newGRPCServer(cfg *config.Config, verifier *auth.Verifier, registry *presence.Registry, lookup presencegrpc.StatusLookup) (*grpc.Server, error) {
	opts := []grpc.ServerOption{
		grpc.UnaryInterceptor(middleware.NewJWTMiddleware(verifier).GRPCUnaryInterceptor()),
	}
	creds, err := server.LoadTLSCredentials(cfg.Security.TLS)
	if err != nil {
		return nil, err
	}
	if creds != nil {
		opts = append(opts, grpc.Creds(creds))
	}

	s := grpc.NewServer(opts...)
	presencegrpc.Register(s, presencegrpc.NewPresenceServer(registry, lookup))
	return s, nil
}

// loadContentCipher 讀取 MASTER_KEY；debug 模式下缺少時使用臨時密鑰.
func loadContentCipher(ctx context.Context) (*encryption.ContentCipher, error) {
	key, err := encryption.MasterKeyFromEnv()
	if err != nil {
		if !config.IsDebug() {
			logger.Error(ctx, "無法載入主密鑰", logger.WithError(err))
			return nil, fmt.Errorf("encryption initialization failed")
		}
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("master key initialization failed: %w", err)
		}
		logger.Warning(ctx, "開發模式：使用臨時主密鑰（重啟後舊訊息將無法解密）")
	}
	return encryption.NewContentCipher(key)
}

func redisPing(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
