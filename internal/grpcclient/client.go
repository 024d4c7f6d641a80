package grpcclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	presencegrpc "chat-relay/internal/grpc"
	"chat-relay/internal/platform/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Dial 建立到在線服務的連接；TLS 設定沿用伺服器的 security.tls.
func Dial(address string, tlsCfg config.TLSConfig, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	var creds credentials.TransportCredentials
	if tlsCfg.Enabled {
		c, err := loadClientTLS(tlsCfg)
		if err != nil {
			return nil, err
		}
		creds = c
	} else {
		// 僅開發環境
		creds = insecure.NewCredentials()
	}

	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server at %s: %w", address, err)
	}
	return conn, nil
}

func loadClientTLS(cfg config.TLSConfig) (credentials.TransportCredentials, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.CAFile != "" {
		ca, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(ca) {
			return nil, fmt.Errorf("failed to append CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	// 雙向 TLS
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return credentials.NewTLS(tlsConfig), nil
}

// WithToken 為後續呼叫附上 Bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
}

// LastSeen LastSeen 查詢結果.
type LastSeen struct {
	UserID   string
	Status   string
	LastSeen time.Time
	Found    bool
}

// PresenceClient 在線服務客戶端.
type PresenceClient struct {
	cc grpc.ClientConnInterface
}

// NewPresenceClient 創建在線服務客戶端.
func NewPresenceClient(cc grpc.ClientConnInterface) *PresenceClient {
	return &PresenceClient{cc: cc}
}

// ListOnlineUsers 列出在線用戶.
func (c *PresenceClient) ListOnlineUsers(ctx context.Context) ([]string, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, presencegrpc.ListOnlineUsersMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return listStrings(out), nil
}

// IsOnline 查詢用戶是否在線.
func (c *PresenceClient) IsOnline(ctx context.Context, userID string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, presencegrpc.IsOnlineMethod, wrapperspb.String(userID), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// LastSeen 查詢最後在線時間.
func (c *PresenceClient) LastSeen(ctx context.Context, userID string) (LastSeen, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, presencegrpc.LastSeenMethod, wrapperspb.String(userID), out); err != nil {
		return LastSeen{}, err
	}
	return toLastSeen(out), nil
}
