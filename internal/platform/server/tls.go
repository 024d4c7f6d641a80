package server

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"chat-relay/internal/platform/config"

	"google.golang.org/grpc/credentials"
)

// ServerTLSConfig 依 security.tls 建立伺服器 TLS 設定；未啟用時回傳 nil.
// verifyPeers 為 true 且設定了 ca_file 時要求客戶端憑證（服務間 gRPC）；
// 瀏覽器面向的 HTTP/websocket 只做單向 TLS。
func ServerTLSConfig(cfg config.TLSConfig, verifyPeers bool) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if verifyPeers && cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
		tlsConfig.MinVersion = tls.VersionTLS13
	}
	return tlsConfig, nil
}

// LoadTLSCredentials gRPC 伺服器憑證；未啟用時回傳 nil.
func LoadTLSCredentials(cfg config.TLSConfig) (credentials.TransportCredentials, error) {
	tlsConfig, err := ServerTLSConfig(cfg, true)
	if err != nil || tlsConfig == nil {
		return nil, err
	}
	return credentials.NewTLS(tlsConfig), nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	ca, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	return pool, nil
}
