package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"chat-relay/internal/platform/config"
	"chat-relay/internal/platform/logger"

	"google.golang.org/grpc"
)

const shutdownTimeout = 30 * time.Second

// Server 同時承載 HTTP/websocket 與 gRPC.
type Server struct {
	httpServer *http.Server
	grpcServer *grpc.Server
	grpcAddr   string
}

// New 建立伺服器；grpcServer 為 nil 時只啟動 HTTP.
func New(cfg *config.Config, handler http.Handler, grpcServer *grpc.Server) (*Server, error) {
	tlsConfig, err := ServerTLSConfig(cfg.Security.TLS, false)
	if err != nil {
		return nil, err
	}
	readTimeout := time.Duration(cfg.Server.Timeout) * time.Second
	return &Server{
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           handler,
			ReadHeaderTimeout: readTimeout,
			// websocket 為長連接，不設寫入超時
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
			TLSConfig:    tlsConfig,
		},
		grpcServer: grpcServer,
		grpcAddr:   net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port),
	}, nil
}

// Run 啟動並阻塞，ctx 取消後優雅關閉.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		logger.Infof(ctx, "HTTP 伺服器正在監聽: %s", s.httpServer.Addr)
		var err error
		if s.httpServer.TLSConfig != nil {
			// 憑證已在 TLSConfig 中
			err = s.httpServer.ListenAndServeTLS("", "")
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpcServer != nil {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("listen grpc %s: %w", s.grpcAddr, err)
		}
		go func() {
			logger.Infof(ctx, "gRPC 伺服器正在監聽: %s", s.grpcAddr)
			if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Infof(context.Background(), "收到關閉信號，正在優雅關閉伺服器...")
	case runErr = <-errCh:
		logger.Errorf(context.Background(), "伺服器異常: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// websocket 已被 hijack，Shutdown 不會等待它們
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf(shutdownCtx, "HTTP 伺服器關閉失敗: %v", err)
	}
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	logger.Infof(shutdownCtx, "伺服器已關閉")
	return runErr
}
