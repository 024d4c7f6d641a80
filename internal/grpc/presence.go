// Package grpc 提供在線狀態的內部查詢介面.
package grpc

import (
	"context"
	"time"

	"chat-relay/internal/platform/logger"
	"chat-relay/internal/platform/middleware"
	"chat-relay/internal/storage/cache"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// 服務與方法名稱.
const (
	ServiceName = "chatrelay.presence.v1.PresenceService"

	ListOnlineUsersMethod = "/" + ServiceName + "/ListOnlineUsers"
	IsOnlineMethod        = "/" + ServiceName + "/IsOnline"
	LastSeenMethod        = "/" + ServiceName + "/LastSeen"
)

// OnlineSource 本實例的在線表.
type OnlineSource interface {
	IsOnline(userID string) bool
	OnlineUsers() []string
}

// StatusLookup 跨實例的最後在線記錄.
type StatusLookup interface {
	Lookup(ctx context.Context, userID string) (cache.Status, bool, error)
}

// PresenceServer 在線狀態查詢服務.
type PresenceServer struct {
	online OnlineSource
	status StatusLookup
}

// NewPresenceServer 創建在線狀態服務；status 可為 nil.
func NewPresenceServer(online OnlineSource, status StatusLookup) *PresenceServer {
	return &PresenceServer{online: online, status: status}
}

// ListOnlineUsers 本實例在線用戶，已排序.
func (s *PresenceServer) ListOnlineUsers(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	users := s.online.OnlineUsers()
	values := make([]interface{}, len(users))
	for i, u := range users {
		values[i] = u
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode users: %v", err)
	}
	logger.Debug(ctx, "查詢在線名單", logger.WithDetails(map[string]interface{}{"count": len(users), "caller": caller(ctx)}))
	return list, nil
}

// IsOnline 查詢單一用戶是否在本實例在線.
func (s *PresenceServer) IsOnline(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	userID := req.GetValue()
	if err := middleware.ValidateUserID(userID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return wrapperspb.Bool(s.online.IsOnline(userID)), nil
}

// LastSeen 回傳 {user_id, status, last_seen, found}；本實例在線時直接回報 online.
func (s *PresenceServer) LastSeen(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	userID := req.GetValue()
	if err := middleware.ValidateUserID(userID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if s.online.IsOnline(userID) {
		return structpb.NewStruct(map[string]interface{}{
			"user_id":   userID,
			"status":    cache.StatusOnline,
			"last_seen": float64(time.Now().Unix()),
			"found":     true,
		})
	}
	if s.status == nil {
		return nil, status.Error(codes.Unavailable, "presence mirror not configured")
	}

	st, found, err := s.status.Lookup(ctx, userID)
	if err != nil {
		logger.Warning(ctx, "讀取最後在線時間失敗", logger.WithUserID(userID), logger.WithError(err))
		return nil, status.Error(codes.Unavailable, "presence mirror unavailable")
	}
	lastSeen := float64(0)
	if !st.LastSeen.IsZero() {
		lastSeen = float64(st.LastSeen.Unix())
	}
	return structpb.NewStruct(map[string]interface{}{
		"user_id":   userID,
		"status":    st.State,
		"last_seen": lastSeen,
		"found":     found,
	})
}

func caller(ctx context.Context) string {
	if id, ok := middleware.UserIDFromContext(ctx); ok {
		return id
	}
	return "anonymous"
}

// Register 把在線服務與標準健康檢查註冊到 gRPC 伺服器.
func Register(s *grpc.Server, presence *PresenceServer) *health.Server {
	s.RegisterService(&PresenceServiceDesc, presence)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return hs
}

// presenceService 供 ServiceDesc 做型別檢查.
type presenceService interface {
	ListOnlineUsers(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	IsOnline(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	LastSeen(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
}

// PresenceServiceDesc 手寫的服務描述，訊息型別全部取自 well-known types.
var PresenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*presenceService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListOnlineUsers", Handler: listOnlineUsersHandler},
		{MethodName: "IsOnline", Handler: isOnlineHandler},
		{MethodName: "LastSeen", Handler: lastSeenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatrelay/presence/v1/presence.proto",
}

func listOnlineUsersHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(presenceService).ListOnlineUsers(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ListOnlineUsersMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(presenceService).ListOnlineUsers(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func isOnlineHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(presenceService).IsOnline(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: IsOnlineMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(presenceService).IsOnline(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func lastSeenHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(presenceService).LastSeen(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: LastSeenMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(presenceService).LastSeen(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}
