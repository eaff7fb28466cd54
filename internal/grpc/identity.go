// Package grpc exposes token introspection to internal services. Messages
// are structpb.Struct values so no generated code is needed.
package grpc

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/auth"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/service"
)

const (
	IdentityServiceName = "schoolms.identity.v1.IdentityService"
	introspectMethod    = "/" + IdentityServiceName + "/Introspect"
)

// IdentityServer answers whether an access token is currently valid and who
// it belongs to. It runs the same checks as the HTTP gate.
type IdentityServer interface {
	Introspect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: IdentityServiceName,
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Introspect",
			Handler:    introspectHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "identity.proto",
}

func introspectHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).Introspect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: introspectMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).Introspect(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// identityServer implements IdentityServer on top of the auth service.
type identityServer struct {
	authService service.AuthService
	logger      *slog.Logger
}

// NewIdentityServer creates the introspection service.
func NewIdentityServer(authService service.AuthService, logger *slog.Logger) IdentityServer {
	return &identityServer{
		authService: authService,
		logger:      logger,
	}
}

// Introspect expects {"token": "..."}. Rejected tokens yield {"active": false};
// only storage failures surface as gRPC errors.
func (s *identityServer) Introspect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tok := req.GetFields()["token"].GetStringValue()
	if tok == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}

	principal, err := s.authService.Authenticate(ctx, tok)
	if err != nil {
		if isTokenRejection(err) {
			s.logger.Debug("🔓 [IdentityService] Token inactive", "error", err)
			return structpb.NewStruct(map[string]any{"active": false})
		}
		s.logger.Error("❌ [IdentityService] Introspection failed", "error", err)
		return nil, status.Error(codes.Internal, "introspection failed")
	}

	return principalToStruct(principal)
}

func isTokenRejection(err error) bool {
	return errors.Is(err, service.ErrInvalidToken) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrNoTokenProvided) ||
		errors.Is(err, service.ErrAccountDisabled)
}

func principalToStruct(p *auth.Principal) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"active":      true,
		"user_id":     float64(p.UserID),
		"email":       p.Email,
		"roles":       toAnySlice(p.Roles),
		"permissions": toAnySlice(p.Permissions),
	})
}

func principalFromStruct(s *structpb.Struct) (*auth.Principal, bool) {
	fields := s.GetFields()
	if !fields["active"].GetBoolValue() {
		return nil, false
	}
	return &auth.Principal{
		UserID:      uint(fields["user_id"].GetNumberValue()),
		Email:       fields["email"].GetStringValue(),
		Roles:       fromListValue(fields["roles"].GetListValue()),
		Permissions: fromListValue(fields["permissions"].GetListValue()),
	}, true
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func fromListValue(list *structpb.ListValue) []string {
	out := make([]string, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		out = append(out, v.GetStringValue())
	}
	return out
}

// NewServer builds a gRPC server carrying the identity and health services.
func NewServer(authService service.AuthService, logger *slog.Logger) *grpc.Server {
	server := grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(logger)))
	server.RegisterService(&identityServiceDesc, NewIdentityServer(authService, logger))

	healthServer := health.NewServer()
	healthServer.SetServingStatus(IdentityServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)

	return server
}

func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("🔌 [gRPC] Call handled",
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
		)
		return resp, err
	}
}
