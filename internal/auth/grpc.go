package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
	"github.com/vyrodovalexey/avabearer/internal/auth/claimcheck"
)

// grpcWWWAuthenticate is the response header carrying the Bearer challenge.
const grpcWWWAuthenticate = "www-authenticate"

// UnaryServerInterceptor authenticates unary calls and runs checks against
// the verified token.
func (a *Authenticator) UnaryServerInterceptor(checks ...claimcheck.Check) grpc.UnaryServerInterceptor {
	check := claimcheck.All(checks...)
	return func(
		ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
	) (any, error) {
		if a.skip(info.FullMethod) {
			return handler(ctx, req)
		}

		ctx, be := a.authorizeGRPC(ctx, info.FullMethod, check)
		if be != nil {
			_ = grpc.SetHeader(ctx, challenge(be))
			return nil, toStatus(be)
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is UnaryServerInterceptor for streaming calls.
func (a *Authenticator) StreamServerInterceptor(checks ...claimcheck.Check) grpc.StreamServerInterceptor {
	check := claimcheck.All(checks...)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if a.skip(info.FullMethod) {
			return handler(srv, ss)
		}

		ctx, be := a.authorizeGRPC(ss.Context(), info.FullMethod, check)
		if be != nil {
			_ = ss.SetHeader(challenge(be))
			return toStatus(be)
		}
		return handler(srv, &authenticatedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Authenticator) authorizeGRPC(
	ctx context.Context, method string, check claimcheck.Check,
) (context.Context, *bearer.Error) {
	result, err := a.AuthenticateContext(ctx)
	if err != nil {
		a.logFailure(ctx, TransportGRPC, method, err)
		return ctx, bearer.AsError(err)
	}

	var payload map[string]any
	if result != nil {
		ctx = ContextWithResult(ctx, result)
		payload = result.Payload
	}

	if err := check(payload); err != nil {
		a.logFailure(ctx, TransportGRPC, method, err)
		return ctx, bearer.AsError(err)
	}
	return ctx, nil
}

func challenge(be *bearer.Error) metadata.MD {
	return metadata.Pairs(grpcWWWAuthenticate, be.WWWAuthenticate())
}

// toStatus maps a bearer error to a gRPC status.
func toStatus(be *bearer.Error) error {
	code := codes.Unauthenticated
	switch be.Kind {
	case bearer.KindInvalidRequest:
		code = codes.InvalidArgument
	case bearer.KindInsufficientScope:
		code = codes.PermissionDenied
	}
	return status.Error(code, be.Description())
}

// authenticatedServerStream wraps a grpc.ServerStream with the
// authenticated context.
type authenticatedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authenticatedServerStream) Context() context.Context {
	return s.ctx
}
