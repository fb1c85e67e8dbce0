package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	vgerr "github.com/VetGrid/vetgrid-identity-core/pkg/errors"
)

// UnaryServerInterceptor returns a gRPC unary server interceptor that
// authenticates the bearer token from incoming request metadata.
//
// The interceptor performs the following steps:
//  1. Extracts the "authorization" metadata value (bearer token)
//  2. Authenticates the token using the provided [Authenticator]
//  3. Stores the resulting [Principal] in the request context
//  4. Extracts the propagated caller service metadata
//  5. Passes the enriched context to the handler
//
// Failures map to the gRPC code of the failing step: Unauthenticated
// for any token problem, PermissionDenied for an inactive account,
// Unavailable when a dependency needed to establish a fresh session is
// down. Status messages are generic; detail stays in server logs.
func UnaryServerInterceptor(authn Authenticator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, err := authenticateGRPC(ctx, authn)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor returns a gRPC stream server interceptor that
// authenticates the bearer token from incoming stream metadata.
//
// This interceptor performs the same authentication steps as
// [UnaryServerInterceptor] but wraps the stream to carry the enriched
// context.
func StreamServerInterceptor(authn Authenticator) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		ctx, err := authenticateGRPC(ss.Context(), authn)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that
// propagates the principal from the context to outgoing request
// metadata.
//
// If no principal is in the context, the request proceeds without
// principal metadata, allowing unauthenticated service-to-service calls
// where appropriate. The raw bearer token is never forwarded.
//
// The serviceName parameter identifies the current service to the
// downstream callee.
func UnaryClientInterceptor(serviceName string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		ctx = propagatePrincipalToGRPC(ctx, serviceName)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that
// propagates the principal from the context to outgoing stream metadata.
//
// This interceptor performs the same propagation steps as
// [UnaryClientInterceptor].
func StreamClientInterceptor(serviceName string) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		ctx = propagatePrincipalToGRPC(ctx, serviceName)
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// authenticateGRPC authenticates the bearer token from incoming gRPC
// metadata and enriches the context with the principal and caller
// service.
func authenticateGRPC(ctx context.Context, authn Authenticator) (context.Context, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx, status.Error(codes.Unauthenticated, "missing metadata")
	}

	tokens := md.Get(HeaderAuthorization)
	if len(tokens) == 0 {
		return ctx, status.Error(codes.Unauthenticated, "missing authorization metadata")
	}
	token := ExtractBearerToken(tokens[0])
	if token == "" {
		return ctx, status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	principal, err := authn.Authenticate(ctx, token)
	if err != nil {
		return ctx, grpcAuthError(err)
	}

	ctx = ContextWithPrincipal(ctx, principal)

	if callers := md.Get(HeaderCallerService); len(callers) > 0 && callers[0] != "" {
		ctx = ContextWithCallerService(ctx, callers[0])
	}

	return ctx, nil
}

// grpcAuthError maps an authentication failure to a gRPC status with a
// generic message. Error detail (codes, roles, key ids) never reaches
// the client.
func grpcAuthError(err error) error {
	var vgError *vgerr.Error
	if !errors.As(err, &vgError) {
		return status.Error(codes.Unauthenticated, "authentication failed")
	}
	switch vgError.HTTPStatus() {
	case http.StatusForbidden:
		return status.Error(codes.PermissionDenied, "access denied")
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return status.Error(codes.Unavailable, "service unavailable")
	default:
		return status.Error(codes.Unauthenticated, "authentication failed")
	}
}

// propagatePrincipalToGRPC adds the principal from the context to
// outgoing gRPC metadata for downstream services.
func propagatePrincipalToGRPC(ctx context.Context, serviceName string) context.Context {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return ctx
	}

	headers, err := principalToHeaders(principal, serviceName)
	if err != nil {
		// Log but don't fail: propagation failure should not prevent
		// the outgoing call. The downstream service will simply not
		// receive the principal and will require its own authentication.
		slog.WarnContext(ctx, "auth: failed to serialize principal for gRPC propagation",
			"error", err,
			"service", serviceName,
		)
		return ctx
	}

	// Convert headers to metadata pairs.
	pairs := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		pairs = append(pairs, strings.ToLower(k), v)
	}
	md := metadata.Pairs(pairs...)

	// Merge with any existing outgoing metadata.
	existingMD, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = metadata.Join(existingMD, md)
	}

	return metadata.NewOutgoingContext(ctx, md)
}

// wrappedServerStream wraps a grpc.ServerStream to override its Context
// method. This is necessary because ServerStream.Context() returns the
// original stream context, which does not contain the principal added
// by the interceptor.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context containing the principal.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
