package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	errNoCredentials = errors.New("missing authorization header")
	errAuthScheme    = errors.New("invalid authorization scheme")
	errBadToken      = errors.New("invalid token")
)

// bearer is the shared operator token.
type bearer string

// verify checks an Authorization header value of the form "Bearer <token>".
func (b bearer) verify(header string) error {
	if header == "" {
		return errNoCredentials
	}
	provided, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return errAuthScheme
	}
	if subtle.ConstantTimeCompare([]byte(provided), []byte(b)) != 1 {
		return errBadToken
	}
	return nil
}

// publicRoutes answer without a token so health checkers and scrapers need no secret.
var publicRoutes = map[string]bool{
	"GET /v1/health": true,
	"GET /metrics":   true,
}

// AuthMiddleware requires the bearer token on every HTTP route except
// publicRoutes. An empty token disables auth.
func AuthMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	b := bearer(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicRoutes[r.Method+" "+r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if err := b.verify(r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="paybridge"`)
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// healthMethodPrefix matches every method of the standard health service.
var healthMethodPrefix = "/" + healthpb.Health_ServiceDesc.ServiceName + "/"

// AuthInterceptor is the gRPC counterpart of AuthMiddleware. The health
// service stays open.
func AuthInterceptor(token string) grpc.UnaryServerInterceptor {
	b := bearer(token)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
			return handler(ctx, req)
		}
		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				header = vals[0]
			}
		}
		if err := b.verify(header); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}
