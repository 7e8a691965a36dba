package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// ClientInfo carries request metadata attached to security events. The raw IP
// is never stored; only its hash is.
type ClientInfo struct {
	IPHash    string
	UserAgent string
}

// HashIP returns the hex SHA-256 of a client address.
func HashIP(addr string) string {
	if addr == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(addr))
	return hex.EncodeToString(sum[:])
}

type clientInfoKey struct{}

// ContextWithClient stores client metadata on the context.
func ContextWithClient(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

// ClientFromContext retrieves client metadata, zero-valued when absent.
func ClientFromContext(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

type claimsKey struct{}

// ContextWithClaims stores verified access claims on the context.
func ContextWithClaims(ctx context.Context, claims *AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext retrieves the verified access claims, nil when absent.
func ClaimsFromContext(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(claimsKey{}).(*AccessClaims)
	return claims
}
