package auth

import (
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// AccessClaims is the claim set carried by access tokens: identity plus the
// role used for authorisation checks.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set carried by refresh tokens. Deliberately a
// distinct type from AccessClaims so the two kinds cannot be confused, and it
// carries only the subject.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// UserID returns the numeric subject of the claims.
func (c *AccessClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// UserID returns the numeric subject of the claims.
func (c *RefreshClaims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenIssuer mints and verifies the two token kinds. Each kind is signed with
// its own secret so a single leaked secret does not compromise both.
type TokenIssuer struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewTokenIssuer constructs a TokenIssuer with the default TTLs.
func NewTokenIssuer(accessSecret, refreshSecret string) *TokenIssuer {
	return &TokenIssuer{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     defaultAccessTTL,
		refreshTTL:    defaultRefreshTTL,
	}
}

// WithTTLs overrides token lifetimes. Zero values keep the defaults.
func (i *TokenIssuer) WithTTLs(accessTTL, refreshTTL time.Duration) *TokenIssuer {
	if accessTTL > 0 {
		i.accessTTL = accessTTL
	}
	if refreshTTL > 0 {
		i.refreshTTL = refreshTTL
	}
	return i
}

// Issue mints a fresh token pair for the user. Both tokens are stateless;
// nothing is persisted and neither can be revoked before its natural expiry.
func (i *TokenIssuer) Issue(user *User) (TokenPair, error) {
	now := time.Now().UTC()
	subject := strconv.FormatInt(user.ID, 10)

	access := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
		},
	})
	accessSigned, err := access.SignedString(i.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign access token: %w", err)
	}

	refresh := jwt.NewWithClaims(jwt.SigningMethodHS256, RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
		},
	})
	refreshSigned, err := refresh.SignedString(i.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("auth: sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:  accessSigned,
		RefreshToken: refreshSigned,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.accessTTL.Seconds()),
	}, nil
}

// ParseAccess verifies an access token and returns its claims.
func (i *TokenIssuer) ParseAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(token, claims, i.accessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (i *TokenIssuer) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := i.parse(token, claims, i.refreshSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

func (i *TokenIssuer) parse(token string, claims jwt.Claims, secret []byte) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
