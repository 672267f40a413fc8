package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates access tokens from refresh-shaped tokens. Only
// ACCESS-kind tokens may authenticate requests.
type Kind string

const (
	KindAccess  Kind = "ACCESS"
	KindRefresh Kind = "REFRESH"
)

// Decode failure taxonomy. Callers match with errors.Is.
var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignatureInvalid = errors.New("token signature is invalid")
	ErrTokenExpired     = errors.New("token has expired")
	ErrUnsupportedToken = errors.New("unsupported token")
)

// Claims is the signed payload carried by every token this codec produces.
type Claims struct {
	Roles string `json:"roles"`
	Kind  Kind   `json:"kind"`
	jwt.RegisteredClaims
}

// RoleList splits the comma-joined roles claim.
func (c *Claims) RoleList() []string {
	if c.Roles == "" {
		return nil
	}
	parts := strings.Split(c.Roles, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}

// Codec encodes and decodes HMAC-SHA256 signed tokens. It holds only
// immutable configuration and performs no I/O, so a single instance is
// safe for concurrent use across requests.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewCodec builds a codec from the configured signing secret. Leeway
// relaxes the expiry check by the given duration; zero means strict.
func NewCodec(secret, issuer, audience string, leeway time.Duration) *Codec {
	return &Codec{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		leeway:   leeway,
	}
}

// Encode builds a signed token for the subject with the given roles,
// kind and time to live. A non-positive ttl produces an already-expired
// token.
func (c *Codec) Encode(subject string, roles []string, kind Kind, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Roles: strings.Join(roles, ","),
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    c.issuer,
			Audience:  jwt.ClaimStrings{c.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode parses and verifies a token string, returning its claims. It
// fails with ErrMalformedToken, ErrSignatureInvalid, ErrTokenExpired or
// ErrUnsupportedToken; the kind claim is returned as-is and must be
// checked by the caller.
func (c *Codec) Decode(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithLeeway(c.leeway),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, classifyDecodeError(err)
	}
	if !parsed.Valid {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

func classifyDecodeError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrUnsupportedToken, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
