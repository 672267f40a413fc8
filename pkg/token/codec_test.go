package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec() *Codec {
	return NewCodec("test-signing-secret", "taskdesk-api", "taskdesk-users", 0)
}

func TestCodecRoundTrip(t *testing.T) {
	codec := newTestCodec()

	signed, err := codec.Encode("alice", []string{"USER", "ADMIN"}, KindAccess, time.Minute)
	require.NoError(t, err)

	claims, err := codec.Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, []string{"USER", "ADMIN"}, claims.RoleList())
	assert.Equal(t, "taskdesk-api", claims.Issuer)
}

func TestCodecExpiredToken(t *testing.T) {
	codec := newTestCodec()

	signed, err := codec.Encode("alice", []string{"USER"}, KindAccess, -time.Second)
	require.NoError(t, err)

	_, err = codec.Decode(signed)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestCodecLeewayAllowsRecentExpiry(t *testing.T) {
	codec := NewCodec("test-signing-secret", "taskdesk-api", "taskdesk-users", time.Minute)

	signed, err := codec.Encode("alice", []string{"USER"}, KindAccess, -time.Second)
	require.NoError(t, err)

	_, err = codec.Decode(signed)
	assert.NoError(t, err)
}

func TestCodecTamperedSignature(t *testing.T) {
	codec := newTestCodec()

	signed, err := codec.Encode("alice", []string{"USER"}, KindAccess, time.Minute)
	require.NoError(t, err)

	parts := strings.Split(signed, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = codec.Decode(tampered)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestCodecWrongSecret(t *testing.T) {
	codec := newTestCodec()
	other := NewCodec("another-secret", "taskdesk-api", "taskdesk-users", 0)

	signed, err := other.Encode("alice", []string{"USER"}, KindAccess, time.Minute)
	require.NoError(t, err)

	_, err = codec.Decode(signed)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestCodecMalformedToken(t *testing.T) {
	codec := newTestCodec()

	for _, raw := range []string{"", "not-a-token", "a.b", "a.b.c.d"} {
		_, err := codec.Decode(raw)
		assert.ErrorIs(t, err, ErrMalformedToken, "input %q", raw)
	}
}

func TestCodecRejectsForeignSigningMethod(t *testing.T) {
	codec := newTestCodec()

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS384, &Claims{
		Roles: "USER",
		Kind:  KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "taskdesk-api",
			Audience:  jwt.ClaimStrings{"taskdesk-users"},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, err := foreign.SignedString([]byte("test-signing-secret"))
	require.NoError(t, err)

	_, err = codec.Decode(signed)
	require.ErrorIs(t, err, ErrUnsupportedToken)
}

func TestCodecRejectsForeignIssuer(t *testing.T) {
	codec := newTestCodec()
	foreign := NewCodec("test-signing-secret", "someone-else", "taskdesk-users", 0)

	signed, err := foreign.Encode("alice", []string{"USER"}, KindAccess, time.Minute)
	require.NoError(t, err)

	_, err = codec.Decode(signed)
	require.ErrorIs(t, err, ErrUnsupportedToken)
}

func TestCodecRefreshKindPreserved(t *testing.T) {
	codec := newTestCodec()

	signed, err := codec.Encode("alice", []string{"USER"}, KindRefresh, time.Minute)
	require.NoError(t, err)

	claims, err := codec.Decode(signed)
	require.NoError(t, err)
	assert.Equal(t, KindRefresh, claims.Kind)
}
