package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/models"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/response"
	"github.com/taskdesk/taskdesk-api/pkg/token"
)

const (
	// ContextPrincipalKey is the gin context key storing the request principal.
	ContextPrincipalKey = "principal"
	// contextAuthErrorKey stores the decode failure for later rendering.
	contextAuthErrorKey = "authError"
)

// AuthOptions configures the authentication gate.
type AuthOptions struct {
	HeaderName     string
	BearerPrefix   string
	PublicPrefixes []string
}

// Authenticate is the request authentication gate. It never blocks a
// request: a verified ACCESS token binds a principal, anything else
// leaves the request anonymous and stashes the failure for RequireAuth
// to render. Public prefixes skip token inspection entirely.
func Authenticate(codec *token.Codec, opts AuthOptions) gin.HandlerFunc {
	headerName := opts.HeaderName
	if headerName == "" {
		headerName = "Authorization"
	}
	prefix := opts.BearerPrefix
	if prefix == "" {
		prefix = "Bearer"
	}

	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path, opts.PublicPrefixes) {
			c.Next()
			return
		}

		raw, ok := extractBearer(c.GetHeader(headerName), prefix)
		if !ok {
			c.Next()
			return
		}

		claims, err := codec.Decode(raw)
		if err != nil {
			c.Set(contextAuthErrorKey, err)
			c.Next()
			return
		}

		if claims.Kind != token.KindAccess {
			c.Set(contextAuthErrorKey, token.ErrUnsupportedToken)
			c.Next()
			return
		}

		c.Set(ContextPrincipalKey, models.Principal{
			Subject:       claims.Subject,
			Roles:         claims.RoleList(),
			Authenticated: true,
		})
		c.Next()
	}
}

// RequireAuth rejects requests that did not bind a principal, turning
// the stashed decode failure into a 401 reason when one exists.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := PrincipalFromContext(c); ok {
			c.Next()
			return
		}

		reason := "authentication required"
		if v, exists := c.Get(contextAuthErrorKey); exists {
			if err, ok := v.(error); ok {
				reason = authFailureReason(err)
			}
		}

		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, reason))
		c.Abort()
	}
}

// PrincipalFromContext returns the bound principal, if any.
func PrincipalFromContext(c *gin.Context) (models.Principal, bool) {
	v, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return models.Principal{}, false
	}
	principal, ok := v.(models.Principal)
	if !ok || !principal.Authenticated {
		return models.Principal{}, false
	}
	return principal, true
}

func extractBearer(header, prefix string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], prefix) {
		return "", false
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return "", false
	}
	return raw, true
}

func isPublicPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func authFailureReason(err error) string {
	switch {
	case errors.Is(err, token.ErrTokenExpired):
		return "access token has expired"
	case errors.Is(err, token.ErrSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, token.ErrUnsupportedToken):
		return "token is not acceptable here"
	case errors.Is(err, token.ErrMalformedToken):
		return "token is malformed"
	default:
		return "authentication required"
	}
}
