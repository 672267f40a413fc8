package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk-api/internal/models"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/token"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

type refreshTokenStore interface {
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Replace(ctx context.Context, token *models.RefreshToken) error
	Rotate(ctx context.Context, presented string, next *models.RefreshToken) error
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUserID(ctx context.Context, userID string) error
}

type auditRecorder interface {
	Record(log *models.AuditLog)
}

type authMetrics interface {
	RecordLogin(success bool)
	RecordTokenRefresh(outcome string)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	InviteCode string
}

// AuthService provides signup, login, token rotation, and logout.
type AuthService struct {
	users     authUserRepository
	tokens    refreshTokenStore
	audit     auditRecorder
	codec     *token.Codec
	validator *validator.Validate
	logger    *zap.Logger
	metrics   authMetrics
	config    AuthConfig
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, tokens refreshTokenStore, audit auditRecorder, codec *token.Codec, validate *validator.Validate, logger *zap.Logger, metrics authMetrics, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		tokens:    tokens,
		audit:     audit,
		codec:     codec,
		validator: validate,
		logger:    logger,
		metrics:   metrics,
		config:    config,
	}
}

// Signup registers a new account behind an invite code.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest) (*models.UserInfo, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid signup payload")
	}

	if s.config.InviteCode == "" || req.InviteCode != s.config.InviteCode {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid invite code")
	}

	if taken, err := s.users.ExistsByUsername(ctx, req.Username); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username is already taken")
	}

	if taken, err := s.users.ExistsByEmail(ctx, req.Email); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	} else if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         models.RoleUser,
		Enabled:      true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	s.recordAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionSignup,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"username":"` + user.Username + `"}`),
	})

	return &models.UserInfo{ID: user.ID, Username: user.Username, Email: user.Email, Role: user.Role}, nil
}

// Login authenticates credentials and issues a token pair. Every
// rejection path returns the same generic error so callers cannot tell
// an unknown username from a wrong password or a disabled account.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLogin(false)
			return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
	}

	if !user.Enabled {
		s.recordLogin(false)
		return nil, appErrors.Clone(appErrors.ErrAuthenticationFailed, "")
	}

	resp, err := s.issueTokens(ctx, user, req.IP, req.UserAgent)
	if err != nil {
		return nil, err
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.recordAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionLogin,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"status":"success"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	s.recordLogin(true)

	return resp, nil
}

// Refresh rotates a presented refresh token into a new token pair. The
// presented token is consumed whether or not the exchange succeeds; a
// concurrent request presenting the same token loses the race and gets
// an invalid-token error.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}

	stored, err := s.tokens.FindByToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordRefresh("invalid")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := time.Now().UTC()
	if stored.IsExpired(now) {
		if err := s.tokens.DeleteByToken(ctx, stored.Token); err != nil {
			s.logger.Warn("failed to delete expired refresh token", zap.Error(err))
		}
		s.recordRefresh("expired")
		return nil, appErrors.Clone(appErrors.ErrRefreshTokenExpired, "")
	}
	if !stored.IsValid(now) {
		s.recordRefresh("invalid")
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordRefresh("invalid")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Enabled {
		s.recordRefresh("invalid")
		return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
	}

	accessToken, err := s.codec.Encode(user.Username, user.Roles(), token.KindAccess, s.config.AccessTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshValue, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	// The successor carries the usage lineage; stamping it here means the
	// rotation transaction either records the use or does not happen.
	next := &models.RefreshToken{
		UserID:     user.ID,
		Token:      refreshValue,
		ExpiresAt:  now.Add(s.config.RefreshTTL),
		UsageCount: stored.UsageCount + 1,
		LastUsedAt: &now,
		Active:     true,
		CreatedIP:  req.IP,
		UserAgent:  req.UserAgent,
	}
	if err := s.tokens.Rotate(ctx, req.RefreshToken, next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordRefresh("race_lost")
			return nil, appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	s.recordAudit(&models.AuditLog{
		UserID:     &user.ID,
		Action:     models.AuditActionRefresh,
		Resource:   "auth",
		ResourceID: &user.ID,
		NewValues:  []byte(`{"refresh":"rotated"}`),
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	})
	s.recordRefresh("rotated")

	return &models.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: next.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
		Username:     user.Username,
		Roles:        user.Roles(),
		IssuedAt:     now,
	}, nil
}

// Logout revokes the subject's refresh credential. The session is keyed
// by user, not by the presented token: a client that lost or never sent
// its refresh token is still logged out as long as the subject is known.
// It never fails from the caller's perspective; internal errors are only
// logged.
func (s *AuthService) Logout(ctx context.Context, subject, refreshToken string, meta models.RefreshRequest) {
	var userID string
	if subject != "" {
		if user, err := s.users.FindByUsername(ctx, subject); err == nil {
			userID = user.ID
		}
	}
	if userID == "" && refreshToken != "" {
		if stored, err := s.tokens.FindByToken(ctx, refreshToken); err == nil {
			userID = stored.UserID
		}
	}
	if userID == "" {
		return
	}

	if err := s.tokens.DeleteByUserID(ctx, userID); err != nil {
		s.logger.Warn("failed to revoke refresh tokens on logout", zap.Error(err))
		return
	}

	s.recordAudit(&models.AuditLog{
		UserID:    &userID,
		Action:    models.AuditActionLogout,
		Resource:  "auth",
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// UsernameAvailable reports whether a username is free to register.
func (s *AuthService) UsernameAvailable(ctx context.Context, username string) (bool, error) {
	taken, err := s.users.ExistsByUsername(ctx, username)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	return !taken, nil
}

// EmailAvailable reports whether an email is free to register.
func (s *AuthService) EmailAvailable(ctx context.Context, email string) (bool, error) {
	taken, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	return !taken, nil
}

// Me returns profile details for the authenticated subject.
func (s *AuthService) Me(ctx context.Context, username string) (*models.UserInfo, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return &models.UserInfo{ID: user.ID, Username: user.Username, Email: user.Email, Role: user.Role}, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, ip, userAgent string) (*models.TokenResponse, error) {
	now := time.Now().UTC()

	accessToken, err := s.codec.Encode(user.Username, user.Roles(), token.KindAccess, s.config.AccessTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	refreshValue, err := generateRefreshTokenString()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	refreshToken := &models.RefreshToken{
		UserID:    user.ID,
		Token:     refreshValue,
		ExpiresAt: now.Add(s.config.RefreshTTL),
		Active:    true,
		CreatedIP: ip,
		UserAgent: userAgent,
	}
	if err := s.tokens.Replace(ctx, refreshToken); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	return &models.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.AccessTTL.Seconds()),
		Username:     user.Username,
		Roles:        user.Roles(),
		IssuedAt:     now,
	}, nil
}

func (s *AuthService) recordAudit(log *models.AuditLog) {
	if s.audit != nil {
		s.audit.Record(log)
	}
}

func (s *AuthService) recordLogin(success bool) {
	if s.metrics != nil {
		s.metrics.RecordLogin(success)
	}
}

func (s *AuthService) recordRefresh(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordTokenRefresh(outcome)
	}
}

// generateRefreshTokenString returns 256 bits of randomness encoded as
// an opaque URL-safe string.
func generateRefreshTokenString() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
