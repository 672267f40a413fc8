package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taskdesk/taskdesk-api/internal/models"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/token"
)

type fakeUserRepo struct {
	byUsername map[string]*models.User
	created    []*models.User
	lastLogin  map[string]time.Time
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{
		byUsername: make(map[string]*models.User),
		lastLogin:  make(map[string]time.Time),
	}
	for _, u := range users {
		repo.byUsername[u.Username] = u
	}
	return repo
}

func (r *fakeUserRepo) FindByUsername(_ context.Context, username string) (*models.User, error) {
	if u, ok := r.byUsername[username]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) FindByEmail(_ context.Context, email string) (*models.User, error) {
	for _, u := range r.byUsername {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) FindByID(_ context.Context, id string) (*models.User, error) {
	for _, u := range r.byUsername {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *fakeUserRepo) ExistsByUsername(_ context.Context, username string) (bool, error) {
	_, ok := r.byUsername[username]
	return ok, nil
}

func (r *fakeUserRepo) ExistsByEmail(_ context.Context, email string) (bool, error) {
	for _, u := range r.byUsername {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	user.ID = "id-" + user.Username
	r.byUsername[user.Username] = user
	r.created = append(r.created, user)
	return nil
}

func (r *fakeUserRepo) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	r.lastLogin[id] = ts
	return nil
}

type fakeTokenStore struct {
	byToken map[string]*models.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{byToken: make(map[string]*models.RefreshToken)}
}

func (s *fakeTokenStore) FindByToken(_ context.Context, tok string) (*models.RefreshToken, error) {
	if rt, ok := s.byToken[tok]; ok {
		return rt, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fakeTokenStore) Replace(_ context.Context, rt *models.RefreshToken) error {
	s.deleteByUser(rt.UserID)
	if rt.ID == "" {
		rt.ID = "rt-" + rt.Token
	}
	s.byToken[rt.Token] = rt
	return nil
}

func (s *fakeTokenStore) Rotate(_ context.Context, presented string, next *models.RefreshToken) error {
	if _, ok := s.byToken[presented]; !ok {
		return sql.ErrNoRows
	}
	delete(s.byToken, presented)
	s.deleteByUser(next.UserID)
	if next.ID == "" {
		next.ID = "rt-" + next.Token
	}
	s.byToken[next.Token] = next
	return nil
}

func (s *fakeTokenStore) DeleteByToken(_ context.Context, tok string) error {
	delete(s.byToken, tok)
	return nil
}

func (s *fakeTokenStore) DeleteByUserID(_ context.Context, userID string) error {
	s.deleteByUser(userID)
	return nil
}

func (s *fakeTokenStore) deleteByUser(userID string) {
	for tok, rt := range s.byToken {
		if rt.UserID == userID {
			delete(s.byToken, tok)
		}
	}
}

func (s *fakeTokenStore) countForUser(userID string) int {
	n := 0
	for _, rt := range s.byToken {
		if rt.UserID == userID {
			n++
		}
	}
	return n
}

type fakeAudit struct {
	logs []*models.AuditLog
}

func (a *fakeAudit) Record(log *models.AuditLog) {
	a.logs = append(a.logs, log)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestAuthService(t *testing.T, users *fakeUserRepo, tokens *fakeTokenStore) (*AuthService, *fakeAudit) {
	t.Helper()
	audit := &fakeAudit{}
	codec := token.NewCodec("test-secret", "taskdesk-api", "taskdesk-users", 0)
	svc := NewAuthService(users, tokens, audit, codec, nil, nil, nil, AuthConfig{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		InviteCode: "welcome",
	})
	return svc, audit
}

func activeUser(t *testing.T) *models.User {
	t.Helper()
	return &models.User{
		ID:           "u1",
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: mustHash(t, "s3cret"),
		Role:         models.RoleUser,
		Enabled:      true,
	}
}

func TestLoginSuccess(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, audit := newTestAuthService(t, users, tokens)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.EqualValues(t, (15 * time.Minute).Seconds(), resp.ExpiresIn)
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, 1, tokens.countForUser("u1"))
	assert.Contains(t, users.lastLogin, "u1")
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionLogin, audit.logs[0].Action)

	codec := token.NewCodec("test-secret", "taskdesk-api", "taskdesk-users", 0)
	claims, err := codec.Decode(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, token.KindAccess, claims.Kind)
	assert.Equal(t, []string{"USER"}, claims.RoleList())
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	first, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)
	second, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 1, tokens.countForUser("u1"))
	_, err = tokens.FindByToken(context.Background(), first.RefreshToken)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLoginFailureIsGeneric(t *testing.T) {
	disabled := activeUser(t)
	disabled.Username = "mallory"
	disabled.ID = "u2"
	disabled.Enabled = false

	users := newFakeUserRepo(activeUser(t), disabled)
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	cases := []struct {
		name string
		req  models.LoginRequest
	}{
		{"unknown user", models.LoginRequest{Username: "nobody", Password: "s3cret"}},
		{"wrong password", models.LoginRequest{Username: "alice", Password: "wrong"}},
		{"disabled account", models.LoginRequest{Username: "mallory", Password: "s3cret"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.req)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrAuthenticationFailed.Code, appErr.Code)
			assert.Equal(t, appErrors.ErrAuthenticationFailed.Message, appErr.Message)
		})
	}
	assert.Equal(t, 0, tokens.countForUser("u1"))
}

func TestRefreshRotatesToken(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, 1, tokens.countForUser("u1"))

	// The consumed token must not be exchangeable again.
	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestRefreshExpiredTokenDeletesRow(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	expired := &models.RefreshToken{
		ID:        "rt-old",
		UserID:    "u1",
		Token:     "stale",
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
		Active:    true,
	}
	tokens.byToken[expired.Token] = expired

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: "stale"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRefreshTokenExpired.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 0, tokens.countForUser("u1"))
}

func TestRefreshUnknownToken(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	svc, _ := newTestAuthService(t, users, newFakeTokenStore())

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: "never-issued"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestRefreshCarriesUsageCount(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)

	// Usage fields ride on the successor row through Rotate itself, so
	// the stored credential must carry them as soon as rotation returns.
	stored, err := tokens.FindByToken(context.Background(), refreshed.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UsageCount)
	assert.NotNil(t, stored.LastUsedAt)
}

func TestLogoutThenRefreshFails(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, audit := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	// Anonymous caller presenting only the refresh token.
	svc.Logout(context.Background(), "", login.RefreshToken, models.RefreshRequest{})
	assert.Equal(t, 0, tokens.countForUser("u1"))

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)

	require.Len(t, audit.logs, 2)
	assert.Equal(t, models.AuditActionLogout, audit.logs[1].Action)
}

func TestLogoutWithoutTokenRevokesSession(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	login, err := svc.Login(context.Background(), models.LoginRequest{Username: "alice", Password: "s3cret"})
	require.NoError(t, err)

	// The subject identifies the session; the client never sends its
	// refresh token and the credential row must still go away.
	svc.Logout(context.Background(), "alice", "", models.RefreshRequest{})
	assert.Equal(t, 0, tokens.countForUser("u1"))

	_, err = svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidRefreshToken.Code, appErrors.FromError(err).Code)
}

func TestLogoutIsIdempotent(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	tokens := newFakeTokenStore()
	svc, _ := newTestAuthService(t, users, tokens)

	svc.Logout(context.Background(), "", "never-issued", models.RefreshRequest{})
	svc.Logout(context.Background(), "ghost", "", models.RefreshRequest{})
	svc.Logout(context.Background(), "", "", models.RefreshRequest{})
	svc.Logout(context.Background(), "alice", "", models.RefreshRequest{})
}

func TestSignupSuccess(t *testing.T) {
	users := newFakeUserRepo()
	svc, audit := newTestAuthService(t, users, newFakeTokenStore())

	info, err := svc.Signup(context.Background(), models.SignupRequest{
		Username:        "bob",
		Email:           "bob@example.com",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
		InviteCode:      "welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, "bob", info.Username)
	assert.Equal(t, models.RoleUser, info.Role)
	require.Len(t, users.created, 1)
	assert.NotEqual(t, "hunter22", users.created[0].PasswordHash)
	require.Len(t, audit.logs, 1)
	assert.Equal(t, models.AuditActionSignup, audit.logs[0].Action)
}

func TestSignupRejectsBadInviteCode(t *testing.T) {
	svc, _ := newTestAuthService(t, newFakeUserRepo(), newFakeTokenStore())

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		Username:        "bob",
		Email:           "bob@example.com",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
		InviteCode:      "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSignupRejectsTakenUsername(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	svc, _ := newTestAuthService(t, users, newFakeTokenStore())

	_, err := svc.Signup(context.Background(), models.SignupRequest{
		Username:        "alice",
		Email:           "new@example.com",
		Password:        "hunter22",
		ConfirmPassword: "hunter22",
		InviteCode:      "welcome",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUsernameAvailable(t *testing.T) {
	users := newFakeUserRepo(activeUser(t))
	svc, _ := newTestAuthService(t, users, newFakeTokenStore())

	free, err := svc.UsernameAvailable(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, free)

	free, err = svc.UsernameAvailable(context.Background(), "carol")
	require.NoError(t, err)
	assert.True(t, free)
}
