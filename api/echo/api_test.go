package echo_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authapi "github.com/himawari-dev/line-token-auth/api/echo"
	"github.com/himawari-dev/line-token-auth/cache"
	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/lineapi"
	"github.com/himawari-dev/line-token-auth/middleware"
	"github.com/himawari-dev/line-token-auth/services"
)

const (
	testChannelID = "channel_001"
	testUID       = "U123"
	testLiffID    = "liff-123"
)

// stubProvider satisfies services.ProviderClient with canned responses.
type stubProvider struct {
	verify  lineapi.VerifyResult
	profile lineapi.ProfileResult
}

func (s *stubProvider) VerifyToken(context.Context, string) lineapi.VerifyResult {
	return s.verify
}

func (s *stubProvider) FetchProfile(context.Context, string) lineapi.ProfileResult {
	return s.profile
}

func verifiedProvider() *stubProvider {
	return &stubProvider{
		verify: lineapi.VerifyResult{Status: http.StatusOK, ChannelID: testChannelID, ExpiresIn: 100},
		profile: lineapi.ProfileResult{
			Status:      http.StatusOK,
			UserID:      testUID,
			DisplayName: "name001",
			PictureURL:  "https://sample.com/sample.png",
		},
	}
}

// memRepo is a minimal in-memory domain.UserRepository for handler tests.
// Setting failWith makes every lookup fail, simulating a store outage.
type memRepo struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*domain.User
	failWith error
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[string]*domain.User{}}
}

func (r *memRepo) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Provider == user.Provider && u.ExternalUID == user.ExternalUID {
			return domain.ErrDuplicateIdentity
		}
	}
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	if user.Tokens == nil {
		user.Tokens = map[string]domain.DeviceToken{}
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	clone := *u
	clone.Tokens = cloneTokens(u.Tokens)
	return &clone, nil
}

func (r *memRepo) GetUserByExternalUID(_ context.Context, provider domain.Provider, uid string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return nil, r.failWith
	}
	for _, u := range r.users {
		if u.Provider == provider && u.ExternalUID == uid {
			clone := *u
			clone.Tokens = cloneTokens(u.Tokens)
			return &clone, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *memRepo) UpdateProfile(_ context.Context, userID, displayName, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	u.DisplayName = displayName
	u.AvatarURL = avatarURL
	return nil
}

func (r *memRepo) MutateDeviceTokens(_ context.Context, userID string, mutate func(tokens map[string]domain.DeviceToken) error) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	tokens := cloneTokens(u.Tokens)
	if err := mutate(tokens); err != nil {
		return nil, err
	}
	u.Tokens = tokens
	u.TokenVersion++
	clone := *u
	clone.Tokens = cloneTokens(tokens)
	return &clone, nil
}

func (r *memRepo) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func cloneTokens(tokens map[string]domain.DeviceToken) map[string]domain.DeviceToken {
	out := make(map[string]domain.DeviceToken, len(tokens))
	for k, v := range tokens {
		out[k] = v
	}
	return out
}

var _ domain.UserRepository = (*memRepo)(nil)

type testServer struct {
	e        *echo.Echo
	repo     *memRepo
	provider *stubProvider
}

func newTestServer(t *testing.T, rotate bool) *testServer {
	t.Helper()

	repo := newMemRepo()
	provider := verifiedProvider()
	batch := cache.NewMemoryBatchCache()
	t.Cleanup(batch.Stop)

	authn := services.NewAuthenticator(provider, testChannelID)
	issuer := services.NewSessionIssuer(repo, authn, 10, 14*24*time.Hour)
	guard := services.NewSessionGuard(repo, batch, services.GuardConfig{
		TokenLifespan: 14 * 24 * time.Hour,
		RotateOnUse:   rotate,
		BatchThrottle: 5 * time.Second,
	})

	e := echo.New()
	authapi.NewAuthAPI(repo, issuer, guard, testLiffID).RegisterRoutes(e)
	return &testServer{e: e, repo: repo, provider: provider}
}

func (s *testServer) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) signUp(t *testing.T) map[string]string {
	t.Helper()
	rec := s.do(http.MethodPost, "/api/auth", `{"uid":"U123","access_token":"token001"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	return sessionHeaders(rec)
}

func sessionHeaders(rec *httptest.ResponseRecorder) map[string]string {
	return map[string]string{
		middleware.HeaderUID:         rec.Header().Get(middleware.HeaderUID),
		middleware.HeaderClient:      rec.Header().Get(middleware.HeaderClient),
		middleware.HeaderAccessToken: rec.Header().Get(middleware.HeaderAccessToken),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSignUpEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodPost, "/api/auth", `{"uid":"U123","access_token":"token001"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	data := body["data"].(map[string]any)
	assert.Equal(t, testUID, data["uid"])
	assert.Equal(t, "name001", data["display_name"])

	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderAccessToken))
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderClient))
	assert.Equal(t, testUID, rec.Header().Get(middleware.HeaderUID))
	assert.Equal(t, "Bearer", rec.Header().Get(middleware.HeaderTokenType))
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderExpiry))
}

func TestSignUpRejectsEmptyParams(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodPost, "/api/auth", `{}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
}

func TestSignUpRejectsDuplicateRegistration(t *testing.T) {
	s := newTestServer(t, false)
	s.signUp(t)

	rec := s.do(http.MethodPost, "/api/auth", `{"uid":"U123","access_token":"token001"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["errors"], "Uid has already been taken")
}

func TestSignUpPropagatesVerificationFailure(t *testing.T) {
	s := newTestServer(t, false)
	s.provider.verify.ChannelID = "channel_999"

	rec := s.do(http.MethodPost, "/api/auth", `{"uid":"U123","access_token":"token001"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "LINE Channel ID is not matched.")
}

func TestSignInEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	first := s.signUp(t)

	rec := s.do(http.MethodPost, "/api/auth/sign_in", `{"uid":"U123","access_token":"token001"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	second := sessionHeaders(rec)

	assert.NotEqual(t, first[middleware.HeaderClient], second[middleware.HeaderClient],
		"each sign-in mints its own device slot")
}

func TestSignInWithHeaderCredentials(t *testing.T) {
	s := newTestServer(t, false)
	s.signUp(t)

	rec := s.do(http.MethodPost, "/api/auth/sign_in", "", map[string]string{
		"uid":          testUID,
		"access_token": "token001",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignInRejectsUnknownUser(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodPost, "/api/auth/sign_in", `{"uid":"U123","access_token":"token001"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "Invalid login credentials. Please try again.")
}

func TestValidateTokenEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	rec := s.do(http.MethodGet, "/api/auth/validate_token", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])

	rec = s.do(http.MethodGet, "/api/auth/validate_token", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["errors"], "User was not found or was not logged in.")
}

func TestGuardedRequestRotatesHeaders(t *testing.T) {
	s := newTestServer(t, true)
	session := s.signUp(t)

	rec := s.do(http.MethodGet, "/api/me", "", session)
	require.Equal(t, http.StatusOK, rec.Code)

	rotated := rec.Header().Get(middleware.HeaderAccessToken)
	require.NotEmpty(t, rotated)
	assert.NotEqual(t, session[middleware.HeaderAccessToken], rotated)
	assert.Equal(t, session[middleware.HeaderClient], rec.Header().Get(middleware.HeaderClient))

	// the old token is done once the batch window logic no longer applies;
	// the rotated one resolves
	session[middleware.HeaderAccessToken] = rotated
	rec = s.do(http.MethodGet, "/api/me", "", session)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSignOutEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	rec := s.do(http.MethodDelete, "/api/auth/sign_out", "", session)
	require.Equal(t, http.StatusOK, rec.Code)

	// the slot is gone, the session no longer validates
	rec = s.do(http.MethodGet, "/api/auth/validate_token", "", session)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// repeated sign-out with the same headers stays a success
	rec = s.do(http.MethodDelete, "/api/auth/sign_out", "", session)
	assert.Equal(t, http.StatusOK, rec.Code)

	// no resolvable user at all is a 404
	rec = s.do(http.MethodDelete, "/api/auth/sign_out", "", map[string]string{
		middleware.HeaderUID:         "U999",
		middleware.HeaderClient:      session[middleware.HeaderClient],
		middleware.HeaderAccessToken: session[middleware.HeaderAccessToken],
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGuardedRequestStoreFailureIs500(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	s.repo.mu.Lock()
	s.repo.failWith = errors.New("connection reset by peer")
	s.repo.mu.Unlock()

	// a store outage is not an authentication failure
	rec := s.do(http.MethodGet, "/api/auth/validate_token", "", session)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "error", decodeBody(t, rec)["status"])
}

func TestSignOutStoreFailureIs500(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	s.repo.mu.Lock()
	s.repo.failWith = errors.New("connection reset by peer")
	s.repo.mu.Unlock()

	rec := s.do(http.MethodDelete, "/api/auth/sign_out", "", session)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestDestroyEndpoint(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	rec := s.do(http.MethodDelete, "/api/auth", "", session)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Account with UID 'U123' has been destroyed.", body["message"])

	rec = s.do(http.MethodGet, "/api/auth/validate_token", "", session)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDestroyHonorsDeletionFlag(t *testing.T) {
	s := newTestServer(t, false)
	session := s.signUp(t)

	s.repo.mu.Lock()
	for _, u := range s.repo.users {
		u.AllowAccountDeletion = false
	}
	s.repo.mu.Unlock()

	rec := s.do(http.MethodDelete, "/api/auth", "", session)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLiffIDEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(http.MethodGet, "/api/config/liff_id", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testLiffID, decodeBody(t, rec)["liff_id"])
}
