package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohits-web03/enrollr/internal/api/handlers"
	"github.com/rohits-web03/enrollr/internal/api/middleware"
	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/metrics"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/services"
)

// tokenResolver maps fixed tokens to principals.
type tokenResolver map[string]auth.Principal

func (r tokenResolver) Resolve(_ context.Context, credential string) (auth.Principal, error) {
	switch credential {
	case "":
		return auth.Anonymous, nil
	case "expired":
		return auth.Anonymous, apperrors.ErrExpiredCredential
	}
	p, ok := r[credential]
	if !ok {
		return auth.Anonymous, apperrors.ErrInvalidCredential
	}
	return p, nil
}

type fakeRegistrar struct {
	err   error
	in    services.RegisterInput
	actor auth.Principal
}

func (f *fakeRegistrar) Register(_ context.Context, in services.RegisterInput, actor auth.Principal) (*models.User, error) {
	f.in, f.actor = in, actor
	if f.err != nil {
		return nil, f.err
	}
	imageID := uint(11)
	return &models.User{
		ID:             42,
		Name:           in.Name,
		Email:          models.NormalizeEmail(in.Email),
		PasswordHash:   "$2a$10$secret",
		IsActive:       true,
		ProfileImageID: &imageID,
		CreatedBy:      actor.ActorID(),
		UpdatedBy:      actor.ActorID(),
	}, nil
}

type fakeIngester struct {
	got *services.Upload
}

func (f *fakeIngester) Ingest(_ context.Context, up services.Upload) (*models.File, error) {
	f.got = &up
	return &models.File{ID: 7, ModifiedName: "0b8f.png", OriginalName: up.OriginalName, Type: up.DeclaredType}, nil
}

// fakeLogin accepts ada@x.com / p and hands out numbered refresh tokens that
// each work once.
type fakeLogin struct {
	mu      sync.Mutex
	issued  int
	live    map[string]bool
	revoked []string
}

func newFakeLogin() *fakeLogin {
	return &fakeLogin{live: map[string]bool{}}
}

func (f *fakeLogin) session() auth.Session {
	f.issued++
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.live[refresh] = true
	return auth.Session{
		Token:            fmt.Sprintf("session-token-%d", f.issued),
		ExpiresAt:        time.Now().Add(time.Hour),
		RefreshToken:     refresh,
		RefreshExpiresAt: time.Now().Add(24 * time.Hour),
		User:             &models.User{ID: 2, Email: "ada@x.com", Role: models.RoleUser},
	}
}

func (f *fakeLogin) Login(_ context.Context, email, password string, _ auth.Client) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if email != "ada@x.com" || password != "p" {
		return auth.Session{}, apperrors.ErrInvalidCredential
	}
	return f.session(), nil
}

func (f *fakeLogin) Refresh(_ context.Context, token string, _ auth.Client) (auth.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[token] {
		return auth.Session{}, apperrors.ErrInvalidCredential
	}
	delete(f.live, token)
	return f.session(), nil
}

func (f *fakeLogin) Logout(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, token)
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeLogin) SessionUser(_ context.Context, token string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.live[token] {
		return nil, apperrors.ErrInvalidCredential
	}
	return &models.User{ID: 2, Email: "ada@x.com", PasswordHash: "hash", IsActive: true}, nil
}

type fakeUsers struct{}

func (fakeUsers) FindUserByID(_ context.Context, id uint) (*models.User, error) {
	return &models.User{ID: id, Name: "Ada", Email: "ada@x.com", PasswordHash: "hash", IsActive: true}, nil
}

type testServer struct {
	handler   http.Handler
	registrar *fakeRegistrar
	files     *fakeIngester
	login     *fakeLogin
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{registrar: &fakeRegistrar{}, files: &fakeIngester{}, login: newFakeLogin()}
	h := handlers.New(ts.registrar, ts.files, ts.login, fakeUsers{}, handlers.Options{
		MaxUploadBytes: 1024,
		RequestTimeout: time.Second,
	}, zerolog.Nop())
	resolver := tokenResolver{
		"admin-token": auth.Authenticated(1, models.RoleAdmin),
		"user-token":  auth.Authenticated(2, models.RoleUser),
	}
	ts.handler = SetupRouter(h, resolver, cors.Options{}, zerolog.Nop())
	return ts
}

func (ts *testServer) do(req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func multipartRequest(t *testing.T, target string, fields map[string]string, fileField string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="avatar.png"`, fileField))
		hdr.Set("Content-Type", "image/png")
		part, err := mw.CreatePart(hdr)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func signUpFields() map[string]string {
	return map[string]string{"name": "Ada", "email": "ADA@x.com", "password": "p"}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	rec, _ := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestSignUp(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(multipartRequest(t, "/api/v1/auth/sign-up", signUpFields(), "profileImage", []byte("png bytes")))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, true, body["success"])
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	data := body["data"].(map[string]any)
	assert.Equal(t, "ada@x.com", data["email"])
	assert.Nil(t, data["createdBy"])

	assert.False(t, ts.registrar.actor.IsAuthenticated())
	require.NotNil(t, ts.registrar.in.Image)
	assert.Equal(t, "avatar.png", ts.registrar.in.Image.OriginalName)
	assert.Equal(t, "image/png", ts.registrar.in.Image.DeclaredType)
	assert.Equal(t, []byte("png bytes"), ts.registrar.in.Image.Data)
}

func TestSignUpDeclaredFieldsOverrideFilePart(t *testing.T) {
	ts := newTestServer(t)
	fields := signUpFields()
	fields["declaredMimeType"] = "image/jpeg"
	fields["originalFilename"] = "me.jpg"

	rec, _ := ts.do(multipartRequest(t, "/api/v1/auth/sign-up", fields, "profile_image", []byte("jpeg")))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "image/jpeg", ts.registrar.in.Image.DeclaredType)
	assert.Equal(t, "me.jpg", ts.registrar.in.Image.OriginalName)
}

func TestSignUpErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"conflict", apperrors.ErrEmailAlreadyExists, http.StatusConflict},
		{"image required", apperrors.ErrImageRequired, http.StatusBadRequest},
		{"field validation", apperrors.NewValidationError(map[string]string{"email": "must be a valid email address"}), http.StatusUnprocessableEntity},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden},
		{"storage", apperrors.Wrap(apperrors.ErrStorage, fmt.Errorf("disk full")), http.StatusServiceUnavailable},
		{"persistence", apperrors.Wrap(apperrors.ErrPersistence, fmt.Errorf("conn reset")), http.StatusServiceUnavailable},
		{"timeout", apperrors.Wrap(apperrors.ErrPersistence, context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.registrar.err = tt.err

			rec, body := ts.do(multipartRequest(t, "/api/v1/auth/sign-up", signUpFields(), "profileImage", []byte("png")))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestSignUpInconsistentStateIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.registrar.err = fmt.Errorf("%w: artifact /srv/uploads/users/abc.png left without a file row", apperrors.ErrInconsistentState)

	rec, body := ts.do(multipartRequest(t, "/api/v1/auth/sign-up", signUpFields(), "profileImage", []byte("png")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "/srv/uploads")
	assert.Equal(t, "Something went wrong, please try again later", body["message"])
}

func TestSignUpRejectsOversizedImage(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(multipartRequest(t, "/api/v1/auth/sign-up", signUpFields(), "profileImage", bytes.Repeat([]byte("x"), 2048)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.NotNil(t, body["errors"])
	assert.Empty(t, ts.registrar.in.Email)
}

func TestSignUpWithBadTokenIsRejected(t *testing.T) {
	ts := newTestServer(t)

	req := multipartRequest(t, "/api/v1/auth/sign-up", signUpFields(), "profileImage", []byte("png"))
	req.Header.Set("Authorization", "Bearer forged")
	rec, _ := ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateUserNeedsAdmin(t *testing.T) {
	fields := signUpFields()
	fields["role"] = "admin"

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"expired", "expired", http.StatusUnauthorized},
		{"plain user", "user-token", http.StatusForbidden},
		{"admin", "admin-token", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			req := multipartRequest(t, "/api/v1/users", fields, "profileImage", []byte("png"))
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			rec, _ := ts.do(req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	ts := newTestServer(t)
	req := multipartRequest(t, "/api/v1/users", fields, "profileImage", []byte("png"))
	req.AddCookie(&http.Cookie{Name: "token", Value: "admin-token"})
	rec, body := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, ts.registrar.actor.IsAdmin())
	assert.Equal(t, "admin", ts.registrar.in.Role)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["createdBy"])
}

func TestUploadFile(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(multipartRequest(t, "/api/v1/files", nil, "file", []byte("png")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := multipartRequest(t, "/api/v1/files", nil, "file", []byte("png"))
	req.Header.Set("Authorization", "Bearer user-token")
	rec, body := ts.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	data := body["data"].(map[string]any)
	assert.Equal(t, float64(7), data["id"])
	assert.Equal(t, "0b8f.png", data["modifiedName"])
	assert.Equal(t, "avatar.png", ts.files.got.OriginalName)

	req = multipartRequest(t, "/api/v1/files", nil, "", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginAndLogout(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ada@x.com","password":"p"}`))
	rec, body := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "session-token-1", body["data"].(map[string]any)["token"])
	assert.NotContains(t, rec.Body.String(), "refresh-1")

	access := cookieNamed(rec, "token")
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	assert.Equal(t, "/", access.Path)

	refresh := cookieNamed(rec, "refresh_token")
	require.NotNil(t, refresh)
	assert.Equal(t, "refresh-1", refresh.Value)
	assert.Equal(t, "/api/v1/auth", refresh.Path)
	assert.True(t, refresh.HttpOnly)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ada@x.com","password":"nope"}`))
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ada@x.com","extra":1}`))
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-1"})
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"refresh-1"}, ts.login.revoked)
	require.Len(t, rec.Result().Cookies(), 2)
	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge, c.Name)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "refresh-1"})
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a logged out refresh token is dead")
}

func TestRefreshRotatesCookie(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ada@x.com","password":"p"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	first := cookieNamed(rec, "refresh_token")
	require.NotNil(t, first)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(first)
	rec, body := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "session-token-2", data["token"])
	assert.Equal(t, "user", data["role"])

	second := cookieNamed(rec, "refresh_token")
	require.NotNil(t, second)
	assert.NotEqual(t, first.Value, second.Value)

	// the first token was spent by the exchange
	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(first)
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	cleared := cookieNamed(rec, "refresh_token")
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec, body = ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Please sign in first", body["message"])
}

func TestSessionUser(t *testing.T) {
	ts := newTestServer(t)

	rec, _ := ts.do(httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"email":"ada@x.com","password":"p"}`)))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/user", nil)
	req.AddCookie(cookieNamed(rec, "refresh_token"))
	rec, body := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada@x.com", body["data"].(map[string]any)["email"])
	assert.NotContains(t, rec.Body.String(), "hash")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/user", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "forged"})
	rec, _ = ts.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownPathsShareOneMetricSeries(t *testing.T) {
	ts := newTestServer(t)
	unmatched := metrics.RequestsTotal.WithLabelValues(http.MethodGet, middleware.UnmatchedRoute, "404")
	before := testutil.CollectAndCount(metrics.RequestsTotal)
	unmatchedBefore := testutil.ToFloat64(unmatched)

	for i := range 200 {
		rec, _ := ts.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/random-%d", i), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec, _ = ts.do(httptest.NewRequest(http.MethodGet, fmt.Sprintf("/nowhere/%d", i), nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	for i := range 50 {
		ts.do(httptest.NewRequest(fmt.Sprintf("VERB%d", i), "/health", nil))
	}

	// OTHER /health 200 is the only series these requests may add
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.RequestsTotal)-before, 1)
	assert.Equal(t, 400.0, testutil.ToFloat64(unmatched)-unmatchedBefore)
}

func TestRejectedRequestsKeepTheirRouteLabel(t *testing.T) {
	ts := newTestServer(t)
	files := metrics.RequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/files", "401")
	before := testutil.ToFloat64(files)

	rec, _ := ts.do(multipartRequest(t, "/api/v1/files", nil, "file", []byte("png")))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(files)-before)
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	rec, body := ts.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["data"].(map[string]any)["id"])
	assert.NotContains(t, rec.Body.String(), "hash")
}
