package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/session-auth/internal/session"
	"github.com/yourusername/session-auth/internal/users"
)

const cookieName = "connect.sid"

type testEnv struct {
	router   *gin.Engine
	repo     *users.MemoryRepository
	sessions *session.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := session.NewMemoryStore()
	env := newTestEnvWithStore(t, backend)
	env.sessions = backend
	return env
}

func newTestEnvWithStore(t *testing.T, backend session.Store) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := users.NewMemoryRepository()
	store, err := session.NewServerStore(backend, session.ServerStoreOptions{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		MaxAge: 24 * time.Hour,
	})
	require.NoError(t, err)

	manager, err := NewManager(repo, newTestHasher(t), nil)
	require.NoError(t, err)

	router := gin.New()
	router.Use(sessions.Sessions(cookieName, store), session.Track(store, cookieName, nil))
	router.POST("/register", manager.Register)
	router.POST("/login", manager.Login)
	router.POST("/logout", manager.RequireLogin(), manager.Logout)
	router.GET("/me", manager.RequireLogin(), manager.Me)

	return &testEnv{router: router, repo: repo}
}

func (e *testEnv) do(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func responseCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

const testUser = `{"name":"Test User","email":"test@example.com","password":"password123"}`

func TestRegisterLoginLogoutScenario(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/register", testUser, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(http.MethodPost, "/login", `{"email":"test@example.com","password":"password123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"success": true,
		"data": {"user": {"id": 1, "email": "test@example.com"}},
		"message": "Login successful"
	}`, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	cookie := responseCookie(rec)
	require.NotNil(t, cookie)

	rec = env.do(http.MethodGet, "/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"test@example.com"`)

	rec = env.do(http.MethodPost, "/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":null,"message":"Logout successful"}`, rec.Body.String())
	cleared := responseCookie(rec)
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	rec = env.do(http.MethodPost, "/logout", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"details":[]},"message":"Unauthorized access"}`, rec.Body.String())
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)

	rec := env.do(http.MethodPost, "/register",
		`{"name":"Other","email":"test@example.com","password":"different-password"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"details":[]},"message":"User already exists"}`, rec.Body.String())
}

func TestRegisterValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/register", `{"name":"","email":"not-an-email","password":"12"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"success": false,
		"error": {"details": [
			{"path": ["name"], "message": "Required"},
			{"path": ["email"], "message": "Invalid email"},
			{"path": ["password"], "message": "Must contain at least 8 character(s)"}
		]},
		"message": "Validation error"
	}`, rec.Body.String())

	rec = env.do(http.MethodPost, "/register", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"Validation error"`)
}

func TestLoginRejectionsAreIdentical(t *testing.T) {
	env := newTestEnv(t)

	empty := env.do(http.MethodPost, "/login", `{"email":"nope@example.com","password":"x"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, empty.Code)
	assert.JSONEq(t, `{"success":false,"error":{"details":[]},"message":"Invalid email or password"}`, empty.Body.String())

	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)

	missing := env.do(http.MethodPost, "/login", `{"email":"nope@example.com","password":"password123"}`, nil)
	wrong := env.do(http.MethodPost, "/login", `{"email":"test@example.com","password":"wrong-password"}`, nil)

	assert.Equal(t, missing.Code, wrong.Code)
	assert.Equal(t, missing.Body.String(), wrong.Body.String())

	noBody := env.do(http.MethodPost, "/login", "", nil)
	assert.Equal(t, http.StatusUnauthorized, noBody.Code)
	assert.Equal(t, wrong.Body.String(), noBody.Body.String())
}

func TestLoginRegeneratesSessionID(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)

	anonymous := responseCookie(env.do(http.MethodGet, "/me", "", nil))
	require.NotNil(t, anonymous)

	rec := env.do(http.MethodPost, "/login", `{"email":"test@example.com","password":"password123"}`, anonymous)
	require.Equal(t, http.StatusOK, rec.Code)
	authenticated := responseCookie(rec)
	require.NotNil(t, authenticated)
	assert.NotEqual(t, anonymous.Value, authenticated.Value)

	// ログイン前のクッキーは認証済みにならない
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/me", "", anonymous).Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/me", "", authenticated).Code)
}

func TestGateRejectsDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)

	rec := env.do(http.MethodPost, "/login", `{"email":"test@example.com","password":"password123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := responseCookie(rec)

	user, err := env.repo.FindByEmail(context.Background(), "test@example.com")
	require.NoError(t, err)
	require.NoError(t, env.repo.Delete(context.Background(), user.ID))

	rec = env.do(http.MethodGet, "/me", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"details":[]},"message":"Unauthorized access"}`, rec.Body.String())

	// 同じメールアドレスで再登録されても古いセッションは復活しない
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, "/logout", "", cookie).Code)
}

func TestLogoutWithoutSession(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 1, env.sessions.Len())
}

// pausingStore は次の1回の Load の直後で処理を止めます。
type pausingStore struct {
	*session.MemoryStore
	mu      sync.Mutex
	loaded  chan struct{}
	release chan struct{}
}

func (s *pausingStore) pauseNextLoad() (loaded, release chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = make(chan struct{})
	s.release = make(chan struct{})
	return s.loaded, s.release
}

func (s *pausingStore) Load(ctx context.Context, id string) (*session.Record, error) {
	record, err := s.MemoryStore.Load(ctx, id)

	s.mu.Lock()
	loaded, release := s.loaded, s.release
	s.loaded, s.release = nil, nil
	s.mu.Unlock()

	if loaded != nil {
		close(loaded)
		<-release
	}
	return record, err
}

func TestLogoutIsNotUndoneByInFlightRequest(t *testing.T) {
	backend := &pausingStore{MemoryStore: session.NewMemoryStore()}
	env := newTestEnvWithStore(t, backend)
	require.Equal(t, http.StatusCreated, env.do(http.MethodPost, "/register", testUser, nil).Code)

	rec := env.do(http.MethodPost, "/login", `{"email":"test@example.com","password":"password123"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := responseCookie(rec)
	require.NotNil(t, cookie)

	loaded, release := backend.pauseNextLoad()
	inFlight := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		inFlight <- env.do(http.MethodGet, "/me", "", cookie)
	}()
	<-loaded

	// /me がセッションを読み込んだ後にログアウトが完了する
	rec = env.do(http.MethodPost, "/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	close(release)
	me := <-inFlight
	assert.Equal(t, http.StatusUnauthorized, me.Code)
	if fresh := responseCookie(me); assert.NotNil(t, fresh) {
		assert.NotEqual(t, cookie.Value, fresh.Value)
	}

	rec = env.do(http.MethodPost, "/logout", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"success":false,"error":{"details":[]},"message":"Unauthorized access"}`, rec.Body.String())
}
