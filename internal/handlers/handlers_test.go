package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Skotchmaster/user_directory/internal/db"
	"github.com/Skotchmaster/user_directory/internal/hash"
	"github.com/Skotchmaster/user_directory/internal/middleware/auth"
	"github.com/Skotchmaster/user_directory/internal/mykafka"
	"github.com/Skotchmaster/user_directory/internal/repo"
	"github.com/Skotchmaster/user_directory/internal/revocation"
	"github.com/Skotchmaster/user_directory/internal/service"
	"github.com/Skotchmaster/user_directory/internal/tokens"
	"github.com/Skotchmaster/user_directory/internal/validate"
)

func TestMain(m *testing.M) {
	hash.Cost = bcrypt.MinCost
	os.Exit(m.Run())
}

type testEnv struct {
	T     *testing.T
	E     *echo.Echo
	A     *AuthHandler
	U     *UsersHandler
	Svc   *service.AuthService
	Store *revocation.MemoryStore
}

func InitTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to connect to in-memory db: %v", err)
	}
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := revocation.NewMemoryStore()
	svc := &service.AuthService{
		Repo:     repo.NewGormRepo(InitTestDB(t)),
		Tokens:   tokens.NewService([]byte("test-jwt-secret"), []byte("test-refresh-secret"), store),
		Producer: mykafka.NopPublisher{},
	}

	e := echo.New()
	e.Validator = validate.New()
	return &testEnv{
		T:     t,
		E:     e,
		A:     NewAuthHandler(svc),
		U:     NewUsersHandler(svc),
		Svc:   svc,
		Store: store,
	}
}

func (env *testEnv) doJSONRequest(method, path string, body any) (*httptest.ResponseRecorder, echo.Context) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(env.T, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, env.E.NewContext(req, rec)
}

// withIdentity simulates RequireAuth having run.
func withIdentity(c echo.Context, id tokens.Identity) echo.Context {
	c.Set(auth.CtxIdentity, id)
	return c
}

func requireHTTPError(t *testing.T, err error, code int) *echo.HTTPError {
	t.Helper()
	require.Error(t, err)
	he, ok := err.(*echo.HTTPError)
	require.True(t, ok, "expected *echo.HTTPError, got %T", err)
	require.Equal(t, code, he.Code)
	return he
}

func (env *testEnv) register(username, password string, moderator bool) {
	rec, c := env.doJSONRequest(http.MethodPost, "/register", map[string]any{
		"username": username, "password": password, "isModerator": moderator, "consent": true,
	})
	require.NoError(env.T, env.A.Register(c))
	require.Equal(env.T, http.StatusOK, rec.Code)
}

func (env *testEnv) login(username, password string) tokenPair {
	rec, c := env.doJSONRequest(http.MethodPost, "/login", map[string]string{
		"username": username, "password": password,
	})
	require.NoError(env.T, env.A.Login(c))
	require.Equal(env.T, http.StatusOK, rec.Code)

	var pair tokenPair
	require.NoError(env.T, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(env.T, pair.AccessToken)
	require.NotEmpty(env.T, pair.RefreshToken)
	return pair
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.doJSONRequest(http.MethodPost, "/register", map[string]any{
		"username": "testuser", "password": "password", "consent": true,
	})
	require.NoError(t, env.A.Register(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var msg string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "By registering you agree to let us store your data. USER WITH USERNAME testuser REGISTERED", msg)

	_, c = env.doJSONRequest(http.MethodPost, "/register", map[string]any{
		"username": "testuser", "password": "password", "consent": true,
	})
	he := requireHTTPError(t, env.A.Register(c), http.StatusConflict)
	assert.Equal(t, "user already exists", he.Message)
}

func TestRegister_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{name: "no consent", body: map[string]any{"username": "testuser", "password": "password"}},
		{name: "consent false", body: map[string]any{"username": "testuser", "password": "password", "consent": false}},
		{name: "missing username", body: map[string]any{"password": "password", "consent": true}},
		{name: "missing password", body: map[string]any{"username": "testuser", "consent": true}},
		{name: "password over 72 bytes", body: map[string]any{"username": "testuser", "password": strings.Repeat("é", 40), "consent": true}},
		{name: "wrong type", body: map[string]any{"username": 42, "password": "password", "consent": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, c := env.doJSONRequest(http.MethodPost, "/register", tt.body)
			requireHTTPError(t, env.A.Register(c), http.StatusBadRequest)

			_, err := env.Svc.Repo.FindByUsername(c.Request().Context(), "testuser")
			assert.ErrorIs(t, err, repo.ErrUserNotFound)
		})
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register("testuser", "password", false)

	pair := env.login("testuser", "password")
	id, err := env.Svc.Tokens.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, tokens.Identity{Username: "testuser"}, id)

	for _, body := range []map[string]string{
		{"username": "testuser", "password": "wrongpassword"},
		{"username": "ghost", "password": "password"},
	} {
		rec, c := env.doJSONRequest(http.MethodPost, "/login", body)
		he := requireHTTPError(t, env.A.Login(c), http.StatusUnauthorized)
		assert.Equal(t, "invalid username or password", he.Message)
		assert.Empty(t, rec.Body.String())
	}
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t)

	rec, c := env.doJSONRequest(http.MethodGet, "/profile", nil)
	require.NoError(t, env.A.Profile(withIdentity(c, tokens.Identity{Username: "admin", IsModerator: true})))
	assert.JSONEq(t, `{"username":"admin","isModerator":true}`, rec.Body.String())

	_, c = env.doJSONRequest(http.MethodGet, "/profile", nil)
	requireHTTPError(t, env.A.Profile(c), http.StatusUnauthorized)
}

func TestLogOut(t *testing.T) {
	env := newTestEnv(t)
	env.register("testuser", "password", false)
	pair := env.login("testuser", "password")

	rec, c := env.doJSONRequest(http.MethodPost, "/logout", map[string]string{"token": pair.RefreshToken})
	require.NoError(t, env.A.LogOut(withIdentity(c, tokens.Identity{Username: "testuser"})))
	require.Equal(t, http.StatusOK, rec.Code)

	var msg string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "LOGGED OUT OF testuser", msg)

	_, c = env.doJSONRequest(http.MethodPost, "/refresh", map[string]string{"token": pair.RefreshToken})
	he := requireHTTPError(t, env.A.Refresh(c), http.StatusUnauthorized)
	assert.Equal(t, auth.MsgUnauthenticated, he.Message)
	assert.ErrorIs(t, he, tokens.ErrRevokedToken)
}

func TestLogOut_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(http.MethodPost, "/logout", map[string]string{"token": "x"})
	requireHTTPError(t, env.A.LogOut(c), http.StatusUnauthorized)
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	env.register("testuser", "password", false)
	pair := env.login("testuser", "password")

	rec, c := env.doJSONRequest(http.MethodPost, "/refresh", map[string]string{"token": pair.RefreshToken})
	require.NoError(t, env.A.Refresh(c))

	var next tokenPair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.NotEmpty(t, next.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	_, c = env.doJSONRequest(http.MethodPost, "/refresh", map[string]string{"token": pair.RefreshToken})
	requireHTTPError(t, env.A.Refresh(c), http.StatusUnauthorized)

	_, c = env.doJSONRequest(http.MethodPost, "/refresh", map[string]string{"token": next.AccessToken})
	requireHTTPError(t, env.A.Refresh(c), http.StatusUnauthorized)
}

func TestListUsers(t *testing.T) {
	env := newTestEnv(t)
	env.register("testuser", "password", false)
	env.register("admin", "adminpassword", true)

	rec, c := env.doJSONRequest(http.MethodGet, "/users", nil)
	require.NoError(t, env.U.ListUsers(c))
	assert.JSONEq(t, `[{"username":"admin","isModerator":true},{"username":"testuser","isModerator":false}]`, rec.Body.String())

	rec, c = env.doJSONRequest(http.MethodGet, "/users?page=1&size=1", nil)
	require.NoError(t, env.U.ListUsers(c))
	assert.JSONEq(t, `[{"username":"admin","isModerator":true}]`, rec.Body.String())
}

func TestSearchUsers_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	_, c := env.doJSONRequest(http.MethodGet, "/users/search?q=test", nil)
	requireHTTPError(t, env.U.SearchUsers(c), http.StatusServiceUnavailable)
}

func TestHTTPError_Internal(t *testing.T) {
	he := httpError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Equal(t, "internal error", he.Message)
	assert.ErrorIs(t, he, assert.AnError)
}
