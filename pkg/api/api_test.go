package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/authoor/pkg/auth"
	"github.com/ethpandaops/authoor/pkg/config"
	"github.com/ethpandaops/authoor/pkg/store"
)

type testServer struct {
	srv     *server
	handler http.Handler
	store   store.Store
}

func setupTestServer(
	t *testing.T, mutate func(*config.Config),
) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Listen: "127.0.0.1:0"},
		Auth: config.AuthConfig{
			SessionTTL:          "1h",
			UsernameLogin:       true,
			RegistrationEnabled: true,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteConfig{Path: ":memory:"},
		},
	}

	if mutate != nil {
		mutate(cfg)
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	require.NoError(t, st.SeedRoles(context.Background(), cfg.Auth.Roles))

	srv := &server{
		log:   log,
		cfg:   cfg,
		store: st,
		done:  make(chan struct{}),
	}
	srv.authn = auth.NewAuthenticator(
		log, &cfg.Auth, &cfg.Directory, st, nil,
	)
	srv.authz = auth.NewAuthorizer(log, &cfg.Directory, nil)

	return &testServer{
		srv:     srv,
		handler: srv.buildRouter(),
		store:   st,
	}
}

func (ts *testServer) createUser(
	t *testing.T, username, password string, roles ...string,
) *store.User {
	t.Helper()

	hash, err := auth.HashSecret(password)
	require.NoError(t, err)

	now := time.Now().UTC()
	email := username + "@example.com"

	user := &store.User{
		Username:         &username,
		Email:            &email,
		PasswordHash:     hash,
		Active:           true,
		EmailConfirmedAt: &now,
	}
	require.NoError(t, ts.store.CreateUser(context.Background(), user))

	if len(roles) > 0 {
		require.NoError(t,
			ts.store.SetUserRoles(context.Background(), user, roles))
	}

	return user
}

type request struct {
	method  string
	path    string
	body    any
	cookie  *http.Cookie
	headers map[string]string
}

func (ts *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer = bytes.NewBuffer(nil)

	if req.body != nil {
		require.NoError(t, json.NewEncoder(body).Encode(req.body))
	}

	r := httptest.NewRequest(req.method, req.path, body)
	r.Header.Set("Content-Type", "application/json")

	if req.cookie != nil {
		r.AddCookie(req.cookie)
	}

	for k, v := range req.headers {
		r.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, r)

	return rec
}

// login performs a login request and returns the session cookie.
func (ts *testServer) login(
	t *testing.T, username, password string,
) *http.Cookie {
	t.Helper()

	rec := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   map[string]string{"username": username, "password": password},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}

	t.Fatal("no session cookie in login response")

	return nil
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))

	return v
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, request{method: http.MethodGet, path: "/api/v1/health"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "alice", "secret123", "user")

	t.Run("success sets session cookie", func(t *testing.T) {
		cookie := ts.login(t, "alice", "secret123")
		assert.NotEmpty(t, cookie.Value)
		assert.True(t, cookie.HttpOnly)
	})

	t.Run("failures are indistinguishable", func(t *testing.T) {
		wrongPass := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/login",
			body:   map[string]string{"username": "alice", "password": "nope"},
		})
		unknownUser := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/login",
			body:   map[string]string{"username": "ghost", "password": "nope"},
		})

		assert.Equal(t, http.StatusUnauthorized, wrongPass.Code)
		assert.Equal(t, http.StatusUnauthorized, unknownUser.Code)
		assert.Equal(t, wrongPass.Body.String(), unknownUser.Body.String())
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/login",
			body:   map[string]string{"username": "alice"},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSessionGate(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "alice", "secret123", "user")

	t.Run("anonymous gets 401", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet, path: "/api/v1/auth/me",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage cookie gets 401", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/me",
			cookie: &http.Cookie{Name: sessionCookieName, Value: "bogus"},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid session gets the user", func(t *testing.T) {
		cookie := ts.login(t, "alice", "secret123")

		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/me",
			cookie: cookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		user := decodeJSON[userResponse](t, rec)
		assert.Equal(t, "alice", *user.Username)
		assert.Contains(t, user.Roles, "user")
	})

	t.Run("expired session gets 401", func(t *testing.T) {
		user, err := ts.store.GetUserByUsername(
			context.Background(), "alice",
		)
		require.NoError(t, err)

		session := &store.Session{
			Token:     "expired-token",
			UserID:    user.ID,
			ExpiresAt: time.Now().UTC().Add(-time.Minute),
		}
		require.NoError(t,
			ts.store.CreateSession(context.Background(), session))

		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/me",
			cookie: &http.Cookie{
				Name: sessionCookieName, Value: "expired-token",
			},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		// The expired session is removed on first use.
		_, err = ts.store.GetSessionByToken(
			context.Background(), "expired-token",
		)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("logout invalidates the session", func(t *testing.T) {
		cookie := ts.login(t, "alice", "secret123")

		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/logout",
			cookie: cookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/me",
			cookie: cookie,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRegister(t *testing.T) {
	ts := setupTestServer(t, nil)

	rec := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body: map[string]string{
			"username": "newbie",
			"email":    "newbie@example.com",
			"password": "secret123",
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	user := decodeJSON[userResponse](t, rec)
	assert.Contains(t, user.Roles, "user")

	// The fresh account can log in.
	ts.login(t, "newbie", "secret123")

	// Duplicate registration conflicts.
	rec = ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body: map[string]string{
			"username": "newbie",
			"password": "other",
		},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// brokenRoleStore fails every role grant so handlers that depend on it
// can be exercised without a real database fault.
type brokenRoleStore struct {
	store.Store
}

func (b *brokenRoleStore) SetUserRoles(
	_ context.Context, _ *store.User, _ []string,
) error {
	return errors.New("role table unavailable")
}

func TestRegisterRoleGrantFailure(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.srv.store = &brokenRoleStore{Store: ts.store}

	rec := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body: map[string]string{
			"username": "luckless",
			"email":    "luckless@example.com",
			"password": "secret123",
		},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegisterDisabled(t *testing.T) {
	ts := setupTestServer(t, func(c *config.Config) {
		c.Auth.RegistrationEnabled = false
	})

	rec := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body:   map[string]string{"username": "x", "password": "y"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyManagement(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "plain", "secret123", "user")
	ts.createUser(t, "dev", "secret123", "dev")

	t.Run("plain users cannot manage keys", func(t *testing.T) {
		cookie := ts.login(t, "plain", "secret123")

		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/api-keys",
			body:   map[string]string{},
			cookie: cookie,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("dev key round trip", func(t *testing.T) {
		cookie := ts.login(t, "dev", "secret123")

		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/api-keys",
			body:   map[string]string{"label": "ci"},
			cookie: cookie,
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		pair := decodeJSON[createAPIKeyResponse](t, rec)
		require.NotEmpty(t, pair.ID)
		require.NotEmpty(t, pair.Key)

		// The key authenticates header-credential requests.
		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			headers: map[string]string{
				apiKeyIDHeader:     pair.ID,
				apiKeySecretHeader: pair.Key,
			},
		})
		assert.Equal(t, http.StatusOK, rec.Code)

		// Listing shows the key without any secret material.
		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/api-keys",
			cookie: cookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		keys := decodeJSON[[]apiKeyResponse](t, rec)
		require.Len(t, keys, 1)
		assert.Equal(t, pair.ID, keys[0].ID)
		assert.NotContains(t, rec.Body.String(), pair.Key)

		// Revocation kills the credential.
		rec = ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/auth/api-keys/" + pair.ID,
			cookie: cookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			headers: map[string]string{
				apiKeyIDHeader:     pair.ID,
				apiKeySecretHeader: pair.Key,
			},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("cannot delete another user's key", func(t *testing.T) {
		devCookie := ts.login(t, "dev", "secret123")

		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/auth/api-keys",
			body:   map[string]string{},
			cookie: devCookie,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		pair := decodeJSON[createAPIKeyResponse](t, rec)

		ts.createUser(t, "otherdev", "secret123", "dev")
		otherCookie := ts.login(t, "otherdev", "secret123")

		rec = ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/auth/api-keys/" + pair.ID,
			cookie: otherCookie,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAPIKeyGate(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "dev", "secret123", "dev")

	cookie := ts.login(t, "dev", "secret123")
	rec := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/api-keys",
		body:   map[string]string{},
		cookie: cookie,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	pair := decodeJSON[createAPIKeyResponse](t, rec)

	t.Run("missing headers", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet, path: "/api/v1/data/whoami",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			headers: map[string]string{
				apiKeyIDHeader:     pair.ID,
				apiKeySecretHeader: "wrong",
			},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			headers: map[string]string{
				apiKeyIDHeader:     "nosuchkeyid1",
				apiKeySecretHeader: pair.Key,
			},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("role gate behind key auth", func(t *testing.T) {
		// dev holds a valid key but not the admin role.
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/users",
			headers: map[string]string{
				apiKeyIDHeader:     pair.ID,
				apiKeySecretHeader: pair.Key,
			},
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("session cookie does not satisfy key gate", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			cookie: cookie,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestCredentialExchange(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "alice", "secret123", "user")

	t.Run("valid credentials yield a key pair", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/credentials",
			body: map[string]string{
				"username": "alice", "password": "secret123",
			},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		pair := decodeJSON[createAPIKeyResponse](t, rec)

		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/data/whoami",
			headers: map[string]string{
				apiKeyIDHeader:     pair.ID,
				apiKeySecretHeader: pair.Key,
			},
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("bad credentials are rejected", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/credentials",
			body: map[string]string{
				"username": "alice", "password": "wrong",
			},
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	ts := setupTestServer(t, nil)
	admin := ts.createUser(t, "root", "secret123", "admin")
	ts.createUser(t, "alice", "secret123", "user")

	adminCookie := ts.login(t, "root", "secret123")
	aliceCookie := ts.login(t, "alice", "secret123")

	t.Run("non-admin is forbidden", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/admin/users",
			cookie: aliceCookie,
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin lists users", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/admin/users",
			cookie: adminCookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		users := decodeJSON[[]userResponse](t, rec)
		assert.Len(t, users, 2)
	})

	t.Run("admin updates roles", func(t *testing.T) {
		alice, err := ts.store.GetUserByUsername(
			context.Background(), "alice",
		)
		require.NoError(t, err)

		rec := ts.do(t, request{
			method: http.MethodPut,
			path:   "/api/v1/admin/users/" + itoa(alice.ID),
			body:   map[string]any{"roles": []string{"user", "dev"}},
			cookie: adminCookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		updated := decodeJSON[userResponse](t, rec)
		assert.Contains(t, updated.Roles, "dev")
	})

	t.Run("admin cannot change own roles", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodPut,
			path:   "/api/v1/admin/users/" + itoa(admin.ID),
			body:   map[string]any{"roles": []string{"user"}},
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("blank identifiers do not satisfy the create check", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodPost,
			path:   "/api/v1/admin/users",
			body:   map[string]any{"username": "", "email": ""},
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("update cannot blank out both identifiers", func(t *testing.T) {
		blank := ts.createUser(t, "blanche", "secret123", "user")

		rec := ts.do(t, request{
			method: http.MethodPut,
			path:   "/api/v1/admin/users/" + itoa(blank.ID),
			body:   map[string]any{"username": "", "email": ""},
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		// Clearing only the email is fine while the username remains.
		rec = ts.do(t, request{
			method: http.MethodPut,
			path:   "/api/v1/admin/users/" + itoa(blank.ID),
			body:   map[string]any{"email": ""},
			cookie: adminCookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		updated := decodeJSON[userResponse](t, rec)
		require.NotNil(t, updated.Username)
		assert.Equal(t, "blanche", *updated.Username)
		assert.Nil(t, updated.Email)
	})

	t.Run("deleting an unknown user is not found", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/admin/users/9999",
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("deleting an unknown session is not found", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/admin/sessions/9999",
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("admin cannot delete self", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/admin/users/" + itoa(admin.ID),
			cookie: adminCookie,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("admin revokes a session", func(t *testing.T) {
		rec := ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/admin/sessions",
			cookie: adminCookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		sessions := decodeJSON[[]sessionResponse](t, rec)
		require.NotEmpty(t, sessions)

		alice, err := ts.store.GetUserByUsername(
			context.Background(), "alice",
		)
		require.NoError(t, err)

		var target uint

		for _, s := range sessions {
			if s.UserID == alice.ID {
				target = s.ID
			}
		}

		require.NotZero(t, target)

		rec = ts.do(t, request{
			method: http.MethodDelete,
			path:   "/api/v1/admin/sessions/" + itoa(target),
			cookie: adminCookie,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		// Alice's cookie is dead.
		rec = ts.do(t, request{
			method: http.MethodGet,
			path:   "/api/v1/auth/me",
			cookie: aliceCookie,
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminRoleOverrideDoesNotOpenAdminRoutes(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "dev", "secret123", "dev")

	cookie := ts.login(t, "dev", "secret123")

	// dev satisfies the dev-or-admin key management gate but not the
	// literal admin requirement.
	rec := ts.do(t, request{
		method: http.MethodGet,
		path:   "/api/v1/admin/users",
		cookie: cookie,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProfile(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.createUser(t, "alice", "secret123", "user")

	cookie := ts.login(t, "alice", "secret123")

	rec := ts.do(t, request{
		method: http.MethodPut,
		path:   "/api/v1/profile/",
		body: map[string]string{
			"first_name": "Alice",
			"password":   "newsecret",
		},
		cookie: cookie,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	updated := decodeJSON[userResponse](t, rec)
	assert.Equal(t, "Alice", updated.FirstName)

	// The old password no longer works, the new one does.
	bad := ts.do(t, request{
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   map[string]string{"username": "alice", "password": "secret123"},
	})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	ts.login(t, "alice", "newsecret")
}

func itoa(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
