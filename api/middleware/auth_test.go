package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-backend/pkg/auth"
	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "issuer", ExpirationMinutes: 60}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func testKeys(t *testing.T, cfg config.JWTConfig) *auth.Keys {
	t.Helper()
	keys, err := auth.NewKeys(cfg)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	return keys
}

func mintTestToken(t *testing.T, cfg config.JWTConfig, issuedAt time.Time, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := testKeys(t, cfg).Mint(issuedAt, auth.AccessTokenPayload{UserID: userID, Role: role})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func authStatus(handler http.Handler, header string) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp.Code
}

func TestAuthRejectsBadCredentials(t *testing.T) {
	handler := Auth(testKeys(t, testJWT), nil)(okHandler())

	foreign := testJWT
	foreign.Issuer = "someone-else"
	valid := mintTestToken(t, testJWT, time.Now(), uuid.New(), enums.UserRoleCustomer)

	cases := map[string]string{
		"missing":        "",
		"scheme only":    "Bearer ",
		"wrong scheme":   "Basic " + valid,
		"garbage":        "Bearer invalid",
		"foreign issuer": "Bearer " + mintTestToken(t, foreign, time.Now(), uuid.New(), enums.UserRoleCustomer),
		"expired":        "Bearer " + mintTestToken(t, testJWT, time.Now().Add(-3*time.Hour), uuid.New(), enums.UserRoleCustomer),
	}
	for name, header := range cases {
		if got := authStatus(handler, header); got != http.StatusUnauthorized {
			t.Errorf("%s: expected 401 got %d", name, got)
		}
	}
}

func TestAuthAcceptsCaseInsensitiveScheme(t *testing.T) {
	handler := Auth(testKeys(t, testJWT), nil)(okHandler())
	token := mintTestToken(t, testJWT, time.Now(), uuid.New(), enums.UserRoleCustomer)
	if got := authStatus(handler, "bearer  "+token); got != http.StatusOK {
		t.Fatalf("expected 200 got %d", got)
	}
}

func TestAuthWithoutKeysFailsClosed(t *testing.T) {
	handler := Auth(nil, nil)(okHandler())
	token := mintTestToken(t, testJWT, time.Now(), uuid.New(), enums.UserRoleAdmin)
	if got := authStatus(handler, "Bearer "+token); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", got)
	}
}

func TestAuthSeedsActor(t *testing.T) {
	userID := uuid.New()
	token := mintTestToken(t, testJWT, time.Now(), userID, enums.UserRoleAdmin)

	var captured struct {
		ok    bool
		actor uuid.UUID
		admin bool
	}
	handler := Auth(testKeys(t, testJWT), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		captured.ok = ok
		captured.actor = actor.UserID
		captured.admin = actor.IsAdmin()
		w.WriteHeader(http.StatusOK)
	}))

	if got := authStatus(handler, "Bearer "+token); got != http.StatusOK {
		t.Fatalf("expected 200 got %d", got)
	}
	if !captured.ok || captured.actor != userID || !captured.admin {
		t.Fatalf("unexpected actor %+v", captured)
	}
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(nil, enums.UserRoleAdmin)(okHandler())

	cases := []struct {
		role string
		want int
	}{
		{role: string(enums.UserRoleCustomer), want: http.StatusForbidden},
		{role: "", want: http.StatusForbidden},
		{role: string(enums.UserRoleAdmin), want: http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), uuid.NewString(), tc.role))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != tc.want {
			t.Errorf("role %q: expected %d got %d", tc.role, tc.want, resp.Code)
		}
	}
}

func TestActorFromContextRejectsMissingIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := ActorFromContext(req.Context()); ok {
		t.Fatal("expected no actor")
	}
	if _, ok := ActorFromContext(WithActor(req.Context(), uuid.NewString(), "vendor")); ok {
		t.Fatal("expected unknown role to be rejected")
	}
	if _, ok := ActorFromContext(WithActor(req.Context(), "not-a-uuid", string(enums.UserRoleAdmin))); ok {
		t.Fatal("expected malformed user id to be rejected")
	}
}
