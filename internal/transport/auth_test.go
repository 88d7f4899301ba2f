package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/opsdeck/flowengine/internal/config"
	"github.com/opsdeck/flowengine/model"
)

// --- test helpers ---

const testSecret = "test-signing-secret"

func testIdentity() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:   "https://auth.test",
		Audience: "flowengine",
		Secret:   testSecret,
		ClaimPaths: map[string]string{
			"subject_id": "sub",
			"tenant_id":  "tenant_id",
			"roles":      "roles",
		},
	}
}

func testClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":       "user-1",
		"tenant_id": "tenant-1",
		"iss":       "https://auth.test",
		"aud":       "flowengine",
		"exp":       time.Now().Add(time.Hour).Unix(),
		"roles":     []any{"operator"},
	}
}

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func bearer(t *testing.T, claims jwt.MapClaims) string {
	return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testSecret), claims)
}

func authRequest(t *testing.T, header string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var got map[string]any
	h := JWTAuthenticator(testIdentity())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/executions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, got
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error.Message
}

// --- tests ---

func TestJWTAuthenticator_validToken(t *testing.T) {
	w, claims := authRequest(t, bearer(t, testClaims()))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if claims["tenant_id"] != "tenant-1" || claims["sub"] != "user-1" {
		t.Errorf("claims = %v", claims)
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	expired := testClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := testClaims()
	wrongIssuer["iss"] = "https://evil.test"
	wrongAudience := testClaims()
	wrongAudience["aud"] = "someone-else"
	noExp := testClaims()
	delete(noExp, "exp")

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "Missing authorization header"},
		{"not bearer", "Basic dXNlcjpwYXNz", "Invalid authorization header format"},
		{"garbage", "Bearer not.a.jwt", "Invalid token"},
		{"expired", bearer(t, expired), "Token expired"},
		{"wrong issuer", bearer(t, wrongIssuer), "Invalid token issuer"},
		{"wrong audience", bearer(t, wrongAudience), "Invalid token audience"},
		{"missing exp", bearer(t, noExp), "Token is missing a required claim"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other"), testClaims()), "Invalid token signature"},
		{"other algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS384, []byte(testSecret), testClaims()), "Invalid token signature"},
		{"unsigned", "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, testClaims()), "Invalid token signature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, claims := authRequest(t, tt.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
			if claims != nil {
				t.Error("handler must not run")
			}
			if msg := errorMessage(t, w); msg != tt.want {
				t.Errorf("message = %q, want %q", msg, tt.want)
			}
		})
	}
}

func TestJWTAuthenticator_optionalIssuerAndAudience(t *testing.T) {
	cfg := config.IdentityConfig{Secret: testSecret}
	h := JWTAuthenticator(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	claims := jwt.MapClaims{"sub": "svc", "tenant_id": "t", "exp": time.Now().Add(time.Minute).Unix()}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, claims))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, body = %s", w.Code, w.Body)
	}
}
