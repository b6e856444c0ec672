package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/abhicommands/Minecraft-Sever-Panel/internal/fserr"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/logging"
	"github.com/abhicommands/Minecraft-Sever-Panel/internal/metadata/sqlite"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func newTestAuth(t *testing.T) *Auth {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "panel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, "test-secret", time.Hour)
}

func TestLoginAndVerify(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	if err := a.AddOperator(ctx, "steve", "diamond"); err != nil {
		t.Fatalf("AddOperator: %v", err)
	}

	token, expires, p, err := a.Login(ctx, "steve", "diamond")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !p.Valid() || p.Username() != "steve" || p.OperatorID() == 0 {
		t.Errorf("unexpected principal %+v", p)
	}
	if time.Until(expires) <= 0 {
		t.Errorf("token already expired: %v", expires)
	}

	got, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != p {
		t.Errorf("Verify principal = %+v, want %+v", got, p)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	if err := a.AddOperator(ctx, "steve", "diamond"); err != nil {
		t.Fatalf("AddOperator: %v", err)
	}

	for _, tc := range []struct{ user, pass string }{
		{"steve", "dirt"},
		{"alex", "diamond"},
	} {
		_, _, p, err := a.Login(ctx, tc.user, tc.pass)
		if !errors.Is(err, fserr.ErrUnauthenticated) {
			t.Errorf("Login(%s): expected ErrUnauthenticated, got %v", tc.user, err)
		}
		if p.Valid() {
			t.Errorf("Login(%s): returned a valid principal", tc.user)
		}
	}
}

func TestVerifyRejects(t *testing.T) {
	a := newTestAuth(t)

	expired := New(nil, "test-secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.IssueToken(1, "steve")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	other := New(nil, "other-secret", time.Hour)
	forged, _, err := other.IssueToken(1, "steve")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Username: "steve"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	for name, tok := range map[string]string{
		"expired":  old,
		"forged":   forged,
		"alg none": none,
		"garbage":  "not.a.token",
		"empty":    "",
	} {
		if _, err := a.Verify(tok); !errors.Is(err, fserr.ErrUnauthenticated) {
			t.Errorf("%s: expected ErrUnauthenticated, got %v", name, err)
		}
	}
}

func TestZeroPrincipalInvalid(t *testing.T) {
	var p Principal
	if p.Valid() {
		t.Error("zero principal should not be valid")
	}
	if !Internal("cli").Valid() {
		t.Error("internal principal should be valid")
	}
	if FromContext(context.Background()).Valid() {
		t.Error("empty context should carry no principal")
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuth(t)
	token, _, err := a.IssueToken(7, "steve")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	var seen Principal
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", rec.Code)
	}
	var body map[string]string
	json.NewDecoder(rec.Body).Decode(&body)
	if body["kind"] != fserr.KindUnauthenticated {
		t.Errorf("kind = %q", body["kind"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("bearer: status %d", rec.Code)
	}
	if seen.Username() != "steve" || seen.OperatorID() != 7 {
		t.Errorf("principal = %+v", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events?token="+token, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("query token: status %d", rec.Code)
	}
}

func TestHandleLogin(t *testing.T) {
	a := newTestAuth(t)
	if err := a.AddOperator(context.Background(), "steve", "diamond"); err != nil {
		t.Fatalf("AddOperator: %v", err)
	}

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(body))
		rec := httptest.NewRecorder()
		a.HandleLogin(rec, req)
		return rec
	}

	rec := post(`{"username":"steve","password":"diamond"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token    string `json:"token"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.Username != "steve" {
		t.Errorf("unexpected response %+v", resp)
	}

	if rec := post(`{"username":"steve","password":"dirt"}`); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password: status %d", rec.Code)
	}
	if rec := post(`{"username":"steve"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing password: status %d", rec.Code)
	}
	if rec := post(`{`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", rec.Code)
	}
}

func TestEnsureDefaultAdmin(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()

	if err := a.EnsureDefaultAdmin(ctx, "admin", "hunter2"); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	if _, _, _, err := a.Login(ctx, "admin", "hunter2"); err != nil {
		t.Fatalf("login as bootstrap operator: %v", err)
	}

	// A second call must not touch the existing operator.
	if err := a.EnsureDefaultAdmin(ctx, "admin", "other"); err != nil {
		t.Fatalf("second EnsureDefaultAdmin: %v", err)
	}
	if _, _, _, err := a.Login(ctx, "admin", "hunter2"); err != nil {
		t.Errorf("password changed by second bootstrap: %v", err)
	}
}

func TestEnsureDefaultAdminGeneratesPassword(t *testing.T) {
	a := newTestAuth(t)
	ctx := context.Background()
	if err := a.EnsureDefaultAdmin(ctx, "admin", ""); err != nil {
		t.Fatalf("EnsureDefaultAdmin: %v", err)
	}
	n, err := a.store.CountOperators(ctx)
	if err != nil || n != 1 {
		t.Fatalf("CountOperators = %d, %v", n, err)
	}
}
