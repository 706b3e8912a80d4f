package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/idtoken"
	"google.golang.org/api/option"

	"salonbook.app/internal/docstore"
)

const testUID = "abcdefghijklmnopqrstuvwxyz12"

func TestGenerateAndVerify(t *testing.T) {
	v, err := NewJWTVerifier("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	token, err := v.GenerateToken(testUID, "ana@salao.com.br", 30*time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	caller, err := v.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if caller.UID != testUID || caller.Email != "ana@salao.com.br" {
		t.Fatalf("unexpected caller: %+v", caller)
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	v, _ := NewJWTVerifier("test-secret", WithClock(clock))
	other, _ := NewJWTVerifier("other-secret", WithClock(clock))
	foreign, _ := NewJWTVerifier("test-secret", WithIssuer("someone-else"), WithClock(clock))

	wrongKey, _ := other.GenerateToken(testUID, "a@b.com", time.Hour)
	wrongIssuer, _ := foreign.GenerateToken(testUID, "a@b.com", time.Hour)
	expired, _ := v.GenerateToken(testUID, "a@b.com", time.Minute)

	later, _ := NewJWTVerifier("test-secret", WithClock(func() time.Time { return now.Add(2 * time.Minute) }))

	cases := map[string]struct {
		verifier *JWTVerifier
		token    string
	}{
		"empty":        {v, ""},
		"garbage":      {v, "not-a-jwt"},
		"wrong key":    {v, wrongKey},
		"wrong issuer": {v, wrongIssuer},
		"expired":      {later, expired},
	}
	for name, tc := range cases {
		if _, err := tc.verifier.Verify(context.Background(), tc.token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier("  "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, err := RequireAuth(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := RequireAuth(ContextWithCaller(ctx, Caller{UID: " "})); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("blank uid must not authenticate, got %v", err)
	}

	ctx = ContextWithCaller(ctx, Caller{UID: testUID, Email: "a@b.com"})
	caller, err := RequireAuth(ctx)
	if err != nil || caller.UID != testUID {
		t.Fatalf("unexpected caller %+v err=%v", caller, err)
	}

	ctx = ContextWithToken(ctx, "tok")
	if tok, ok := TokenFromContext(ctx); !ok || tok != "tok" {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Fatalf("unexpected %q %v", tok, ok)
	}
	if tok, ok := BearerToken("bearer   abc  "); !ok || tok != "abc" {
		t.Fatalf("unexpected %q %v", tok, ok)
	}
	for _, h := range []string{"", "Bearer ", "Basic abc", "abc"} {
		if _, ok := BearerToken(h); ok {
			t.Fatalf("header %q should not yield a token", h)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	v, _ := NewJWTVerifier("test-secret")
	token, _ := v.GenerateToken(testUID, "a@b.com", time.Hour)

	ctx, err := Authenticate(context.Background(), v, "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if c, ok := CallerFromContext(ctx); !ok || c.UID != testUID {
		t.Fatalf("caller not attached: %+v", c)
	}

	ctx, err = Authenticate(context.Background(), v, "")
	if err != nil {
		t.Fatalf("anonymous request must not fail: %v", err)
	}
	if _, ok := CallerFromContext(ctx); ok {
		t.Fatal("anonymous request must not carry a caller")
	}

	if _, err := Authenticate(context.Background(), v, "Bearer junk"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

type stubValidator struct {
	payload *idtoken.Payload
	err     error
}

func (s stubValidator) Validate(_ context.Context, _, audience string) (*idtoken.Payload, error) {
	if s.err != nil {
		return nil, s.err
	}
	if audience != "salonbook-web" {
		return nil, errors.New("audience mismatch")
	}
	return s.payload, nil
}

func TestGoogleVerifier(t *testing.T) {
	g := &GoogleVerifier{audience: "salonbook-web", validator: stubValidator{payload: &idtoken.Payload{
		Subject: testUID,
		Claims:  map[string]any{"email": "ana@salao.com.br"},
	}}}
	caller, err := g.Verify(context.Background(), "id-token")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if caller.UID != testUID || caller.Email != "ana@salao.com.br" {
		t.Fatalf("unexpected caller %+v", caller)
	}

	bad := &GoogleVerifier{audience: "salonbook-web", validator: stubValidator{err: errors.New("bad signature")}}
	if _, err := bad.Verify(context.Background(), "id-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestStoreDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewStoreDirectory(docstore.NewMemory())

	if _, err := dir.LookupUser(ctx, testUID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if err := dir.Register(ctx, UserInfo{UID: testUID, Email: "a@b.com", DisplayName: "Ana"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	info, err := dir.LookupUser(ctx, testUID)
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if info.Email != "a@b.com" || info.DisplayName != "Ana" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestIdentityToolkitDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/getAccountInfo") {
			http.NotFound(w, r)
			return
		}
		var req struct {
			LocalID []string `json:"localId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if len(req.LocalID) == 1 && req.LocalID[0] == testUID {
			_, _ = w.Write([]byte(`{"kind":"identitytoolkit#GetAccountInfoResponse","users":[{"localId":"` + testUID + `","email":"ana@salao.com.br","displayName":"Ana","photoUrl":"https://img/ana.png"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"kind":"identitytoolkit#GetAccountInfoResponse"}`))
	}))
	defer srv.Close()

	dir, err := NewIdentityToolkitDirectory(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewIdentityToolkitDirectory: %v", err)
	}

	info, err := dir.LookupUser(context.Background(), testUID)
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if info.Email != "ana@salao.com.br" || info.PhotoURL != "https://img/ana.png" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := dir.LookupUser(context.Background(), "zzzzzzzzzzzzzzzzzzzzzzzzzzzz"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory(UserInfo{UID: testUID, Email: "a@b.com"})
	if _, err := dir.LookupUser(context.Background(), testUID); err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	boom := errors.New("provider down")
	dir.FailWith(boom)
	if _, err := dir.LookupUser(context.Background(), testUID); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
