package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/p-n-ai/pai-revise/internal/auth"
)

const testSecret = "test-secret"

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name         string
		user         *auth.User
		wantAllowed  bool
		wantRedirect string
	}{
		{"present user", &auth.User{ID: "u1", Email: "a@example.com"}, true, ""},
		{"nil user", nil, false, auth.LoginPath},
		{"empty id", &auth.User{Email: "a@example.com"}, false, auth.LoginPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := auth.Authorize(tt.user)
			if d.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", d.Allowed, tt.wantAllowed)
			}
			if d.Redirect != tt.wantRedirect {
				t.Errorf("Redirect = %q, want %q", d.Redirect, tt.wantRedirect)
			}
		})
	}
}

func TestUserFromContext(t *testing.T) {
	if u := auth.UserFromContext(context.Background()); u != nil {
		t.Errorf("UserFromContext(empty) = %+v, want nil", u)
	}
	ctx := auth.WithUser(context.Background(), auth.User{ID: "u1"})
	u := auth.UserFromContext(ctx)
	if u == nil || u.ID != "u1" {
		t.Errorf("UserFromContext() = %+v, want u1", u)
	}
}

func TestVerifier_RoundTrip(t *testing.T) {
	issuer, err := auth.NewIssuer(testSecret, "revise", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	verifier, err := auth.NewVerifier(testSecret, "revise")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	token, err := issuer.Issue(auth.User{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	u, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if u.ID != "u1" || u.Email != "a@example.com" {
		t.Errorf("Verify() = %+v", u)
	}
}

func TestVerifier_Rejects(t *testing.T) {
	verifier, err := auth.NewVerifier(testSecret, "revise")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	issue := func(secret, audience string, ttl time.Duration, u auth.User) string {
		t.Helper()
		issuer, err := auth.NewIssuer(secret, audience, ttl)
		if err != nil {
			t.Fatalf("NewIssuer() error = %v", err)
		}
		token, err := issuer.Issue(u)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		return token
	}

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", auth.ErrMissingToken},
		{"garbage", "not-a-token", auth.ErrInvalidToken},
		{"wrong secret", issue("other", "revise", time.Hour, auth.User{ID: "u1"}), auth.ErrInvalidToken},
		{"wrong audience", issue(testSecret, "other", time.Hour, auth.User{ID: "u1"}), auth.ErrInvalidToken},
		{"expired", issue(testSecret, "revise", -time.Minute, auth.User{ID: "u1"}), auth.ErrInvalidToken},
		{"no subject", issue(testSecret, "revise", time.Hour, auth.User{}), auth.ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("Verify() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestNewVerifier_EmptySecret(t *testing.T) {
	if _, err := auth.NewVerifier("", ""); err == nil {
		t.Fatal("NewVerifier(\"\") should return error")
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"cookie fallback", "", "xyz", "xyz"},
		{"non-bearer header uses cookie", "Basic abc", "xyz", "xyz"},
		{"none", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tt.cookie})
			}
			if got := auth.TokenFromRequest(r); got != tt.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireUser(t *testing.T) {
	verifier, _ := auth.NewVerifier(testSecret, "")
	issuer, _ := auth.NewIssuer(testSecret, "", time.Hour)
	token, err := issuer.Issue(auth.User{ID: "u1", Email: "a@example.com"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	var seen *auth.User
	h := auth.RequireUser(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		r.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
		}
		if seen == nil || seen.ID != "u1" {
			t.Errorf("context user = %+v, want u1", seen)
		}
	})

	t.Run("denied", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["redirect"] != auth.LoginPath {
			t.Errorf("redirect = %q, want %q", body["redirect"], auth.LoginPath)
		}
	})
}
