package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// ============================================================
// Passwords
// ============================================================

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword("correct horse battery", hash); err != nil {
		t.Errorf("correct password rejected: %v", err)
	}
	if err := VerifyPassword("wrong password", hash); !errors.Is(err, util.ErrPermissionDenied) {
		t.Errorf("wrong password error = %v, want ErrPermissionDenied", err)
	}
}

func TestPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("short password error = %v, want ErrValidationFailed", err)
	}
}

// ============================================================
// Tokens
// ============================================================

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	i, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	return i
}

func TestTokenRoundTrip(t *testing.T) {
	issuer := newTestIssuer(t)

	token, exp, err := issuer.Issue("alice", true, false)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if until := time.Until(exp); until < 6*24*time.Hour || until > 8*24*time.Hour {
		t.Errorf("normal expiry %v not ~7 days out", until)
	}

	ac, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if ac.Username != "alice" || !ac.IsAdmin {
		t.Errorf("claims mismatch: %+v", ac)
	}
}

func TestTokenRememberExpiry(t *testing.T) {
	issuer := newTestIssuer(t)
	_, exp, err := issuer.Issue("alice", false, true)
	if err != nil {
		t.Fatal(err)
	}
	if until := time.Until(exp); until < 29*24*time.Hour {
		t.Errorf("remember expiry %v not ~30 days out", until)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	token, _, err := newTestIssuer(t).Issue("alice", false, false)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := NewIssuer("other-secret")
	if _, err := other.Validate(token); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("cross-secret error = %v, want ErrTokenMalformed", err)
	}
}

func TestTokenGarbage(t *testing.T) {
	issuer := newTestIssuer(t)
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		if _, err := issuer.Validate(tok); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Validate(%q) error = %v, want ErrTokenMalformed", tok, err)
		}
	}
}

// ============================================================
// Authorization
// ============================================================

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		ctx     AuthContext
		owner   string
		wantErr bool
	}{
		{"owner", AuthContext{Username: "alice"}, "alice", false},
		{"admin on foreign lab", AuthContext{Username: "root", IsAdmin: true}, "alice", false},
		{"non-owner", AuthContext{Username: "bob"}, "alice", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ctx.Authorize(tt.owner)
			if (err != nil) != tt.wantErr {
				t.Errorf("Authorize error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, util.ErrPermissionDenied) {
				t.Errorf("error should unwrap to ErrPermissionDenied: %v", err)
			}
		})
	}
}

// ============================================================
// Transports
// ============================================================

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("empty request yielded token %q", got)
	}

	r.AddCookie(&http.Cookie{Name: CookieName, Value: "cookie-token"})
	if got := TokenFromRequest(r); got != "cookie-token" {
		t.Errorf("cookie transport = %q", got)
	}

	r.Header.Set("Authorization", "Bearer header-token")
	if got := TokenFromRequest(r); got != "header-token" {
		t.Errorf("header should win over cookie, got %q", got)
	}
}

func TestSetCookieAttributes(t *testing.T) {
	w := httptest.NewRecorder()
	SetCookie(w, "tok", time.Now().Add(time.Hour))

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("cookie count = %d", len(cookies))
	}
	c := cookies[0]
	if !c.HttpOnly || c.SameSite != http.SameSiteStrictMode || c.Path != "/" {
		t.Errorf("cookie attributes wrong: %+v", c)
	}
}
