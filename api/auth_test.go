package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestBearerTokenFromString(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer aaa.bbb.ccc", "aaa.bbb.ccc", nil},
		{"case insensitive scheme", "bearer aaa.bbb.ccc", "aaa.bbb.ccc", nil},
		{"surrounding whitespace", "  Bearer aaa.bbb.ccc  ", "aaa.bbb.ccc", nil},
		{"empty", "", "", errMissingAuthorization},
		{"blank", "   ", "", errMissingAuthorization},
		{"wrong scheme", "Token aaa.bbb.ccc", "", errBadAuthorization},
		{"prefix only", "Bearer ", "", errBadAuthorization},
		{"too few segments", "Bearer aaa.bbb", "", errBadAuthorization},
		{"too many segments", "Bearer a.b.c.d", "", errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := bearerTokenFromString(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && string(token) != tt.want {
				t.Fatalf("expected token %q, got %q", tt.want, token)
			}
		})
	}
}

var testSecret = []byte("unit-test-secret")

func testModeAuth(audience, issuer string) *Auth {
	return &Auth{
		Audience:   audience,
		Issuer:     issuer,
		TestMode:   true,
		TestSecret: testSecret,
		parser:     jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

func signToken(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return signed
}

func TestOwnerFromAuthHeader(t *testing.T) {
	a := testModeAuth("", "")

	t.Run("empty header is anonymous", func(t *testing.T) {
		owner, err := a.OwnerFromAuthHeader("")
		if err != nil || owner != "" {
			t.Fatalf("expected anonymous scope, got owner=%q err=%v", owner, err)
		}
	})

	t.Run("valid token yields subject", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "user-a",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSecret)
		owner, err := a.OwnerFromAuthHeader("Bearer " + token)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if owner != "user-a" {
			t.Fatalf("expected user-a, got %q", owner)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "user-a",
			"exp": time.Now().Add(-time.Hour).Unix(),
		}, testSecret)
		if _, err := a.OwnerFromAuthHeader("Bearer " + token); err == nil {
			t.Fatal("expected error for expired token")
		}
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"sub": "user-a",
			"exp": time.Now().Add(time.Hour).Unix(),
		}, []byte("someone-elses-secret"))
		if _, err := a.OwnerFromAuthHeader("Bearer " + token); err == nil {
			t.Fatal("expected error for bad signature")
		}
	})

	t.Run("missing sub rejected", func(t *testing.T) {
		token := signToken(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSecret)
		if _, err := a.OwnerFromAuthHeader("Bearer " + token); err == nil {
			t.Fatal("expected error for missing sub")
		}
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		if _, err := a.OwnerFromAuthHeader("Bearer not-a-jwt"); !errors.Is(err, errBadAuthorization) {
			t.Fatalf("expected errBadAuthorization, got %v", err)
		}
	})
}

func TestOwnerFromAuthHeaderAudienceAndIssuer(t *testing.T) {
	a := testModeAuth("https://api.example.com", "https://issuer.example.com/")

	good := signToken(t, jwt.MapClaims{
		"sub": "user-a",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "https://api.example.com",
		"iss": "https://issuer.example.com/",
	}, testSecret)
	if owner, err := a.OwnerFromAuthHeader("Bearer " + good); err != nil || owner != "user-a" {
		t.Fatalf("expected user-a, got owner=%q err=%v", owner, err)
	}

	badAud := signToken(t, jwt.MapClaims{
		"sub": "user-a",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "https://other.example.com",
		"iss": "https://issuer.example.com/",
	}, testSecret)
	if _, err := a.OwnerFromAuthHeader("Bearer " + badAud); err == nil {
		t.Fatal("expected error for wrong audience")
	}

	badIss := signToken(t, jwt.MapClaims{
		"sub": "user-a",
		"exp": time.Now().Add(time.Hour).Unix(),
		"aud": "https://api.example.com",
		"iss": "https://evil.example.com/",
	}, testSecret)
	if _, err := a.OwnerFromAuthHeader("Bearer " + badIss); err == nil {
		t.Fatal("expected error for wrong issuer")
	}
}

func TestNewAuthTestMode(t *testing.T) {
	t.Setenv(envAuthTestMode, "1")
	t.Setenv(envTestJWTSecret, string(testSecret))

	a := NewAuth(nil, "", "")
	if !a.TestMode {
		t.Fatal("expected test mode enabled")
	}

	token := signToken(t, jwt.MapClaims{
		"sub": "user-a",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)
	owner, err := a.OwnerFromAuthHeader("Bearer " + token)
	if err != nil || owner != "user-a" {
		t.Fatalf("expected user-a, got owner=%q err=%v", owner, err)
	}
}

func TestAdminSet(t *testing.T) {
	set := ParseAdminSet(" admin-1 , admin-2 ,,")
	if len(set) != 2 {
		t.Fatalf("expected two admins, got %d", len(set))
	}
	if !set.Contains("admin-1") || !set.Contains("admin-2") {
		t.Fatal("expected listed subjects to be admins")
	}
	if set.Contains("user-a") {
		t.Fatal("unlisted subject must not be admin")
	}
	if set.Contains("") {
		t.Fatal("anonymous owner must never be admin")
	}
}
