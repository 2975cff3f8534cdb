package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAdmin_AllowsAdminKey_BlocksPublicKey(t *testing.T) {
	keys := Keys{
		Public: []string{"pub_key"},
		Admin:  []string{"adm_key"},
	}

	// Admin key -> 200
	reqAdm := httptest.NewRequest(http.MethodGet, "/admin", nil)
	reqAdm.Header.Set("X-API-Key", "adm_key")
	recAdm := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler()).ServeHTTP(recAdm, reqAdm)
	if recAdm.Code != http.StatusOK {
		t.Fatalf("admin key should pass; got %d", recAdm.Code)
	}

	// Public key -> 403
	reqPub := httptest.NewRequest(http.MethodGet, "/admin", nil)
	reqPub.Header.Set("X-API-Key", "pub_key")
	recPub := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler()).ServeHTTP(recPub, reqPub)
	if recPub.Code != http.StatusForbidden {
		t.Fatalf("public key should be forbidden; got %d", recPub.Code)
	}

	// Missing key -> 401
	reqNone := httptest.NewRequest(http.MethodGet, "/admin", nil)
	recNone := httptest.NewRecorder()
	RequireAdmin(keys)(okHandler()).ServeHTTP(recNone, reqNone)
	if recNone.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should be 401; got %d", recNone.Code)
	}
}

func TestRequireAny(t *testing.T) {
	keys := Keys{Public: []string{"pub_key"}, Admin: []string{"adm_key"}}
	cases := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"public key", "X-API-Key", "pub_key", 200},
		{"admin bearer", "Authorization", "Bearer adm_key", 200},
		{"lowercase bearer", "Authorization", "bearer pub_key", 200},
		{"wrong key", "X-API-Key", "nope", 401},
		{"no key", "", "", 401},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if c.header != "" {
				req.Header.Set(c.header, c.value)
			}
			rec := httptest.NewRecorder()
			RequireAny(keys)(okHandler()).ServeHTTP(rec, req)
			if rec.Code != c.want {
				t.Fatalf("got %d want %d", rec.Code, c.want)
			}
		})
	}
}

func TestAuth_DisabledWithoutKeys(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, mw := range []func(http.Handler) http.Handler{RequireAny(Keys{}), RequireAdmin(Keys{})} {
		rec := httptest.NewRecorder()
		mw(okHandler()).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("no keys configured should allow all; got %d", rec.Code)
		}
	}
}
