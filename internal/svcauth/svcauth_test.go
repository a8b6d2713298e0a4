package svcauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestHMACVerifier_AcceptsValidToken(t *testing.T) {
	v := NewHMACVerifier("s3cret")
	tok := signToken(t, "s3cret", Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	if err := v.Verify(tok); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestHMACVerifier_RejectsWrongSecret(t *testing.T) {
	v := NewHMACVerifier("s3cret")
	tok := signToken(t, "other", Claims{})
	if err := v.Verify(tok); err == nil {
		t.Fatal("expected verification to fail with wrong secret")
	}
}

func TestHMACVerifier_RejectsExpiredToken(t *testing.T) {
	v := NewHMACVerifier("s3cret")
	tok := signToken(t, "s3cret", Claims{RegisteredClaims: jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	if err := v.Verify(tok); err == nil {
		t.Fatal("expected verification to fail for an expired token")
	}
}

func TestRequireBearer_NilVerifierDisablesCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireBearer(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with nil verifier, got %d", w.Code)
	}
}

func TestRequireBearer_RejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", RequireBearer(NewHMACVerifier("s3cret")), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", w.Code)
	}
}
