package rpc

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"perpstake/observability/logging"
)

func newTestAuthenticator() *Authenticator {
	return NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience},
		slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func requestWithToken(token string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestAuthenticatorAcceptsActorToken(t *testing.T) {
	auth := newTestAuthenticator()
	token, err := SignActorToken(testSecret, testIssuer, testAudience, alice, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	actor, rpcErr := auth.Actor(requestWithToken(token))
	if rpcErr != nil {
		t.Fatalf("unexpected auth error: %v", rpcErr)
	}
	if actor != alice {
		t.Fatalf("expected %s, got %s", alice, actor)
	}
}

func TestAuthenticatorRejectsBadTokens(t *testing.T) {
	auth := newTestAuthenticator()
	sign := func(claims jwt.MapClaims) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return token
	}
	exp := time.Now().Add(time.Hour).Unix()
	expired, err := SignActorToken(testSecret, testIssuer, testAudience, alice, -time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	cases := map[string]string{
		"missing":       "",
		"expired":       expired,
		"wrong issuer":  sign(jwt.MapClaims{"sub": alice.String(), "iss": "other", "aud": testAudience, "exp": exp}),
		"no expiry":     sign(jwt.MapClaims{"sub": alice.String(), "iss": testIssuer, "aud": testAudience}),
		"not address":   sign(jwt.MapClaims{"sub": "alice", "iss": testIssuer, "aud": testAudience, "exp": exp}),
		"empty subject": sign(jwt.MapClaims{"iss": testIssuer, "aud": testAudience, "exp": exp}),
	}
	for name, token := range cases {
		if _, rpcErr := auth.Actor(requestWithToken(token)); rpcErr == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

func TestAuthenticatorWithoutSecret(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	if _, rpcErr := auth.Actor(requestWithToken("anything")); rpcErr == nil || rpcErr.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized without a secret, got %v", rpcErr)
	}
}

func TestAuthenticatorRedactsRejectedTokens(t *testing.T) {
	var buf bytes.Buffer
	auth := NewAuthenticator(AuthConfig{HMACSecret: testSecret, Issuer: testIssuer, Audience: testAudience},
		slog.New(logging.NewHandler(&buf, slog.LevelInfo)))
	forged, err := SignActorToken([]byte("other-secret"), testIssuer, testAudience, alice, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, rpcErr := auth.Actor(requestWithToken(forged)); rpcErr == nil {
		t.Fatalf("expected rejection")
	}
	if strings.Contains(buf.String(), forged) {
		t.Fatalf("token leaked into logs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), logging.RedactedValue) {
		t.Fatalf("expected redacted authorization field: %s", buf.String())
	}
}
