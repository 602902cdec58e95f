package rpc

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"perpstake/crypto"
	"perpstake/observability/logging"
)

// AuthConfig configures bearer-token authentication. Tokens are HMAC signed
// and carry the acting address as their subject.
type AuthConfig struct {
	HMACSecret []byte
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger}
}

// Actor authenticates r and returns the address it acts as.
func (a *Authenticator) Actor(r *http.Request) (crypto.Address, *RPCError) {
	if len(a.cfg.HMACSecret) == 0 {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "RPC authentication secret not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	token := extractBearer(header)
	if token == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	claims, err := a.parseToken(token)
	if err != nil {
		a.logger.Warn("auth: token validation failed",
			logging.MaskField("authorization", token),
			slog.Any("error", err))
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "invalid token"}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "token subject required"}
	}
	actor, err := crypto.DecodeAddress(subject)
	if err != nil {
		a.logger.Warn("auth: token subject rejected", logging.MaskField("subject", subject))
		return crypto.Address{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address", Data: err.Error()}
	}
	return actor, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	token, err := jwt.Parse(tokenString, func(*jwt.Token) (interface{}, error) {
		return a.cfg.HMACSecret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

// SignActorToken issues an HS256 token acting as actor for ttl.
func SignActorToken(secret []byte, issuer, audience string, actor crypto.Address, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("rpc: signing secret required")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actor.String(),
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
