package rpc

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// JWTConfig enables HMAC-signed bearer tokens as an alternative to the
// static RPC token. Disabled unless SecretEnv names a populated variable.
type JWTConfig struct {
	Enable    bool
	SecretEnv string
	Issuer    string
	Audience  string
	// Skew bounds acceptable clock drift on exp/nbf claims.
	Skew time.Duration
}

type jwtVerifier struct {
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
}

func newJWTVerifier(cfg JWTConfig) (*jwtVerifier, error) {
	if !cfg.Enable {
		return nil, nil
	}
	if strings.TrimSpace(cfg.SecretEnv) == "" {
		return nil, fmt.Errorf("rpc: JWT enabled without SecretEnv")
	}
	secret := strings.TrimSpace(os.Getenv(cfg.SecretEnv))
	if secret == "" {
		return nil, fmt.Errorf("rpc: JWT secret environment variable %s is empty", cfg.SecretEnv)
	}
	skew := cfg.Skew
	if skew <= 0 {
		skew = 2 * time.Minute
	}
	return &jwtVerifier{
		secret:   []byte(secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		skew:     skew,
	}, nil
}

func (v *jwtVerifier) verify(tokenString string) error {
	if v == nil {
		return errors.New("jwt verification disabled")
	}
	options := []jwt.ParserOption{
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		options = append(options, jwt.WithAudience(v.audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	}, options...)
	if err != nil {
		return err
	}
	if !token.Valid {
		return errors.New("token invalid")
	}
	return nil
}

// MintToken issues an HMAC token for operators, shared with the CLI so the
// daemon and tooling agree on claim layout.
func MintToken(secret []byte, issuer, audience, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("rpc: empty JWT secret")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if audience != "" {
		claims["aud"] = audience
	}
	if subject != "" {
		claims["sub"] = subject
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
