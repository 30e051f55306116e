package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Config holds the token verification settings. An empty secret disables
// verification so only anonymous clients can connect.
type Config struct {
	Secret    string        `env:"JWT_SECRET"`
	Algorithm string        `env:"JWT_ALGORITHM" envDefault:"HS256"`
	Issuer    string        `env:"JWT_ISSUER"`
	Audience  string        `env:"JWT_AUDIENCE"`
	Leeway    time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
}

// JWTVerifier verifies HMAC signed JWTs.
type JWTVerifier struct {
	secret []byte
	parser *jwtlib.Parser
}

// NewJWTVerifier builds a verifier from cfg.
func NewJWTVerifier(cfg Config) (*JWTVerifier, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{method.Alg()}),
		jwtlib.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}
	return &JWTVerifier{secret: []byte(cfg.Secret), parser: jwtlib.NewParser(opts...)}, nil
}

// NewVerifierFromConfig returns a verifier, or nil when no secret is set.
func NewVerifierFromConfig(cfg Config) (Verifier, error) {
	if cfg.Secret == "" {
		return nil, nil
	}
	return NewJWTVerifier(cfg)
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := jwtlib.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwtlib.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	return Identity{Subject: sub, Claims: map[string]any(claims)}, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %q (use HS256, HS384 or HS512)", alg)
	}
}
