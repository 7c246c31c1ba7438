package identity

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingToken is returned when a request carries no credential.
	ErrMissingToken = errors.New("missing bearer token")
	// ErrInvalidToken is returned when a credential fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier turns a bearer credential into a verified identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.Identity, error)
}

// JWTConfig configures a JWTVerifier. Exactly one of Secret or PublicKeyFile is used.
type JWTConfig struct {
	Secret        string
	PublicKeyFile string
	Issuer        string
	Audience      string
	// TokenUse, when set, must match the token_use claim ("id" or "access").
	TokenUse string
	Leeway   time.Duration
}

// JWTVerifier verifies HS256 or RS256 signed JWTs.
type JWTVerifier struct {
	parser   *jwt.Parser
	key      any
	tokenUse string
}

// NewJWTVerifier builds a verifier from cfg.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	var key any
	var method string

	switch {
	case cfg.Secret != "" && cfg.PublicKeyFile != "":
		return nil, errors.New("jwt secret and public key are mutually exclusive")
	case cfg.Secret != "":
		key = []byte(cfg.Secret)
		method = jwt.SigningMethodHS256.Alg()
	case cfg.PublicKeyFile != "":
		pub, err := loadRSAPublicKey(cfg.PublicKeyFile)
		if err != nil {
			return nil, err
		}
		key = pub
		method = jwt.SigningMethodRS256.Alg()
	default:
		return nil, errors.New("jwt verifier needs a secret or a public key")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	return &JWTVerifier{
		parser:   jwt.NewParser(opts...),
		key:      key,
		tokenUse: cfg.TokenUse,
	}, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return pub, nil
}

// Verify validates token and maps its claims to an Identity.
func (v *JWTVerifier) Verify(_ context.Context, token string) (*domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if v.tokenUse != "" && stringClaim(claims, "token_use") != v.tokenUse {
		return nil, fmt.Errorf("%w: token_use is not %q", ErrInvalidToken, v.tokenUse)
	}

	sub := stringClaim(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &domain.Identity{
		Subject:       sub,
		Email:         stringClaim(claims, "email"),
		EmailVerified: boolClaim(claims, "email_verified"),
		Username:      firstClaim(claims, "cognito:username", "username", "preferred_username"),
		GivenName:     stringClaim(claims, "given_name"),
		FamilyName:    stringClaim(claims, "family_name"),
		PhoneNumber:   stringClaim(claims, "phone_number"),
		PhoneVerified: boolClaim(claims, "phone_number_verified"),
		Claims:        map[string]any(claims),
	}, nil
}

// SignHS256 mints a short-lived HS256 token for id. It exists for local
// development and tests; production credentials come from the identity provider.
func SignHS256(secret string, id domain.Identity, ttl time.Duration, issuer string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": id.Subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	if id.Email != "" {
		claims["email"] = id.Email
		claims["email_verified"] = id.EmailVerified
	}
	if id.Username != "" {
		claims["username"] = id.Username
	}
	if id.GivenName != "" {
		claims["given_name"] = id.GivenName
	}
	if id.FamilyName != "" {
		claims["family_name"] = id.FamilyName
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func firstClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v := stringClaim(claims, k); v != "" {
			return v
		}
	}
	return ""
}

// boolClaim accepts both JSON booleans and the "true"/"false" strings some providers emit.
func boolClaim(claims jwt.MapClaims, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}
