package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL is the expiry used when JWTConfig.TokenTTL is not set.
const DefaultTokenTTL = 3600 * time.Second

// Operator roles carried in the role claim.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleService  = "service"
)

// JWTConfig holds JWT signing and expiry configuration.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// Claims are the admin API token claims.
type Claims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 bearer tokens.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWTService with the given configuration.
func NewJWTService(config JWTConfig) *JWTService {
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	return &JWTService{config: config}
}

// Predefined errors for JWT operations.
var (
	ErrTokenExpired   = errors.New("token has expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrSigningMethod  = errors.New("unexpected signing method")
	ErrNoSigningKey   = errors.New("jwt signing key is not configured")
)

// GenerateToken signs a token for subject in tenantID with role. It expires
// after the configured TTL, 3600 seconds by default.
func (s *JWTService) GenerateToken(subject, tenantID, role string) (string, error) {
	if s.config.SigningKey == "" {
		return "", ErrNoSigningKey
	}

	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.SigningKey))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a token string.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	if s.config.SigningKey == "" {
		return nil, ErrNoSigningKey
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrSigningMethod
		}
		return []byte(s.config.SigningKey), nil
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TenantID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: tenant_id and role are required", ErrTokenInvalid)
	}

	return claims, nil
}

// classifyJWTError maps jwt library errors to domain-specific errors.
func classifyJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return ErrTokenExpired
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return ErrTokenMalformed
	}
	if errors.Is(err, jwt.ErrSignatureInvalid) {
		return ErrTokenInvalid
	}
	if errors.Is(err, ErrSigningMethod) || errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return ErrTokenInvalid
	}
	return fmt.Errorf("validate token: %w", err)
}
