// ABOUTME: JWT token verification for authenticating API requests
// ABOUTME: Uses HS256 signing with configurable secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// Identity roles
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Identity is the authenticated identity resolved from a bearer credential.
// Credential issuance lives outside this service; the gateway only verifies
// the signature and trusts the claims.
type Identity struct {
	ID    string
	Role  string // "user" or "agent"
	Name  string
	Email string
}

// IsAgent reports whether the identity carries the agent role.
func (id *Identity) IsAgent() bool {
	return id.Role == RoleAgent
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the identity from its claims.
// Required claims: sub (identity ID) and role; name and email are optional.
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	role, ok := claims["role"].(string)
	if !ok || (role != RoleUser && role != RoleAgent) {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}

	name, _ := claims["name"].(string)
	email, _ := claims["email"].(string)

	return &Identity{
		ID:    sub,
		Role:  role,
		Name:  name,
		Email: email,
	}, nil
}

// Generate creates a new JWT token for the given identity with expiration.
// Used by tests and by operators minting credentials out of band.
func (v *JWTVerifier) Generate(id *Identity, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   id.ID,
		"role":  id.Role,
		"name":  id.Name,
		"email": id.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
