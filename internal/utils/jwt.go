// internal/utils/jwt.go
package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/javajoker/handoff-backend/internal/models"
)

const tokenIssuer = "handoff-identity"

// JWTClaims are issued by the external identity provider; this service only
// verifies them.
type JWTClaims struct {
	UserID   string          `json:"user_id"`
	Username string          `json:"username"`
	UserType models.UserType `json:"user_type"`
	jwt.RegisteredClaims
}

var jwtSecret = []byte("your-secret-key-change-in-production")

func SetJWTSecret(secret string) {
	jwtSecret = []byte(secret)
}

// GenerateJWT mints a caller token. Production tokens come from the identity
// provider; this is used by tooling and tests sharing the same secret.
func GenerateJWT(userID uuid.UUID, username string, userType models.UserType, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := JWTClaims{
		UserID:   userID.String(),
		Username: username,
		UserType: userType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   userID.String(),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
}

// ValidateJWT checks the signature, lifetime and role of a caller token.
func ValidateJWT(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	switch claims.UserType {
	case models.UserTypeBuyer, models.UserTypeSeller, models.UserTypeRider, models.UserTypeAdmin:
	default:
		return nil, fmt.Errorf("unknown user type %q", claims.UserType)
	}
	return claims, nil
}
