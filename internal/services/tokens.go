// internal/services/tokens.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/javajoker/handoff-backend/internal/models"
	"github.com/javajoker/handoff-backend/internal/utils"
)

// ScanPayload is the machine-readable form of a delivery token. A scanner
// holding the signing key can check it without calling the server.
type ScanPayload struct {
	OrderID          string           `json:"orderId"`
	Kind             models.TokenKind `json:"kind"`
	Timestamp        int64            `json:"timestamp"`
	HolderID         string           `json:"holderId"`
	VerificationCode string           `json:"verificationCode"`
	jwt.RegisteredClaims
}

// TokenCodec creates verification codes and signs or parses scan payloads.
type TokenCodec struct {
	secret   []byte
	hashCost int
}

func NewTokenCodec(secret string, hashCost int) *TokenCodec {
	if hashCost < bcrypt.MinCost {
		hashCost = bcrypt.DefaultCost
	}
	return &TokenCodec{secret: []byte(secret), hashCost: hashCost}
}

// NewCode returns a fresh verification code and its bcrypt hash.
func (c *TokenCodec) NewCode() (code, hash string, err error) {
	code, err = utils.GenerateVerificationCode()
	if err != nil {
		return "", "", fmt.Errorf("generate verification code: %w", err)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(code), c.hashCost)
	if err != nil {
		return "", "", fmt.Errorf("hash verification code: %w", err)
	}
	return code, string(h), nil
}

// CodeMatches compares a presented code against a stored hash.
func (c *TokenCodec) CodeMatches(hash, presented string) bool {
	presented = utils.NormalizeVerificationCode(presented)
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}

func (c *TokenCodec) Sign(orderID uuid.UUID, kind models.TokenKind, holderID uuid.UUID, code string, issuedAt time.Time) (string, error) {
	claims := ScanPayload{
		OrderID:          orderID.String(),
		Kind:             kind,
		Timestamp:        issuedAt.Unix(),
		HolderID:         holderID.String(),
		VerificationCode: code,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issuedAt),
			Subject:  orderID.String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Decode verifies the signature and shape of a scan payload. It does not
// consult the store.
func (c *TokenCodec) Decode(payload string) (*ScanPayload, error) {
	token, err := jwt.ParseWithClaims(payload, &ScanPayload{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*ScanPayload)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != models.TokenKindPickup && claims.Kind != models.TokenKindDelivery {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, claims.Kind)
	}
	if _, err := uuid.Parse(claims.OrderID); err != nil {
		return nil, fmt.Errorf("%w: bad order id", ErrInvalidToken)
	}
	if _, err := uuid.Parse(claims.HolderID); err != nil {
		return nil, fmt.Errorf("%w: bad holder id", ErrInvalidToken)
	}
	return claims, nil
}
