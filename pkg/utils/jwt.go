package utils

import (
	"fmt"
	"time"

	"table-service-backend/pkg/models"

	"github.com/golang-jwt/jwt/v5"
)

// JWTService signs and validates the service's HMAC tokens. The branch id
// travels inside the claims so permission fan-out never needs a directory
// lookup just to know where the caller belongs.
type JWTService struct {
	secretKey []byte
}

// NewJWTService creates a JWT service with the given signing secret.
func NewJWTService(secretKey string) *JWTService {
	return &JWTService{
		secretKey: []byte(secretKey),
	}
}

// GenerateAccessToken issues a 15-minute access token. Token issuance lives
// with the external identity provider in production; this exists for tests
// and local development.
func (j *JWTService) GenerateAccessToken(userID, email string, branchID *string) (string, int64, error) {
	now := time.Now()
	expiry := now.Add(15 * time.Minute)

	claims := &models.TokenClaims{
		UserID:   userID,
		Email:    email,
		BranchID: branchID,
		Type:     "access",
		Exp:      expiry.Unix(),
		Iat:      now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate access token: %w", err)
	}

	return tokenString, expiry.Unix(), nil
}

// ValidateToken parses and checks a token of either type.
func (j *JWTService) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*models.TokenClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if time.Now().Unix() > claims.Exp {
		return nil, fmt.Errorf("token expired")
	}

	return claims, nil
}
