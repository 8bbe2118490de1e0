package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// User mirrors an externally-authenticated principal. The service never
// creates credentials; rows in the users table are written by the directory
// sync and read back to resolve branch membership at grant time.
type User struct {
	ID        string    `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name,omitempty" db:"name"`
	BranchID  *string   `json:"branch_id,omitempty" db:"branch_id"` // nil for users outside any branch
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// InBranch reports whether the user belongs to the given branch.
func (u *User) InBranch(branchID string) bool {
	return u.BranchID != nil && *u.BranchID == branchID
}

// TokenClaims represents the JWT token claims asserted by the identity source
type TokenClaims struct {
	UserID   string  `json:"user_id"`
	Email    string  `json:"email"`
	BranchID *string `json:"branch_id,omitempty"`
	Type     string  `json:"type"` // "access" or "refresh"
	Exp      int64   `json:"exp"`
	Iat      int64   `json:"iat"`
}

// GetExpirationTime implements jwt.Claims interface
func (c *TokenClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Exp, 0)), nil
}

// GetIssuedAt implements jwt.Claims interface
func (c *TokenClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Iat, 0)), nil
}

// GetNotBefore implements jwt.Claims interface
func (c *TokenClaims) GetNotBefore() (*jwt.NumericDate, error) {
	return nil, nil
}

// GetIssuer implements jwt.Claims interface
func (c *TokenClaims) GetIssuer() (string, error) {
	return "", nil
}

// GetSubject implements jwt.Claims interface
func (c *TokenClaims) GetSubject() (string, error) {
	return c.UserID, nil
}

// GetAudience implements jwt.Claims interface
func (c *TokenClaims) GetAudience() (jwt.ClaimStrings, error) {
	return nil, nil
}
