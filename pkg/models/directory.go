package models

import "time"

// Branch is an organizational unit ("filial"). Users belong to at most one
// branch; membership is resolved only at grant-expansion time, never at
// permission-check time.
type Branch struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	ShortName string `json:"short_name,omitempty" db:"short_name"`
}

// ServiceAdmin marks a user as a service administrator: unconditional manage
// rights over all tables and rows, independent of ownership or grants.
type ServiceAdmin struct {
	UserID    string    `json:"user_id" db:"user_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
