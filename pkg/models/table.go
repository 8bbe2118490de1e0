package models

import "time"

// Table is a user-defined spreadsheet: typed columns, ordered rows.
// The share token is assigned once at creation and never regenerated.
type Table struct {
	ID         string    `json:"id" db:"id"`
	Title      string    `json:"title" db:"title"`
	OwnerID    string    `json:"owner_id" db:"owner_id"`
	ShareToken string    `json:"share_token" db:"share_token"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// DataType enumerates the declared column value types.
type DataType string

const (
	TypeText    DataType = "text"
	TypeInteger DataType = "integer"
	TypeFloat   DataType = "float"
	TypeBoolean DataType = "boolean"
	TypeDate    DataType = "date"
)

// Valid reports whether dt is one of the five declared types.
func (dt DataType) Valid() bool {
	switch dt {
	case TypeText, TypeInteger, TypeFloat, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// Column belongs to a table. The data type is immutable after creation;
// there is no retroactive cell re-typing.
type Column struct {
	ID           string   `json:"id" db:"id"`
	TableID      string   `json:"table_id" db:"table_id"`
	Name         string   `json:"name" db:"name"`
	DisplayOrder int      `json:"display_order" db:"display_order"`
	DataType     DataType `json:"data_type" db:"data_type"`
	Required     bool     `json:"required" db:"required"`
}

// Row belongs to a table and owns exactly one cell per column of its table.
// CreatedBy is nil when the creator account has been removed.
type Row struct {
	ID           string  `json:"id" db:"id"`
	TableID      string  `json:"table_id" db:"table_id"`
	DisplayOrder int     `json:"display_order" db:"display_order"`
	CreatedBy    *string `json:"created_by,omitempty" db:"created_by"`
}
