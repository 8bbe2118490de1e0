package models

// TablePermission is a direct, individual view grant on a table.
// Unique per (table, user).
type TablePermission struct {
	TableID string `json:"table_id" db:"table_id"`
	UserID  string `json:"user_id" db:"user_id"`
	CanView bool   `json:"can_view" db:"can_view"`
}

// TableFilialPermission is a branch-wide view grant template. It is expanded
// into individual TablePermission rows for every current branch member at
// grant time; it is never consulted live by permission checks.
type TableFilialPermission struct {
	TableID  string `json:"table_id" db:"table_id"`
	BranchID string `json:"branch_id" db:"branch_id"`
	CanView  bool   `json:"can_view" db:"can_view"`
}

// RowPermission is a direct, individual edit/delete grant on a row.
// Unique per (row, user).
type RowPermission struct {
	RowID     string `json:"row_id" db:"row_id"`
	UserID    string `json:"user_id" db:"user_id"`
	CanEdit   bool   `json:"can_edit" db:"can_edit"`
	CanDelete bool   `json:"can_delete" db:"can_delete"`
}

// RowFilialPermission is the branch-wide analogue of RowPermission, with the
// same expand-on-write semantics as TableFilialPermission.
type RowFilialPermission struct {
	RowID     string `json:"row_id" db:"row_id"`
	BranchID  string `json:"branch_id" db:"branch_id"`
	CanEdit   bool   `json:"can_edit" db:"can_edit"`
	CanDelete bool   `json:"can_delete" db:"can_delete"`
}
