// Package catalog resolves low-level storage handles to their owning
// roles, from relation metadata kept on a SQL database.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a handle has no known owner.  The owner
// gate treats any resolution error as allow, so unresolved handles fail
// open.
var ErrNotFound = errors.New("owner not found")

// SQLResolver looks owners up in the relation_owners table.
type SQLResolver struct {
	db *sql.DB
}

func NewSQLResolver(db *sql.DB) (*SQLResolver, error) {
	return &SQLResolver{db: db}, nil
}

// Owner returns the role owning the relation behind handle.
func (r *SQLResolver) Owner(ctx context.Context, handle string) (string, error) {
	var owner string
	row := r.db.QueryRowContext(ctx,
		`SELECT owner FROM relation_owners WHERE handle = $1`, handle)
	err := row.Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s: %w", handle, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}
