package limits

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLSource is a Source that reads the quota_limits table on a SQL
// database.  One row per entity: {entity (primary key), limit_bytes}.
type SQLSource struct {
	db *sql.DB
}

func NewSQLSource(db *sql.DB) (*SQLSource, error) {
	return &SQLSource{db: db}, nil
}

func (s *SQLSource) transact(ctx context.Context, fn func(tx *sql.Tx) (interface{}, error)) (interface{}, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	ret, err := fn(tx)
	if err != nil {
		rollbackErr := tx.Rollback()
		if rollbackErr != nil {
			err = fmt.Errorf("%w; additionally during rollback: %s", err, rollbackErr)
		}
		return nil, err
	}
	commitErr := tx.Commit()
	return ret, commitErr
}

// Load returns the configured limit per entity.
func (s *SQLSource) Load(ctx context.Context) (map[string]int64, error) {
	ret, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		rows, err := tx.QueryContext(ctx, `SELECT entity, limit_bytes FROM quota_limits`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		limits := make(map[string]int64)
		for rows.Next() {
			var (
				entity     string
				limitBytes int64
			)
			if err := rows.Scan(&entity, &limitBytes); err != nil {
				return nil, err
			}
			limits[entity] = limitBytes
		}
		return limits, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ret.(map[string]int64), nil
}

// Set configures the limit for entity, replacing any previous one.
func (s *SQLSource) Set(ctx context.Context, entity string, limitBytes int64) error {
	_, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO quota_limits (entity, limit_bytes) VALUES ($1, $2)
			ON CONFLICT (entity) DO UPDATE SET limit_bytes=$2`,
			entity, limitBytes)
		return nil, err
	})
	return err
}

// Unset removes the configured limit for entity, if any.
func (s *SQLSource) Unset(ctx context.Context, entity string) error {
	_, err := s.transact(ctx, func(tx *sql.Tx) (interface{}, error) {
		_, err := tx.ExecContext(ctx, `DELETE FROM quota_limits WHERE entity = $1`, entity)
		return nil, err
	})
	return err
}
