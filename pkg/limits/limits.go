// Package limits reads administrator-configured quota limits from
// persisted configuration.
package limits

import "context"

// Source yields the configured limit in bytes per entity.  Entities absent
// from the result have no configured limit.
type Source interface {
	Load(ctx context.Context) (map[string]int64, error)
}
