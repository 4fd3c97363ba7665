// Package enforce decides, synchronously on the write path, whether a
// write may proceed under the configured disk quotas.
package enforce

import (
	"context"
	"errors"
	"fmt"

	"github.com/metron-io/metron/pkg/quota"
)

// ErrQuotaExceeded aborts a write whose target entity is over its limit.
// It is the only user-visible failure of the gates; missing quota
// information always allows.
var ErrQuotaExceeded = errors.New("disk space quota exceeded")

// Reader is the read side of the quota store consumed by the gates.
type Reader interface {
	Lookup(entity, scope string) (quota.Entry, bool)
}

// Exceeded reports whether an entry denies further writes.  Absent entries
// and entries with no configured limit always allow; usage exactly equal
// to the limit still allows.
func Exceeded(e quota.Entry, found bool) bool {
	return found && e.LimitBytes != quota.NoLimit && e.UsedBytes > e.LimitBytes
}

// WriteTarget is one relation referenced by a logical write operation.
type WriteTarget struct {
	// Relation identifies the targeted relation within the scope.
	Relation string
	// AddsData is true when the operation inserts or copies data into
	// Relation, as opposed to only reading or deleting from it.
	AddsData bool
}

// RelationGate enforces quotas per relation, once per logical write
// operation, before the operation executes.
type RelationGate struct {
	Reader Reader
}

// CheckWrite checks every data-adding target of one operation.  A single
// denial aborts the whole operation; there is no partial-success path.
func (g *RelationGate) CheckWrite(scope string, targets []WriteTarget) error {
	for _, t := range targets {
		if !t.AddsData {
			continue
		}
		if Exceeded(g.Reader.Lookup(t.Relation, scope)) {
			return fmt.Errorf("relation %q: %w", t.Relation, ErrQuotaExceeded)
		}
	}
	return nil
}

// OwnerResolver maps a low-level storage handle to the role that owns it.
type OwnerResolver interface {
	Owner(ctx context.Context, handle string) (string, error)
}

// OwnerGate enforces quotas per owning role, on every individual physical
// extension of storage.
type OwnerGate struct {
	Reader   Reader
	Resolver OwnerResolver
}

// CheckExtend checks one extension of handle.  Handles that cannot be
// resolved to an owner are allowed unconditionally: system-internal
// objects have no metered owner.
func (g *OwnerGate) CheckExtend(ctx context.Context, scope, handle string) error {
	owner, err := g.Resolver.Owner(ctx, handle)
	if err != nil {
		return nil
	}
	if Exceeded(g.Reader.Lookup(owner, scope)) {
		return fmt.Errorf("role %q: %w", owner, ErrQuotaExceeded)
	}
	return nil
}
