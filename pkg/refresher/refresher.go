// Package refresher pushes measured sizes and configured limits into the
// quota store on a fixed cadence.
package refresher

import (
	"context"
	"fmt"
	"log"
	"time"

	multierror "github.com/hashicorp/go-multierror"

	"github.com/metron-io/metron/pkg/limits"
	"github.com/metron-io/metron/pkg/quota"
)

// Sizer yields the current measured usage in bytes per entity.
type Sizer interface {
	Snapshot() map[string]int64
}

// Refresher owns the refresh cadence for one scope.  Each cycle bundles
// the configured limit with the measured size into a single store update
// per entity.
type Refresher struct {
	Log      *log.Logger
	Store    *quota.Store
	Limits   limits.Source
	Sizes    Sizer
	Scope    string
	Interval time.Duration
}

// Run discards any stale entries for the scope, then refreshes every
// Interval until ctx is cancelled.  Refresh failures are logged, never
// fatal; the store keeps serving its previous values.
func (r *Refresher) Run(ctx context.Context) {
	r.Store.Reset(r.Scope)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if err := r.RefreshOnce(ctx); err != nil {
			r.Log.Printf("ERROR: refresh scope %q: %s\n", r.Scope, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce runs a single refresh cycle: one Update per entity known to
// either the limit configuration or the size model.  A full store only
// stops new entities from being tracked; updates for the rest proceed.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	lims, err := r.Limits.Load(ctx)
	if err != nil {
		return fmt.Errorf("load limits: %w", err)
	}
	sizes := r.Sizes.Snapshot()

	var merr *multierror.Error
	for entity, usedBytes := range sizes {
		limitBytes, ok := lims[entity]
		if !ok {
			limitBytes = quota.NoLimit
		}
		if err := r.Store.Update(entity, r.Scope, usedBytes, limitBytes); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	// Entities with a configured limit but no measured size yet still get
	// an entry, at zero usage.
	for entity, limitBytes := range lims {
		if _, ok := sizes[entity]; ok {
			continue
		}
		if err := r.Store.Update(entity, r.Scope, 0, limitBytes); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
