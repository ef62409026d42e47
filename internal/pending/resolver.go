// Package pending computes which work items a stage still has to process.
package pending

import (
	"context"
	"fmt"
	"strings"

	"callpipe/internal/records"
	"callpipe/internal/stage"
)

// KeyLister is the read the resolver needs from the status store.
type KeyLister interface {
	BulkKeys(ctx context.Context, filter records.Filter) ([]string, error)
}

// Resolver derives pending sets from the status store. It holds no state
// between calls, so every run sees the store as it is now.
type Resolver struct {
	store KeyLister
}

// NewResolver builds a Resolver over store.
func NewResolver(store KeyLister) *Resolver {
	return &Resolver{store: store}
}

// Pending returns the ids stage must still process, capped at limit when
// limit is positive.
//
// For the first stage the result is universe minus every id with a status
// record, in universe order. For later stages it is every SUCCESS record
// whose predecessor flag is set and whose own flag is not, oldest write
// first; a non-empty universe further restricts the result.
func (r *Resolver) Pending(ctx context.Context, universe []string, id stage.ID, limit int) ([]string, error) {
	if r == nil || r.store == nil {
		return nil, fmt.Errorf("pending: status store is required")
	}
	if id.First() {
		return r.firstStage(ctx, universe, limit)
	}
	prev, ok := id.Predecessor()
	if !ok {
		return nil, fmt.Errorf("pending: unknown stage %q", id)
	}

	filter := records.Filter{
		Statuses:  []records.Status{records.StatusSuccess},
		FlagSet:   []records.Flag{prev.Flag()},
		FlagUnset: []records.Flag{id.Flag()},
	}
	if len(universe) == 0 {
		filter.Limit = max(limit, 0)
	}
	keys, err := r.store.BulkKeys(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", id, err)
	}
	if len(universe) == 0 {
		return keys, nil
	}

	allowed := make(map[string]struct{}, len(universe))
	for _, item := range universe {
		allowed[strings.TrimSpace(item)] = struct{}{}
	}
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if _, ok := allowed[key]; !ok {
			continue
		}
		out = append(out, key)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Resolver) firstStage(ctx context.Context, universe []string, limit int) ([]string, error) {
	known, err := r.store.BulkKeys(ctx, records.Filter{})
	if err != nil {
		return nil, fmt.Errorf("pending fetch: %w", err)
	}
	processed := make(map[string]struct{}, len(known))
	for _, key := range known {
		processed[key] = struct{}{}
	}

	seen := make(map[string]struct{}, len(universe))
	out := make([]string, 0)
	for _, item := range universe {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		if _, done := processed[item]; done {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
