package process

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// DefaultRegistrySize is the number of process handles a Registry keeps.
const DefaultRegistrySize = 1024

// Registry keeps OSProcess handles by pid so that repeated lookups refresh
// an existing handle instead of building a new one. The least recently used
// handles are dropped once the registry is full.
type Registry struct {
	driver Driver
	opts   []Option
	procs  *lru.Cache[int, *OSProcess]
}

// NewRegistry returns a registry holding up to size handles read through driver.
func NewRegistry(size int, driver Driver, opts ...Option) (*Registry, error) {
	procs, err := lru.New[int, *OSProcess](size)
	if err != nil {
		return nil, fmt.Errorf("creating process registry: %w", err)
	}
	return &Registry{driver: driver, opts: opts, procs: procs}, nil
}

// Get returns the process pid, refreshed. A handle whose process has exited
// is dropped from the registry and returned in StateInvalid together with
// an error wrapping ErrNotFound.
func (r *Registry) Get(ctx context.Context, pid int) (*OSProcess, error) {
	if p, ok := r.procs.Get(pid); ok {
		if err := p.update(ctx); err != nil {
			r.procs.Remove(pid)
			return p, err
		}
		return p, nil
	}

	p, err := NewWithDriver(ctx, pid, r.driver, r.opts...)
	if err != nil {
		return nil, err
	}
	if prev, ok, _ := r.procs.PeekOrAdd(pid, p); ok {
		// another caller registered the pid first
		return prev, nil
	}
	return p, nil
}

// List returns every running process in pid order. Processes that exit
// while the list is built are left out.
func (r *Registry) List(ctx context.Context) ([]*OSProcess, error) {
	pids, err := r.driver.ListPIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	procs := make([]*OSProcess, 0, len(pids))
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := r.Get(ctx, pid)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				zap.S().Debugw("skipping unreadable process", "pid", pid, "error", err)
			}
			continue
		}
		procs = append(procs, p)
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].PID() < procs[j].PID() })
	return procs, nil
}

// Len returns the number of handles held.
func (r *Registry) Len() int {
	return r.procs.Len()
}
