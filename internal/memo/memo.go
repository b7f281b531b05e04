// Package memo provides a lazily computed value that expires after a time-to-live.
package memo

import (
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

const (
	// NoExpiration computes the value once and keeps it forever.
	NoExpiration time.Duration = -1
	// NoCache recomputes the value on every call to Get.
	NoCache time.Duration = 0
)

var defaultExpiration = atomic.NewDuration(300 * time.Millisecond)

// DefaultExpiration returns the TTL used by callers that have no specific
// requirement. It is short enough to keep polling loops fresh.
func DefaultExpiration() time.Duration {
	return defaultExpiration.Load()
}

// SetDefaultExpiration changes the value returned by DefaultExpiration.
// Memoizers already built keep the TTL they were created with.
func SetDefaultExpiration(ttl time.Duration) {
	defaultExpiration.Store(ttl)
}

// Option configures a Memoizer
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock sets the clock used to timestamp computed values.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

type entry[T any] struct {
	value T
	at    time.Time
}

// Memoizer wraps a producer function and caches its last successful result
// for ttl. Concurrent callers that miss the cache share one producer call and
// all observe its result, including its error. Errors are never cached.
type Memoizer[T any] struct {
	fn    func() (T, error)
	ttl   time.Duration
	clock clock.Clock

	group   singleflight.Group
	current atomic.Pointer[entry[T]]
}

// New returns a Memoizer around fn.
func New[T any](fn func() (T, error), ttl time.Duration, opts ...Option) *Memoizer[T] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Memoizer[T]{
		fn:    fn,
		ttl:   ttl,
		clock: o.clock,
	}
}

// Get returns the cached value, calling the producer if the value is missing
// or older than the TTL.
func (m *Memoizer[T]) Get() (T, error) {
	if e := m.current.Load(); e != nil && m.fresh(e) {
		return e.value, nil
	}

	res, err, _ := m.group.Do("", func() (interface{}, error) {
		// another caller may have refreshed while we were queued
		if e := m.current.Load(); e != nil && m.fresh(e) {
			return e.value, nil
		}
		now := m.clock.Now()
		value, err := m.fn()
		if err != nil {
			return nil, err
		}
		m.current.Store(&entry[T]{value: value, at: now})
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	value, _ := res.(T)
	return value, nil
}

// Invalidate drops the cached value so that the next Get recomputes it.
func (m *Memoizer[T]) Invalidate() {
	m.current.Store(nil)
}

// TTL returns the time-to-live the memoizer was built with.
func (m *Memoizer[T]) TTL() time.Duration {
	return m.ttl
}

func (m *Memoizer[T]) fresh(e *entry[T]) bool {
	switch {
	case m.ttl < 0:
		return true
	case m.ttl == NoCache:
		return false
	default:
		return m.clock.Since(e.at) < m.ttl
	}
}
