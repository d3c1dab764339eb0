package resolver

import "runtime"

// DefaultMaxEntries caps the number of distinct URIs remembered per table.
const DefaultMaxEntries = 10_000

// Observer receives cache-level signals. Implementations must be safe for
// concurrent use; calls happen on the request path.
type Observer interface {
	Hit()
	Miss()
	Evict()
	Invalidate()
}

type noopObserver struct{}

func (noopObserver) Hit()        {}
func (noopObserver) Miss()       {}
func (noopObserver) Evict()      {}
func (noopObserver) Invalidate() {}

// Options configures a Cache. Zero values are replaced in New:
//   - MaxEntries <= 0 => DefaultMaxEntries
//   - Shards <= 0     => 2*GOMAXPROCS rounded up to a power of two
//   - nil Observer    => no-op
type Options struct {
	// Name labels the table in logs and metrics.
	Name string
	// MaxEntries bounds the number of cached URIs, split evenly across shards.
	MaxEntries int
	// Shards is rounded up to a power of two and never exceeds MaxEntries.
	Shards   int
	Observer Observer
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Observer == nil {
		o.Observer = noopObserver{}
	}
	shards := o.Shards
	if shards <= 0 {
		shards = 2 * runtime.GOMAXPROCS(0)
		if shards > 256 {
			shards = 256
		}
	}
	shards = int(nextPow2(uint64(shards)))
	for shards > 1 && shards > o.MaxEntries {
		shards >>= 1
	}
	o.Shards = shards
	return o
}

// nextPow2 returns the smallest power of two >= x (1 for x <= 1).
func nextPow2(x uint64) uint64 {
	if x <= 1 {
		return 1
	}
	x--
	x |= x >> 1
	x |= x >> 2
	x |= x >> 4
	x |= x >> 8
	x |= x >> 16
	x |= x >> 32
	x++
	if x == 0 {
		return 1 << 63
	}
	return x
}
