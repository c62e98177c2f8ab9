// Package scopes holds the permission-scope registry: which principals are
// granted which dotted scopes, and which scopes of a request are known.
package scopes

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gitlab.com/pnathan/scoped/src/lib/log"
	"gitlab.com/pnathan/scoped/src/lib/scopeapi"
	"gitlab.com/pnathan/scoped/src/lib/utility/trie"
)

// Registry owns one index for its lifetime. Every call takes the one mutex:
// queries write to the index's memo cache, so a read lock is not enough.
type Registry struct {
	index      *trie.Index[string]
	revision   uint64
	generation uuid.UUID
	ops        *prometheus.CounterVec
	mutex      sync.Mutex
}

func NewRegistry(opts ...trie.Option) *Registry {
	return &Registry{
		index:      trie.New[string](opts...),
		generation: uuid.New(),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scoped",
			Name:      "registry_operations_total",
			Help:      "Registry operations by kind",
		}, []string{"op"}),
	}
}

// bump must be called with the mutex held.
func (r *Registry) bump() {
	r.revision++
	r.generation = uuid.New()
}

// Grant appends values to scope. Granting no values still makes the scope
// known to Relevant.
func (r *Registry) Grant(scope string, values ...string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("grant").Inc()
	if err := r.index.InsertRange(scope, values); err != nil {
		return err
	}
	r.bump()
	return nil
}

// Granted returns the values at scope and all scopes beneath it, nearest
// level first.
func (r *Registry) Granted(scope string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("granted").Inc()
	return r.index.GetAll(scope)
}

func (r *Registry) GrantedExact(scope string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("granted_exact").Inc()
	return r.index.GetExact(scope)
}

// Relevant filters scopes down to those the registry knows about.
func (r *Registry) Relevant(scopes []string) []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("relevant").Inc()
	return r.index.GetRelevantKeys(scopes)
}

// Allows reports whether principal is granted scope, directly or through
// one of its ancestors. A grant on "chat" covers "chat.messages.read"; a
// grant on "chat.messages.read" does not cover "chat".
func (r *Registry) Allows(scope string, principal string) bool {
	segments, err := trie.Split(scope)
	if err != nil {
		return false
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("allows").Inc()
	for i := range segments {
		for _, p := range r.index.GetExact(trie.Join(segments[:i+1])) {
			if p == principal {
				return true
			}
		}
	}
	return false
}

func (r *Registry) Keys() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.index.Keys()
}

func (r *Registry) Revision() uint64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.revision
}

func (r *Registry) Generation() uuid.UUID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.generation
}

func (r *Registry) Stats() trie.Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.index.Stats()
}

func (r *Registry) Snapshot() scopeapi.WireSnapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("snapshot").Inc()
	return scopeapi.WireSnapshot{
		Revision:   r.revision,
		Generation: r.generation,
		Index:      r.index.ToSnapshot(),
	}
}

// SwapIn overwrites the registry in place with s, keeping s's revision and
// generation. If s does not decode the registry is left empty under a new
// generation.
func (r *Registry) SwapIn(s scopeapi.WireSnapshot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.ops.WithLabelValues("swap_in").Inc()
	if err := r.index.OverwriteFrom(s.Index); err != nil {
		r.bump()
		log.Warn("snapshot rejected, registry cleared", zap.Error(err), zap.Uint64("revision", r.revision))
		return err
	}
	r.revision = s.Revision
	r.generation = s.Generation
	log.Info("registry overwritten",
		zap.Uint64("revision", r.revision),
		zap.String("generation", r.generation.String()))
	return nil
}

// SwapInIfNewer adopts s only when its revision is ahead of the registry's.
// s is checked before the registry is touched, so a malformed snapshot
// leaves the current state and revision alone.
func (r *Registry) SwapInIfNewer(s scopeapi.WireSnapshot) (bool, error) {
	if _, err := trie.FromSnapshot(s.Index, trie.WithCacheSize(0)); err != nil {
		return false, err
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.revision >= s.Revision {
		return false, nil
	}
	r.ops.WithLabelValues("swap_in").Inc()
	if err := r.index.OverwriteFrom(s.Index); err != nil {
		r.bump()
		return false, err
	}
	r.revision = s.Revision
	r.generation = s.Generation
	log.Info("registry overwritten from newer snapshot",
		zap.Uint64("revision", r.revision),
		zap.String("generation", r.generation.String()))
	return true, nil
}

// Register exposes the registry's metrics on reg.
func (r *Registry) Register(reg prometheus.Registerer) error {
	stat := func(f func(trie.Stats) float64) func() float64 {
		return func() float64 { return f(r.Stats()) }
	}
	collectors := []prometheus.Collector{
		r.ops,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "scoped",
			Name:      "registry_nodes",
			Help:      "Scopes known to the registry",
		}, stat(func(s trie.Stats) float64 { return float64(s.Nodes) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "scoped",
			Name:      "registry_values",
			Help:      "Grants held by the registry",
		}, stat(func(s trie.Stats) float64 { return float64(s.Values) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "scoped",
			Name:      "registry_cache_hits_total",
			Help:      "Granted queries answered from the cache",
		}, stat(func(s trie.Stats) float64 { return float64(s.CacheHits) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "scoped",
			Name:      "registry_cache_misses_total",
			Help:      "Granted queries computed from the tree",
		}, stat(func(s trie.Stats) float64 { return float64(s.CacheMisses) })),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
