package digest

import (
	"fmt"
	"sync"
)

// Registry is a lookup table from canonical algorithm name to Alg,
// seeded with the built-in algorithms. Add can register further names,
// but Alg.New returns nil for any name outside Builtin, so an Alg added
// that way resolves by name and cannot compute digests.
type Registry struct {
	mu   sync.RWMutex
	algs map[string]Alg
}

// NewRegistry returns a Registry pre-populated with the built-in
// algorithms (sha512, sha256, sha1, md5, blake2b-512).
func NewRegistry() *Registry {
	r := &Registry{algs: make(map[string]Alg, len(Builtin))}
	for _, a := range Builtin {
		r.algs[a.ID()] = a
	}
	return r
}

// Add registers additional algorithms, overwriting any existing entry
// with the same ID.
func (r *Registry) Add(algs ...Alg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range algs {
		r.algs[a.ID()] = a
	}
}

// Get looks up an algorithm by its canonical name.
func (r *Registry) Get(id string) (Alg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.algs[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlg, id)
	}
	return a, nil
}
