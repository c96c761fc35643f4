package pattern

import (
	"sync"

	"github.com/OpenTraceLab/OpenTraceERC/pkg/dsl"
)

// ClaimResult is the outcome of a bind attempt.
type ClaimResult int

const (
	// Claimed means the key was unbound and now holds the atom.
	Claimed ClaimResult = iota
	// Duplicate means the key already holds an identical atom.
	Duplicate
	// Conflicting means the key already holds a different atom.
	Conflicting
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case Duplicate:
		return "duplicate"
	case Conflicting:
		return "conflicting"
	}
	return "unknown"
}

// Claim records which atom resolved a symbolic key and who bound it.
type Claim struct {
	Key    string
	Atom   *dsl.Atom
	Origin Origin
}

// Bindings is the per-instance claim table for symbolic keys. The first
// claim of a key wins; it is never replaced.
type Bindings struct {
	mu     sync.Mutex
	claims map[string]Claim
}

// NewBindings returns an empty claim table.
func NewBindings() *Bindings {
	return &Bindings{claims: make(map[string]Claim)}
}

// Claim attempts to bind key to atom. The returned Claim is the one that
// holds the key afterwards.
func (b *Bindings) Claim(key string, atom *dsl.Atom, origin Origin) (ClaimResult, Claim) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if held, ok := b.claims[key]; ok {
		if held.Atom.Equal(atom) {
			return Duplicate, held
		}
		return Conflicting, held
	}
	c := Claim{Key: key, Atom: atom, Origin: origin}
	b.claims[key] = c
	return Claimed, c
}

// Lookup returns the claim holding key, if any.
func (b *Bindings) Lookup(key string) (Claim, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.claims[key]
	return c, ok
}

// Len returns the number of bound keys.
func (b *Bindings) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.claims)
}
