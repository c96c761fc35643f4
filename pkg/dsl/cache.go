package dsl

import "sync"

// RuleCompiler is anything that turns rule text into an atom.
// Both *Compiler and *Cache implement it.
type RuleCompiler interface {
	Compile(text string) (*Atom, error)
}

type cacheEntry struct {
	atom *Atom
	err  error
}

// Cache memoizes compilation by exact source text for a whole session.
// Rule text repeats heavily across components, and atoms are immutable, so
// a cached atom can be shared by every caller. Failures are cached too.
type Cache struct {
	compiler RuleCompiler

	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    int
	misses  int
}

// NewCache wraps a compiler. A nil compiler uses the base kinds.
func NewCache(compiler RuleCompiler) *Cache {
	if compiler == nil {
		compiler = defaultRuleCompiler{}
	}
	return &Cache{
		compiler: compiler,
		entries:  make(map[string]cacheEntry),
	}
}

// Compile returns the memoized result for text, compiling it on first use.
func (c *Cache) Compile(text string) (*Atom, error) {
	c.mu.Lock()
	if e, ok := c.entries[text]; ok {
		c.hits++
		c.mu.Unlock()
		return e.atom, e.err
	}
	c.mu.Unlock()

	atom, err := c.compiler.Compile(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[text]; ok {
		// Another goroutine finished first; keep a single shared atom.
		c.hits++
		return e.atom, e.err
	}
	c.misses++
	c.entries[text] = cacheEntry{atom: atom, err: err}
	return atom, err
}

// Stats returns the number of cache hits and misses so far.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// Len returns the number of distinct rule texts seen.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type defaultRuleCompiler struct{}

func (defaultRuleCompiler) Compile(text string) (*Atom, error) {
	return Compile(text)
}
