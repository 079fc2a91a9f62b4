package service

import "sync"

// keyedMutex serializes work per key while letting different keys proceed
// independently. Entries are reference counted and dropped when unused, so
// the map only holds keys with an active or waiting holder.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the lock for key and returns its release function.
func (km *keyedMutex) Lock(key string) (unlock func()) {
	km.mu.Lock()
	m, ok := km.locks[key]
	if !ok {
		m = &refMutex{}
		km.locks[key] = m
	}
	m.refs++
	km.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		km.mu.Lock()
		defer km.mu.Unlock()
		m.refs--
		if m.refs == 0 {
			delete(km.locks, key)
		}
	}
}

// held returns the number of keys with an active or waiting holder.
func (km *keyedMutex) held() int {
	km.mu.Lock()
	defer km.mu.Unlock()
	return len(km.locks)
}

// generations counts invalidations per key while loads for it are in
// flight. A load begins under the current generation and only publishes its
// result if no invalidation happened since. Entries exist only while a load
// holds them, so keys that are deleted or invalidated leave nothing behind.
type generations struct {
	mu sync.Mutex
	m  map[string]*genEntry
}

type genEntry struct {
	gen  uint64
	refs int
}

func newGenerations() *generations {
	return &generations{m: make(map[string]*genEntry)}
}

// Begin registers a load for key and returns the generation it runs under.
// done must be called once the load has published or given up.
func (g *generations) Begin(key string) (gen uint64, done func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.m[key]
	if !ok {
		e = &genEntry{}
		g.m[key] = e
	}
	e.refs++

	return e.gen, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		e.refs--
		if e.refs == 0 {
			delete(g.m, key)
		}
	}
}

// Bump advances key's generation and runs invalidate while no publish can
// interleave, so nothing loaded under an older generation survives it.
func (g *generations) Bump(key string, invalidate func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.m[key]; ok {
		e.gen++
	}
	if invalidate != nil {
		invalidate()
	}
}

// PublishIf runs publish only if key is still at generation gen. Callers
// must hold a registration from Begin.
func (g *generations) PublishIf(key string, gen uint64, publish func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.m[key]
	if !ok || e.gen != gen {
		return false
	}
	publish()
	return true
}

// tracked returns the number of keys with a registered load.
func (g *generations) tracked() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
