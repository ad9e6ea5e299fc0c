package intern

import (
	"sync"
	"sync/atomic"
)

// StringID is an opaque handle to an interned string. IDs are allocated
// monotonically and are stable for the life of the process.
type StringID uint32

// InvalidStringID is never returned by Add.
const InvalidStringID StringID = ^StringID(0)

// StringPool is an append-only mapping string -> StringID. Reads of
// already-interned entries go through an atomic snapshot and take no lock;
// writes are serialized on a mutex. There is a single process-wide pool,
// accessed through the package-level functions below.
type StringPool struct {
	mu       sync.Mutex
	byString map[string]StringID
	byID     atomic.Value // []string, copy-on-append
}

func newStringPool() *StringPool {
	p := &StringPool{byString: make(map[string]StringID)}
	p.byID.Store([]string{})
	for _, s := range wellKnownNames {
		p.Add(s)
	}
	return p
}

// pool is the single process-wide instance.
var pool = newStringPool()

// Add interns s and returns its ID. Calling Add twice with the same string
// returns the same ID.
func (p *StringPool) Add(s string) StringID {
	if id, ok := p.Lookup(s); ok {
		return id
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if id, ok := p.byString[s]; ok {
		return id
	}
	old := p.byID.Load().([]string)
	id := StringID(len(old))
	next := make([]string, len(old)+1)
	copy(next, old)
	next[id] = s
	p.byString[s] = id
	p.byID.Store(next)
	return id
}

// Lookup returns the ID for s if it has been interned.
func (p *StringPool) Lookup(s string) (StringID, bool) {
	p.mu.Lock()
	id, ok := p.byString[s]
	p.mu.Unlock()
	return id, ok
}

// Get returns the string for an interned ID. Get with an ID not produced
// by Add panics: IDs only come from the pool, so a bad one is a VM bug.
func (p *StringPool) Get(id StringID) string {
	return p.byID.Load().([]string)[id]
}

// AddString interns s in the process-wide pool.
func AddString(s string) StringID { return pool.Add(s) }

// GetString returns the string for id from the process-wide pool.
func GetString(id StringID) string { return pool.Get(id) }

// LookupString returns the ID for s if already interned.
func LookupString(s string) (StringID, bool) { return pool.Lookup(s) }

// Pool returns the process-wide pool, for callers that thread it through
// explicitly (the verifier context does).
func Pool() *StringPool { return pool }
