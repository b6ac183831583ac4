package weir

// Params is the set of path parameters bound by a route lookup. It is
// mutable only from within this package (during Router.Lookup and the
// Dispatcher's param-pool recycling); once handed to a Request via
// Request.Params it is frozen and every exported method is read-only.
type Params struct {
	m      map[string]string
	frozen bool
}

// NewParams returns an empty, unfrozen Params, typically drawn from the
// params pool in cache.go.
func NewParams() Params {
	return Params{m: map[string]string{}}
}

// Get returns the value bound to name, or "" if it was never bound.
func (p Params) Get(name string) string {
	return p.m[name]
}

// Has reports whether name was bound by the route lookup.
func (p Params) Has(name string) bool {
	_, ok := p.m[name]
	return ok
}

// Len reports how many names are bound.
func (p Params) Len() int {
	return len(p.m)
}

// Each calls fn once per bound (name, value) pair. Order is unspecified.
func (p Params) Each(fn func(name, value string)) {
	for k, v := range p.m {
		fn(k, v)
	}
}

// set binds name to value. It panics if p is frozen, since a frozen Params
// must never be observed mutating.
func (p Params) set(name, value string) {
	if p.frozen {
		panic("weir: attempt to mutate a frozen Params")
	}
	p.m[name] = value
}

// freeze marks p immutable. It is idempotent.
func (p *Params) freeze() {
	p.frozen = true
}

// frozenState reports whether p has been frozen. ParamsPool.Release does
// not consult it: whether a Params is reclaimed depends only on the owned
// argument its caller passes.
func (p Params) frozenState() bool {
	return p.frozen
}

// clone returns an unfrozen deep copy of p, used by Router.Lookup to take
// an independent fallback snapshot.
func (p Params) clone() Params {
	m := make(map[string]string, len(p.m))
	for k, v := range p.m {
		m[k] = v
	}
	return Params{m: m}
}

// reset empties p in place and clears its frozen flag, for pool reuse. It
// must only be called once the Params is known to be unreachable from any
// live Request (see ParamsPool.Release).
func (p *Params) reset() {
	for k := range p.m {
		delete(p.m, k)
	}
	p.frozen = false
}
