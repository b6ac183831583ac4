package weir

// Group is a set of sub-routes sharing a path prefix and a list of
// middleware, for routes that want their own chain without registering it
// globally via App.UsePrefix: middleware passed to a Group is baked into
// each route added through it, rather than applied dispatcher-wide.
type Group struct {
	prefix string
	mws    []Middleware
	app    *App
}

// Group creates a sub-group of a rooted at prefix, inheriting mws ahead of
// any middleware supplied to the sub-group's own routes.
func (a *App) Group(prefix string, mws ...Middleware) *Group {
	return &Group{prefix: prefix, mws: append([]Middleware{}, mws...), app: a}
}

// Group creates a nested sub-group under g, combining g's prefix and
// middleware with its own.
func (g *Group) Group(prefix string, mws ...Middleware) *Group {
	combined := make([]Middleware, 0, len(g.mws)+len(mws))
	combined = append(combined, g.mws...)
	combined = append(combined, mws...)
	return &Group{prefix: g.prefix + prefix, mws: combined, app: g.app}
}

// GET registers handler, wrapped in g's middleware, for GET requests
// matching g.prefix+path.
func (g *Group) GET(path string, handler Handler, mws ...Middleware) {
	g.add("GET", path, handler, mws...)
}

// HEAD registers handler, wrapped in g's middleware, for HEAD requests
// matching g.prefix+path.
func (g *Group) HEAD(path string, handler Handler, mws ...Middleware) {
	g.add("HEAD", path, handler, mws...)
}

// POST registers handler, wrapped in g's middleware, for POST requests
// matching g.prefix+path.
func (g *Group) POST(path string, handler Handler, mws ...Middleware) {
	g.add("POST", path, handler, mws...)
}

// PUT registers handler, wrapped in g's middleware, for PUT requests
// matching g.prefix+path.
func (g *Group) PUT(path string, handler Handler, mws ...Middleware) {
	g.add("PUT", path, handler, mws...)
}

// PATCH registers handler, wrapped in g's middleware, for PATCH requests
// matching g.prefix+path.
func (g *Group) PATCH(path string, handler Handler, mws ...Middleware) {
	g.add("PATCH", path, handler, mws...)
}

// DELETE registers handler, wrapped in g's middleware, for DELETE requests
// matching g.prefix+path.
func (g *Group) DELETE(path string, handler Handler, mws ...Middleware) {
	g.add("DELETE", path, handler, mws...)
}

// WS registers a WebSocket endpoint at g.prefix+path through App.WS. Only
// the prefix is applied: g's middleware does not wrap the handshake route
// and has no bearing on frames once the connection is open.
func (g *Group) WS(path string, setup func(*Connection)) {
	g.app.WS(g.prefix+path, setup)
}

func (g *Group) add(method, path string, handler Handler, mws ...Middleware) {
	chain := make([]Middleware, 0, len(g.mws)+len(mws))
	chain = append(chain, g.mws...)
	chain = append(chain, mws...)
	g.app.Dispatcher.AddRoute(method, g.prefix+path, compose(handler, chain...))
}
