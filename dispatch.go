package weir

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"
)

// prefixMiddleware is one entry in the path-prefix middleware registry: a
// middleware plus the path prefix that activates it, kept in registration
// order.
type prefixMiddleware struct {
	prefix string
	mw     Middleware
}

// Dispatcher is the per-request state machine: it walks global and
// path-prefix middleware, consults the cache layer ahead of the Route Trie,
// runs the matched handler, and on any surfaced error runs the error chain
// followed by a default JSON terminator.
type Dispatcher struct {
	router *Router
	logger *Logger

	useRouteCache bool
	routeCache    *RouteCache
	exactMap      *ExactRouteMap
	urlCache      *URLParseCache
	paramsPool    *ParamsPool

	global   []Middleware
	prefixMW []prefixMiddleware
	errorMW  []ErrorMiddleware

	notFoundHandler Handler

	errorTerminator ErrorHandler
	debugStackTrace bool

	perf *perfHooks
}

// DispatcherConfig configures the cache layer a Dispatcher wires up,
// mirroring router options.
type DispatcherConfig struct {
	EnableRouteCache       bool
	RouteCacheSize         int
	URLCacheSize           int
	DebugStackTraces       bool
	EnablePerformanceHooks bool
}

// NewDispatcher returns a Dispatcher for router, wiring the cache layer
// according to cfg. logger may be nil, in which case the dispatch pipeline
// runs without any of its Debug/Warn/Error event logging.
func NewDispatcher(router *Router, cfg DispatcherConfig, logger *Logger) *Dispatcher {
	d := &Dispatcher{
		router:          router,
		logger:          logger,
		useRouteCache:   cfg.EnableRouteCache,
		paramsPool:      NewParamsPool(),
		debugStackTrace: cfg.DebugStackTraces,
		perf:            newPerfHooks(cfg.EnablePerformanceHooks),
	}
	if cfg.EnableRouteCache {
		size := cfg.RouteCacheSize
		if size < 1 {
			size = 1024
		}
		d.routeCache = NewRouteCache(size)
		d.routeCache.SetLogger(logger)
		d.exactMap = NewExactRouteMap()
		d.exactMap.Rebuild(router, func(method, path string) (Handler, bool) {
			res, ok := router.Lookup(method, path)
			return res.Handler, ok
		})
	}
	urlSize := cfg.URLCacheSize
	if urlSize < 1 {
		urlSize = 1024
	}
	d.urlCache = NewURLParseCache(urlSize)
	d.urlCache.SetLogger(logger)

	d.notFoundHandler = DefaultNotFoundHandler
	d.errorTerminator = d.defaultErrorTerminator
	return d
}

// Use registers global middleware, run ahead of every request regardless of
// path.
func (d *Dispatcher) Use(mw Middleware) {
	d.global = append(d.global, mw)
}

// UsePrefix registers middleware activated for every request whose path
// begins with prefix.
func (d *Dispatcher) UsePrefix(prefix string, mw Middleware) {
	d.prefixMW = append(d.prefixMW, prefixMiddleware{prefix: prefix, mw: mw})
}

// UseError registers error middleware, run in registration order once a
// handler or middleware surfaces an error.
func (d *Dispatcher) UseError(mw ErrorMiddleware) {
	d.errorMW = append(d.errorMW, mw)
}

// SetNotFoundHandler overrides the terminal handler run when no route
// matches; the default writes ErrNotFound to the error chain.
func (d *Dispatcher) SetNotFoundHandler(h Handler) {
	d.notFoundHandler = h
}

// AddRoute inserts (method, path, handler) into the trie and invalidates the
// cache layer, so no stale route or exact-match entry outlives the
// mutation that obsoleted it.
func (d *Dispatcher) AddRoute(method, path string, handler Handler) {
	d.router.Insert(method, path, handler)
	d.invalidateRouteCache()
}

// MergeRouter overlays other onto the dispatcher's router and invalidates
// the cache layer.
func (d *Dispatcher) MergeRouter(other *Router) {
	d.router.Merge(other)
	d.invalidateRouteCache()
}

// NestRouter mounts other under prefix and invalidates the cache layer.
func (d *Dispatcher) NestRouter(prefix string, other *Router) {
	d.router.Nest(prefix, other)
	d.invalidateRouteCache()
}

func (d *Dispatcher) invalidateRouteCache() {
	if !d.useRouteCache {
		return
	}
	d.routeCache.Clear()
	d.exactMap.Rebuild(d.router, func(method, path string) (Handler, bool) {
		res, ok := d.router.Lookup(method, path)
		return res.Handler, ok
	})
}

// Dispatch runs the full pipeline for one request/response pair: middleware
// chain, route lookup, handler, and on error the error chain plus the
// default terminator. It recovers a panicking middleware or handler,
// converting it into an ordinary error so the error chain still runs and
// the response still terminates exactly once.
func (d *Dispatcher) Dispatch(req *Request, res *Response) {
	start := time.Now()
	d.primeURLParse(req)

	mws := d.middlewareFor(req.Path())
	h := compose(d.dispatchRoute, mws...)

	err := d.runRecovered(h, req, res)
	if err != nil {
		d.runErrorChain(err, req, res)
	}
	elapsed := time.Since(start)
	d.perf.record(elapsed)
	if d.logger != nil && d.perf.enabled {
		d.logger.DispatchTrace(req.Method, req.Path(), res.Status, elapsed)
	}
}

// Stats returns the performance hooks' current snapshot. It reads as a
// zeroed Stats when EnablePerformanceHooks was never set.
func (d *Dispatcher) Stats() Stats {
	return d.perf.snapshot()
}

func (d *Dispatcher) runRecovered(h Handler, req *Request, res *Response) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.HandlerPanic(req.Method, req.Path(), r)
			}
			err = fmt.Errorf("weir: panic in handler: %v\n%s", r, debug.Stack())
		}
	}()
	return h(req, res)
}

// primeURLParse consults the URL parse cache for req.RawURL, populating
// req's path/query from it on a hit and storing a fresh split on a miss.
func (d *Dispatcher) primeURLParse(req *Request) {
	if entry, ok := d.urlCache.Get(req.RawURL); ok {
		req.primePathQuery(entry.Path, entry.Query)
		return
	}
	path, query := splitPathQuery(req.RawURL)
	req.primePathQuery(path, query)
	d.urlCache.Set(req.RawURL, urlParseEntry{Path: path, Query: query})
}

// middlewareFor assembles the chain for path: global middleware first, then
// every path-prefix middleware whose prefix matches, in registration order.
func (d *Dispatcher) middlewareFor(path string) []Middleware {
	if len(d.prefixMW) == 0 {
		return d.global
	}
	out := make([]Middleware, 0, len(d.global)+len(d.prefixMW))
	out = append(out, d.global...)
	for _, pm := range d.prefixMW {
		if strings.HasPrefix(path, pm.prefix) {
			out = append(out, pm.mw)
		}
	}
	return out
}

// dispatchRoute is the pipeline's terminal Handler: it resolves (method,
// path) via the cache layer before falling back to the trie, binds
// req.Params, and invokes the matched handler.
func (d *Dispatcher) dispatchRoute(req *Request, res *Response) error {
	path := req.Path()

	if d.useRouteCache {
		if h, ok := d.exactMap.Get(req.Method, path); ok {
			return d.invoke(h, emptyFrozenParams(), false, req, res)
		}

		key := req.Method + ":" + path
		entry, outcome := d.routeCache.GetOrLoad(key, func() (Handler, Params, LookupOutcome) {
			result, outcome := d.router.LookupMethod(req.Method, path)
			if outcome != Matched {
				return nil, Params{}, outcome
			}
			return result.Handler, result.Params, Matched
		})
		switch outcome {
		case MethodMismatch:
			return d.methodNotAllowed(req, res)
		case NoMatch:
			return d.notFoundHandler(req, res)
		}
		// Params living in the route cache are shared across every future
		// hit; they are never released back to the params pool.
		return d.invoke(entry.handler, entry.params, false, req, res)
	}

	params := d.paramsPool.Get()
	result, outcome := d.router.LookupWith(req.Method, path, params)
	switch outcome {
	case MethodMismatch:
		d.paramsPool.Release(params, true)
		return d.methodNotAllowed(req, res)
	case NoMatch:
		d.paramsPool.Release(params, true)
		return d.notFoundHandler(req, res)
	}
	// This Params was drawn from the pool for this one lookup, so it is
	// eligible for reclamation once the handler returns.
	return d.invoke(result.Handler, result.Params, true, req, res)
}

// methodNotAllowed surfaces ErrMethodNotAllowed into the error chain: the
// requested path matched a registered route, just not for this method.
func (d *Dispatcher) methodNotAllowed(req *Request, res *Response) error {
	if d.logger != nil {
		d.logger.Warnf("%s %s matched no handler for this method", req.Method, req.Path())
	}
	return ErrMethodNotAllowed
}

func (d *Dispatcher) invoke(h Handler, params Params, owned bool, req *Request, res *Response) error {
	req.Params = params
	defer d.paramsPool.Release(params, owned)
	return h(req, res)
}

func emptyFrozenParams() Params {
	p := NewParams()
	p.freeze()
	return p
}

// runErrorChain runs the registered error middleware in order, then the
// error terminator, which writes the default JSON body if nothing upstream
// already terminated the response.
func (d *Dispatcher) runErrorChain(err error, req *Request, res *Response) {
	chain := composeError(d.errorTerminator, d.errorMW...)
	// The error chain itself must not panic the connection; a panicking
	// error middleware falls back to the bare terminator.
	defer func() {
		if r := recover(); r != nil {
			d.errorTerminator(fmt.Errorf("weir: panic in error middleware: %v", r), req, res)
		}
	}()
	_ = chain(err, req, res)
}

// defaultErrorTerminator writes the default JSON error body. If the
// response already terminated (headers sent by the handler before the
// error occurred), it drops the error rather than double-emitting.
func (d *Dispatcher) defaultErrorTerminator(err error, req *Request, res *Response) error {
	if res.Written {
		return nil
	}

	status := statusFromError(err)
	body := errorJSONBody{
		Error:      err.Error(),
		StatusCode: status,
	}

	var he *HTTPError
	if errors.As(err, &he) && he.Code != "" {
		body.Code = he.Code
	}
	if d.debugStackTrace {
		body.Stack = fmt.Sprintf("%+v", err)
	}

	res.Status = status
	b, marshalErr := json.Marshal(body)
	if marshalErr != nil {
		res.Status = http.StatusInternalServerError
		return res.WriteString(`{"error":"internal error","statusCode":500}`)
	}
	res.SetHeader("Content-Type", "application/json; charset=utf-8")
	_, werr := res.Write(b)
	return werr
}

// DefaultNotFoundHandler is the terminal handler run when no route matches,
// surfacing ErrNotFound into the error chain unless the application
// installed its own catch-all route or a custom not-found handler.
func DefaultNotFoundHandler(req *Request, res *Response) error {
	return ErrNotFound
}
