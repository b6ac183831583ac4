package weir

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"
)

// App is the top-level application: one Route Trie, one Dispatcher running
// the cache layer and middleware pipeline in front of it, and one Broadcast
// Registry serving every upgraded WebSocket connection.
type App struct {
	Config

	Router     *Router
	Dispatcher *Dispatcher
	Logger     *Logger
	Registry   *Registry

	pools *objectPools

	httpServer *http.Server
	listener   *keepAliveListener

	shutdownJobMutex sync.Mutex
	shutdownJobs     []func()
	shutdownJobOnce  sync.Once
	shutdownJobDone  chan struct{}
}

// New returns an App configured with cfg, wiring the Route Trie, the
// Dispatcher's cache layer, and the Broadcast Registry according to it.
func New(cfg Config) *App {
	router := NewRouter()
	a := &App{
		Config:          cfg,
		Router:          router,
		pools:           newObjectPools(),
		shutdownJobDone: make(chan struct{}),
	}
	// Logger must exist before Registry and Dispatcher, both of which take
	// a reference to it so their own event logging has somewhere to go.
	a.Logger = newLogger(a)
	a.Registry = NewRegistry(cfg.WebSocket.EnableQueue, cfg.WebSocket.MaxQueueSize)
	a.Registry.SetLogger(a.Logger)
	a.Dispatcher = NewDispatcher(router, DispatcherConfig{
		EnableRouteCache:       cfg.EnableRouteCache,
		RouteCacheSize:         cfg.RouteCacheCapacity,
		URLCacheSize:           cfg.URLCacheCapacity,
		DebugStackTraces:       cfg.DebugMode,
		EnablePerformanceHooks: cfg.PerformanceHooksEnabled,
	}, a.Logger)
	return a
}

// Default returns an App configured with defaultConfig's documented
// defaults.
func Default() *App {
	return New(defaultConfig())
}

// GET registers handler for GET requests matching path.
func (a *App) GET(path string, handler Handler) { a.Dispatcher.AddRoute(http.MethodGet, path, handler) }

// HEAD registers handler for HEAD requests matching path.
func (a *App) HEAD(path string, handler Handler) {
	a.Dispatcher.AddRoute(http.MethodHead, path, handler)
}

// POST registers handler for POST requests matching path.
func (a *App) POST(path string, handler Handler) {
	a.Dispatcher.AddRoute(http.MethodPost, path, handler)
}

// PUT registers handler for PUT requests matching path.
func (a *App) PUT(path string, handler Handler) { a.Dispatcher.AddRoute(http.MethodPut, path, handler) }

// PATCH registers handler for PATCH requests matching path.
func (a *App) PATCH(path string, handler Handler) {
	a.Dispatcher.AddRoute(http.MethodPatch, path, handler)
}

// DELETE registers handler for DELETE requests matching path.
func (a *App) DELETE(path string, handler Handler) {
	a.Dispatcher.AddRoute(http.MethodDelete, path, handler)
}

// OPTIONS registers handler for OPTIONS requests matching path.
func (a *App) OPTIONS(path string, handler Handler) {
	a.Dispatcher.AddRoute(http.MethodOptions, path, handler)
}

// ALL registers handler for every standard HTTP method at path.
func (a *App) ALL(path string, handler Handler) {
	for _, m := range []string{
		http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions,
	} {
		a.Dispatcher.AddRoute(m, path, handler)
	}
}

// Use registers global middleware.
func (a *App) Use(mw Middleware) { a.Dispatcher.Use(mw) }

// UsePrefix registers middleware activated for every path sharing prefix.
func (a *App) UsePrefix(prefix string, mw Middleware) { a.Dispatcher.UsePrefix(prefix, mw) }

// UseError registers error middleware, run in registration order.
func (a *App) UseError(mw ErrorMiddleware) { a.Dispatcher.UseError(mw) }

// SetNotFoundHandler overrides the terminal handler run when no route
// matches.
func (a *App) SetNotFoundHandler(h Handler) { a.Dispatcher.SetNotFoundHandler(h) }

// Merge overlays other's routes onto a's router.
func (a *App) Merge(other *Router) { a.Dispatcher.MergeRouter(other) }

// Nest mounts other's routes under prefix.
func (a *App) Nest(prefix string, other *Router) { a.Dispatcher.NestRouter(prefix, other) }

// Routes returns the registered (method, path) pairs in insertion order.
func (a *App) Routes() []RouteRecord { return a.Router.Routes() }

// Stats returns the current performance-hook snapshot, zeroed unless
// PerformanceHooksEnabled was set.
func (a *App) Stats() Stats { return a.Dispatcher.Stats() }

// WS registers a WebSocket endpoint at path. setup is called with the new
// Connection once the handshake completes and before its read loop starts,
// so it can install TextHandler/BinaryHandler/CloseHandler/ErrorHandler and
// join rooms.
func (a *App) WS(path string, setup func(*Connection)) {
	a.Dispatcher.AddRoute(http.MethodGet, path, func(req *Request, res *Response) error {
		if !IsUpgradeRequest(req) {
			return NewHTTPError(http.StatusUpgradeRequired, "expected a websocket upgrade")
		}

		conn, rw, subprotocol, err := Upgrade(req, res, nil)
		if err != nil {
			return err
		}

		c := newConnection(newConnectionID(), conn, rw, subprotocol, a.Config.WebSocket, a.Registry)
		a.Registry.Register(c)
		a.Logger.ConnectionOpened(c.ID, req.raw.RemoteAddr)
		if setup != nil {
			setup(c)
		}
		go c.run()
		return nil
	})
}

func newConnectionID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// AddShutdownJob registers f to run, once, when Shutdown is called. The
// returned id can be passed to RemoveShutdownJob.
func (a *App) AddShutdownJob(f func()) int {
	a.shutdownJobMutex.Lock()
	defer a.shutdownJobMutex.Unlock()
	a.shutdownJobs = append(a.shutdownJobs, f)
	return len(a.shutdownJobs) - 1
}

// RemoveShutdownJob cancels the shutdown job registered under id.
func (a *App) RemoveShutdownJob(id int) {
	a.shutdownJobMutex.Lock()
	defer a.shutdownJobMutex.Unlock()
	if id >= 0 && id < len(a.shutdownJobs) {
		a.shutdownJobs[id] = nil
	}
}

// Serve builds the underlying *http.Server from a's Config, listens on
// Config.Address, and blocks serving HTTP and upgraded WebSocket traffic until Shutdown or
// Close is called.
func (a *App) Serve() error {
	a.httpServer = newHTTPServer(a)

	ln, err := listen(a.Config.Address)
	if err != nil {
		return err
	}
	a.listener = ln

	a.httpServer.RegisterOnShutdown(func() {
		a.Registry.CloseAll(CloseGoingAway, "server shutting down")
		a.runShutdownJobs()
	})

	if a.Config.DebugMode {
		a.Logger.Infof("weir: serving in debug mode on %s", a.Config.Address)
	}

	err = a.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (a *App) runShutdownJobs() {
	a.shutdownJobOnce.Do(func() {
		var wg sync.WaitGroup
		a.shutdownJobMutex.Lock()
		jobs := append([]func(){}, a.shutdownJobs...)
		a.shutdownJobMutex.Unlock()

		for _, job := range jobs {
			if job == nil {
				continue
			}
			wg.Add(1)
			go func(job func()) {
				defer wg.Done()
				job()
			}(job)
		}
		wg.Wait()
		close(a.shutdownJobDone)
	})
}

// Close closes the underlying server immediately, without waiting for
// in-flight requests.
func (a *App) Close() error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Close()
}

// Shutdown gracefully drains in-flight HTTP requests, closes every open
// WebSocket connection with code 1001, runs every registered shutdown job,
// and waits for ctx or for that draining to complete, whichever happens
// first.
func (a *App) Shutdown(ctx context.Context) error {
	if a.httpServer == nil {
		return nil
	}
	err := a.httpServer.Shutdown(ctx)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.shutdownJobDone:
	}
	return err
}

// ServeHTTP implements http.Handler, running the full Dispatcher pipeline
// for one request using pooled Request/Response values.
func (a *App) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	req := a.pools.getRequest()
	res := a.pools.getResponse()

	req.feed(r, a.Config.BodyReadCap)
	res.feed(req, rw)

	a.Dispatcher.Dispatch(req, res)

	a.pools.putRequest(req)
	a.pools.putResponse(res)
}

// addresses reports the address weir is actually listening on.
func (a *App) addresses() []string {
	if a.listener == nil {
		return nil
	}
	addrs := []string{a.listener.Addr().String()}
	sort.Strings(addrs)
	return addrs
}

// WrapHTTPHandler adapts an http.Handler into a Handler, for mounting
// ordinary net/http handlers inside the Dispatcher pipeline.
func WrapHTTPHandler(hh http.Handler) Handler {
	return func(req *Request, res *Response) error {
		hh.ServeHTTP(res.HTTPResponseWriter(), req.HTTPRequest())
		return nil
	}
}

// WrapHTTPMiddleware adapts a standard http.Handler middleware into a
// Middleware.
func WrapHTTPMiddleware(hm func(http.Handler) http.Handler) Middleware {
	return func(next Handler) Handler {
		return func(req *Request, res *Response) error {
			var err error
			hm(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
				err = next(req, res)
			})).ServeHTTP(res.HTTPResponseWriter(), req.HTTPRequest())
			return err
		}
	}
}
