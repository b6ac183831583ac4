package weir

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler(tag string) Handler {
	return func(req *Request, res *Response) error {
		return res.WriteString(tag)
	}
}

func TestRouterStaticLookup(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users", okHandler("list"))
	r.Insert(http.MethodGet, "/users/active", okHandler("active"))

	res, ok := r.Lookup(http.MethodGet, "/users")
	assert.True(t, ok)
	assert.Equal(t, 0, res.Params.Len())

	res, ok = r.Lookup(http.MethodGet, "/users/active")
	assert.True(t, ok)
	assert.Equal(t, 0, res.Params.Len())

	_, ok = r.Lookup(http.MethodGet, "/missing")
	assert.False(t, ok)
}

func TestRouterParamLookup(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users/:id", okHandler("show"))

	res, ok := r.Lookup(http.MethodGet, "/users/42")
	assert.True(t, ok)
	assert.Equal(t, "42", res.Params.Get("id"))
}

func TestRouterCatchAllLookup(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/static/**rest", okHandler("static"))

	res, ok := r.Lookup(http.MethodGet, "/static/js/app.js")
	assert.True(t, ok)
	assert.Equal(t, "js/app.js", res.Params.Get("rest"))

	res, ok = r.Lookup(http.MethodGet, "/static")
	assert.True(t, ok)
	assert.Equal(t, "", res.Params.Get("rest"))
}

func TestRouterStaticBeatsParam(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users/:id", okHandler("param"))
	r.Insert(http.MethodGet, "/users/me", okHandler("static"))

	res, ok := r.Lookup(http.MethodGet, "/users/me")
	assert.True(t, ok)
	assert.Equal(t, 0, res.Params.Len())

	res, ok = r.Lookup(http.MethodGet, "/users/42")
	assert.True(t, ok)
	assert.Equal(t, "42", res.Params.Get("id"))
}

func TestRouterHeadFallsBackToGet(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/ping", okHandler("pong"))

	_, ok := r.Lookup(http.MethodHead, "/ping")
	assert.True(t, ok)
}

func TestRouterResultParamsAreFrozen(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users/:id", okHandler("show"))

	res, ok := r.Lookup(http.MethodGet, "/users/1")
	assert.True(t, ok)
	assert.Panics(t, func() {
		res.Params.set("id", "2")
	})
}

func TestRouterMergeCombinesRoutes(t *testing.T) {
	a := NewRouter()
	a.Insert(http.MethodGet, "/a", okHandler("a"))

	b := NewRouter()
	b.Insert(http.MethodGet, "/b", okHandler("b"))

	a.Merge(b)

	_, ok := a.Lookup(http.MethodGet, "/a")
	assert.True(t, ok)
	_, ok = a.Lookup(http.MethodGet, "/b")
	assert.True(t, ok)
}

func TestRouterNestPrefixesRoutes(t *testing.T) {
	a := NewRouter()
	sub := NewRouter()
	sub.Insert(http.MethodGet, "/ping", okHandler("pong"))

	a.Nest("/api", sub)

	_, ok := a.Lookup(http.MethodGet, "/api/ping")
	assert.True(t, ok)
	_, ok = a.Lookup(http.MethodGet, "/ping")
	assert.False(t, ok)
}

func TestRouterRoutesPreservesInsertionOrder(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/first", okHandler("1"))
	r.Insert(http.MethodPost, "/second", okHandler("2"))

	recs := r.Routes()
	assert.Len(t, recs, 2)
	assert.Equal(t, "/first", recs[0].Path)
	assert.Equal(t, "/second", recs[1].Path)
}

func TestRouterPercentDecodingInPath(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/a b", okHandler("space"))

	_, ok := r.Lookup(http.MethodGet, "/a%20b")
	assert.True(t, ok)
}

func TestRouterInvalidPercentEncodingMisses(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/a", okHandler("a"))

	_, ok := r.Lookup(http.MethodGet, "/a%zz")
	assert.False(t, ok)
}

func TestRouterLookupMethodReportsMethodMismatch(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users", okHandler("list"))
	r.Insert(http.MethodPost, "/users", okHandler("create"))

	_, outcome := r.LookupMethod(http.MethodDelete, "/users")
	assert.Equal(t, MethodMismatch, outcome)

	_, outcome = r.LookupMethod(http.MethodGet, "/missing")
	assert.Equal(t, NoMatch, outcome)

	_, outcome = r.LookupMethod(http.MethodGet, "/users")
	assert.Equal(t, Matched, outcome)
}

func TestRouterLookupMethodMismatchYieldsToCatchAllFallback(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/files/:name", okHandler("file"))
	r.Insert(http.MethodPost, "/files/**rest", okHandler("upload"))

	res, outcome := r.LookupMethod(http.MethodPost, "/files/report.pdf")
	assert.Equal(t, Matched, outcome)
	assert.Equal(t, "report.pdf", res.Params.Get("rest"))
}

func TestRouterLookupWithDrawsFromSuppliedParams(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/users/:id", okHandler("show"))

	pool := NewParamsPool()
	p := pool.Get()
	p.set("stale", "leftover")

	res, outcome := r.LookupWith(http.MethodGet, "/users/7", p)
	assert.Equal(t, Matched, outcome)
	assert.Equal(t, "7", res.Params.Get("id"))
	assert.Equal(t, "leftover", res.Params.Get("stale"), "LookupWith mutates the caller's Params in place rather than starting fresh")
}

func TestRouterPatternSegmentLookup(t *testing.T) {
	r := NewRouter()
	r.Insert(http.MethodGet, "/assets/*.js", okHandler("js"))

	_, ok := r.Lookup(http.MethodGet, "/assets/app.js")
	assert.True(t, ok)
	_, ok = r.Lookup(http.MethodGet, "/assets/app.css")
	assert.False(t, ok)
}
