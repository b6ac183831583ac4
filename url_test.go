package weir

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLStringAssemblesFullURL(t *testing.T) {
	u := URL{Scheme: "https", Host: "example.com", Path: "/a/b", Query: "x=1"}
	assert.Equal(t, "https://example.com/a/b?x=1", u.String())
}

func TestURLStringWithoutSchemeOrHost(t *testing.T) {
	u := URL{Path: "/a/b"}
	assert.Equal(t, "/a/b", u.String())
}

func TestRequestURLInfersSchemeFromTLS(t *testing.T) {
	hr := httptest.NewRequest(http.MethodGet, "/secure", nil)
	r := newRequest()
	r.feed(hr, 0)
	assert.Equal(t, "http", r.URL().Scheme)
}

func TestRequestQueryParamReadsFirstValue(t *testing.T) {
	hr := httptest.NewRequest(http.MethodGet, "/search?q=go&q=lang", nil)
	r := newRequest()
	r.feed(hr, 0)

	assert.Equal(t, "go", r.QueryParam("q"))
	assert.Equal(t, []string{"go", "lang"}, r.QueryParams()["q"])
}

func TestRequestQueryParamMissingReturnsEmpty(t *testing.T) {
	hr := httptest.NewRequest(http.MethodGet, "/search", nil)
	r := newRequest()
	r.feed(hr, 0)

	assert.Equal(t, "", r.QueryParam("q"))
}
