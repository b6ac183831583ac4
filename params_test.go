package weir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsGetHasLen(t *testing.T) {
	p := NewParams()
	assert.Equal(t, 0, p.Len())
	assert.False(t, p.Has("id"))

	p.set("id", "42")
	assert.True(t, p.Has("id"))
	assert.Equal(t, "42", p.Get("id"))
	assert.Equal(t, "", p.Get("missing"))
	assert.Equal(t, 1, p.Len())
}

func TestParamsFreezePanicsOnMutate(t *testing.T) {
	p := NewParams()
	p.set("id", "1")
	p.freeze()

	assert.True(t, p.frozenState())
	assert.Panics(t, func() {
		p.set("id", "2")
	})
}

func TestParamsCloneIsIndependent(t *testing.T) {
	p := NewParams()
	p.set("id", "1")
	clone := p.clone()
	clone.set("id", "2")

	assert.Equal(t, "1", p.Get("id"))
	assert.Equal(t, "2", clone.Get("id"))
	assert.False(t, clone.frozenState())
}

func TestParamsResetClearsAndUnfreezes(t *testing.T) {
	p := NewParams()
	p.set("id", "1")
	p.freeze()
	p.reset()

	assert.False(t, p.frozenState())
	assert.Equal(t, 0, p.Len())
	// reset must leave p usable again.
	p.set("id", "2")
	assert.Equal(t, "2", p.Get("id"))
}

func TestParamsEachVisitsEveryBinding(t *testing.T) {
	p := NewParams()
	p.set("id", "1")
	p.set("slug", "foo")

	seen := map[string]string{}
	p.Each(func(name, value string) {
		seen[name] = value
	})
	assert.Equal(t, map[string]string{"id": "1", "slug": "foo"}, seen)
}
