package weir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerfHooksDisabledIsNoop(t *testing.T) {
	p := newPerfHooks(false)
	p.record(10 * time.Millisecond)

	s := p.snapshot()
	assert.Equal(t, int64(0), s.DispatchCount)
	assert.Equal(t, time.Duration(0), s.TotalDuration)
}

func TestPerfHooksAccumulates(t *testing.T) {
	p := newPerfHooks(true)
	p.record(10 * time.Millisecond)
	p.record(5 * time.Millisecond)

	s := p.snapshot()
	assert.Equal(t, int64(2), s.DispatchCount)
	assert.Equal(t, 15*time.Millisecond, s.TotalDuration)
}
