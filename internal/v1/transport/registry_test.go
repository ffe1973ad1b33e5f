package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBareConn(tags ...string) *Conn {
	c := &Conn{
		tags: make(map[string]struct{}, len(tags)),
	}
	for _, t := range tags {
		c.tags[t] = struct{}{}
	}
	return c
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	c := newBareConn("room:ABCDEF", "player:ABCDEF", "user:u1")

	r.Add(c)
	assert.Equal(t, 1, r.CountByTag("room:ABCDEF"))
	assert.Equal(t, 1, r.CountByTag("player:ABCDEF"))

	r.Remove(c)
	assert.Equal(t, 0, r.CountByTag("room:ABCDEF"))
	assert.Equal(t, 0, r.CountByTag("player:ABCDEF"))
}

func TestRegistry_Retag(t *testing.T) {
	r := NewRegistry()
	c := newBareConn("room:ABCDEF", "spectator:ABCDEF", "user:u1")
	r.Add(c)
	require.Equal(t, 1, r.CountByTag("spectator:ABCDEF"))

	r.Retag(c, []string{"room:ABCDEF", "player:ABCDEF", "user:u1"})

	assert.Equal(t, 0, r.CountByTag("spectator:ABCDEF"))
	assert.Equal(t, 1, r.CountByTag("player:ABCDEF"))
	assert.True(t, c.HasTag("player:ABCDEF"))
	assert.False(t, c.HasTag("spectator:ABCDEF"))
}

func TestRegistry_ByTagInvariant(t *testing.T) {
	r := NewRegistry()
	a := newBareConn("room:X", "player:X", "user:a")
	b := newBareConn("room:X", "spectator:X", "user:b")
	r.Add(a)
	r.Add(b)

	players := r.ByTag("player:X")
	spectators := r.ByTag("spectator:X")
	require.Len(t, players, 1)
	require.Len(t, spectators, 1)
	assert.Equal(t, a, players[0])
	assert.Equal(t, b, spectators[0])
	assert.Len(t, r.ByTag("room:X"), 2)
}
