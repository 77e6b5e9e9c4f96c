package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionRegistry_RegisterAndLookup(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("wf-1", "session-abc")
	sid, ok := r.SessionFor("wf-1")
	assert.True(t, ok)
	assert.Equal(t, "session-abc", sid)
	assert.Equal(t, 1, r.Len())
}

func TestSessionRegistry_NotFound(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionFor("unknown")
	assert.False(t, ok)
}

func TestSessionRegistry_LastRunnerWins(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("wf-1", "session-old")
	r.Register("wf-1", "session-new")

	sid, ok := r.SessionFor("wf-1")
	assert.True(t, ok)
	assert.Equal(t, "session-new", sid)
}

func TestSessionRegistry_Remove(t *testing.T) {
	r := NewSessionRegistry()

	r.Register("wf-1", "session-abc")
	r.Register("wf-2", "session-abc")
	r.Register("wf-3", "session-xyz")

	r.Remove("session-abc")

	_, ok := r.SessionFor("wf-1")
	assert.False(t, ok, "wf-1 should be removed")
	_, ok = r.SessionFor("wf-2")
	assert.False(t, ok, "wf-2 should be removed")

	sid, ok := r.SessionFor("wf-3")
	assert.True(t, ok, "wf-3 should still be watched")
	assert.Equal(t, "session-xyz", sid)
}
