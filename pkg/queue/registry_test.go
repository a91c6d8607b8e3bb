package queue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandRegistry_RegisterPreventsDuplicate(t *testing.T) {
	r := newCommandRegistry()
	_, cancel1 := context.WithCancel(context.Background())
	_, cancel2 := context.WithCancel(context.Background())

	assert.True(t, r.RegisterCommand("cmd-1", cancel1))
	assert.False(t, r.RegisterCommand("cmd-1", cancel2))
	assert.Equal(t, 1, r.activeCount())
}

func TestCommandRegistry_UnregisterAllowsReRegister(t *testing.T) {
	r := newCommandRegistry()
	_, cancel := context.WithCancel(context.Background())

	a := assert.New(t)
	a.True(r.RegisterCommand("cmd-1", cancel))
	r.UnregisterCommand("cmd-1")
	a.Equal(0, r.activeCount())

	_, cancel2 := context.WithCancel(context.Background())
	a.True(r.RegisterCommand("cmd-1", cancel2))
}

func TestCommandRegistry_UnregisterUnknownIsNoop(t *testing.T) {
	r := newCommandRegistry()
	r.UnregisterCommand("does-not-exist")
	assert.Equal(t, 0, r.activeCount())
}
