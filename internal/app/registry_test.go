package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryReleasesSubscriptions(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	r.Bind("s1", "call-1", cancel)
	r.Bind("s2", "call-1", func() {})

	released := 0
	assert.True(t, r.AddSubscription("s1", func() { released++ }))
	assert.True(t, r.AddSubscription("s1", func() { released++ }))
	assert.Equal(t, 2, r.WatchersOf("call-1"))

	r.Unbind("s1")
	r.Unbind("s1")
	assert.Equal(t, 2, released)
	assert.Error(t, ctx.Err())
	assert.Equal(t, 1, r.Count())

	_, ok := r.CallOf("s1")
	assert.False(t, ok)
	assert.False(t, r.AddSubscription("s1", func() { released++ }))
	assert.Equal(t, 3, released)

	r.CancelAll()
	assert.Zero(t, r.Count())
}
