package chatsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnchoredOffset(t *testing.T) {
	assert.Equal(t, 650, AnchoredOffset(1000, 50, 1600))
	assert.Equal(t, 50, AnchoredOffset(1000, 50, 1000))
}

func TestScrollDirectiveResolve(t *testing.T) {
	offset, ok := ScrollDirective{Kind: ScrollPreserve, Before: ScrollPosition{Height: 800, Offset: 10}}.Resolve(1200)
	assert.True(t, ok)
	assert.Equal(t, 410, offset)

	offset, ok = ScrollDirective{Kind: ScrollToBottom}.Resolve(1200)
	assert.True(t, ok)
	assert.Equal(t, 1200, offset)

	_, ok = ScrollDirective{}.Resolve(1200)
	assert.False(t, ok)
}

func TestNearTop(t *testing.T) {
	assert.True(t, NearTop(0, 40))
	assert.True(t, NearTop(40, 40))
	assert.False(t, NearTop(41, 40))
}
