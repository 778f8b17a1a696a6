package xid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a := New("cart")
	b := New("cart")
	assert.True(t, strings.HasPrefix(a, "cart-"))
	assert.NotEqual(t, a, b)
	assert.Len(t, New(""), 32)
}
