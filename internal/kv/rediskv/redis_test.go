package rediskv

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, `walletsync:cursor.\*\?\[x\]\\`, escapeGlob(`walletsync:cursor.*?[x]\`))
	assert.Equal(t, "plain", escapeGlob("plain"))
}

func TestDedupSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, dedupSorted([]string{"a", "a", "b", "c", "c"}))
	assert.Empty(t, dedupSorted(nil))
	assert.Equal(t, []string{"a"}, dedupSorted([]string{"a"}))
}
