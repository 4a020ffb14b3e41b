package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeNext(t *testing.T) {
	assert.Equal(t, "/discover", SafeNext("/discover", "/feed"))
	assert.Equal(t, "/feed", SafeNext("", "/feed"))
	assert.Equal(t, "/feed", SafeNext("https://evil.example.com/", "/feed"))
	assert.Equal(t, "/feed", SafeNext("//evil.example.com/", "/feed"))
	assert.Equal(t, "/feed", SafeNext("feed", "/feed"))
	assert.Equal(t, "/post/1?x=1", SafeNext("/post/1?x=1", "/feed"))
}
