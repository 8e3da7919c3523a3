package verp

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReturnPathFormat(t *testing.T) {
	g := New("mx.ultrazend.com")
	addr := g.ReturnPath("12345", "sender@example.com")
	assert.Regexp(t, regexp.MustCompile(`^bounce-12345-[a-f0-9]{8}@mx\.ultrazend\.com$`), addr)
}

func TestReturnPathDeterministic(t *testing.T) {
	g := New("mx.ultrazend.com")
	a := g.ReturnPath("12345", "sender@example.com")
	b := g.ReturnPath("12345", "sender@example.com")
	assert.Equal(t, a, b, "retries of the same message must reuse the identical address")

	c := g.ReturnPath("12345", "other@example.com")
	assert.NotEqual(t, a, c, "a different original sender must yield a different hash")
}

func TestParseAndVerify(t *testing.T) {
	g := New("mx.ultrazend.com")
	addr := g.ReturnPath("ch72gsb320000udocl363", "sender@example.com")

	messageId, hash, ok := Parse(addr)
	require.True(t, ok)
	assert.Equal(t, "ch72gsb320000udocl363", messageId)
	assert.True(t, g.Verify(messageId, "sender@example.com", hash))
	assert.False(t, g.Verify(messageId, "forged@example.com", hash))
	assert.False(t, g.Verify(messageId, "sender@example.com", "00000000"))
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, addr := range []string{
		"",
		"user@example.com",
		"bounce-@example.com",
		"bounce-12345-zzzz@example.com",
		"bounces_12345@example.com",
	} {
		_, _, ok := Parse(addr)
		assert.False(t, ok, addr)
	}
}
