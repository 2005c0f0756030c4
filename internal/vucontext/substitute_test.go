package vucontext

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstituteBracedAndBare(t *testing.T) {
	c := New()
	c.Set("pid", "X7")

	assert.Equal(t, "/item/X7", c.Substitute("/item/${pid}"))
	assert.Equal(t, "/item/X7", c.Substitute("/item/$pid"))
}

func TestSubstituteUnboundNameIsEmpty(t *testing.T) {
	c := New()
	assert.Equal(t, "value=", c.Substitute("value=${missing}"))
}

func TestSubstituteIdempotentWithoutDollar(t *testing.T) {
	c := New()
	c.Set("x", "1")
	plain := "no substitution markers here"
	assert.Equal(t, plain, c.Substitute(plain))
}

func TestSubstituteTimestampIsRecentEpochMs(t *testing.T) {
	c := New()
	out := c.Substitute("${timestamp}")
	n, err := strconv.ParseInt(out, 10, 64)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, len(out), 10)
	assert.LessOrEqual(t, len(out), 13)
	assert.Greater(t, n, int64(0))
}

func TestSubstituteTimestampIgnoresAnyBinding(t *testing.T) {
	c := New()
	c.Set("timestamp", "ignored")
	out := c.Substitute("${timestamp}")
	assert.NotEqual(t, "ignored", out)
}

func TestMergeAndResetAndStep(t *testing.T) {
	c := New()
	c.Merge(map[string]string{"a": "1", "b": "2"})
	a, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", a)

	c.NextStep()
	c.NextStep()
	assert.Equal(t, 2, c.Step())

	c.Reset()
	assert.Equal(t, 0, c.Step())
	_, ok = c.Get("a")
	assert.False(t, ok)
}
