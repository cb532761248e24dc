package cmdkit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyForwardsAndRecords(t *testing.T) {
	var forwarded []string
	inv := NewInvocation("id", "echo", "u1", []string{"g1"}, []string{"a", "b"}, func(text string) error {
		forwarded = append(forwarded, text)
		return nil
	})

	require.NoError(t, inv.Reply("one"))
	require.NoError(t, inv.Reply("two"))

	assert.Equal(t, []string{"one", "two"}, inv.Replies())
	assert.Equal(t, []string{"one", "two"}, forwarded)
	assert.Equal(t, "a", inv.Arg(0))
	assert.Equal(t, "", inv.Arg(5))
	assert.Equal(t, "a b", inv.ArgString())
}

func TestReplyAfterClose(t *testing.T) {
	inv := NewInvocation("id", "echo", "u1", nil, nil, nil)
	inv.Close()
	assert.ErrorIs(t, inv.Reply("late"), ErrReplyClosed)
	assert.Empty(t, inv.Replies())
}

func TestForwardErrorIsReturned(t *testing.T) {
	boom := errors.New("transport gone")
	inv := NewInvocation("id", "echo", "u1", nil, nil, func(string) error { return boom })
	assert.ErrorIs(t, inv.Reply("x"), boom)
	assert.Equal(t, []string{"x"}, inv.Replies())
}
