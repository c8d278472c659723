package translog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orbit "github.com/orbitkit/orbit-go"
	"github.com/orbitkit/orbit-go/pkg/bus"
)

func TestAppendAndContains(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")

	assert.True(t, l.Contains("t1"))
	assert.True(t, l.Contains("t2"))
	assert.False(t, l.Contains("t3"))
	assert.Equal(t, "t2", l.Head())
	assert.Equal(t, []string{"t1", "t2"}, l.Entries())
}

func TestAppendDuplicatePanics(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	assert.Panics(t, func() { l.Append("t1") })
}

func TestAfterAndBefore(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")
	l.Append("t3")

	assert.Equal(t, []string{"t2", "t3"}, l.After("t1"))
	assert.Equal(t, []string{"t1"}, l.Before("t2"))
	assert.Empty(t, l.After("t3"))
}

func TestRollbackDiscardsStrictlyAfter(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")
	l.Append("t3")

	discarded, err := l.Rollback("t1", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"t2", "t3"}, discarded)
	assert.Equal(t, []string{"t1"}, l.Entries())
	assert.False(t, l.Contains("t2"))
}

func TestTruncateDiscardsAtAndBefore(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")
	l.Append("t3")

	discarded, err := l.Truncate("t2", 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, discarded)
	assert.Equal(t, []string{"t3"}, l.Entries())
}

func TestRollbackUnknownIDReturnsNotLoggedError(t *testing.T) {
	l := New(nil)
	l.Append("t1")

	discarded, err := l.Rollback("missing", 0)

	require.Error(t, err)
	var notLogged *orbit.NotLoggedError
	require.ErrorAs(t, err, &notLogged)
	assert.Equal(t, "missing", notLogged.TransformID)
	assert.Nil(t, discarded)
	assert.Equal(t, []string{"t1"}, l.Entries(), "a failed rollback must not mutate the log")
}

func TestTruncateUnknownIDReturnsNotLoggedError(t *testing.T) {
	l := New(nil)
	l.Append("t1")

	discarded, err := l.Truncate("missing", 0)

	require.Error(t, err)
	var notLogged *orbit.NotLoggedError
	require.ErrorAs(t, err, &notLogged)
	assert.Nil(t, discarded)
}

func TestRollbackOutOfRangeRelativeReturnsOutOfRangeError(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")

	discarded, err := l.Rollback("t1", 5)

	require.Error(t, err)
	var oor *orbit.OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Nil(t, discarded)
	assert.Equal(t, []string{"t1", "t2"}, l.Entries(), "a failed rollback must not mutate the log")
}

func TestTruncateOutOfRangeRelativeReturnsOutOfRangeError(t *testing.T) {
	l := New(nil)
	l.Append("t1")
	l.Append("t2")

	discarded, err := l.Truncate("t1", -5)

	require.Error(t, err)
	var oor *orbit.OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Nil(t, discarded)
}

func TestClearEmitsDiscardedIDs(t *testing.T) {
	b := bus.New()
	var lastDiscarded []string
	b.On(EventClear, func(args ...any) error {
		lastDiscarded = args[0].([]string)
		return nil
	})
	l := New(b)
	l.Append("t1")
	l.Append("t2")

	discarded := l.Clear()

	require.Equal(t, []string{"t1", "t2"}, discarded)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, []string{"t1", "t2"}, lastDiscarded)
}
