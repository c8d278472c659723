package raftlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSingleNode(t *testing.T) *Log {
	t.Helper()
	l, err := Open(Config{
		NodeID:    "node1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   filepath.Join(t.TempDir(), "node1"),
		Bootstrap: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	require.Eventually(t, l.IsLeader, 5*time.Second, 20*time.Millisecond, "single-node cluster must elect itself leader")
	return l
}

func TestAppendReplicatesAndIsContained(t *testing.T) {
	l := openSingleNode(t)

	require.NoError(t, l.Append("tx1"))
	assert.True(t, l.Contains("tx1"))
	assert.Equal(t, "tx1", l.Head())
}

func TestDuplicateAppendIsANoop(t *testing.T) {
	l := openSingleNode(t)
	require.NoError(t, l.Append("tx1"))
	require.NoError(t, l.Append("tx1"))
	assert.Equal(t, []string{"tx1"}, l.Entries())
}

func TestRollbackDiscardsSuffix(t *testing.T) {
	l := openSingleNode(t)
	require.NoError(t, l.Append("tx1"))
	require.NoError(t, l.Append("tx2"))
	require.NoError(t, l.Append("tx3"))

	discarded, err := l.Rollback("tx1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"tx2", "tx3"}, discarded)
	assert.Equal(t, []string{"tx1"}, l.Entries())
}

func TestRollbackUnknownIDReturnsError(t *testing.T) {
	l := openSingleNode(t)
	require.NoError(t, l.Append("tx1"))

	discarded, err := l.Rollback("missing", 0)
	require.Error(t, err)
	assert.Nil(t, discarded)
	assert.Equal(t, []string{"tx1"}, l.Entries(), "a failed rollback must not mutate the replicated log")
}

func TestClearDiscardsEverything(t *testing.T) {
	l := openSingleNode(t)
	require.NoError(t, l.Append("tx1"))
	require.NoError(t, l.Append("tx2"))

	discarded, err := l.Clear()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tx1", "tx2"}, discarded)
	assert.Equal(t, 0, l.Len())
}

func TestJoinFailsWithoutLeadership(t *testing.T) {
	l, err := Open(Config{
		NodeID:   "node2",
		BindAddr: "127.0.0.1:0",
		DataDir:  filepath.Join(t.TempDir(), "node2"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	err = l.Join("node3", "127.0.0.1:1")
	require.Error(t, err)
}
