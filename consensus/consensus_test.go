package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBecomeLeaderSetsSelfAsLeader(t *testing.T) {
	r := New(NodeID("n1"))
	r.BecomeLeader(3)

	assert.True(t, r.IsLeader())
	assert.Equal(t, int64(3), r.GetTerm())
	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, NodeID("n1"), leader)
}

func TestBecomeFollowerRecordsLeader(t *testing.T) {
	r := New(NodeID("n1"))
	r.BecomeLeader(1)

	other := NodeID("n2")
	r.BecomeFollower(2, &other)

	assert.False(t, r.IsLeader())
	assert.Equal(t, int64(2), r.GetTerm())
	leader, ok := r.Leader()
	require.True(t, ok)
	assert.Equal(t, other, leader)
}

func TestLeaderUnknownWhenNeverSet(t *testing.T) {
	r := New(NodeID("n1"))
	_, ok := r.Leader()
	assert.False(t, ok)
}

func TestRecordCommitAdvancesCommitIdxAndTermAt(t *testing.T) {
	r := New(NodeID("n1"))
	r.BecomeLeader(5)

	r.RecordCommit(1)
	r.RecordCommit(2)

	assert.Equal(t, int64(2), r.GetCommitIdx())
	assert.Equal(t, int64(5), r.GetTermAt(1))
	assert.Equal(t, int64(5), r.GetTermAt(2))
	// unknown commit falls back to current term rather than zero
	assert.Equal(t, int64(5), r.GetTermAt(99))
}

func TestRecordCommitDoesNotRegressCommitIdx(t *testing.T) {
	r := New(NodeID("n1"))
	r.BecomeLeader(1)
	r.RecordCommit(5)
	r.RecordCommit(3)
	assert.Equal(t, int64(5), r.GetCommitIdx())
}

func TestNodesTable(t *testing.T) {
	r := New(NodeID("n1"))
	r.AddNode(NodeID("n2"), NodeInfo{Host: "10.0.0.2", Port: "8001", Status: "TRUSTED"})

	info, ok := r.NodeAddr(NodeID("n2"))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.2", info.Host)
	assert.Equal(t, "TRUSTED", info.Status)

	_, ok = r.NodeAddr(NodeID("unknown"))
	assert.False(t, ok)

	snapshot := r.Nodes()
	require.Len(t, snapshot, 1)
	snapshot[NodeID("n3")] = NodeInfo{Host: "x"}
	_, ok = r.NodeAddr(NodeID("n3"))
	assert.False(t, ok, "Nodes() must return a defensive copy")
}
